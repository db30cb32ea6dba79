package replay

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/engine"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/event"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/storage"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

func doneRound(runID, id string, state domain.RoundState) domain.Round {
	r := domain.NewRound(id, domain.RoundClose, "ETH_USDT_Perp", 100_000_000, domain.Assignment{Long: domain.Account2}, 1)
	r.RunID = runID
	r.Mid = 2_000 * quant.PriceScale
	r.Advance(domain.StateStabilityCheck, 2)
	if state == domain.StateFailed {
		r.Fail(domain.Errorf(domain.KindMarketUnstable, "stability", "drift"), 3)
		return *r
	}
	for _, s := range []domain.RoundState{domain.StateMakerPlaced, domain.StateMakerConfirmed,
		domain.StateTakerSent, domain.StateFillCheck, domain.StateComplete} {
		r.Advance(s, 3)
	}
	r.MakerFilled, r.TakerFilled = 100_000_000, 100_000_000
	return *r
}

func journal(t *testing.T) *storage.EventStore {
	t.Helper()
	store, err := storage.NewEventStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	rounds := []domain.Round{
		doneRound("run-a", "a-001", domain.StateComplete),
		doneRound("run-a", "a-002", domain.StateFailed),
	}
	var stats domain.RunStats
	stats.RunID, stats.Mode = "run-a", "close_existing"
	for i := range rounds {
		stats.Apply(&rounds[i])
	}

	evs := []event.Event{
		&event.RunStartedEvent{Info: domain.RunInfo{RunID: "run-a", Mode: "close_existing"}},
		&event.RoundFinishedEvent{Round: rounds[0]},
		&event.RunStartedEvent{Info: domain.RunInfo{RunID: "run-b", Mode: "instant"}},
		&event.RoundFinishedEvent{Round: rounds[1]},
		&event.RunFinishedEvent{Stats: stats},
	}
	for i, ev := range evs {
		ev.Stamp(uint64(i+1), quant.TimeStamp(i))
		if err := store.SaveEvent(context.Background(), ev); err != nil {
			t.Fatalf("SaveEvent: %v", err)
		}
	}
	return store
}

func TestReplayer_Runs(t *testing.T) {
	runs, err := NewReplayer(journal(t)).Runs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-a" || runs[1].RunID != "run-b" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestReplayer_Report(t *testing.T) {
	rep, err := NewReplayer(journal(t)).Report(context.Background(), "run-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Rounds) != 2 || !rep.Finished {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Recomputed.Completed != 1 || rep.Recomputed.Failed != 1 {
		t.Errorf("recomputed = %+v", rep.Recomputed)
	}
	// 2 contracts at 2000
	if rep.Recomputed.Volume.String() != "4000" {
		t.Errorf("volume = %s", rep.Recomputed.Volume)
	}
	if !rep.Consistent() {
		t.Error("recorded totals should match the journaled rounds")
	}

	rep.Recorded.Completed++
	if rep.Consistent() {
		t.Error("tampered totals should be inconsistent")
	}

	if _, err := NewReplayer(journal(t)).Report(context.Background(), "missing"); err == nil {
		t.Error("unknown run should fail")
	}
}

func TestReplayer_IntoRecorder(t *testing.T) {
	rec := engine.NewRecorder(nil, nil, engine.Options{})
	n, err := NewReplayer(journal(t)).Into(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 || rec.NextSeq() != 6 {
		t.Errorf("replayed %d events, nextSeq %d", n, rec.NextSeq())
	}
	st, ok := rec.Stats("run-a")
	if !ok || st.Rounds != 2 {
		t.Errorf("stats = %+v", st)
	}
}
