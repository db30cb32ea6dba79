// Package replay rebuilds run reports from the SQLite journal.
package replay

import (
	"context"
	"fmt"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/event"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/storage"
)

// Target receives journal events in order, e.g. an engine.Recorder.
type Target interface {
	ReplayEvent(ev event.Event)
}

// Report is one run as reconstructed from its events.
type Report struct {
	Info       domain.RunInfo
	Rounds     []domain.Round
	Imbalances []domain.ImbalanceEvent
	// Recomputed folds the journaled rounds; Recorded is what the run
	// reported at its end, zero when the run never finished.
	Recomputed domain.RunStats
	Recorded   domain.RunStats
	Finished   bool
	HaltReason string
}

// Consistent reports whether the recorded totals match the rounds.
func (r Report) Consistent() bool {
	if !r.Finished {
		return true
	}
	a, b := r.Recomputed, r.Recorded
	return a.Rounds == b.Rounds && a.Completed == b.Completed && a.Imbalanced == b.Imbalanced &&
		a.Failed == b.Failed && a.OpenImbalances == b.OpenImbalances && a.Filled == b.Filled &&
		a.Volume.Equal(b.Volume)
}

// Replayer reads the journal.
type Replayer struct {
	store *storage.EventStore
}

// NewReplayer creates a replayer over store.
func NewReplayer(store *storage.EventStore) *Replayer {
	return &Replayer{store: store}
}

// Runs lists every run that was started, oldest first.
func (r *Replayer) Runs(ctx context.Context) ([]domain.RunInfo, error) {
	events, err := r.store.LoadEvents(ctx, 1)
	if err != nil {
		return nil, err
	}
	var runs []domain.RunInfo
	for _, ev := range events {
		if e, ok := ev.(*event.RunStartedEvent); ok {
			runs = append(runs, e.Info)
		}
	}
	return runs, nil
}

// Report reconstructs one run.
func (r *Replayer) Report(ctx context.Context, runID string) (Report, error) {
	events, err := r.store.LoadRun(ctx, runID)
	if err != nil {
		return Report{}, err
	}
	if len(events) == 0 {
		return Report{}, fmt.Errorf("run %s not found in journal", runID)
	}

	rep := Report{Recomputed: domain.RunStats{RunID: runID}}
	for _, ev := range events {
		switch e := ev.(type) {
		case *event.RunStartedEvent:
			rep.Info = e.Info
			rep.Recomputed.Mode = e.Info.Mode
		case *event.RoundFinishedEvent:
			rep.Rounds = append(rep.Rounds, e.Round)
			rep.Recomputed.Apply(&e.Round)
		case *event.ImbalanceRecordedEvent:
			rep.Imbalances = append(rep.Imbalances, e.Imbalance)
		case *event.RunFinishedEvent:
			rep.Recorded = e.Stats
			rep.Finished = true
		case *event.SystemHaltEvent:
			rep.HaltReason = e.Reason
		}
	}
	return rep, nil
}

// Into feeds the whole journal into target synchronously for deterministic
// replay.
func (r *Replayer) Into(ctx context.Context, target Target) (int, error) {
	events, err := r.store.LoadEvents(ctx, 1)
	if err != nil {
		return 0, err
	}
	for _, ev := range events {
		target.ReplayEvent(ev)
	}
	return len(events), nil
}
