// Package engine records run events: it sequences them on a single
// goroutine, writes them to the journal first, folds them into run totals
// and fans them out to sinks.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/event"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/storage"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

// Sink consumes sequenced events. Handle runs on the recorder goroutine and
// must return quickly.
type Sink interface {
	Handle(ev event.Event)
}

// Options configures a recorder.
type Options struct {
	InboxSize     int
	SnapshotEvery uint64 // 0 disables snapshots
	SnapshotKeep  int
	DumpPath      string
	Now           func() time.Time
}

// Recorder is the single-threaded event processor behind run reporting.
type Recorder struct {
	inbox   chan event.Event
	nextSeq uint64
	store   *storage.EventStore
	snaps   *storage.SnapshotManager
	sinks   []Sink
	opts    Options

	mu   sync.RWMutex // guards runs for external reads
	runs map[string]*domain.RunStats

	done chan struct{}
}

// NewRecorder creates a recorder. store and snaps may be nil.
func NewRecorder(store *storage.EventStore, snaps *storage.SnapshotManager, opts Options, sinks ...Sink) *Recorder {
	if opts.InboxSize <= 0 {
		opts.InboxSize = 1024
	}
	if opts.SnapshotKeep <= 0 {
		opts.SnapshotKeep = 5
	}
	if opts.DumpPath == "" {
		opts.DumpPath = "panic_dump.json"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Recorder{
		inbox:   make(chan event.Event, opts.InboxSize),
		nextSeq: 1,
		store:   store,
		snaps:   snaps,
		sinks:   sinks,
		opts:    opts,
		runs:    make(map[string]*domain.RunStats),
		done:    make(chan struct{}),
	}
}

// RecoverFromWAL restores run totals from the latest snapshot and the
// journal tail, through the same apply path as live events.
func (r *Recorder) RecoverFromWAL(ctx context.Context) error {
	if r.store == nil {
		slog.Info("No journal configured, starting fresh")
		return nil
	}

	if r.snaps != nil {
		snap, err := r.snaps.LoadLatest()
		if err != nil {
			slog.Warn("Snapshot unreadable, replaying full journal", slog.Any("err", err))
		} else if snap != nil {
			r.mu.Lock()
			for id, st := range snap.Runs {
				r.runs[id] = &st
			}
			r.mu.Unlock()
			r.nextSeq = snap.Seq + 1
		}
	}

	events, err := r.store.LoadEvents(ctx, r.nextSeq)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}
	for _, ev := range events {
		r.ReplayEvent(ev)
	}
	slog.Info("Journal recovered",
		slog.Int("replayed", len(events)),
		slog.Uint64("next_seq", r.nextSeq))
	return nil
}

// ReplayEvent applies a stored event without journaling it again.
func (r *Recorder) ReplayEvent(ev event.Event) {
	if ev.GetSeq() != r.nextSeq {
		panic(fmt.Sprintf("REPLAY_GAP_DETECTED: expected %d, got %d", r.nextSeq, ev.GetSeq()))
	}
	r.apply(ev)
	r.nextSeq++
}

// Run is the event loop. It MUST run in a single goroutine. On cancellation
// it drains what is already queued before returning.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)
	defer func() {
		if p := recover(); p != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", p))
			r.DumpState(r.opts.DumpPath)
			panic(fmt.Sprintf("HALTED: %v", p))
		}
	}()

	for {
		select {
		case ev := <-r.inbox:
			r.process(ctx, ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-r.inbox:
					r.process(context.WithoutCancel(ctx), ev)
				default:
					slog.Debug("Recorder stopped", slog.Uint64("next_seq", r.nextSeq))
					return
				}
			}
		}
	}
}

// Done is closed once Run has returned.
func (r *Recorder) Done() <-chan struct{} { return r.done }

func (r *Recorder) process(ctx context.Context, ev event.Event) {
	ev.Stamp(r.nextSeq, quant.FromTime(r.opts.Now()))

	if r.store != nil {
		if err := r.store.SaveEvent(ctx, ev); err != nil {
			panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", err))
		}
	}
	r.apply(ev)
	for _, s := range r.sinks {
		s.Handle(ev)
	}
	r.nextSeq++

	if every := r.opts.SnapshotEvery; every > 0 && r.snaps != nil && ev.GetSeq()%every == 0 {
		r.checkpoint(ev.GetSeq())
	}
}

func (r *Recorder) checkpoint(seq uint64) {
	r.mu.RLock()
	snap := storage.CreateSnapshot(seq, r.runs)
	r.mu.RUnlock()
	if err := r.snaps.Save(snap); err != nil {
		slog.Warn("Snapshot failed", slog.Any("err", err))
		return
	}
	if err := r.snaps.Cleanup(r.opts.SnapshotKeep); err != nil {
		slog.Warn("Snapshot cleanup failed", slog.Any("err", err))
	}
}

// apply folds an event into the run totals.
func (r *Recorder) apply(ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := ev.(type) {
	case *event.RunStartedEvent:
		r.runs[e.Info.RunID] = &domain.RunStats{RunID: e.Info.RunID, Mode: e.Info.Mode, StartedAt: e.Info.StartedAt}
	case *event.RoundFinishedEvent:
		st, ok := r.runs[e.Round.RunID]
		if !ok {
			st = &domain.RunStats{RunID: e.Round.RunID}
			r.runs[e.Round.RunID] = st
		}
		st.Apply(&e.Round)
	case *event.RunFinishedEvent:
		st := e.Stats
		r.runs[st.RunID] = &st
	case *event.ImbalanceRecordedEvent, *event.SystemHaltEvent:
		// informational; already counted through the round
	default:
		slog.Warn("Unknown event type", slog.String("type", ev.GetType().String()))
	}
}

// enqueue blocks until ev is queued. Once Run has returned, events are
// dropped.
func (r *Recorder) enqueue(ev event.Event) {
	select {
	case <-r.done:
		slog.Warn("Recorder stopped, event dropped", slog.String("type", ev.GetType().String()))
		return
	default:
	}
	select {
	case r.inbox <- ev:
	case <-r.done:
		slog.Warn("Recorder stopped, event dropped", slog.String("type", ev.GetType().String()))
	}
}

// RunStarted implements runner.Reporter.
func (r *Recorder) RunStarted(info domain.RunInfo) {
	r.enqueue(&event.RunStartedEvent{Info: info})
}

// RoundFinished implements runner.Reporter. The round is copied.
func (r *Recorder) RoundFinished(round *domain.Round) {
	cp := *round
	cp.Transitions = append([]domain.Transition(nil), round.Transitions...)
	r.enqueue(&event.RoundFinishedEvent{Round: cp})
	if round.Event != nil {
		r.enqueue(&event.ImbalanceRecordedEvent{RunID: round.RunID, Imbalance: *round.Event})
	}
}

// RunFinished implements runner.Reporter.
func (r *Recorder) RunFinished(stats domain.RunStats) {
	r.enqueue(&event.RunFinishedEvent{Stats: stats})
	if stats.Halted {
		r.enqueue(&event.SystemHaltEvent{RunID: stats.RunID, Reason: stats.Reason})
	}
}

// Stats returns a copy of one run's totals (external read).
func (r *Recorder) Stats(runID string) (domain.RunStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.runs[runID]
	if !ok {
		return domain.RunStats{}, false
	}
	return *st, true
}

// NextSeq returns the sequence number the next event will receive.
func (r *Recorder) NextSeq() uint64 { return r.nextSeq }

// DumpState writes the recorder's state to filename for post-mortem.
func (r *Recorder) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	r.mu.RLock()
	data := struct {
		NextSeq uint64                      `json:"next_seq"`
		Runs    map[string]*domain.RunStats `json:"runs"`
	}{NextSeq: r.nextSeq, Runs: r.runs}
	b, err := json.MarshalIndent(data, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filename, b, 0o644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
