package storage

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
)

func TestSnapshot_SaveAndLoad(t *testing.T) {
	sm := NewSnapshotManager(t.TempDir())

	runs := map[string]*domain.RunStats{
		"run-a": {RunID: "run-a", Rounds: 3, Completed: 2, Failed: 1, Filled: 4_000_000, Volume: decimal.NewFromInt(4000)},
	}
	snap := CreateSnapshot(100, runs)
	runs["run-a"].Rounds = 99 // snapshot must hold a copy

	if err := sm.Save(snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := sm.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if loaded == nil || loaded.Seq != 100 {
		t.Fatalf("loaded = %+v", loaded)
	}
	got := loaded.Runs["run-a"]
	if got.Rounds != 3 || got.Filled != 4_000_000 || !got.Volume.Equal(decimal.NewFromInt(4000)) {
		t.Errorf("run-a = %+v", got)
	}
}

func TestSnapshot_LoadLatestEmpty(t *testing.T) {
	sm := NewSnapshotManager(t.TempDir() + "/missing")
	snap, err := sm.LoadLatest()
	if err != nil || snap != nil {
		t.Errorf("got %+v, %v", snap, err)
	}
}

func TestSnapshot_CleanupKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	sm := NewSnapshotManager(dir)
	for _, seq := range []uint64{10, 30, 20, 40} {
		if err := sm.Save(&Snapshot{Seq: seq, TsUnix: 1, Runs: map[string]domain.RunStats{}}); err != nil {
			t.Fatal(err)
		}
	}
	if err := sm.Cleanup(2); err != nil {
		t.Fatal(err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Fatalf("kept %d files, want 2", len(entries))
	}
	latest, _ := sm.LoadLatest()
	if latest.Seq != 40 {
		t.Errorf("latest seq = %d, want 40", latest.Seq)
	}
	files, _ := sm.list()
	if files[1].seq != 30 {
		t.Errorf("second kept seq = %d, want 30", files[1].seq)
	}
}
