package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
)

// Snapshot is a checkpoint of the recorder's run totals at a sequence number,
// so recovery replays only the journal tail.
type Snapshot struct {
	Seq    uint64                     `json:"seq"`
	TsUnix int64                      `json:"ts"`
	Runs   map[string]domain.RunStats `json:"runs"`
}

// SnapshotManager handles saving and loading snapshots.
type SnapshotManager struct {
	dir string
}

// NewSnapshotManager stores snapshot files under dir.
func NewSnapshotManager(dir string) *SnapshotManager {
	return &SnapshotManager{dir: dir}
}

func snapshotName(seq uint64, ts int64) string {
	return fmt.Sprintf("snapshot_%d_%d.json", seq, ts)
}

type snapFile struct {
	path string
	seq  uint64
}

// list returns snapshot files ordered newest first.
func (sm *SnapshotManager) list() ([]snapFile, error) {
	entries, err := os.ReadDir(sm.dir)
	if err != nil {
		return nil, err
	}
	var files []snapFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var seq uint64
		var ts int64
		if _, err := fmt.Sscanf(entry.Name(), "snapshot_%d_%d.json", &seq, &ts); err != nil {
			continue
		}
		files = append(files, snapFile{path: filepath.Join(sm.dir, entry.Name()), seq: seq})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].seq > files[j].seq })
	return files, nil
}

// Save writes snap atomically (temp file + rename).
func (sm *SnapshotManager) Save(snap *Snapshot) error {
	if err := os.MkdirAll(sm.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	name := snapshotName(snap.Seq, snap.TsUnix)
	path := filepath.Join(sm.dir, name)
	tmp := filepath.Join(sm.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	slog.Debug("Snapshot saved", slog.Uint64("seq", snap.Seq), slog.String("path", path))
	return nil
}

// LoadLatest loads the snapshot with the highest sequence number, or nil
// when there is none.
func (sm *SnapshotManager) LoadLatest() (*Snapshot, error) {
	files, err := sm.list()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot dir: %w", err)
	}
	if len(files) == 0 {
		return nil, nil
	}

	data, err := os.ReadFile(files[0].path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	slog.Info("Snapshot loaded", slog.Uint64("seq", snap.Seq), slog.String("path", files[0].path))
	return &snap, nil
}

// CreateSnapshot copies runs into a snapshot taken at seq.
func CreateSnapshot(seq uint64, runs map[string]*domain.RunStats) *Snapshot {
	cp := make(map[string]domain.RunStats, len(runs))
	for id, st := range runs {
		cp[id] = *st
	}
	return &Snapshot{Seq: seq, TsUnix: time.Now().Unix(), Runs: cp}
}

// Cleanup removes old snapshots, keeping only the latest keepCount.
func (sm *SnapshotManager) Cleanup(keepCount int) error {
	files, err := sm.list()
	if err != nil {
		return err
	}
	for i := keepCount; i < len(files); i++ {
		if err := os.Remove(files[i].path); err != nil {
			slog.Warn("Failed to remove old snapshot", slog.String("path", files[i].path), slog.Any("err", err))
		}
	}
	return nil
}
