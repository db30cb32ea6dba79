// Package journal appends run events to a JSON Lines file for offline review.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/event"
)

// Line is one record in the log.
type Line struct {
	Ts   string          `json:"ts"`
	Seq  uint64          `json:"seq"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Writer is an engine sink that appends one line per event and flushes
// after each write.
type Writer struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// Open creates or appends to the file at path.
func Open(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return &Writer{f: f, w: bufio.NewWriter(f)}, nil
}

// Handle implements engine.Sink. Write errors are logged, not returned.
func (j *Writer) Handle(ev event.Event) {
	if err := j.Write(ev); err != nil {
		slog.Warn("Run log write failed", slog.Any("err", err))
	}
}

// Write encodes ev as a single line.
func (j *Writer) Write(ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	b, err := json.Marshal(Line{
		Ts:   ev.GetTs().Time().UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		Seq:  ev.GetSeq(),
		Type: ev.GetType().String(),
		Data: data,
	})
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return os.ErrClosed
	}
	if _, err := j.w.Write(append(b, '\n')); err != nil {
		return err
	}
	return j.w.Flush()
}

// Close flushes and closes the file.
func (j *Writer) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.w.Flush()
	if cerr := j.f.Close(); err == nil {
		err = cerr
	}
	j.f = nil
	return err
}

// ReadAll parses every line of a run log.
func ReadAll(path string) ([]Line, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []Line
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var l Line
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			return lines, fmt.Errorf("line %d: %w", len(lines)+1, err)
		}
		lines = append(lines, l)
	}
	return lines, sc.Err()
}
