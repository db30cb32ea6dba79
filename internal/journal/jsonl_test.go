package journal

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/event"
)

func TestWriter_AppendsOneLinePerEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.jsonl")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	start := &event.RunStartedEvent{Info: domain.RunInfo{RunID: "r1", Mode: "instant"}}
	start.Stamp(1, 1_700_000_000_000_000)
	halt := &event.SystemHaltEvent{RunID: "r1", Reason: "remediation failed"}
	halt.Stamp(2, 1_700_000_001_000_000)
	w.Handle(start)
	w.Handle(halt)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Write(halt); err == nil {
		t.Error("write after close should fail")
	}

	lines, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Seq != 1 || lines[0].Type != event.EvRunStarted.String() {
		t.Errorf("line 0 = %+v", lines[0])
	}
	if lines[1].Ts != "2023-11-14T22:13:21.000000Z" {
		t.Errorf("ts = %s", lines[1].Ts)
	}
	var got event.SystemHaltEvent
	if err := json.Unmarshal(lines[1].Data, &got); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if got.Reason != "remediation failed" {
		t.Errorf("reason = %q", got.Reason)
	}
}

func TestWriter_ReopenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	for i := 1; i <= 2; i++ {
		w, err := Open(path)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		ev := &event.SystemHaltEvent{RunID: "r1"}
		ev.Stamp(uint64(i), 0)
		if err := w.Write(ev); err != nil {
			t.Fatalf("Write: %v", err)
		}
		w.Close()
	}
	lines, err := ReadAll(path)
	if err != nil || len(lines) != 2 {
		t.Fatalf("lines=%d err=%v", len(lines), err)
	}
}
