package event

import (
	"encoding/json"
	"fmt"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

// Type defines the type of event.
type Type uint16

const (
	EvRunStarted Type = iota + 1
	EvRoundFinished
	EvImbalance
	EvRunFinished
	EvSystemHalt
)

func (t Type) String() string {
	switch t {
	case EvRunStarted:
		return "run_started"
	case EvRoundFinished:
		return "round_finished"
	case EvImbalance:
		return "imbalance"
	case EvRunFinished:
		return "run_finished"
	case EvSystemHalt:
		return "system_halt"
	}
	return fmt.Sprintf("type_%d", uint16(t))
}

// Event is the interface for all recorder events. Sequence numbers and
// timestamps are assigned by the recorder.
type Event interface {
	GetSeq() uint64
	GetTs() quant.TimeStamp
	GetType() Type
	Stamp(seq uint64, ts quant.TimeStamp)
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Seq uint64          `json:"seq"`
	Ts  quant.TimeStamp `json:"ts"`
}

func (e BaseEvent) GetSeq() uint64         { return e.Seq }
func (e BaseEvent) GetTs() quant.TimeStamp { return e.Ts }

func (e *BaseEvent) Stamp(seq uint64, ts quant.TimeStamp) {
	e.Seq, e.Ts = seq, ts
}

// RunStartedEvent opens a run.
type RunStartedEvent struct {
	BaseEvent
	Info domain.RunInfo `json:"info"`
}

func (e *RunStartedEvent) GetType() Type { return EvRunStarted }

// RoundFinishedEvent carries a round in its terminal state.
type RoundFinishedEvent struct {
	BaseEvent
	Round domain.Round `json:"round"`
}

func (e *RoundFinishedEvent) GetType() Type { return EvRoundFinished }

// ImbalanceRecordedEvent carries a leg imbalance and its remediation.
type ImbalanceRecordedEvent struct {
	BaseEvent
	RunID     string                `json:"run_id"`
	Imbalance domain.ImbalanceEvent `json:"imbalance"`
}

func (e *ImbalanceRecordedEvent) GetType() Type { return EvImbalance }

// RunFinishedEvent closes a run with its final totals.
type RunFinishedEvent struct {
	BaseEvent
	Stats domain.RunStats `json:"stats"`
}

func (e *RunFinishedEvent) GetType() Type { return EvRunFinished }

// SystemHaltEvent records why a run stopped early.
type SystemHaltEvent struct {
	BaseEvent
	RunID  string `json:"run_id"`
	Reason string `json:"reason"`
}

func (e *SystemHaltEvent) GetType() Type { return EvSystemHalt }

// Decode rebuilds a stored event from its type tag and JSON payload.
func Decode(t Type, payload []byte) (Event, error) {
	var ev Event
	switch t {
	case EvRunStarted:
		ev = &RunStartedEvent{}
	case EvRoundFinished:
		ev = &RoundFinishedEvent{}
	case EvImbalance:
		ev = &ImbalanceRecordedEvent{}
	case EvRunFinished:
		ev = &RunFinishedEvent{}
	case EvSystemHalt:
		ev = &SystemHaltEvent{}
	default:
		return nil, fmt.Errorf("unknown event type %d", t)
	}
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return ev, nil
}
