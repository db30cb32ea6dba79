package domain

import (
	"fmt"

	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

// RoundState is a node of the per-round execution state machine.
type RoundState string

const (
	StateIdle           RoundState = "IDLE"
	StateStabilityCheck RoundState = "STABILITY_CHECK"
	StateMakerPlaced    RoundState = "MAKER_PLACED"
	StateMakerConfirmed RoundState = "MAKER_CONFIRMED"
	StateTakerSent      RoundState = "TAKER_SENT"
	StateFillCheck      RoundState = "FILL_CHECK"
	StateComplete       RoundState = "COMPLETE"
	StateImbalance      RoundState = "IMBALANCE"
	StateFailed         RoundState = "FAILED"
)

var roundTransitions = map[RoundState][]RoundState{
	StateIdle:           {StateStabilityCheck, StateFailed},
	StateStabilityCheck: {StateMakerPlaced, StateTakerSent, StateFailed},
	StateMakerPlaced:    {StateMakerConfirmed, StateFailed},
	StateMakerConfirmed: {StateTakerSent, StateFailed},
	StateTakerSent:      {StateFillCheck, StateFailed},
	StateFillCheck:      {StateComplete, StateImbalance, StateFailed},
}

// CanTransition reports whether s -> next is an edge of the state machine.
// STABILITY_CHECK -> TAKER_SENT is only taken by single-leg FLATTEN rounds.
func (s RoundState) CanTransition(next RoundState) bool {
	for _, n := range roundTransitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the round is finished.
func (s RoundState) IsTerminal() bool {
	return s == StateComplete || s == StateImbalance || s == StateFailed
}

// RoundKind distinguishes opening, closing and single-leg flatten rounds.
type RoundKind string

const (
	RoundOpen    RoundKind = "OPEN"
	RoundClose   RoundKind = "CLOSE"
	RoundFlatten RoundKind = "FLATTEN"
)

// Transition is one timestamped state change.
type Transition struct {
	State RoundState      `json:"state"`
	At    quant.TimeStamp `json:"at,string"`
}

// Round is one attempt at a paired (or single-leg flatten) execution.
type Round struct {
	ID            string        `json:"id"`
	RunID         string        `json:"run_id"`
	Index         int           `json:"index"`
	Kind          RoundKind     `json:"kind"`
	Market        string        `json:"market"`
	RequestedSize quant.QtySats `json:"requested_size,string"`
	Assignment    Assignment    `json:"assignment"`
	// FlattenAccount is set only for FLATTEN rounds.
	FlattenAccount AccountID `json:"flatten_account,omitempty"`

	State        RoundState        `json:"state"`
	MakerOrderID string            `json:"maker_order_id,omitempty"`
	TakerOrderID string            `json:"taker_order_id,omitempty"`
	MakerPrice   quant.PriceMicros `json:"maker_price,string"`
	ExpectedFill quant.QtySats     `json:"expected_fill,string"`
	MakerFilled  quant.QtySats     `json:"maker_filled,string"`
	TakerFilled  quant.QtySats     `json:"taker_filled,string"`
	Mid          quant.PriceMicros `json:"mid,string"`

	Imbalance   bool            `json:"imbalance"`
	Event       *ImbalanceEvent `json:"imbalance_event,omitempty"`
	Err         error           `json:"-"`
	ErrorKind   ErrorKind       `json:"error_kind"`
	ErrorText   string          `json:"error,omitempty"`
	Transitions []Transition    `json:"transitions"`
}

// NewRound creates a round in IDLE.
func NewRound(id string, kind RoundKind, market string, size quant.QtySats, a Assignment, now quant.TimeStamp) *Round {
	return &Round{
		ID:            id,
		Kind:          kind,
		Market:        market,
		RequestedSize: size,
		Assignment:    a,
		State:         StateIdle,
		Transitions:   []Transition{{State: StateIdle, At: now}},
	}
}

// Advance moves the round to next, panicking on an illegal edge.
func (r *Round) Advance(next RoundState, now quant.TimeStamp) {
	if !r.State.CanTransition(next) {
		panic(fmt.Sprintf("ROUND_ILLEGAL_TRANSITION: %s -> %s (round %s)", r.State, next, r.ID))
	}
	r.State = next
	r.Transitions = append(r.Transitions, Transition{State: next, At: now})
}

// Fail moves the round to FAILED and records err.
func (r *Round) Fail(err error, now quant.TimeStamp) {
	r.setErr(err)
	if !r.State.IsTerminal() {
		r.Advance(StateFailed, now)
	}
}

// MarkImbalance records a fill mismatch and moves the round to IMBALANCE.
// err carries LegImbalance, or the remediation failure when there was one.
func (r *Round) MarkImbalance(ev *ImbalanceEvent, err error, now quant.TimeStamp) {
	r.Imbalance = true
	r.Event = ev
	r.setErr(err)
	r.Advance(StateImbalance, now)
}

func (r *Round) setErr(err error) {
	r.Err = err
	r.ErrorKind = KindOf(err)
	if err != nil {
		r.ErrorText = err.Error()
	}
}

// FailedAt returns the last non-terminal state, i.e. where a FAILED round stopped.
func (r *Round) FailedAt() RoundState {
	for i := len(r.Transitions) - 1; i >= 0; i-- {
		if !r.Transitions[i].State.IsTerminal() {
			return r.Transitions[i].State
		}
	}
	return StateIdle
}

// HedgedSize returns the quantity both legs actually executed.
func (r *Round) HedgedSize() quant.QtySats {
	return quant.MinQty(r.MakerFilled, r.TakerFilled)
}

// MakerSide is the side of the resting leg: opening rounds buy into the long
// account, closing rounds sell out of it.
func (r *Round) MakerSide() Side {
	if r.Kind == RoundClose {
		return SideSell
	}
	return SideBuy
}

// TakerSide is the side of the crossing leg. For FLATTEN rounds it is the
// side that reduces FlattenAccount's position.
func (r *Round) TakerSide() Side {
	if r.Kind == RoundFlatten {
		if r.FlattenAccount == r.Assignment.Long {
			return SideSell
		}
		return SideBuy
	}
	return r.MakerSide().Opposite()
}

// ReduceOnly reports whether the round's orders may only shrink positions.
func (r *Round) ReduceOnly() bool { return r.Kind != RoundOpen }

// NetExcess is the signed exposure the round left across both accounts.
func (r *Round) NetExcess() quant.QtySats {
	if r.Kind == RoundFlatten {
		return 0
	}
	return quant.QtySats(r.MakerSide().Sign()*int64(r.MakerFilled) + r.TakerSide().Sign()*int64(r.TakerFilled))
}
