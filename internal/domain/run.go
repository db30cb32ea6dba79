package domain

import (
	"github.com/shopspring/decimal"

	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

// RunInfo describes a run at its start.
type RunInfo struct {
	RunID       string          `json:"run_id"`
	Mode        string          `json:"mode"`
	TradingMode string          `json:"trading_mode"` // PAPER | TESTNET | REAL
	Market      string          `json:"market"`
	Assignment  Assignment      `json:"assignment"`
	RoundSize   quant.QtySats   `json:"round_size,string"`
	Rounds      int             `json:"rounds"`
	StartedAt   quant.TimeStamp `json:"started_at,string"`
}

// RunStats accumulates round outcomes. It is rebuilt identically from the
// journal by applying the same rounds in order.
type RunStats struct {
	RunID      string `json:"run_id"`
	Mode       string `json:"mode"`
	Rounds     int    `json:"rounds"`
	Completed  int    `json:"completed"`
	Imbalanced int    `json:"imbalanced"`
	Failed     int    `json:"failed"`
	// OpenImbalances counts events that were surfaced or failed, not closed.
	OpenImbalances int             `json:"open_imbalances"`
	Filled         quant.QtySats   `json:"filled,string"`
	Volume         decimal.Decimal `json:"volume"`
	Halted         bool            `json:"halted"`
	Stopped        bool            `json:"stopped"`
	Reason         string          `json:"reason,omitempty"`
	StartedAt      quant.TimeStamp `json:"started_at,string"`
	FinishedAt     quant.TimeStamp `json:"finished_at,string"`
}

// RoundVolume is the notional traded by a round's legs and any remediation,
// valued at the round's mid.
func RoundVolume(r *Round) decimal.Decimal {
	qty := r.MakerFilled + r.TakerFilled
	if r.Event != nil {
		qty += r.Event.Closed
	}
	if qty == 0 || r.Mid <= 0 {
		return decimal.Zero
	}
	return qty.Decimal().Mul(r.Mid.Decimal())
}

// Apply folds one terminal round into the totals.
func (s *RunStats) Apply(r *Round) {
	s.Rounds++
	switch r.State {
	case StateComplete:
		s.Completed++
	case StateImbalance:
		s.Imbalanced++
	default:
		s.Failed++
	}
	if r.Event.Open() {
		s.OpenImbalances++
	}
	s.Filled += r.HedgedSize()
	s.Volume = s.Volume.Add(RoundVolume(r))
}
