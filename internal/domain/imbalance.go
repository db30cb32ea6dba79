package domain

import "github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"

// RemediationOutcome is the final disposition of an imbalance.
type RemediationOutcome string

const (
	OutcomeClosed    RemediationOutcome = "CLOSED"
	OutcomeSurfaced  RemediationOutcome = "SURFACED"
	OutcomeFailed    RemediationOutcome = "FAILED"
	OutcomeUnhandled RemediationOutcome = ""
)

// ImbalanceEvent describes net exposure left by a round whose legs diverged.
type ImbalanceEvent struct {
	RoundID string    `json:"round_id"`
	Market  string    `json:"market"`
	Account AccountID `json:"account"`
	// Excess is the signed net exposure across both accounts (long > 0).
	Excess          quant.QtySats      `json:"excess,string"`
	RemediationSide Side               `json:"remediation_side"`
	DetectedAt      quant.TimeStamp    `json:"detected_at,string"`
	Outcome         RemediationOutcome `json:"outcome"`
	Attempts        int                `json:"attempts"`
	Closed          quant.QtySats      `json:"closed,string"`
	Remaining       quant.QtySats      `json:"remaining,string"`
	OrderIDs        []string           `json:"order_ids,omitempty"`
	Reason          string             `json:"reason,omitempty"`
}

// Open reports whether exposure is still outstanding.
func (e *ImbalanceEvent) Open() bool {
	return e != nil && e.Outcome != OutcomeClosed
}
