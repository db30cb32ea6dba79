package domain

import "github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"

// Position represents an open perpetual position.
type Position struct {
	Market string        `json:"market"`
	Size   quant.QtySats `json:"size,string"` // Positive for Long, Negative for Short.
}

// IsLong checks if the position is Long.
func (p Position) IsLong() bool { return p.Size > 0 }

// IsShort checks if the position is Short.
func (p Position) IsShort() bool { return p.Size < 0 }

// IsFlat checks if there is no exposure.
func (p Position) IsFlat() bool { return p.Size == 0 }

// PositionIn returns the signed size held in market, zero when absent.
func PositionIn(positions []Position, market string) quant.QtySats {
	var total quant.QtySats
	for _, p := range positions {
		if p.Market == market {
			total += p.Size
		}
	}
	return total
}
