package domain

import (
	"fmt"

	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

// Market holds the trading constraints of one perpetual instrument.
// Immutable once loaded; refreshed from the exchange catalog.
type Market struct {
	Symbol         string            `json:"symbol"` // e.g. "BTC_USDT_Perp"
	TickSize       quant.PriceMicros `json:"tick_size,string"`
	SizeStep       quant.QtySats     `json:"size_step,string"`
	MinSize        quant.QtySats     `json:"min_size,string"`
	BaseDecimals   int               `json:"base_decimals"`
	InstrumentHash string            `json:"instrument_hash,omitempty"`
}

// Validate rejects markets that would make sizing or pricing undefined.
func (m Market) Validate() error {
	if m.Symbol == "" {
		return fmt.Errorf("market symbol is empty")
	}
	if m.TickSize <= 0 {
		return fmt.Errorf("market %s: tick size must be positive", m.Symbol)
	}
	if m.SizeStep <= 0 {
		return fmt.Errorf("market %s: size step must be positive", m.Symbol)
	}
	if m.MinSize < 0 {
		return fmt.Errorf("market %s: min size must not be negative", m.Symbol)
	}
	return nil
}

// EffectiveStep is the coarser of the size step and the minimum size, so that
// every multiple of it is both step-aligned and tradeable.
func (m Market) EffectiveStep() quant.QtySats {
	if m.MinSize > m.SizeStep && m.MinSize%m.SizeStep == 0 {
		return m.MinSize
	}
	return m.SizeStep
}

// AlignPrice floors p to the tick grid.
func (m Market) AlignPrice(p quant.PriceMicros) quant.PriceMicros {
	if m.TickSize <= 0 {
		return p
	}
	return p - p%m.TickSize
}
