package domain

import (
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/safe"
)

// TickerSnapshot is the best bid/ask of one market at one instant.
type TickerSnapshot struct {
	Market string            `json:"market"`
	Bid    quant.PriceMicros `json:"bid,string"`
	Ask    quant.PriceMicros `json:"ask,string"`
	Ts     quant.TimeStamp   `json:"ts,string"`
}

// Valid reports whether both sides are present and not crossed.
func (t TickerSnapshot) Valid() bool {
	return t.Bid > 0 && t.Ask > 0 && t.Bid <= t.Ask
}

// Mid returns (bid+ask)/2, truncated to the micro.
func (t TickerSnapshot) Mid() quant.PriceMicros {
	return quant.PriceMicros(safe.SafeAdd(int64(t.Bid), int64(t.Ask)) / 2)
}

// Spread returns ask - bid.
func (t TickerSnapshot) Spread() quant.PriceMicros {
	return t.Ask - t.Bid
}

// DeviationPPM returns |mid(b) - mid(a)| / mid(a) in parts per million.
// Returns -1 when a has no usable mid.
func DeviationPPM(a, b TickerSnapshot) int64 {
	base := int64(a.Mid())
	if base <= 0 {
		return -1
	}
	diff := safe.SafeAbs(safe.SafeSub(int64(b.Mid()), base))
	return safe.MulDiv(diff, 1_000_000, base)
}
