package domain

import (
	"testing"

	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

func TestPosition_Direction(t *testing.T) {
	tests := []struct {
		name    string
		qty     quant.QtySats
		isLong  bool
		isShort bool
		isFlat  bool
	}{
		{"Long", 100, true, false, false},
		{"Short", -100, false, true, false},
		{"Flat", 0, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Position{Size: tt.qty}
			if got := p.IsLong(); got != tt.isLong {
				t.Errorf("Position.IsLong() = %v, want %v", got, tt.isLong)
			}
			if got := p.IsShort(); got != tt.isShort {
				t.Errorf("Position.IsShort() = %v, want %v", got, tt.isShort)
			}
			if got := p.IsFlat(); got != tt.isFlat {
				t.Errorf("Position.IsFlat() = %v, want %v", got, tt.isFlat)
			}
		})
	}
}

func TestPositionIn(t *testing.T) {
	positions := []Position{
		{Market: "BTC_USDT_Perp", Size: 50_000_000},
		{Market: "ETH_USDT_Perp", Size: -10},
	}
	if got := PositionIn(positions, "BTC_USDT_Perp"); got != 50_000_000 {
		t.Errorf("got %d", got)
	}
	if got := PositionIn(positions, "SOL_USDT_Perp"); got != 0 {
		t.Errorf("missing market should be flat, got %d", got)
	}
}
