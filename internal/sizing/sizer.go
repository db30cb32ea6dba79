// Package sizing converts requested notionals or contract counts into
// exchange-legal order sizes.
package sizing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

// Kind says how a requested amount is denominated.
type Kind int

const (
	KindContracts Kind = iota
	KindUSD
)

func (k Kind) String() string {
	if k == KindUSD {
		return "usd"
	}
	return "contracts"
}

// ParseKind accepts "usd"/"notional" or "contracts"/"size".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "usd", "notional":
		return KindUSD, nil
	case "contracts", "size", "":
		return KindContracts, nil
	default:
		return KindContracts, fmt.Errorf("unknown size kind %q", s)
	}
}

// Request is a sizing input as given by the operator.
type Request struct {
	Amount decimal.Decimal
	Kind   Kind
}

// ToContracts converts amount to a contract size for market, rounding down to
// the market's size step. mid is required only for USD requests.
func ToContracts(m domain.Market, amount decimal.Decimal, kind Kind, mid quant.PriceMicros) (quant.QtySats, error) {
	if !amount.IsPositive() {
		return 0, domain.Errorf(domain.KindSizeTooSmall, "size", "requested amount %s is not positive", amount)
	}

	contracts := amount
	if kind == KindUSD {
		if mid <= 0 {
			return 0, fmt.Errorf("size %s: no mid price for USD conversion", m.Symbol)
		}
		// Truncated below the qty grid; rounding happens only at the step.
		contracts = amount.DivRound(mid.Decimal(), 16).Truncate(12)
	}

	raw, err := quant.QtyFromDecimal(contracts)
	if err != nil {
		return 0, fmt.Errorf("size %s: %w", m.Symbol, err)
	}

	size := raw.RoundDown(m.EffectiveStep())
	if size <= 0 || size < m.MinSize {
		return 0, domain.Errorf(domain.KindSizeTooSmall, "size",
			"%s %s -> %s contracts, below minimum %s", amount, kind, size, m.MinSize)
	}
	return size, nil
}

// Size resolves r against market m.
func Size(m domain.Market, r Request, mid quant.PriceMicros) (quant.QtySats, error) {
	return ToContracts(m, r.Amount, r.Kind, mid)
}

// RoundDown aligns q to the market's step without the minimum check.
func RoundDown(m domain.Market, q quant.QtySats) quant.QtySats {
	return q.RoundDown(m.EffectiveStep())
}

// Hedgeable returns the quantity that can be closed as a pair: the smaller
// absolute size of two opposite positions, zero when they are not opposite.
func Hedgeable(a, b quant.QtySats) quant.QtySats {
	if (a > 0 && b < 0) || (a < 0 && b > 0) {
		return quant.MinQty(a.Abs(), b.Abs())
	}
	return 0
}

// NotionalUSD returns size × price as a decimal.
func NotionalUSD(size quant.QtySats, price quant.PriceMicros) decimal.Decimal {
	return size.Abs().Decimal().Mul(price.Decimal())
}
