package quant

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// PriceMicros represents price multiplied by 1,000,000 (10^6).
// E.g., 49,999.5 USDT = 49,999,500,000 PriceMicros.
type PriceMicros int64

// QtySats represents contract quantity multiplied by 100,000,000 (10^8).
// E.g., 0.02 BTC = 2,000,000 QtySats.
type QtySats int64

// TimeStamp represents Unix Microseconds.
type TimeStamp int64

const (
	PriceScale = 1000000
	QtyScale   = 100000000

	priceDecimals = 6
	qtyDecimals   = 8
)

var ErrInvalidNumber = errors.New("invalid fixed-point number")

// ToPriceMicros converts a float64 (from external API) to PriceMicros.
// Note: Only used at the boundary. Internal logic uses PriceMicros directly.
func ToPriceMicros(f float64) PriceMicros {
	return PriceMicros(math.Round(f * PriceScale))
}

// ToQtySats converts a float64 to QtySats.
func ToQtySats(f float64) QtySats {
	return QtySats(math.Round(f * QtyScale))
}

func (p PriceMicros) String() string { return formatFixed(int64(p), priceDecimals) }
func (q QtySats) String() string     { return formatFixed(int64(q), qtyDecimals) }

// Decimal returns the exact decimal value (used for wire payloads and notional math).
func (p PriceMicros) Decimal() decimal.Decimal { return decimal.New(int64(p), -priceDecimals) }
func (q QtySats) Decimal() decimal.Decimal     { return decimal.New(int64(q), -qtyDecimals) }

// Abs returns |q|.
func (q QtySats) Abs() QtySats {
	if q < 0 {
		return -q
	}
	return q
}

// RoundDown truncates q toward zero to a multiple of step. A non-positive step returns q unchanged.
func (q QtySats) RoundDown(step QtySats) QtySats {
	if step <= 0 {
		return q
	}
	return q - q%step
}

// MinQty returns the smaller of a and b.
func MinQty(a, b QtySats) QtySats {
	if a < b {
		return a
	}
	return b
}

// PriceFromDecimal converts d to PriceMicros, truncating precision beyond 10^-6.
func PriceFromDecimal(d decimal.Decimal) (PriceMicros, error) {
	v, err := scaledInt(d, priceDecimals)
	return PriceMicros(v), err
}

// QtyFromDecimal converts d to QtySats, truncating precision beyond 10^-8.
func QtyFromDecimal(d decimal.Decimal) (QtySats, error) {
	v, err := scaledInt(d, qtyDecimals)
	return QtySats(v), err
}

func scaledInt(d decimal.Decimal, decimals int32) (int64, error) {
	shifted := d.Shift(decimals).Truncate(0)
	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s overflows int64 at 10^-%d", ErrInvalidNumber, d.String(), decimals)
	}
	return shifted.IntPart(), nil
}

// NextSeq generates the next sequence number atomically.
func NextSeq(ptr *uint64) uint64 {
	return atomic.AddUint64(ptr, 1)
}

// Now returns the current wall clock as a TimeStamp.
func Now() TimeStamp { return FromTime(time.Now()) }

// FromTime converts t to Unix microseconds.
func FromTime(t time.Time) TimeStamp { return TimeStamp(t.UnixMicro()) }

// Time converts back to time.Time.
func (ts TimeStamp) Time() time.Time { return time.UnixMicro(int64(ts)) }

// ParseTimeStamp converts a string (ms) to TimeStamp (micros).
func ParseTimeStamp(s string) (TimeStamp, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if ms > math.MaxInt64/1000 || ms < math.MinInt64/1000 {
		return 0, fmt.Errorf("%w: timestamp %s out of range", ErrInvalidNumber, s)
	}
	return TimeStamp(ms * 1000), nil
}

// ParseNanoTimeStamp converts an exchange nanosecond string to TimeStamp.
func ParseNanoTimeStamp(s string) (TimeStamp, error) {
	ns, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return TimeStamp(ns / 1000), nil
}

// ParsePrice parses a decimal string ("49999.5") into PriceMicros without float64.
func ParsePrice(s string) (PriceMicros, error) {
	v, err := parseFixedPoint(s, priceDecimals)
	return PriceMicros(v), err
}

// ParseQty parses a decimal string ("0.02") into QtySats without float64.
func ParseQty(s string) (QtySats, error) {
	v, err := parseFixedPoint(s, qtyDecimals)
	return QtySats(v), err
}

// parseFixedPoint parses a string representation of a decimal into an integer
// scaled by 10^decimals. Extra precision is truncated toward zero.
// Example: "1.23", decimals=6 -> 1230000
func parseFixedPoint(s string, decimals int) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return 0, nil
	}

	sign := int64(1)
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}

	intPart, fracPart, _ := strings.Cut(s, ".")
	if intPart == "" && fracPart == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	if !allDigits(intPart) || !allDigits(fracPart) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}

	var intVal int64
	if intPart != "" {
		v, err := strconv.ParseInt(intPart, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
		}
		intVal = v
	}

	if len(fracPart) > decimals {
		fracPart = fracPart[:decimals]
	} else {
		fracPart += strings.Repeat("0", decimals-len(fracPart))
	}
	var fracVal int64
	if fracPart != "" {
		v, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
		}
		fracVal = v
	}

	multiplier := int64(1)
	for i := 0; i < decimals; i++ {
		multiplier *= 10
	}
	if intVal > (math.MaxInt64-fracVal)/multiplier {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidNumber, s)
	}

	return sign * (intVal*multiplier + fracVal), nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// formatFixed renders v / 10^decimals with exactly `decimals` fraction digits.
func formatFixed(v int64, decimals int) string {
	neg := v < 0
	u := uint64(v)
	if neg {
		u = uint64(-(v + 1)) + 1
	}
	digits := strconv.FormatUint(u, 10)
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	cut := len(digits) - decimals
	out := digits[:cut] + "." + digits[cut:]
	if neg {
		return "-" + out
	}
	return out
}
