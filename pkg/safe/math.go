package safe

import (
	"math"
	"math/bits"
)

// SafeAdd performs int64 addition and panics on overflow/underflow.
func SafeAdd(a, b int64) int64 {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		panic("CORE_SAFE_ADD_OVERFLOW")
	}
	return a + b
}

// SafeSub performs int64 subtraction and panics on overflow/underflow.
func SafeSub(a, b int64) int64 {
	if (b > 0 && a < math.MinInt64+b) || (b < 0 && a > math.MaxInt64+b) {
		panic("CORE_SAFE_SUB_OVERFLOW")
	}
	return a - b
}

// SafeMul performs int64 multiplication and panics on overflow/underflow.
func SafeMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	c := a * b
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) || c/b != a {
		panic("CORE_SAFE_MUL_OVERFLOW")
	}
	return c
}

// SafeDiv performs int64 division and panics on division by zero.
func SafeDiv(a, b int64) int64 {
	if b == 0 {
		panic("CORE_SAFE_DIV_BY_ZERO")
	}
	if a == math.MinInt64 && b == -1 {
		panic("CORE_SAFE_DIV_OVERFLOW")
	}
	return a / b
}

// SafeAbs returns |a| and panics for MinInt64.
func SafeAbs(a int64) int64 {
	if a == math.MinInt64 {
		panic("CORE_SAFE_ABS_OVERFLOW")
	}
	if a < 0 {
		return -a
	}
	return a
}

// MulDiv computes a*b/c with a 128-bit intermediate, truncating toward zero.
// Used for price*qty scaling where the product alone would overflow int64.
func MulDiv(a, b, c int64) int64 {
	if c == 0 {
		panic("CORE_SAFE_DIV_BY_ZERO")
	}
	neg := (a < 0) != (b < 0) != (c < 0)
	ua, ub, uc := absU(a), absU(b), absU(c)

	hi, lo := bits.Mul64(ua, ub)
	if hi >= uc {
		panic("CORE_SAFE_MULDIV_OVERFLOW")
	}
	q, _ := bits.Div64(hi, lo, uc)
	if neg && q == 1<<63 {
		return math.MinInt64
	}
	if q > math.MaxInt64 {
		panic("CORE_SAFE_MULDIV_OVERFLOW")
	}
	if neg {
		return -int64(q)
	}
	return int64(q)
}

func absU(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}
