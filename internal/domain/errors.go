package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures that reach the run controller.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindMarketUnstable
	KindOrderRejected
	KindConfirmationTimeout
	KindTakerFailed
	KindSizeTooSmall
	KindLegImbalance
	KindRemediationFailed
	KindAuthExpired
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindMarketUnstable:
		return "MarketUnstable"
	case KindOrderRejected:
		return "OrderRejected"
	case KindConfirmationTimeout:
		return "ConfirmationTimeout"
	case KindTakerFailed:
		return "TakerFailed"
	case KindSizeTooSmall:
		return "SizeTooSmall"
	case KindLegImbalance:
		return "LegImbalance"
	case KindRemediationFailed:
		return "RemediationFailed"
	case KindAuthExpired:
		return "AuthExpired"
	case KindTransient:
		return "Transient"
	default:
		return "Unknown"
	}
}

func (k ErrorKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *ErrorKind) UnmarshalText(b []byte) error {
	for c := KindUnknown; c <= KindTransient; c++ {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	*k = KindUnknown
	return nil
}

// Halts reports whether a failure of this kind stops the run by default.
func (k ErrorKind) Halts() bool {
	return k == KindRemediationFailed || k == KindAuthExpired
}

// Sentinels usable with errors.Is.
var (
	ErrMarketUnstable      = &Error{Kind: KindMarketUnstable}
	ErrOrderRejected       = &Error{Kind: KindOrderRejected}
	ErrConfirmationTimeout = &Error{Kind: KindConfirmationTimeout}
	ErrTakerFailed         = &Error{Kind: KindTakerFailed}
	ErrSizeTooSmall        = &Error{Kind: KindSizeTooSmall}
	ErrLegImbalance        = &Error{Kind: KindLegImbalance}
	ErrRemediationFailed   = &Error{Kind: KindRemediationFailed}
	ErrAuthExpired         = &Error{Kind: KindAuthExpired}
	ErrTransient           = &Error{Kind: KindTransient}

	ErrRoundInFlight = errors.New("a round is already in flight for this account pair")
)

// Error is a classified failure. Op names the step that failed.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError wraps err with a kind and the failing operation.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels compare by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the ErrorKind of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
