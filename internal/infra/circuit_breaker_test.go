package infra

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(clk *fakeClock, failures, successes int) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: failures,
		SuccessThreshold: successes,
		Timeout:          time.Second,
		Now:              clk.Now,
	})
}

func TestCircuitBreaker_AllowInClosed(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("test"))

	if !cb.Allow() {
		t.Error("Expected Allow() to return true in CLOSED state")
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state CLOSED, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clk, 3, 2)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.GetState() != StateClosed {
		t.Error("Should still be CLOSED after 2 failures")
	}

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Errorf("Expected OPEN after 3 failures, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Error("Expected Allow() to return false in OPEN state")
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clk, 2, 2)

	cb.RecordFailure()
	cb.RecordFailure()

	clk.Advance(999 * time.Millisecond)
	if cb.Allow() {
		t.Fatal("breaker should still be open before the timeout")
	}

	clk.Advance(time.Millisecond)
	if !cb.Allow() || cb.GetState() != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN after timeout, got %s", cb.GetState())
	}

	cb.RecordSuccess()
	if cb.GetState() != StateHalfOpen {
		t.Error("one success should not close with threshold 2")
	}
	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Errorf("expected CLOSED, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clk, 1, 1)

	cb.RecordFailure()
	clk.Advance(2 * time.Second)
	cb.Allow()
	cb.RecordFailure()

	if cb.GetState() != StateOpen {
		t.Fatalf("expected OPEN, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Error("re-opened breaker should wait a full timeout")
	}
}

func TestCircuitBreaker_Execute(t *testing.T) {
	errBadRequest := errors.New("bad request")
	errDown := errors.New("connection refused")

	clk := &fakeClock{t: time.Unix(0, 0)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "gw",
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		Countable:        func(err error) bool { return !errors.Is(err, errBadRequest) },
		Now:              clk.Now,
	})

	for i := 0; i < 5; i++ {
		if err := cb.Execute(func() error { return errBadRequest }); !errors.Is(err, errBadRequest) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Fatal("non-countable errors must not open the breaker")
	}

	_ = cb.Execute(func() error { return errDown })
	_ = cb.Execute(func() error { return errDown })

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("expected ErrCircuitOpen without calling fn, got %v called=%v", err, called)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clk, 1, 1)
	cb.RecordFailure()
	cb.Reset()
	if cb.GetState() != StateClosed || !cb.Allow() {
		t.Error("Reset should close the breaker")
	}
}
