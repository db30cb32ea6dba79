package infra

import (
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{-1, 1 * time.Second},
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 60 * time.Second},
		{100, 60 * time.Second},
	}

	for _, tt := range tests {
		if got := CalculateBackoff(tt.retryCount); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %s, want %s", tt.retryCount, got, tt.want)
		}
	}
}

func TestBackoff_CustomBounds(t *testing.T) {
	if got := Backoff(50*time.Millisecond, 300*time.Millisecond, 2); got != 200*time.Millisecond {
		t.Errorf("Backoff = %s", got)
	}
	if got := Backoff(50*time.Millisecond, 300*time.Millisecond, 3); got != 300*time.Millisecond {
		t.Errorf("Backoff should cap, got %s", got)
	}
}

func TestJitter(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		got := Jitter(base, 50*time.Millisecond)
		if got < base || got >= base+50*time.Millisecond {
			t.Fatalf("Jitter out of range: %s", got)
		}
	}
	if Jitter(base, 0) != base {
		t.Error("zero spread should return base")
	}
}
