package direction

import (
	"sync"
	"testing"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", Random, false},
		{"RANDOM", Random, false},
		{"long", Account1Long, false},
		{"account1_short", Account1Short, false},
		{"sideways", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParsePolicy(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestChooser_FixedPolicies(t *testing.T) {
	if got := NewChooser(Account1Long, nil).Assignment(); got.Long != domain.Account1 {
		t.Errorf("account1_long -> %s", got)
	}
	if got := NewChooser(Account1Short, nil).Assignment(); got.Long != domain.Account2 {
		t.Errorf("account1_short -> %s", got)
	}
}

func TestChooser_RandomLockedPerRun(t *testing.T) {
	flips := 0
	coin := func() bool { flips++; return flips%2 == 1 }
	c := NewChooser(Random, coin)

	first := c.Assignment()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := c.Assignment(); got != first {
				t.Errorf("assignment changed: %s -> %s", first, got)
			}
		}()
	}
	wg.Wait()
	if flips != 1 {
		t.Errorf("coin flipped %d times, want 1", flips)
	}
}

func TestChooser_SeedFromPositions(t *testing.T) {
	c := NewChooser(Random, func() bool { return true })
	if !c.SeedFromPositions(-5, 5) {
		t.Fatal("seed from hedged positions should apply")
	}
	if got := c.Assignment(); got.Long != domain.Account2 {
		t.Errorf("seeded assignment = %s, want account2 long", got)
	}

	fixed := NewChooser(Account1Long, nil)
	if fixed.SeedFromPositions(-5, 5) {
		t.Error("fixed policy must not be reseeded")
	}
	if got := fixed.Assignment(); got.Long != domain.Account1 {
		t.Errorf("fixed assignment = %s", got)
	}

	late := NewChooser(Random, func() bool { return true })
	_ = late.Assignment()
	if late.SeedFromPositions(-5, 5) {
		t.Error("seed after resolution must not apply")
	}
}

func TestFromPositions(t *testing.T) {
	tests := []struct {
		name   string
		p1, p2 int64
		long   domain.AccountID
		ok     bool
	}{
		{"a1 long", 10, -10, domain.Account1, true},
		{"a2 long", -3, 7, domain.Account2, true},
		{"same side", 3, 7, "", false},
		{"flat", 0, 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, ok := FromPositions(quantQty(tt.p1), quantQty(tt.p2))
			if ok != tt.ok || a.Long != tt.long {
				t.Errorf("FromPositions = (%s, %v), want (%s, %v)", a.Long, ok, tt.long, tt.ok)
			}
		})
	}
}

func quantQty(v int64) quant.QtySats { return quant.QtySats(v) }
