package ticker

import (
	"sync"
	"testing"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

const btc = "BTC_USDT_Perp"

func snapAt(ts quant.TimeStamp, bid, ask int64) domain.TickerSnapshot {
	return domain.TickerSnapshot{
		Market: btc,
		Bid:    quant.PriceMicros(bid * quant.PriceScale),
		Ask:    quant.PriceMicros(ask * quant.PriceScale),
		Ts:     ts,
	}
}

func TestCache_PublishObserve(t *testing.T) {
	c := NewCache(4)

	if _, ok := c.Observe(btc); ok {
		t.Fatal("empty cache should have no snapshot")
	}

	c.Publish(snapAt(1, 49_999, 50_001))
	c.Publish(snapAt(2, 50_000, 50_002))

	got, ok := c.Observe(btc)
	if !ok {
		t.Fatal("expected snapshot")
	}
	if got.Ts != 2 || got.Bid != 50_000*quant.PriceScale {
		t.Errorf("Observe returned stale snapshot: %+v", got)
	}
}

func TestCache_RejectsInvalidAndOutOfOrder(t *testing.T) {
	c := NewCache(4)
	tests := []struct {
		name string
		snap domain.TickerSnapshot
		want bool
	}{
		{"first", snapAt(10, 1, 2), true},
		{"older", snapAt(9, 1, 2), false},
		{"same ts", snapAt(10, 1, 2), false},
		{"crossed", snapAt(11, 3, 2), false},
		{"newer", snapAt(11, 1, 2), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Publish(tt.snap); got != tt.want {
				t.Errorf("Publish = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCache_RecentIsBounded(t *testing.T) {
	c := NewCache(3)
	for i := 1; i <= 10; i++ {
		c.Publish(snapAt(quant.TimeStamp(i), 1, 2))
	}
	recent := c.Recent(btc, 10)
	if len(recent) != 3 {
		t.Fatalf("expected depth 3, got %d", len(recent))
	}
	if recent[0].Ts != 8 || recent[2].Ts != 10 {
		t.Errorf("unexpected window: %d..%d", recent[0].Ts, recent[2].Ts)
	}

	two := c.Recent(btc, 2)
	if len(two) != 2 || two[1].Ts != 10 {
		t.Errorf("Recent(2) = %+v", two)
	}
}

// Readers must always see a complete snapshot while the single writer publishes.
func TestCache_ConcurrentReaders(t *testing.T) {
	c := NewCache(8)
	const writes = 2000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= writes; i++ {
			// bid and ask move together so ask-bid is always exactly 2.
			c.Publish(snapAt(quant.TimeStamp(i), int64(i), int64(i+2)))
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < writes; i++ {
				if s, ok := c.Observe(btc); ok && s.Spread() != 2*quant.PriceScale {
					t.Errorf("torn snapshot: %+v", s)
					return
				}
			}
		}()
	}
	wg.Wait()

	if ms := c.Markets(); len(ms) != 1 || ms[0] != btc {
		t.Errorf("Markets() = %v", ms)
	}
}
