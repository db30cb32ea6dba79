// Package ticker holds the latest best bid/ask per market and answers
// price-stability questions without a network round trip.
package ticker

import (
	"sync"
	"sync/atomic"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
)

const defaultDepth = 8

// history is an immutable, newest-last window of snapshots.
type history struct {
	snaps []domain.TickerSnapshot
}

// cell is the per-market snapshot slot. Exactly one feed goroutine writes a
// given cell; any number of readers load it without locking.
type cell struct {
	hist atomic.Pointer[history]
}

// Cache is the shared ticker cache, keyed by market symbol.
type Cache struct {
	cells sync.Map // string -> *cell
	depth int
}

// NewCache creates a cache retaining up to depth snapshots per market.
func NewCache(depth int) *Cache {
	if depth < 2 {
		depth = defaultDepth
	}
	return &Cache{depth: depth}
}

func (c *Cache) cell(market string) *cell {
	if v, ok := c.cells.Load(market); ok {
		return v.(*cell)
	}
	v, _ := c.cells.LoadOrStore(market, &cell{})
	return v.(*cell)
}

// Publish stores snap as the latest observation of its market.
// Invalid (crossed, empty) or out-of-order snapshots are dropped; the return
// value reports whether snap was accepted.
func (c *Cache) Publish(snap domain.TickerSnapshot) bool {
	if !snap.Valid() || snap.Market == "" {
		return false
	}
	cl := c.cell(snap.Market)
	old := cl.hist.Load()

	var prev []domain.TickerSnapshot
	if old != nil {
		prev = old.snaps
		if n := len(prev); n > 0 && snap.Ts <= prev[n-1].Ts {
			return false
		}
	}

	start := 0
	if len(prev)+1 > c.depth {
		start = len(prev) + 1 - c.depth
	}
	next := make([]domain.TickerSnapshot, 0, c.depth)
	next = append(next, prev[start:]...)
	next = append(next, snap)
	cl.hist.Store(&history{snaps: next})
	return true
}

// Observe returns the latest snapshot of market.
func (c *Cache) Observe(market string) (domain.TickerSnapshot, bool) {
	v, ok := c.cells.Load(market)
	if !ok {
		return domain.TickerSnapshot{}, false
	}
	h := v.(*cell).hist.Load()
	if h == nil || len(h.snaps) == 0 {
		return domain.TickerSnapshot{}, false
	}
	return h.snaps[len(h.snaps)-1], true
}

// Recent returns up to n most recent snapshots, oldest first.
func (c *Cache) Recent(market string, n int) []domain.TickerSnapshot {
	v, ok := c.cells.Load(market)
	if !ok || n <= 0 {
		return nil
	}
	h := v.(*cell).hist.Load()
	if h == nil {
		return nil
	}
	snaps := h.snaps
	if len(snaps) > n {
		snaps = snaps[len(snaps)-n:]
	}
	out := make([]domain.TickerSnapshot, len(snaps))
	copy(out, snaps)
	return out
}

// Markets lists every market that has received at least one snapshot.
func (c *Cache) Markets() []string {
	var out []string
	c.cells.Range(func(k, v any) bool {
		if h := v.(*cell).hist.Load(); h != nil && len(h.snaps) > 0 {
			out = append(out, k.(string))
		}
		return true
	})
	return out
}
