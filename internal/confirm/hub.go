// Package confirm matches streamed order updates against orders the
// orchestrator is waiting on, with a polling fallback.
package confirm

import (
	"sync"
	"time"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
)

const defaultDepth = 400

type entry struct {
	order domain.OrderResult
	at    time.Time
}

// Hub buffers the most recent order updates per account. Order streams
// publish; waiters scan the buffer and block on the change signal.
type Hub struct {
	mu        sync.Mutex
	depth     int
	recent    map[domain.AccountID][]entry
	connected map[domain.AccountID]bool
	changed   chan struct{}
	now       func() time.Time
}

// NewHub creates a hub keeping up to depth updates per account.
func NewHub(depth int) *Hub {
	if depth <= 0 {
		depth = defaultDepth
	}
	return &Hub{
		depth:     depth,
		recent:    make(map[domain.AccountID][]entry),
		connected: make(map[domain.AccountID]bool),
		changed:   make(chan struct{}),
		now:       time.Now,
	}
}

// Publish records an order update of account and wakes all waiters.
func (h *Hub) Publish(account domain.AccountID, o domain.OrderResult) {
	h.mu.Lock()
	buf := append(h.recent[account], entry{order: o, at: h.now()})
	if len(buf) > h.depth {
		buf = buf[len(buf)-h.depth:]
	}
	h.recent[account] = buf
	close(h.changed)
	h.changed = make(chan struct{})
	h.mu.Unlock()
}

// SetConnected records the stream health of account.
func (h *Hub) SetConnected(account domain.AccountID, ok bool) {
	h.mu.Lock()
	h.connected[account] = ok
	h.mu.Unlock()
}

// Connected reports whether account's order stream is live.
func (h *Hub) Connected(account domain.AccountID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected[account]
}

// Find returns the newest update of account accepted by m and observed at
// or after since, together with the channel closed on the next publish.
func (h *Hub) Find(account domain.AccountID, m Matcher, since time.Time) (domain.OrderResult, bool, <-chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := h.recent[account]
	for i := len(buf) - 1; i >= 0; i-- {
		if buf[i].at.Before(since) {
			break
		}
		if m.Match(buf[i].order) {
			return buf[i].order, true, h.changed
		}
	}
	return domain.OrderResult{}, false, h.changed
}

// Matcher identifies one order in the stream. Identifiers win; the leg
// fields are a fallback for updates that omit them.
type Matcher struct {
	OrderID       string
	ClientOrderID string
	Market        string
	Side          domain.Side
	Size          int64
	Price         int64
}

// For builds a matcher from a placement result.
func For(o domain.OrderResult) Matcher {
	return Matcher{
		OrderID:       validOrderID(o.OrderID),
		ClientOrderID: o.ClientOrderID,
		Market:        o.Market,
		Side:          o.Side,
		Size:          int64(o.RequestedSize),
		Price:         int64(o.Price),
	}
}

// Match reports whether o is the tracked order.
func (m Matcher) Match(o domain.OrderResult) bool {
	if o.Matches(m.OrderID, m.ClientOrderID) {
		return true
	}
	if o.OrderID != "" && validOrderID(o.OrderID) != "" && m.OrderID != "" {
		return false
	}
	if o.ClientOrderID != "" && m.ClientOrderID != "" {
		return false
	}
	return m.Market != "" && o.Market == m.Market && o.Side == m.Side &&
		int64(o.RequestedSize) == m.Size && int64(o.Price) == m.Price &&
		o.Status.IsResting()
}

// validOrderID drops the placeholder ids the exchange returns before an
// order is assigned one.
func validOrderID(id string) string {
	switch id {
	case "", "0", "0x0", "0x00":
		return ""
	}
	return id
}
