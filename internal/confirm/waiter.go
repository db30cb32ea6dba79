package confirm

import (
	"context"
	"log/slog"
	"time"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
)

// streamLookback admits updates that arrived before the placement call
// returned.
const streamLookback = 2 * time.Second

// StatusReader is the polling side of a gateway.
type StatusReader interface {
	GetOrderStatus(ctx context.Context, market, orderID string) (domain.OrderResult, error)
}

// Waiter resolves order confirmations from the hub, polling the gateway when
// the stream is silent.
type Waiter struct {
	hub          *Hub
	pollInterval time.Duration
	streamGrace  time.Duration
	now          func() time.Time
}

// NewWaiter builds a waiter. hub may be nil, in which case only polling is used.
func NewWaiter(hub *Hub, pollInterval, streamGrace time.Duration) *Waiter {
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	if streamGrace < 0 {
		streamGrace = 0
	}
	return &Waiter{hub: hub, pollInterval: pollInterval, streamGrace: streamGrace, now: time.Now}
}

// AwaitResting blocks until the placed order is observed on the book (or
// already FILLED), or until timeout. A CANCELLED or REJECTED observation fails with
// OrderRejected; the deadline fails with ConfirmationTimeout.
func (w *Waiter) AwaitResting(ctx context.Context, account domain.AccountID, status StatusReader, placed domain.OrderResult, timeout time.Duration) (domain.OrderResult, error) {
	return w.await(ctx, account, status, placed, timeout, "await maker", settle)
}

// AwaitFinal blocks until the order reaches FILLED, CANCELLED or REJECTED and
// returns that observation. Without an order id only the stream can resolve
// it, matched by client order id; when that stream is down the hub is checked
// once. The deadline fails with ConfirmationTimeout.
func (w *Waiter) AwaitFinal(ctx context.Context, account domain.AccountID, status StatusReader, placed domain.OrderResult, timeout time.Duration) (domain.OrderResult, error) {
	if validOrderID(placed.OrderID) == "" && (w.hub == nil || !w.hub.Connected(account)) {
		if w.hub != nil {
			if o, ok, _ := w.hub.Find(account, For(placed), w.now().Add(-streamLookback)); ok && o.Status.IsTerminal() {
				return o, nil
			}
		}
		return domain.OrderResult{}, domain.Errorf(domain.KindConfirmationTimeout, "await final",
			"order (client %s) has no id and %s stream is down", placed.ClientOrderID, account)
	}
	return w.await(ctx, account, status, placed, timeout, "await final", final)
}

type classifier func(o domain.OrderResult, streamed bool) (domain.OrderResult, bool, error)

func (w *Waiter) await(ctx context.Context, account domain.AccountID, status StatusReader, placed domain.OrderResult, timeout time.Duration, op string, classify classifier) (domain.OrderResult, error) {
	start := w.now().Add(-streamLookback)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	m := For(placed)
	pollable := m.OrderID != "" && status != nil

	firstPoll := time.Duration(0)
	if w.hub != nil && w.hub.Connected(account) {
		firstPoll = w.streamGrace
	}
	poll := time.NewTimer(firstPoll)
	defer poll.Stop()
	if !pollable {
		poll.Stop()
	}

	for {
		var changed <-chan struct{}
		if w.hub != nil {
			o, ok, ch := w.hub.Find(account, m, start)
			if ok {
				if res, done, err := classify(o, true); done {
					return res, err
				}
			}
			changed = ch
		}

		select {
		case <-ctx.Done():
			return domain.OrderResult{}, ctx.Err()
		case <-deadline.C:
			return domain.OrderResult{}, domain.Errorf(domain.KindConfirmationTimeout, op,
				"order %s (client %s) not resolved within %s", placed.OrderID, placed.ClientOrderID, timeout)
		case <-changed:
		case <-poll.C:
			o, err := status.GetOrderStatus(ctx, placed.Market, placed.OrderID)
			if err != nil {
				if domain.KindOf(err) == domain.KindAuthExpired {
					return domain.OrderResult{}, err
				}
				slog.Debug("Order status poll failed", slog.String("order", placed.OrderID), slog.Any("err", err))
			} else if res, done, err := classify(o, false); done {
				return res, err
			}
			poll.Reset(w.pollInterval)
		}
	}
}

// settle classifies an observation. The order stream only emits PENDING once
// the order has been accepted for the book, so streamed PENDING confirms too.
func settle(o domain.OrderResult, streamed bool) (domain.OrderResult, bool, error) {
	switch o.Status {
	case domain.StatusOpen, domain.StatusFilled:
		return o, true, nil
	case domain.StatusPending:
		return o, streamed, nil
	case domain.StatusCancelled, domain.StatusRejected:
		return o, true, domain.Errorf(domain.KindOrderRejected, "await maker", "order %s %s before confirmation", o.OrderID, o.Status)
	}
	return o, false, nil
}

func final(o domain.OrderResult, _ bool) (domain.OrderResult, bool, error) {
	return o, o.Status.IsTerminal(), nil
}
