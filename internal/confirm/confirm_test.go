package confirm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
)

type pollStub struct {
	calls  int32
	result domain.OrderResult
	err    error
}

func (p *pollStub) GetOrderStatus(_ context.Context, _, _ string) (domain.OrderResult, error) {
	atomic.AddInt32(&p.calls, 1)
	return p.result, p.err
}

func placed() domain.OrderResult {
	return domain.OrderResult{
		OrderID:       "0xabc",
		ClientOrderID: "42",
		Market:        "BTC_USDT_Perp",
		Side:          domain.SideBuy,
		Status:        domain.StatusPending,
		RequestedSize: 2_000_000,
		Price:         49_999_000_000,
	}
}

func TestMatcher(t *testing.T) {
	m := For(placed())
	tests := []struct {
		name string
		o    domain.OrderResult
		want bool
	}{
		{"by order id", domain.OrderResult{OrderID: "0xabc"}, true},
		{"by client id", domain.OrderResult{OrderID: "0x00", ClientOrderID: "42"}, true},
		{"other order", domain.OrderResult{OrderID: "0xdef", ClientOrderID: "43"}, false},
		{"leg fields", domain.OrderResult{Market: "BTC_USDT_Perp", Side: domain.SideBuy, RequestedSize: 2_000_000, Price: 49_999_000_000, Status: domain.StatusOpen}, true},
		{"leg fields wrong side", domain.OrderResult{Market: "BTC_USDT_Perp", Side: domain.SideSell, RequestedSize: 2_000_000, Price: 49_999_000_000, Status: domain.StatusOpen}, false},
		{"leg fields other client id", domain.OrderResult{ClientOrderID: "7", Market: "BTC_USDT_Perp", Side: domain.SideBuy, RequestedSize: 2_000_000, Price: 49_999_000_000, Status: domain.StatusOpen}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Match(tt.o); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHub_DepthBounded(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(domain.Account1, domain.OrderResult{OrderID: string(rune('a' + i))})
	}
	if _, ok, _ := h.Find(domain.Account1, Matcher{OrderID: "a"}, time.Time{}); ok {
		t.Error("oldest update should have been evicted")
	}
	if _, ok, _ := h.Find(domain.Account1, Matcher{OrderID: "e"}, time.Time{}); !ok {
		t.Error("newest update should be found")
	}
	if _, ok, _ := h.Find(domain.Account2, Matcher{OrderID: "e"}, time.Time{}); ok {
		t.Error("updates must not leak across accounts")
	}
}

func TestWaiter_StreamConfirms(t *testing.T) {
	h := NewHub(0)
	h.SetConnected(domain.Account1, true)
	poller := &pollStub{}
	w := NewWaiter(h, 10*time.Millisecond, time.Second)

	go func() {
		time.Sleep(20 * time.Millisecond)
		o := placed()
		o.Status = domain.StatusOpen
		h.Publish(domain.Account1, o)
	}()

	res, err := w.AwaitResting(context.Background(), domain.Account1, poller, placed(), time.Second)
	if err != nil {
		t.Fatalf("AwaitResting: %v", err)
	}
	if res.Status != domain.StatusOpen {
		t.Errorf("status = %s", res.Status)
	}
	if atomic.LoadInt32(&poller.calls) != 0 {
		t.Error("a live stream should confirm before the polling grace expires")
	}
}

func TestWaiter_PollingFallback(t *testing.T) {
	o := placed()
	o.Status = domain.StatusOpen
	poller := &pollStub{result: o}
	w := NewWaiter(NewHub(0), 10*time.Millisecond, time.Second)

	res, err := w.AwaitResting(context.Background(), domain.Account1, poller, placed(), time.Second)
	if err != nil {
		t.Fatalf("AwaitResting: %v", err)
	}
	if res.OrderID != "0xabc" || poller.calls == 0 {
		t.Errorf("expected polled confirmation, got %+v after %d polls", res, poller.calls)
	}
}

func TestWaiter_Timeout(t *testing.T) {
	poller := &pollStub{result: placed()}
	w := NewWaiter(nil, 5*time.Millisecond, 0)

	start := time.Now()
	_, err := w.AwaitResting(context.Background(), domain.Account1, poller, placed(), 50*time.Millisecond)
	if !errors.Is(err, domain.ErrConfirmationTimeout) {
		t.Fatalf("expected ConfirmationTimeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout not honoured")
	}
}

func TestWaiter_RejectedObservation(t *testing.T) {
	h := NewHub(0)
	o := placed()
	o.Status = domain.StatusRejected
	h.Publish(domain.Account1, o)

	w := NewWaiter(h, time.Second, time.Second)
	_, err := w.AwaitResting(context.Background(), domain.Account1, nil, placed(), time.Second)
	if !errors.Is(err, domain.ErrOrderRejected) {
		t.Fatalf("expected OrderRejected, got %v", err)
	}
}

func TestWaiter_IgnoresUpdatesBeforeWait(t *testing.T) {
	h := NewHub(0)
	stale := placed()
	stale.Status = domain.StatusOpen
	h.Publish(domain.Account1, stale)

	w := NewWaiter(h, time.Second, time.Second)
	w.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err := w.AwaitResting(context.Background(), domain.Account1, nil, placed(), 30*time.Millisecond)
	if !errors.Is(err, domain.ErrConfirmationTimeout) {
		t.Fatalf("stale update must not confirm, got %v", err)
	}
}

// seqStub returns results in order, repeating the last one.
type seqStub struct {
	calls   atomic.Int32
	results []domain.OrderResult
}

func (s *seqStub) GetOrderStatus(context.Context, string, string) (domain.OrderResult, error) {
	n := int(s.calls.Add(1)) - 1
	if n >= len(s.results) {
		n = len(s.results) - 1
	}
	return s.results[n], nil
}

func TestWaiter_AwaitFinalPollsPastPending(t *testing.T) {
	pending, filled := placed(), placed()
	filled.Status, filled.FilledSize = domain.StatusFilled, 2_000_000
	poller := &seqStub{results: []domain.OrderResult{pending, pending, filled}}
	w := NewWaiter(nil, time.Millisecond, 0)

	got, err := w.AwaitFinal(context.Background(), domain.Account2, poller, placed(), time.Second)
	if err != nil {
		t.Fatalf("AwaitFinal: %v", err)
	}
	if got.Status != domain.StatusFilled || got.FilledSize != 2_000_000 {
		t.Errorf("got %+v", got)
	}
	if poller.calls.Load() != 3 {
		t.Errorf("polls = %d, want 3", poller.calls.Load())
	}
}

func TestWaiter_AwaitFinalIgnoresRestingStreamUpdates(t *testing.T) {
	h := NewHub(0)
	h.SetConnected(domain.Account2, true)
	w := NewWaiter(h, time.Hour, time.Hour)

	open := placed()
	open.Status = domain.StatusOpen
	h.Publish(domain.Account2, open)

	done := make(chan domain.OrderResult, 1)
	go func() {
		got, err := w.AwaitFinal(context.Background(), domain.Account2, nil, placed(), time.Second)
		if err != nil {
			t.Errorf("AwaitFinal: %v", err)
		}
		done <- got
	}()

	time.Sleep(10 * time.Millisecond)
	cancelled := placed()
	cancelled.Status, cancelled.FilledSize = domain.StatusCancelled, 700_000
	h.Publish(domain.Account2, cancelled)

	got := <-done
	if got.Status != domain.StatusCancelled || got.FilledSize != 700_000 {
		t.Errorf("got %+v, want the CANCELLED update", got)
	}
}

func TestWaiter_AwaitFinalByClientID(t *testing.T) {
	h := NewHub(0)
	w := NewWaiter(h, time.Millisecond, 0)
	lost := domain.OrderResult{ClientOrderID: "42", Market: "BTC_USDT_Perp", Side: domain.SideSell, RequestedSize: 2_000_000}

	if _, err := w.AwaitFinal(context.Background(), domain.Account2, nil, lost, time.Second); domain.KindOf(err) != domain.KindConfirmationTimeout {
		t.Fatalf("err = %v, want ConfirmationTimeout without id or stream", err)
	}

	h.Publish(domain.Account2, domain.OrderResult{OrderID: "0xfeed", ClientOrderID: "42", Status: domain.StatusFilled, FilledSize: 2_000_000})
	got, err := w.AwaitFinal(context.Background(), domain.Account2, nil, lost, time.Second)
	if err != nil {
		t.Fatalf("AwaitFinal: %v", err)
	}
	if got.OrderID != "0xfeed" || got.FilledSize != 2_000_000 {
		t.Errorf("got %+v", got)
	}
}
