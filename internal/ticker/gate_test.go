package ticker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

// scriptedSampler returns queued snapshots/errors in order.
type scriptedSampler struct {
	results []func() (domain.TickerSnapshot, error)
	calls   int32
}

func (s *scriptedSampler) SampleTicker(ctx context.Context, market string) (domain.TickerSnapshot, error) {
	i := int(atomic.AddInt32(&s.calls, 1)) - 1
	if i >= len(s.results) {
		return domain.TickerSnapshot{}, errors.New("no more samples")
	}
	return s.results[i]()
}

func ok(bid, ask int64) func() (domain.TickerSnapshot, error) {
	return func() (domain.TickerSnapshot, error) { return snapAt(0, bid, ask), nil }
}

func fail() func() (domain.TickerSnapshot, error) {
	return func() (domain.TickerSnapshot, error) { return domain.TickerSnapshot{}, errors.New("timeout") }
}

func fastGate(c *Cache, s Sampler) *Gate {
	return NewGate(c, s, GateOptions{SampleDelay: time.Millisecond, Retries: 3})
}

func TestGate_BufferStable(t *testing.T) {
	c := NewCache(4)
	now := quant.Now()
	c.Publish(snapAt(now-2000, 49_999, 50_001))
	c.Publish(snapAt(now-1000, 50_000, 50_002))

	sampler := &scriptedSampler{}
	a := fastGate(c, sampler).Check(context.Background(), btc, 3*time.Second, 100)

	if !a.Stable || a.Source != SourceBuffer {
		t.Fatalf("expected stable from buffer, got %+v", a)
	}
	if a.DeviationPPM != 20 { // 1 / 50,000
		t.Errorf("DeviationPPM = %d, want 20", a.DeviationPPM)
	}
	if atomic.LoadInt32(&sampler.calls) != 0 {
		t.Error("buffer path must not touch the network")
	}
}

func TestGate_BufferUnstable(t *testing.T) {
	c := NewCache(4)
	now := quant.Now()
	c.Publish(snapAt(now-2000, 50_000, 50_002))
	c.Publish(snapAt(now-1000, 50_100, 50_102))

	a := fastGate(c, nil).Check(context.Background(), btc, 3*time.Second, 500)
	if a.Stable {
		t.Fatalf("2000ppm move must be unstable: %+v", a)
	}
	if err := a.Err(btc); !errors.Is(err, domain.ErrMarketUnstable) {
		t.Errorf("Err() = %v", err)
	}
}

func TestGate_SingleSampleNeverStable(t *testing.T) {
	c := NewCache(4)
	c.Publish(snapAt(quant.Now(), 50_000, 50_001))

	if fastGate(c, nil).IsStable(context.Background(), btc, 3*time.Second, 1_000_000) {
		t.Fatal("one snapshot must never be reported stable")
	}
}

func TestGate_StaleBufferFallsBackToSamples(t *testing.T) {
	c := NewCache(4)
	old := quant.FromTime(time.Now().Add(-time.Minute))
	c.Publish(snapAt(old-1, 50_000, 50_002))
	c.Publish(snapAt(old, 50_000, 50_002))

	sampler := &scriptedSampler{results: []func() (domain.TickerSnapshot, error){
		ok(50_000, 50_002),
		ok(50_001, 50_003),
	}}
	a := fastGate(c, sampler).Check(context.Background(), btc, 3*time.Second, 100)

	if !a.Stable || a.Source != SourceSampled {
		t.Fatalf("expected sampled stable, got %+v", a)
	}
	if got := atomic.LoadInt32(&sampler.calls); got != 2 {
		t.Errorf("expected exactly 2 reads, got %d", got)
	}
}

func TestGate_SampleRetriesThenSucceeds(t *testing.T) {
	sampler := &scriptedSampler{results: []func() (domain.TickerSnapshot, error){
		fail(),
		ok(50_000, 50_002),
		fail(),
		ok(50_000, 50_002),
	}}
	a := fastGate(NewCache(4), sampler).Check(context.Background(), btc, 3*time.Second, 100)
	if !a.Stable {
		t.Fatalf("expected stable after transient failures: %+v", a)
	}
}

// A silent feed with no obtainable samples fails closed after bounded retries.
func TestGate_SilentFeedFailsClosed(t *testing.T) {
	sampler := &scriptedSampler{results: []func() (domain.TickerSnapshot, error){
		fail(), fail(), fail(), fail(), fail(),
	}}
	a := fastGate(NewCache(4), sampler).Check(context.Background(), btc, 3*time.Second, 1_000_000)

	if a.Stable {
		t.Fatal("gate must fail closed")
	}
	if a.Source != SourceNone {
		t.Errorf("Source = %s", a.Source)
	}
	if got := atomic.LoadInt32(&sampler.calls); got != 3 {
		t.Errorf("expected 3 bounded attempts, got %d", got)
	}
}

func TestGate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sampler := &scriptedSampler{results: []func() (domain.TickerSnapshot, error){ok(1, 2), ok(1, 2)}}
	g := NewGate(NewCache(4), sampler, GateOptions{SampleDelay: time.Hour})

	if g.IsStable(ctx, btc, time.Second, 100) {
		t.Fatal("cancelled context must not be stable")
	}
}
