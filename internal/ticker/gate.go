package ticker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

// Sampler performs one point-in-time ticker read (REST).
type Sampler interface {
	SampleTicker(ctx context.Context, market string) (domain.TickerSnapshot, error)
}

// Source says which strategy produced an assessment.
type Source string

const (
	SourceBuffer  Source = "buffer"
	SourceSampled Source = "sampled"
	SourceNone    Source = "none"
)

// Assessment is the outcome of one stability check.
type Assessment struct {
	Stable       bool
	Source       Source
	DeviationPPM int64
	Samples      int
	Latest       domain.TickerSnapshot
	Reason       string
}

// Err returns nil for a stable assessment, otherwise a MarketUnstable error.
func (a Assessment) Err(market string) error {
	if a.Stable {
		return nil
	}
	return domain.Errorf(domain.KindMarketUnstable, "stability check",
		"%s: %s (source=%s deviation=%dppm)", market, a.Reason, a.Source, a.DeviationPPM)
}

// GateOptions configures the sampled fallback.
type GateOptions struct {
	SampleDelay time.Duration // gap between the two fallback reads
	Retries     int           // read attempts per fallback sample
	Now         func() time.Time
}

// Gate decides whether a market is quiet enough to trade.
type Gate struct {
	cache       *Cache
	sampler     Sampler
	sampleDelay time.Duration
	retries     int
	now         func() time.Time
}

// NewGate builds a gate over cache. sampler may be nil, in which case the
// fallback path always fails closed.
func NewGate(cache *Cache, sampler Sampler, opts GateOptions) *Gate {
	g := &Gate{
		cache:       cache,
		sampler:     sampler,
		sampleDelay: opts.SampleDelay,
		retries:     opts.Retries,
		now:         opts.Now,
	}
	if g.sampleDelay <= 0 {
		g.sampleDelay = time.Second
	}
	if g.retries <= 0 {
		g.retries = 3
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// IsStable is Check reduced to a bool.
func (g *Gate) IsStable(ctx context.Context, market string, window time.Duration, maxDeviationPPM int64) bool {
	return g.Check(ctx, market, window, maxDeviationPPM).Stable
}

// Check evaluates stability from the live buffer when it holds two fresh
// snapshots, otherwise from two sequential sampled reads. Anything short of
// two comparable observations is reported unstable.
func (g *Gate) Check(ctx context.Context, market string, window time.Duration, maxDeviationPPM int64) Assessment {
	if a, ok := g.fromBuffer(market, window, maxDeviationPPM); ok {
		return a
	}
	a := g.fromSamples(ctx, market, maxDeviationPPM)
	if !a.Stable {
		slog.Debug("Stability gate closed",
			slog.String("market", market),
			slog.String("source", string(a.Source)),
			slog.String("reason", a.Reason))
	}
	return a
}

func (g *Gate) fromBuffer(market string, window time.Duration, maxDev int64) (Assessment, bool) {
	recent := g.cache.Recent(market, 2)
	if len(recent) < 2 {
		return Assessment{}, false
	}
	prev, latest := recent[0], recent[1]
	oldest := quant.FromTime(g.now().Add(-window))
	if prev.Ts < oldest || latest.Ts <= prev.Ts {
		return Assessment{}, false
	}
	return judge(SourceBuffer, prev, latest, maxDev), true
}

func (g *Gate) fromSamples(ctx context.Context, market string, maxDev int64) Assessment {
	if g.sampler == nil {
		return Assessment{Source: SourceNone, Reason: "no fresh buffer and no sampler"}
	}

	first, err := g.sample(ctx, market, 0)
	if err != nil {
		return Assessment{Source: SourceNone, Reason: err.Error()}
	}
	if err := sleepCtx(ctx, g.sampleDelay); err != nil {
		return Assessment{Source: SourceNone, Samples: 1, Latest: first, Reason: err.Error()}
	}
	second, err := g.sample(ctx, market, first.Ts)
	if err != nil {
		return Assessment{Source: SourceNone, Samples: 1, Latest: first, Reason: err.Error()}
	}
	return judge(SourceSampled, first, second, maxDev)
}

// sample reads one snapshot newer than after, retrying up to g.retries times.
func (g *Gate) sample(ctx context.Context, market string, after quant.TimeStamp) (domain.TickerSnapshot, error) {
	var lastErr error
	for attempt := 0; attempt < g.retries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, g.sampleDelay); err != nil {
				return domain.TickerSnapshot{}, err
			}
		}
		snap, err := g.sampler.SampleTicker(ctx, market)
		if err != nil {
			lastErr = err
			continue
		}
		// Sampled reads carry observation time, not exchange event time.
		snap.Ts = quant.FromTime(g.now())
		if !snap.Valid() {
			lastErr = fmt.Errorf("invalid sample bid=%s ask=%s", snap.Bid, snap.Ask)
			continue
		}
		if snap.Ts <= after {
			lastErr = fmt.Errorf("sample not newer than previous read")
			continue
		}
		return snap, nil
	}
	return domain.TickerSnapshot{}, fmt.Errorf("no sample after %d attempts: %w", g.retries, lastErr)
}

func judge(src Source, prev, latest domain.TickerSnapshot, maxDev int64) Assessment {
	dev := domain.DeviationPPM(prev, latest)
	a := Assessment{Source: src, DeviationPPM: dev, Samples: 2, Latest: latest}
	switch {
	case dev < 0:
		a.Reason = "unusable mid price"
	case dev > maxDev:
		a.Reason = "deviation above threshold"
	default:
		a.Stable = true
	}
	return a
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
