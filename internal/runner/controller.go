// Package runner drives repeated rounds according to a trading mode.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/direction"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/sizing"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

// closeSlack bounds close loops beyond the number of rounds that were built.
const closeSlack = 20

var errStopped = errors.New("run stopped")

// Executor runs one round to a terminal state.
type Executor interface {
	Execute(ctx context.Context, r *domain.Round, m domain.Market) error
}

// Quotes supplies the mid price used for USD sizing.
type Quotes interface {
	Observe(market string) (domain.TickerSnapshot, bool)
}

// Reporter receives structured run events. A call may block until the event
// is queued; delivery to sinks happens off the round loop.
type Reporter interface {
	RunStarted(info domain.RunInfo)
	RoundFinished(r *domain.Round)
	RunFinished(stats domain.RunStats)
}

// HaltError ends a run early.
type HaltError struct {
	Round string
	Err   error
}

func (e *HaltError) Error() string { return fmt.Sprintf("run halted at round %s: %v", e.Round, e.Err) }
func (e *HaltError) Unwrap() error { return e.Err }

// Options configures a run.
type Options struct {
	Market          domain.Market
	Size            sizing.Request
	Mode            Mode
	TradingMode     string
	InterRoundDelay time.Duration
	Jitter          time.Duration
	HaltOnFailure   bool
	HaltOnImbalance bool
	// MaxMarginRatio stops opening new pairs once either account exceeds
	// it. Zero disables the guard.
	MaxMarginRatio decimal.Decimal
	Now            func() time.Time
}

// Controller sequences rounds for one account pair.
type Controller struct {
	exec     Executor
	gateways [2]domain.Gateway
	quotes   Quotes
	chooser  *direction.Chooser
	reporter Reporter
	opts     Options
	log      *slog.Logger

	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}

	runID string
	index int
	stats domain.RunStats
}

// New builds a controller. reporter may be nil.
func New(exec Executor, a1, a2 domain.Gateway, quotes Quotes, chooser *direction.Chooser, reporter Reporter, opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Mode == nil {
		opts.Mode = InstantClose{Rounds: 1}
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	if chooser == nil {
		chooser = direction.NewChooser(direction.Random, nil)
	}
	return &Controller{
		exec:     exec,
		gateways: [2]domain.Gateway{a1, a2},
		quotes:   quotes,
		chooser:  chooser,
		reporter: reporter,
		opts:     opts,
		log:      slog.With(slog.String("component", "runner")),
		stopCh:   make(chan struct{}),
	}
}

// Stop requests a cooperative stop. The round in progress finishes; no new
// round starts.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		close(c.stopCh)
		c.log.Info("🛑 Stop requested, finishing current round")
	})
}

// Stopped reports whether Stop has been called.
func (c *Controller) Stopped() bool { return c.stopped.Load() }

// Run executes the configured mode. The error is non-nil only when the run
// halted or the context ended; a cooperative stop returns nil.
func (c *Controller) Run(ctx context.Context) (domain.RunStats, error) {
	c.runID = uuid.NewString()
	c.log = c.log.With(slog.String("run", c.runID[:8]))
	now := quant.FromTime(c.opts.Now())
	c.stats = domain.RunStats{RunID: c.runID, Mode: c.opts.Mode.Name(), StartedAt: now}

	if c.opts.Mode.BuildRounds() > 0 {
		if p1, p2, err := c.positions(ctx); err == nil {
			if c.chooser.SeedFromPositions(p1, p2) {
				c.log.Info("Direction follows the existing hedge")
			}
		} else {
			c.log.Warn("Position read before run failed", slog.Any("err", err))
		}
	}

	info := domain.RunInfo{
		RunID:       c.runID,
		Mode:        c.opts.Mode.Name(),
		TradingMode: c.opts.TradingMode,
		Market:      c.opts.Market.Symbol,
		Rounds:      c.opts.Mode.BuildRounds(),
		StartedAt:   now,
	}
	if c.opts.Mode.BuildRounds() > 0 {
		info.Assignment = c.chooser.Assignment()
	}
	c.reporter.RunStarted(info)
	c.log.Info("🚀 Run started",
		slog.String("mode", info.Mode),
		slog.String("market", info.Market),
		slog.Int("rounds", info.Rounds),
		slog.String("assignment", info.Assignment.String()))

	err := c.opts.Mode.run(ctx, c)
	switch {
	case errors.Is(err, errStopped):
		err = nil
		c.stats.Stopped = true
		c.stats.Reason = "stopped by operator"
	case err != nil:
		c.stats.Halted = true
		c.stats.Reason = err.Error()
	}
	c.stats.FinishedAt = quant.FromTime(c.opts.Now())
	c.reporter.RunFinished(c.stats)

	c.log.Info("🏁 Run finished",
		slog.Int("rounds", c.stats.Rounds),
		slog.Int("completed", c.stats.Completed),
		slog.Int("imbalanced", c.stats.Imbalanced),
		slog.Int("failed", c.stats.Failed),
		slog.String("filled", c.stats.Filled.String()),
		slog.String("volume_usd", c.stats.Volume.StringFixed(2)),
		slog.Bool("halted", c.stats.Halted))
	return c.stats, err
}

// boundary is the only place a stop takes effect.
func (c *Controller) boundary(ctx context.Context, delay bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Stopped() {
		return errStopped
	}
	if !delay {
		return nil
	}
	d := c.opts.InterRoundDelay
	if c.opts.Jitter > 0 {
		d += rand.N(c.opts.Jitter)
	}
	return c.wait(ctx, d)
}

// wait sleeps between rounds, waking early on stop.
func (c *Controller) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopCh:
		return errStopped
	case <-t.C:
		return nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// execute runs one round and applies the halt policy to its outcome.
func (c *Controller) execute(ctx context.Context, r *domain.Round) error {
	if err := c.exec.Execute(ctx, r, c.opts.Market); err != nil && r.State == domain.StateIdle {
		r.Fail(err, quant.FromTime(c.opts.Now()))
	}
	c.finish(r)

	if err := ctx.Err(); err != nil {
		return err
	}
	switch {
	case r.ErrorKind.Halts():
		return &HaltError{Round: r.ID, Err: r.Err}
	case r.State == domain.StateFailed && c.opts.HaltOnFailure:
		return &HaltError{Round: r.ID, Err: r.Err}
	case r.State == domain.StateImbalance && c.opts.HaltOnImbalance:
		return &HaltError{Round: r.ID, Err: r.Err}
	}
	return nil
}

func (c *Controller) finish(r *domain.Round) {
	c.stats.Apply(r)
	c.reporter.RoundFinished(r)
}

func (c *Controller) newRound(kind domain.RoundKind, size quant.QtySats, a domain.Assignment) *domain.Round {
	c.index++
	id := fmt.Sprintf("%s-%03d", c.runID[:8], c.index)
	r := domain.NewRound(id, kind, c.opts.Market.Symbol, size, a, quant.FromTime(c.opts.Now()))
	r.RunID, r.Index = c.runID, c.index
	return r
}

// roundSize sizes an opening round from the operator's request.
func (c *Controller) roundSize() (quant.QtySats, error) {
	var mid quant.PriceMicros
	if c.opts.Size.Kind == sizing.KindUSD {
		snap, ok := c.quotes.Observe(c.opts.Market.Symbol)
		if !ok || !snap.Valid() {
			return 0, domain.Errorf(domain.KindMarketUnstable, "size round", "no quote for %s", c.opts.Market.Symbol)
		}
		mid = snap.Mid()
	}
	return sizing.Size(c.opts.Market, c.opts.Size, mid)
}

// open runs one OPEN round with the run's locked assignment.
func (c *Controller) open(ctx context.Context) (*domain.Round, error) {
	size, sizeErr := c.roundSize()
	r := c.newRound(domain.RoundOpen, size, c.chooser.Assignment())
	if sizeErr != nil {
		r.Fail(sizeErr, quant.FromTime(c.opts.Now()))
		c.finish(r)
		if c.opts.HaltOnFailure {
			return r, &HaltError{Round: r.ID, Err: sizeErr}
		}
		return r, nil
	}
	return r, c.execute(ctx, r)
}

func (c *Controller) build(ctx context.Context, rounds int) error {
	for i := 0; i < rounds; i++ {
		if err := c.boundary(ctx, i > 0); err != nil {
			return err
		}
		ok, err := c.marginOK(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if _, err := c.open(ctx); err != nil {
			return err
		}
	}
	return nil
}

// closeHedge closes up to want of the hedged pair in one CLOSE round.
func (c *Controller) closeHedge(ctx context.Context, want quant.QtySats) (*domain.Round, error) {
	p1, p2, err := c.positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	a, ok := direction.FromPositions(p1, p2)
	hedge := sizing.RoundDown(c.opts.Market, sizing.Hedgeable(p1, p2))
	if want > 0 {
		hedge = quant.MinQty(hedge, sizing.RoundDown(c.opts.Market, want))
	}
	if !ok || hedge < c.opts.Market.MinSize || hedge == 0 {
		c.log.Warn("Nothing hedgeable to close",
			slog.String("account1", p1.String()),
			slog.String("account2", p2.String()))
		return nil, nil
	}
	r := c.newRound(domain.RoundClose, hedge, a)
	return r, c.execute(ctx, r)
}

// closeAll closes the hedged pair round by round until nothing hedgeable
// remains or maxIter rounds have run.
func (c *Controller) closeAll(ctx context.Context, maxIter int) error {
	want := quant.QtySats(0)
	if c.opts.Size.Amount.IsPositive() {
		if size, err := c.roundSize(); err == nil {
			want = size
		}
	}
	for i := 0; i < maxIter; i++ {
		if err := c.boundary(ctx, i > 0); err != nil {
			return err
		}
		r, err := c.closeHedge(ctx, want)
		if err != nil {
			return err
		}
		if r == nil {
			return nil
		}
	}
	c.log.Warn("Close loop reached its iteration cap", slog.Int("cap", maxIter))
	return nil
}

// flattenResiduals closes each account's unhedged remainder on its own.
func (c *Controller) flattenResiduals(ctx context.Context) error {
	p1, p2, err := c.positions(ctx)
	if err != nil {
		return fmt.Errorf("read positions: %w", err)
	}
	hedged := sizing.Hedgeable(p1, p2)
	for i, pos := range []quant.QtySats{p1, p2} {
		id := c.gateways[i].Account()
		residual := sizing.RoundDown(c.opts.Market, pos.Abs()-hedged)
		if residual == 0 || residual < c.opts.Market.MinSize {
			if pos.Abs() > hedged {
				c.log.Warn("Residual below minimum size, left open",
					slog.String("account", string(id)),
					slog.String("residual", (pos.Abs()-hedged).String()))
			}
			continue
		}
		if err := c.boundary(ctx, c.index > 0); err != nil {
			return err
		}
		a := domain.Assignment{Long: id}
		if pos < 0 {
			a = domain.Assignment{Long: id.Other()}
		}
		r := c.newRound(domain.RoundFlatten, residual, a)
		r.FlattenAccount = id
		if err := c.execute(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// positions reads both accounts' signed position on the run's market.
func (c *Controller) positions(ctx context.Context) (p1, p2 quant.QtySats, err error) {
	var sizes [2]quant.QtySats
	g, gctx := errgroup.WithContext(ctx)
	for i, gw := range c.gateways {
		g.Go(func() error {
			ps, err := gw.GetPositions(gctx)
			if err != nil {
				return fmt.Errorf("%s: %w", gw.Account(), err)
			}
			for _, p := range ps {
				if p.Market == c.opts.Market.Symbol {
					sizes[i] += p.Size
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	return sizes[0], sizes[1], nil
}

// marginOK reports whether both accounts are below the margin ceiling.
func (c *Controller) marginOK(ctx context.Context) (bool, error) {
	if !c.opts.MaxMarginRatio.IsPositive() {
		return true, nil
	}
	var ratios [2]decimal.Decimal
	g, gctx := errgroup.WithContext(ctx)
	for i, gw := range c.gateways {
		g.Go(func() error {
			r, err := gw.MarginRatio(gctx)
			if err != nil {
				return fmt.Errorf("%s margin: %w", gw.Account(), err)
			}
			ratios[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if domain.KindOf(err) == domain.KindAuthExpired {
			return false, &HaltError{Round: "-", Err: err}
		}
		c.log.Warn("Margin read failed, not opening", slog.Any("err", err))
		return false, nil
	}
	for i, r := range ratios {
		if r.GreaterThan(c.opts.MaxMarginRatio) {
			c.log.Warn("⚠️ Margin ceiling reached, no further opens",
				slog.String("account", string(c.gateways[i].Account())),
				slog.String("ratio", r.StringFixed(4)),
				slog.String("max", c.opts.MaxMarginRatio.String()))
			return false, nil
		}
	}
	return true, nil
}

type nopReporter struct{}

func (nopReporter) RunStarted(domain.RunInfo)   {}
func (nopReporter) RoundFinished(*domain.Round) {}
func (nopReporter) RunFinished(domain.RunStats) {}
