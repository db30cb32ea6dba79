// Package orchestrator sequences one maker/taker round across the two
// accounts: stability gate, post-only maker, confirmation, IOC taker, fill
// check and cleanup.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/confirm"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/ticker"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

// Gate answers whether a market is quiet enough to trade.
type Gate interface {
	Check(ctx context.Context, market string, window time.Duration, maxDeviationPPM int64) ticker.Assessment
}

// Quotes reads the latest cached top of book.
type Quotes interface {
	Observe(market string) (domain.TickerSnapshot, bool)
}

// Confirmer resolves order state from the order stream, polling when the
// stream is silent.
type Confirmer interface {
	// AwaitResting waits until a placed maker order is resting on the book.
	AwaitResting(ctx context.Context, account domain.AccountID, status confirm.StatusReader, placed domain.OrderResult, timeout time.Duration) (domain.OrderResult, error)
	// AwaitFinal waits until an order is FILLED, CANCELLED or REJECTED.
	AwaitFinal(ctx context.Context, account domain.AccountID, status confirm.StatusReader, placed domain.OrderResult, timeout time.Duration) (domain.OrderResult, error)
}

// Reconciler neutralizes the exposure of a round whose legs diverged.
type Reconciler interface {
	Reconcile(ctx context.Context, round *domain.Round, m domain.Market) (*domain.ImbalanceEvent, error)
}

// Options tunes a round.
type Options struct {
	Window            time.Duration
	MaxDeviationPPM   int64
	ConfirmTimeout    time.Duration
	MakerRetries      int
	CancelRetries     int
	CancelVerifyDelay time.Duration
	CleanupTimeout    time.Duration
	InsideSpread      bool
	Now               func() time.Time
}

func (o *Options) defaults() {
	if o.Window <= 0 {
		o.Window = 2 * time.Second
	}
	if o.MaxDeviationPPM <= 0 {
		o.MaxDeviationPPM = 200
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = 5 * time.Second
	}
	if o.MakerRetries < 0 {
		o.MakerRetries = 0
	}
	if o.CancelRetries <= 0 {
		o.CancelRetries = 3
	}
	if o.CancelVerifyDelay < 0 {
		o.CancelVerifyDelay = 0
	}
	if o.CleanupTimeout <= 0 {
		o.CleanupTimeout = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Orchestrator executes rounds for one account pair, one at a time.
type Orchestrator struct {
	gateways   map[domain.AccountID]domain.Gateway
	gate       Gate
	quotes     Quotes
	confirmer  Confirmer
	reconciler Reconciler
	opts       Options

	inFlight sync.Mutex
}

// New wires an orchestrator over the two account gateways.
func New(a, b domain.Gateway, gate Gate, quotes Quotes, confirmer Confirmer, reconciler Reconciler, opts Options) *Orchestrator {
	opts.defaults()
	return &Orchestrator{
		gateways:   map[domain.AccountID]domain.Gateway{a.Account(): a, b.Account(): b},
		gate:       gate,
		quotes:     quotes,
		confirmer:  confirmer,
		reconciler: reconciler,
		opts:       opts,
	}
}

// Execute drives r from IDLE to a terminal state. The returned error is the
// round's classified outcome: nil for COMPLETE, LegImbalance (or the
// remediation failure) for IMBALANCE, the failure cause for FAILED.
// A second concurrent call fails with ErrRoundInFlight and leaves r untouched.
func (o *Orchestrator) Execute(ctx context.Context, r *domain.Round, m domain.Market) error {
	if !o.inFlight.TryLock() {
		return domain.ErrRoundInFlight
	}
	defer o.inFlight.Unlock()

	if r.State != domain.StateIdle {
		return fmt.Errorf("round %s is %s, not IDLE", r.ID, r.State)
	}
	if r.Kind == domain.RoundFlatten {
		return o.flatten(ctx, r, m)
	}
	return o.pair(ctx, r, m)
}

func (o *Orchestrator) ts() quant.TimeStamp { return quant.FromTime(o.opts.Now()) }

func (o *Orchestrator) fail(r *domain.Round, err error) error {
	r.Fail(err, o.ts())
	slog.Warn("❌ Round failed",
		slog.String("round", r.ID),
		slog.String("at", string(r.FailedAt())),
		slog.String("kind", r.ErrorKind.String()),
		slog.Any("err", err))
	return err
}

// cleanupCtx outlives a cancelled run context so resting orders are never
// abandoned.
func (o *Orchestrator) cleanupCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.opts.CleanupTimeout)
}

// stabilityCheck enters STABILITY_CHECK and returns the snapshot the gate
// judged on.
func (o *Orchestrator) stabilityCheck(ctx context.Context, r *domain.Round, m domain.Market) (domain.TickerSnapshot, error) {
	r.Advance(domain.StateStabilityCheck, o.ts())
	if r.RequestedSize < m.MinSize || r.RequestedSize <= 0 {
		return domain.TickerSnapshot{}, domain.Errorf(domain.KindSizeTooSmall, "round size",
			"%s below minimum %s", r.RequestedSize, m.MinSize)
	}
	a := o.gate.Check(ctx, r.Market, o.opts.Window, o.opts.MaxDeviationPPM)
	if err := a.Err(r.Market); err != nil {
		return domain.TickerSnapshot{}, err
	}
	r.Mid = a.Latest.Mid()
	return a.Latest, nil
}

func (o *Orchestrator) pair(ctx context.Context, r *domain.Round, m domain.Market) error {
	log := slog.With(slog.String("round", r.ID), slog.String("kind", string(r.Kind)))

	snap, err := o.stabilityCheck(ctx, r, m)
	if err != nil {
		return o.fail(r, err)
	}

	makerAcct, takerAcct := r.Assignment.MakerAccount(), r.Assignment.TakerAccount()
	maker, taker := o.gateways[makerAcct], o.gateways[takerAcct]
	base := o.snapshot(ctx, r.Market)

	placed, err := o.placeMaker(ctx, r, m, maker, snap)
	if err != nil {
		return o.fail(r, err)
	}
	r.MakerOrderID = placed.OrderID
	r.MakerPrice = placed.Price
	r.ExpectedFill = r.RequestedSize
	r.Advance(domain.StateMakerPlaced, o.ts())
	log.Info("Maker placed",
		slog.String("account", string(makerAcct)),
		slog.String("side", string(placed.Side)),
		slog.String("price", placed.Price.String()),
		slog.String("size", r.ExpectedFill.String()),
		slog.String("order", placed.OrderID))

	if _, err := o.confirmer.AwaitResting(ctx, makerAcct, maker, placed, o.opts.ConfirmTimeout); err != nil {
		return o.unconfirmed(ctx, r, m, maker, base, err)
	}
	r.Advance(domain.StateMakerConfirmed, o.ts())

	r.Advance(domain.StateTakerSent, o.ts())
	req := domain.OrderRequest{
		ClientOrderID: domain.NewClientOrderID(),
		Market:        r.Market,
		Side:          r.TakerSide(),
		Size:          r.ExpectedFill,
		Price:         r.MakerPrice,
		TimeInForce:   domain.TIFImmediateOrCancel,
		ReduceOnly:    r.ReduceOnly(),
	}
	takerRes, placeErr := taker.PlaceOrder(ctx, req)
	resolved, ok := o.resolveTaker(ctx, r, taker, req, takerRes, placeErr, base)
	if !ok {
		return o.unverified(ctx, r, maker, placeErr)
	}
	r.TakerOrderID = resolved.OrderID
	r.TakerFilled = resolved.FilledSize
	if placeErr != nil {
		if r.TakerFilled == 0 {
			return o.takerFailed(ctx, r, m, maker, placeErr)
		}
		log.Warn("Taker reported an error but traded",
			slog.String("filled", r.TakerFilled.String()),
			slog.Any("err", placeErr))
	}

	r.Advance(domain.StateFillCheck, o.ts())
	o.cancelMaker(ctx, r, maker)
	r.MakerFilled = o.makerFill(ctx, r, maker)

	log.Info("Fill check",
		slog.String("expected", r.ExpectedFill.String()),
		slog.String("maker_filled", r.MakerFilled.String()),
		slog.String("taker_filled", r.TakerFilled.String()))

	if !o.imbalanced(r, m) {
		r.Advance(domain.StateComplete, o.ts())
		log.Info("✅ Round complete", slog.String("hedged", r.HedgedSize().String()))
		return nil
	}
	return o.imbalance(ctx, r, m)
}

// imbalanced applies the fill tolerance to the taker leg and to the net
// exposure, which also catches a taker filled by outside liquidity while
// the maker rested untouched.
func (o *Orchestrator) imbalanced(r *domain.Round, m domain.Market) bool {
	dev := (r.TakerFilled - r.ExpectedFill).Abs()
	return dev > m.MinSize || r.NetExcess().Abs() > m.MinSize
}

func (o *Orchestrator) imbalance(ctx context.Context, r *domain.Round, m domain.Market) error {
	cctx, cancel := o.cleanupCtx(ctx)
	defer cancel()

	ev, recErr := o.reconciler.Reconcile(cctx, r, m)
	err := recErr
	if err == nil {
		err = domain.Errorf(domain.KindLegImbalance, "fill check",
			"expected %s, maker filled %s, taker filled %s", r.ExpectedFill, r.MakerFilled, r.TakerFilled)
	}
	r.MarkImbalance(ev, err, o.ts())
	slog.Warn("⚠️ Round imbalance",
		slog.String("round", r.ID),
		slog.String("outcome", outcome(ev)),
		slog.Any("err", err))
	return err
}

func outcome(ev *domain.ImbalanceEvent) string {
	if ev == nil {
		return "none"
	}
	return string(ev.Outcome)
}

// takerFailed cancels the maker and, when the maker already traded, hands
// the one-sided exposure to the reconciler before failing the round.
func (o *Orchestrator) takerFailed(ctx context.Context, r *domain.Round, m domain.Market, maker domain.Gateway, cause error) error {
	if domain.KindOf(cause) != domain.KindAuthExpired {
		cause = domain.NewError(domain.KindTakerFailed, "place taker", cause)
	}
	o.cancelMaker(ctx, r, maker)
	r.MakerFilled = o.makerFill(ctx, r, maker)
	return o.failWithExposure(ctx, r, m, cause)
}

// unconfirmed cancels a maker that never confirmed and reconciles whatever
// it traded while unconfirmed.
func (o *Orchestrator) unconfirmed(ctx context.Context, r *domain.Round, m domain.Market, maker domain.Gateway, base baseline, cause error) error {
	o.cancelMaker(ctx, r, maker)
	filled, ok := o.verifiedMakerFill(ctx, r, maker, base)
	if !ok {
		return o.fail(r, domain.NewError(domain.KindRemediationFailed, "verify maker",
			fmt.Errorf("maker %s fill unreadable after %w", r.MakerOrderID, cause)))
	}
	r.MakerFilled = filled
	return o.failWithExposure(ctx, r, m, cause)
}

// failWithExposure fails the round with cause after reconciling any maker
// fill that has no taker counterpart.
func (o *Orchestrator) failWithExposure(ctx context.Context, r *domain.Round, m domain.Market, cause error) error {
	if r.MakerFilled == 0 && r.TakerFilled == 0 {
		return o.fail(r, cause)
	}
	cctx, cancel := o.cleanupCtx(ctx)
	defer cancel()
	ev, recErr := o.reconciler.Reconcile(cctx, r, m)
	r.Imbalance = ev != nil
	r.Event = ev
	if recErr != nil && recErr != cause {
		// a remediation failure outranks the leg error
		cause = recErr
	}
	return o.fail(r, cause)
}

// placeMaker submits the post-only leg, refreshing the price after each
// post-only rejection.
func (o *Orchestrator) placeMaker(ctx context.Context, r *domain.Round, m domain.Market, gw domain.Gateway, snap domain.TickerSnapshot) (domain.OrderResult, error) {
	var lastErr error
	for attempt := 0; attempt <= o.opts.MakerRetries; attempt++ {
		if attempt > 0 {
			if fresh, ok := o.quotes.Observe(r.Market); ok {
				snap = fresh
			}
		}
		price, err := MakerPrice(m, snap, r.MakerSide(), o.opts.InsideSpread)
		if err != nil {
			return domain.OrderResult{}, err
		}
		req := domain.OrderRequest{
			ClientOrderID: domain.NewClientOrderID(),
			Market:        r.Market,
			Side:          r.MakerSide(),
			Size:          r.RequestedSize,
			Price:         price,
			TimeInForce:   domain.TIFGoodTillTime,
			PostOnly:      true,
			ReduceOnly:    r.ReduceOnly(),
		}
		res, err := gw.PlaceOrder(ctx, req)
		if err == nil {
			return withRequest(res, req), nil
		}
		lastErr = err
		switch domain.KindOf(err) {
		case domain.KindOrderRejected, domain.KindTransient:
			slog.Info("Maker placement retry",
				slog.String("round", r.ID),
				slog.Int("attempt", attempt+1),
				slog.String("price", price.String()),
				slog.Any("err", err))
		default:
			return domain.OrderResult{}, err
		}
	}
	if domain.KindOf(lastErr) == domain.KindUnknown {
		return domain.OrderResult{}, domain.NewError(domain.KindOrderRejected, "place maker", lastErr)
	}
	return domain.OrderResult{}, lastErr
}

// withRequest fills fields a gateway may leave empty so the confirmation
// matcher can fall back to leg fields.
func withRequest(res domain.OrderResult, req domain.OrderRequest) domain.OrderResult {
	if res.ClientOrderID == "" {
		res.ClientOrderID = req.ClientOrderID
	}
	if res.Market == "" {
		res.Market = req.Market
	}
	if res.Side == "" {
		res.Side = req.Side
	}
	if res.RequestedSize == 0 {
		res.RequestedSize = req.Size
	}
	if res.Price == 0 {
		res.Price = req.Price
	}
	return res
}

// MakerPrice quotes the resting leg at the touch on its own side: best bid for
// a buy, best ask for a sell. With insideSpread and a spread of at least two
// ticks the buy moves to one tick below the ask and the sell to one tick above
// the bid. The result never crosses the opposite touch.
func MakerPrice(m domain.Market, snap domain.TickerSnapshot, side domain.Side, insideSpread bool) (quant.PriceMicros, error) {
	if snap.Bid <= 0 || snap.Ask <= 0 || snap.Ask <= snap.Bid {
		return 0, domain.Errorf(domain.KindMarketUnstable, "maker price",
			"%s: no usable quote (bid %s ask %s)", m.Symbol, snap.Bid, snap.Ask)
	}
	wide := insideSpread && snap.Ask-snap.Bid >= 2*m.TickSize
	var p quant.PriceMicros
	if side == domain.SideBuy {
		p = snap.Bid
		if wide {
			p = snap.Ask - m.TickSize
		}
		p = m.AlignPrice(p)
		if p >= snap.Ask {
			p = m.AlignPrice(snap.Bid)
		}
	} else {
		p = snap.Ask
		if wide {
			p = snap.Bid + m.TickSize
		}
		if aligned := m.AlignPrice(p); aligned != p {
			p = aligned + m.TickSize
		}
		if p <= snap.Bid {
			p = snap.Ask
		}
	}
	if p <= 0 {
		return 0, domain.Errorf(domain.KindMarketUnstable, "maker price", "%s: non-positive price", m.Symbol)
	}
	return p, nil
}
