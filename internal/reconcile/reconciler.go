// Package reconcile neutralizes the net exposure a round leaves behind when
// its two legs fill different sizes.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/confirm"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

// HardCap bounds remediation attempts regardless of configuration.
const HardCap = 5

// Resolver settles an order whose placement reply was not final.
type Resolver interface {
	AwaitFinal(ctx context.Context, account domain.AccountID, status confirm.StatusReader, placed domain.OrderResult, timeout time.Duration) (domain.OrderResult, error)
}

// Options configures remediation.
type Options struct {
	Enabled        bool
	MaxAttempts    int
	Settle         time.Duration // pause between attempts
	// Resolver, when set, settles remediation replies that are not final
	// within ResolveTimeout. Without it the reply's fill is used.
	Resolver       Resolver
	ResolveTimeout time.Duration
	Now            func() time.Time
}

// Reconciler computes and remediates leg imbalances.
type Reconciler struct {
	gateways map[domain.AccountID]domain.Gateway
	opts     Options
}

// New creates a reconciler over both accounts.
func New(a, b domain.Gateway, opts Options) *Reconciler {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.MaxAttempts > HardCap {
		opts.MaxAttempts = HardCap
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{
		gateways: map[domain.AccountID]domain.Gateway{a.Account(): a, b.Account(): b},
		opts:     opts,
	}
}

// Reconcile inspects a round's fills. It returns nil when the legs net out;
// otherwise an event describing the exposure and its remediation. The error
// is RemediationFailed when exposure of at least the minimum size remains.
func (r *Reconciler) Reconcile(ctx context.Context, round *domain.Round, m domain.Market) (*domain.ImbalanceEvent, error) {
	excess := round.NetExcess()
	if excess == 0 {
		return nil, nil
	}

	ev := &domain.ImbalanceEvent{
		RoundID:    round.ID,
		Market:     round.Market,
		Excess:     excess,
		DetectedAt: quant.FromTime(r.opts.Now()),
		Remaining:  excess.Abs(),
	}
	if excess > 0 {
		ev.Account, ev.RemediationSide = round.Assignment.Long, domain.SideSell
	} else {
		ev.Account, ev.RemediationSide = round.Assignment.Short(), domain.SideBuy
	}

	log := slog.With(
		slog.String("round", round.ID),
		slog.String("account", string(ev.Account)),
		slog.String("excess", excess.String()))
	log.Warn("⚠️ Leg imbalance detected",
		slog.String("maker_filled", round.MakerFilled.String()),
		slog.String("taker_filled", round.TakerFilled.String()))

	switch {
	case excess.Abs() < m.MinSize:
		ev.Outcome, ev.Reason = domain.OutcomeSurfaced, "excess below minimum order size"
		return ev, nil
	case !r.opts.Enabled:
		ev.Outcome, ev.Reason = domain.OutcomeSurfaced, "auto-remediation disabled"
		return ev, nil
	}

	r.cancelAll(ctx, round.Market)

	gw := r.gateways[ev.Account]
	for ev.Attempts < r.opts.MaxAttempts && ev.Remaining >= m.MinSize {
		if ev.Attempts > 0 && r.opts.Settle > 0 {
			select {
			case <-ctx.Done():
				return r.fail(ev, ctx.Err())
			case <-time.After(r.opts.Settle):
			}
		}
		ev.Attempts++

		req := domain.OrderRequest{
			ClientOrderID: domain.NewClientOrderID(),
			Market:        round.Market,
			Side:          ev.RemediationSide,
			Size:          ev.Remaining,
			TimeInForce:   domain.TIFImmediateOrCancel,
			ReduceOnly:    true,
		}
		res, err := gw.PlaceOrder(ctx, req)
		if res.OrderID != "" {
			ev.OrderIDs = append(ev.OrderIDs, res.OrderID)
		}
		if err != nil {
			log.Warn("Remediation order failed", slog.Int("attempt", ev.Attempts), slog.Any("err", err))
			if domain.KindOf(err) == domain.KindAuthExpired {
				return r.fail(ev, err)
			}
			continue
		}
		if !res.Status.IsTerminal() && r.opts.Resolver != nil {
			final, ferr := r.opts.Resolver.AwaitFinal(ctx, ev.Account, gw, lookup(res, req), r.opts.ResolveTimeout)
			if ferr != nil {
				return r.fail(ev, fmt.Errorf("remediation order %s unresolved: %w", res.OrderID, ferr))
			}
			res = final
		}
		filled := quant.MinQty(res.FilledSize, ev.Remaining)
		ev.Closed += filled
		ev.Remaining -= filled
		log.Info("Remediation order filled",
			slog.Int("attempt", ev.Attempts),
			slog.String("filled", filled.String()),
			slog.String("remaining", ev.Remaining.String()))
	}

	switch {
	case ev.Remaining == 0:
		ev.Outcome = domain.OutcomeClosed
		log.Info("✅ Imbalance closed", slog.Int("attempts", ev.Attempts))
		return ev, nil
	case ev.Remaining < m.MinSize:
		ev.Outcome, ev.Reason = domain.OutcomeSurfaced, "residual below minimum order size"
		return ev, nil
	default:
		return r.fail(ev, fmt.Errorf("%s still open after %d attempts", ev.Remaining, ev.Attempts))
	}
}

func lookup(res domain.OrderResult, req domain.OrderRequest) domain.OrderResult {
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
	return res
}

func (r *Reconciler) fail(ev *domain.ImbalanceEvent, cause error) (*domain.ImbalanceEvent, error) {
	ev.Outcome = domain.OutcomeFailed
	ev.Reason = cause.Error()
	kind := domain.KindRemediationFailed
	if domain.KindOf(cause) == domain.KindAuthExpired {
		kind = domain.KindAuthExpired
	}
	slog.Error("🚨 Remediation failed",
		slog.String("round", ev.RoundID),
		slog.String("remaining", ev.Remaining.String()),
		slog.Any("err", cause))
	return ev, domain.NewError(kind, "remediate", cause)
}

// cancelAll clears resting orders on both accounts before remediating.
func (r *Reconciler) cancelAll(ctx context.Context, market string) {
	var errs []error
	for id, gw := range r.gateways {
		if err := gw.CancelAll(ctx, market); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("Cancel-all before remediation failed", slog.Any("err", err))
	}
}
