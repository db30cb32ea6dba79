package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

// cancelMaker removes any maker residual and verifies it left the book,
// falling back to cancel-all on the maker account. It reports whether the
// book was verified clean.
func (o *Orchestrator) cancelMaker(ctx context.Context, r *domain.Round, gw domain.Gateway) bool {
	if r.MakerOrderID == "" {
		return true
	}
	cctx, cancel := o.cleanupCtx(ctx)
	defer cancel()

	log := slog.With(slog.String("round", r.ID), slog.String("order", r.MakerOrderID))
	for attempt := 1; attempt <= o.opts.CancelRetries; attempt++ {
		if _, err := gw.CancelOrder(cctx, r.Market, r.MakerOrderID); err != nil {
			log.Warn("Maker cancel failed", slog.Int("attempt", attempt), slog.Any("err", err))
		}
		if !sleepCtx(cctx, o.opts.CancelVerifyDelay) {
			break
		}
		open, err := gw.OpenOrders(cctx, r.Market)
		if err != nil {
			log.Warn("Open-orders check failed", slog.Int("attempt", attempt), slog.Any("err", err))
			continue
		}
		if !contains(open, r.MakerOrderID) {
			return true
		}
	}

	log.Error("Maker still open after cancel retries, cancelling all orders",
		slog.String("account", string(gw.Account())))
	if err := gw.CancelAll(cctx, r.Market); err != nil {
		log.Error("🚨 Cancel-all failed, order may be resting unmanaged", slog.Any("err", err))
		return false
	}
	open, err := gw.OpenOrders(cctx, r.Market)
	return err == nil && !contains(open, r.MakerOrderID)
}

// makerFill reads the maker's final filled size. An unreadable status is
// taken as a full fill, the reading under which a short taker fill is
// treated as exposure to close.
func (o *Orchestrator) makerFill(ctx context.Context, r *domain.Round, gw domain.Gateway) quant.QtySats {
	cctx, cancel := o.cleanupCtx(ctx)
	defer cancel()
	res, err := gw.GetOrderStatus(cctx, r.Market, r.MakerOrderID)
	if err != nil {
		slog.Warn("Maker status unreadable, assuming full fill",
			slog.String("round", r.ID), slog.Any("err", err))
		return r.ExpectedFill
	}
	return quant.MinQty(res.FilledSize, r.ExpectedFill)
}

func contains(orders []domain.OrderResult, orderID string) bool {
	for _, o := range orders {
		if o.Matches(orderID, "") {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
