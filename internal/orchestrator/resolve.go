package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

// baseline holds each account's signed position in the round's market
// before any leg was sent. Accounts whose positions could not be read are
// absent.
type baseline map[domain.AccountID]quant.QtySats

func (o *Orchestrator) snapshot(ctx context.Context, market string) baseline {
	b := make(baseline, len(o.gateways))
	for id, gw := range o.gateways {
		pos, err := gw.GetPositions(ctx)
		if err != nil {
			slog.Debug("Position baseline unavailable", slog.String("account", string(id)), slog.Any("err", err))
			continue
		}
		b[id] = domain.PositionIn(pos, market)
	}
	return b
}

// traded returns how much account bought (side BUY) or sold (side SELL)
// since the baseline, capped at limit.
func (o *Orchestrator) traded(ctx context.Context, b baseline, account domain.AccountID, market string, side domain.Side, limit quant.QtySats) (quant.QtySats, bool) {
	before, ok := b[account]
	if !ok {
		return 0, false
	}
	pos, err := o.gateways[account].GetPositions(ctx)
	if err != nil {
		slog.Warn("Position read failed", slog.String("account", string(account)), slog.Any("err", err))
		return 0, false
	}
	moved := (domain.PositionIn(pos, market) - before) * quant.QtySats(side.Sign())
	if moved < 0 {
		moved = 0
	}
	return quant.MinQty(moved, limit), true
}

// definitive reports whether a placement error proves the order never
// reached the book.
func definitive(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindOrderRejected, domain.KindAuthExpired:
		return true
	}
	return false
}

// resolveTaker settles what the IOC taker actually traded. A terminal reply
// is taken as is. A non-terminal reply or an ambiguous error is resolved
// through the order stream or order status, then through the taker
// account's position change. ok is false when nothing could be verified.
func (o *Orchestrator) resolveTaker(ctx context.Context, r *domain.Round, gw domain.Gateway, req domain.OrderRequest, res domain.OrderResult, placeErr error, base baseline) (domain.OrderResult, bool) {
	switch {
	case placeErr == nil && res.Status.IsTerminal():
		res.FilledSize = quant.MinQty(res.FilledSize, req.Size)
		return res, true
	case placeErr != nil && definitive(placeErr):
		return domain.OrderResult{OrderID: res.OrderID}, true
	}

	cctx, cancel := o.cleanupCtx(ctx)
	defer cancel()
	log := slog.With(slog.String("round", r.ID), slog.String("client_order", req.ClientOrderID))
	if placeErr != nil {
		log.Warn("Taker outcome ambiguous, looking it up", slog.Any("err", placeErr))
	} else {
		log.Info("Taker reply not final, awaiting fill", slog.String("status", string(res.Status)))
	}

	lookup := withRequest(res, req)
	final, err := o.confirmer.AwaitFinal(cctx, gw.Account(), gw, lookup, o.opts.ConfirmTimeout)
	if err == nil {
		final.FilledSize = quant.MinQty(final.FilledSize, req.Size)
		if final.OrderID == "" {
			final.OrderID = res.OrderID
		}
		return final, true
	}
	filled, ok := o.traded(cctx, base, gw.Account(), req.Market, req.Side, req.Size)
	if !ok {
		log.Error("🚨 Taker outcome unverified", slog.Any("lookup_err", err))
		return domain.OrderResult{}, false
	}
	log.Info("Taker fill taken from position change", slog.String("filled", filled.String()))
	return domain.OrderResult{OrderID: res.OrderID, FilledSize: filled}, true
}

// verifiedMakerFill reads the maker's filled size from its order status,
// falling back to the maker account's position change.
func (o *Orchestrator) verifiedMakerFill(ctx context.Context, r *domain.Round, gw domain.Gateway, base baseline) (quant.QtySats, bool) {
	cctx, cancel := o.cleanupCtx(ctx)
	defer cancel()
	if r.MakerOrderID != "" {
		res, err := gw.GetOrderStatus(cctx, r.Market, r.MakerOrderID)
		if err == nil {
			return quant.MinQty(res.FilledSize, r.ExpectedFill), true
		}
		slog.Warn("Maker status unreadable", slog.String("round", r.ID), slog.Any("err", err))
	}
	return o.traded(cctx, base, gw.Account(), r.Market, r.MakerSide(), r.ExpectedFill)
}

// unverified fails a round whose taker outcome could not be established.
// The maker is pulled but nothing is reconciled against an unknown taker
// fill; the RemediationFailed kind halts the run.
func (o *Orchestrator) unverified(ctx context.Context, r *domain.Round, maker domain.Gateway, cause error) error {
	o.cancelMaker(ctx, r, maker)
	r.MakerFilled = o.makerFill(ctx, r, maker)
	if cause == nil {
		cause = errors.New("taker reply not final")
	}
	return o.fail(r, domain.NewError(domain.KindRemediationFailed, "verify taker",
		fmt.Errorf("taker outcome unknown, exposure not reconciled: %w", cause)))
}
