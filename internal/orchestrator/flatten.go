package orchestrator

import (
	"context"
	"log/slog"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

// flatten closes one account's unhedged residual with a reduce-only IOC
// market order. It skips the maker states.
func (o *Orchestrator) flatten(ctx context.Context, r *domain.Round, m domain.Market) error {
	if _, err := o.stabilityCheck(ctx, r, m); err != nil {
		return o.fail(r, err)
	}
	gw, ok := o.gateways[r.FlattenAccount]
	if !ok {
		return o.fail(r, domain.Errorf(domain.KindOrderRejected, "flatten", "unknown account %q", r.FlattenAccount))
	}

	r.ExpectedFill = r.RequestedSize
	base := o.snapshot(ctx, r.Market)
	r.Advance(domain.StateTakerSent, o.ts())
	req := domain.OrderRequest{
		ClientOrderID: domain.NewClientOrderID(),
		Market:        r.Market,
		Side:          r.TakerSide(),
		Size:          r.RequestedSize,
		TimeInForce:   domain.TIFImmediateOrCancel,
		ReduceOnly:    true,
	}
	placed, err := gw.PlaceOrder(ctx, req)
	res, ok := o.resolveTaker(ctx, r, gw, req, placed, err, base)
	if err != nil && (!ok || res.FilledSize == 0) {
		if domain.KindOf(err) != domain.KindAuthExpired {
			err = domain.NewError(domain.KindTakerFailed, "flatten", err)
		}
		return o.fail(r, err)
	}
	if !ok {
		return o.fail(r, domain.Errorf(domain.KindTakerFailed, "flatten", "order %s not final, fill unknown", placed.OrderID))
	}
	r.TakerOrderID = res.OrderID
	r.TakerFilled = res.FilledSize

	r.Advance(domain.StateFillCheck, o.ts())
	remaining := r.ExpectedFill - quant.MinQty(r.TakerFilled, r.ExpectedFill)
	if remaining <= m.MinSize {
		r.Advance(domain.StateComplete, o.ts())
		slog.Info("✅ Residual flattened",
			slog.String("round", r.ID),
			slog.String("account", string(r.FlattenAccount)),
			slog.String("filled", r.TakerFilled.String()))
		return nil
	}

	excess := remaining
	if r.TakerSide() == domain.SideBuy {
		excess = -remaining
	}
	ev := &domain.ImbalanceEvent{
		RoundID:         r.ID,
		Market:          r.Market,
		Account:         r.FlattenAccount,
		Excess:          excess,
		RemediationSide: r.TakerSide(),
		DetectedAt:      o.ts(),
		Outcome:         domain.OutcomeSurfaced,
		Attempts:        1,
		Closed:          r.TakerFilled,
		Remaining:       remaining,
		OrderIDs:        []string{res.OrderID},
		Reason:          "flatten order partially filled",
	}
	err = domain.Errorf(domain.KindLegImbalance, "flatten", "%s of %s still open on %s", remaining, r.ExpectedFill, r.FlattenAccount)
	r.MarkImbalance(ev, err, o.ts())
	slog.Warn("⚠️ Residual not fully flattened", slog.String("round", r.ID), slog.Any("err", err))
	return err
}
