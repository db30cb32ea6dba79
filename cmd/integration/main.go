package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/app"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/gateway"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/gateway/grvt"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/infra"
)

// integration checks that both configured accounts authenticate and can
// read positions, margin and open orders. With --place it also posts a
// far-from-market post-only order on each account and cancels it.
func main() {
	defer infra.Recover()

	configPath := flag.String("config", "", "Path to config.yaml")
	market := flag.String("market", "BTC_USDT_Perp", "Instrument used for the order round trip")
	place := flag.Bool("place", false, "Place and cancel a post-only order on each account")
	confirm := flag.Bool("confirm", false, "Confirm REAL trading")
	flag.Parse()

	boot := app.NewBootstrap()
	if err := boot.LoadConfig(*configPath); err != nil {
		slog.Error("❌ Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := boot.Config
	if cfg.Trading.Mode == infra.ModePaper {
		slog.Error("❌ Integration check needs TESTNET or REAL mode (set GRVT_MODE)")
		os.Exit(2)
	}
	slog.Info("🚀 Starting GRVT integration check...", slog.String("mode", cfg.Trading.Mode))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	catalog := grvt.NewCatalog(grvt.NewClient(gateway.ClientConfig(cfg), nil, "integration"))
	m, err := catalog.Market(ctx, *market)
	if err != nil {
		slog.Error("❌ Instrument lookup failed", slog.Any("error", err))
		os.Exit(1)
	}
	snap, err := catalog.SampleTicker(ctx, m.Symbol)
	if err != nil {
		slog.Error("❌ Ticker read failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("✅ Market data reachable", slog.String("bid", snap.Bid.String()), slog.String("ask", snap.Ask.String()))

	pair, err := gateway.NewFactory(cfg, *confirm).Build(catalog, nil, nil)
	if err != nil {
		slog.Error("❌ Gateway setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	failed := false
	for _, id := range []domain.AccountID{domain.Account1, domain.Account2} {
		if err := check(ctx, pair.Get(id), m, snap, *place); err != nil {
			slog.Error("❌ Account check failed", slog.String("account", string(id)), slog.Any("error", err))
			failed = true
			continue
		}
		slog.Info("✅ Account OK", slog.String("account", string(id)))
	}
	if failed {
		os.Exit(1)
	}
	slog.Info("🎉 Integration check passed!")
}

func check(ctx context.Context, gw domain.Gateway, m domain.Market, snap domain.TickerSnapshot, place bool) error {
	positions, err := gw.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("positions: %w", err)
	}
	for _, p := range positions {
		slog.Info("   position", slog.String("market", p.Market), slog.String("size", p.Size.String()))
	}
	ratio, err := gw.MarginRatio(ctx)
	if err != nil {
		return fmt.Errorf("margin: %w", err)
	}
	open, err := gw.OpenOrders(ctx, m.Symbol)
	if err != nil {
		return fmt.Errorf("open orders: %w", err)
	}
	slog.Info("   account state", slog.String("margin_ratio", ratio.String()), slog.Int("open_orders", len(open)))
	if !place {
		return nil
	}

	// Half the bid: a post-only buy there can never fill.
	price := m.AlignPrice(snap.Bid / 2)
	req := domain.OrderRequest{
		ClientOrderID: domain.NewClientOrderID(),
		Market:        m.Symbol,
		Side:          domain.SideBuy,
		Size:          m.EffectiveStep(),
		Price:         price,
		TimeInForce:   domain.TIFGoodTillTime,
		PostOnly:      true,
	}
	slog.Info("   placing probe order", slog.String("price", price.String()), slog.String("size", req.Size.String()))
	res, err := gw.PlaceOrder(ctx, req)
	if err != nil {
		return fmt.Errorf("place: %w", err)
	}
	time.Sleep(time.Second)
	if _, err := gw.CancelOrder(ctx, m.Symbol, res.OrderID); err != nil {
		_ = gw.CancelAll(ctx, m.Symbol)
		return fmt.Errorf("cancel %s: %w", res.OrderID, err)
	}
	slog.Info("   probe order cancelled", slog.String("order_id", res.OrderID))
	return nil
}
