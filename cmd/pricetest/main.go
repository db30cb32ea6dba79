package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/feed"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/gateway"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/gateway/grvt"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/infra"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/ticker"
)

// pricetest streams one market's top of book and prints the stability
// verdict the engine would reach at each tick.
func main() {
	defer infra.Recover()

	market := flag.String("market", "BTC_USDT_Perp", "Instrument to watch")
	duration := flag.Duration("duration", 30*time.Second, "How long to watch")
	every := flag.Duration("every", time.Second, "Print interval")
	flag.Parse()

	cfg := infra.DefaultConfig()
	if path := infra.ResolveConfigPath(); path != "" {
		if loaded, err := infra.LoadConfig(path); err == nil {
			cfg = loaded
		}
	}
	slog.SetDefault(infra.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	fmt.Printf("=== GRVT ticker stability check: %s ===\n", *market)
	fmt.Printf("    window %s, max deviation %d ppm\n\n", cfg.GateWindow(), cfg.Gate.MaxDeviationPPM)

	catalog := grvt.NewCatalog(grvt.NewClient(gateway.ClientConfig(cfg), nil, "pricetest"))
	if m, err := catalog.Market(ctx, *market); err == nil {
		fmt.Printf("📐 tick %s, min size %s, step %s\n\n", m.TickSize, m.MinSize, m.SizeStep)
	} else {
		fmt.Printf("⚠️  instrument lookup failed: %v\n\n", err)
	}

	cache := ticker.NewCache(cfg.Gate.BufferDepth)
	w := feed.NewTickerWorker(cfg.API.MarketWSURL, []string{*market}, cache)
	if err := w.Connect(ctx); err != nil {
		slog.Error("❌ ticker stream failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer w.Disconnect()

	gate := ticker.NewGate(cache, catalog, ticker.GateOptions{SampleDelay: cfg.SampleDelay(), Retries: cfg.Gate.Retries})
	t := time.NewTicker(*every)
	defer t.Stop()

	var stable, unstable int
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\n📊 %d updates received, verdicts: %d stable / %d unstable\n", w.Received(), stable, unstable)
			return
		case <-t.C:
		}

		snap, ok := cache.Observe(*market)
		if !ok {
			fmt.Println("   waiting for first update...")
			continue
		}
		a := gate.Check(ctx, *market, cfg.GateWindow(), cfg.Gate.MaxDeviationPPM)
		verdict := "✅ STABLE"
		if a.Stable {
			stable++
		} else {
			unstable++
			verdict = "❌ " + a.Reason
		}
		fmt.Printf("%s  bid %-14s ask %-14s spread %-10s dev %4dppm n=%d src=%-7s %s\n",
			time.Now().Format("15:04:05"), snap.Bid, snap.Ask, snap.Spread(), a.DeviationPPM, a.Samples, a.Source, verdict)
	}
}
