package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/app"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/confirm"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/direction"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/engine"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/feed"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/gateway"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/gateway/grvt"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/infra"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/journal"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/metrics"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/notify"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/orchestrator"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/reconcile"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/runner"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/sizing"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/ticker"
)

type cliFlags struct {
	config      string
	market      string
	size        string
	notionalUSD string
	direction   string
	mode        string
	rounds      int
	delay       float64
	hold        float64
	closeDelay  float64
	maxMargin   string
	confirm     bool
	logPath     string
	paper       bool
	syncMarkets bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.config, "config", "", "Path to config.yaml (default: ./configs/config.yaml)")
	flag.StringVar(&f.market, "market", "", "Instrument, e.g. BTC_USDT_Perp")
	flag.StringVar(&f.size, "size", "", "Order size in contracts")
	flag.StringVar(&f.notionalUSD, "notional-usd", "", "Order size as USD notional (overrides --size)")
	flag.StringVar(&f.direction, "direction", "", "random | account1_long | account1_short")
	flag.StringVar(&f.mode, "mode", "", "instant | build_hold_close | build_hold | close_existing")
	flag.IntVar(&f.rounds, "rounds", -1, "Number of rounds (pairs)")
	flag.Float64Var(&f.delay, "delay", -1, "Seconds between rounds")
	flag.Float64Var(&f.hold, "hold", -1, "Seconds to hold built positions before closing")
	flag.Float64Var(&f.closeDelay, "close-delay", -1, "Seconds between open and close in instant mode")
	flag.StringVar(&f.maxMargin, "max-margin", "", "Stop opening once either account's margin ratio exceeds this")
	flag.BoolVar(&f.confirm, "confirm", false, "Confirm REAL trading")
	flag.StringVar(&f.logPath, "log", "", "Append run events to this JSONL file")
	flag.BoolVar(&f.paper, "paper", false, "Trade against the in-process paper venue")
	flag.BoolVar(&f.syncMarkets, "sync-markets", false, "Refresh the cached instrument catalog before the run")
	flag.Parse()
	return f
}

// apply overrides config values with the flags that were set.
func (f cliFlags) apply(cfg *infra.Config) {
	if f.paper {
		cfg.Trading.Mode = infra.ModePaper
	}
	if f.market != "" {
		cfg.Trading.Market = f.market
	}
	if f.size != "" {
		cfg.Trading.Size, cfg.Trading.SizeKind = f.size, "contracts"
	}
	if f.notionalUSD != "" {
		cfg.Trading.Size, cfg.Trading.SizeKind = f.notionalUSD, "usd"
	}
	if f.direction != "" {
		cfg.Trading.Direction = f.direction
	}
	if f.mode != "" {
		cfg.Run.Mode = f.mode
	}
	if f.rounds >= 0 {
		cfg.Run.Rounds = f.rounds
	}
	if f.delay >= 0 {
		cfg.Run.InterRoundDelayMS = int(f.delay * 1000)
	}
	if f.hold >= 0 {
		cfg.Run.HoldSec = int(f.hold)
	}
	if f.closeDelay >= 0 {
		cfg.Run.CloseDelayMS = int(f.closeDelay * 1000)
	}
	if f.maxMargin != "" {
		cfg.Run.MaxMarginRatio = f.maxMargin
	}
	if f.logPath != "" {
		cfg.Storage.RunLogPath = f.logPath
	}
}

func main() {
	defer infra.Recover()
	os.Exit(run())
}

func run() int {
	flags := parseFlags()

	boot := app.NewBootstrap()
	if err := boot.LoadConfig(flags.config); err != nil {
		slog.Error("❌ Config load failed", slog.Any("error", err))
		return 1
	}
	cfg := boot.Config
	flags.apply(cfg)
	if cfg.Trading.Market == "" {
		slog.Error("❌ No market configured (use --market)")
		return 2
	}
	if err := boot.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		return 1
	}
	defer boot.Close()

	mode, err := runner.ParseMode(cfg.Run.Mode, cfg.Run.Rounds, cfg.Hold(), cfg.CloseDelay())
	if err != nil {
		slog.Error("❌ Invalid run mode", slog.Any("error", err))
		return 2
	}
	size, err := sizeRequest(cfg)
	if err != nil {
		slog.Error("❌ Invalid size", slog.Any("error", err))
		return 2
	}
	policy, err := direction.ParsePolicy(cfg.Trading.Direction)
	if err != nil {
		slog.Error("❌ Invalid direction", slog.Any("error", err))
		return 2
	}

	infra.PrintBanner(os.Stdout, cfg, mode.Name())

	// First signal stops between rounds, the second aborts.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// Market data
	marketClient := grvt.NewClient(gateway.ClientConfig(cfg), nil, "market-data")
	catalog := grvt.NewCatalog(marketClient)
	if flags.syncMarkets {
		if err := boot.SyncMarkets(ctx, catalog); err != nil {
			slog.Warn("Catalog sync failed", slog.Any("error", err))
		}
	}
	market, err := boot.ResolveMarket(ctx, catalog, cfg.Trading.Market)
	if err != nil {
		slog.Error("❌ Market unavailable", slog.String("market", cfg.Trading.Market), slog.Any("error", err))
		return 1
	}
	slog.Info("✅ Market loaded",
		slog.String("market", market.Symbol),
		slog.String("tick", market.TickSize.String()),
		slog.String("min_size", market.MinSize.String()))

	cache := ticker.NewCache(cfg.Gate.BufferDepth)
	tickerWorker := feed.NewTickerWorker(cfg.API.MarketWSURL, []string{market.Symbol}, cache)
	if err := tickerWorker.Connect(ctx); err != nil {
		slog.Error("Failed to start ticker stream", slog.Any("error", err))
		return 1
	}
	defer tickerWorker.Disconnect()

	// Accounts
	hub := confirm.NewHub(0)
	pair, err := gateway.NewFactory(cfg, flags.confirm).Build(catalog, cache, hub)
	if err != nil {
		slog.Error("❌ Gateway setup failed", slog.Any("error", err))
		return 1
	}
	for id, sess := range pair.Sessions {
		w := feed.NewOrderWorker(cfg.API.TradesWSURL, id, sess, market.Symbol, hub)
		if err := w.Connect(ctx); err != nil {
			slog.Warn("Order stream unavailable, polling only", slog.String("account", string(id)), slog.Any("error", err))
			continue
		}
		defer w.Disconnect()
	}
	a1, a2 := pair.Get(domain.Account1), pair.Get(domain.Account2)

	if err := awaitQuote(ctx, cache, market.Symbol, 15*time.Second); err != nil {
		slog.Error("❌ No ticker data", slog.Any("error", err))
		return 1
	}

	// Execution
	gate := ticker.NewGate(cache, catalog, ticker.GateOptions{
		SampleDelay: cfg.SampleDelay(),
		Retries:     cfg.Gate.Retries,
	})
	waiter := confirm.NewWaiter(hub, cfg.PollInterval(), cfg.PollInterval())
	reconciler := reconcile.New(a1, a2, reconcile.Options{
		Enabled:        cfg.RemediationEnabled(),
		MaxAttempts:    cfg.Remediation.MaxAttempts,
		Settle:         500 * time.Millisecond,
		Resolver:       waiter,
		ResolveTimeout: cfg.ConfirmTimeout(),
	})
	orch := orchestrator.New(a1, a2, gate, cache, waiter, reconciler, orchestrator.Options{
		Window:            cfg.GateWindow(),
		MaxDeviationPPM:   cfg.Gate.MaxDeviationPPM,
		ConfirmTimeout:    cfg.ConfirmTimeout(),
		MakerRetries:      cfg.Execution.MakerRetries,
		CancelRetries:     cfg.Execution.CancelRetries,
		CancelVerifyDelay: 300 * time.Millisecond,
		InsideSpread:      cfg.Execution.InsideSpread,
	})

	// Reporting
	sinkCtx, stopSinks := context.WithCancel(context.Background())
	defer stopSinks()
	sinks, closeSinks, err := buildSinks(sinkCtx, cfg)
	if err != nil {
		slog.Error("❌ Sink setup failed", slog.Any("error", err))
		return 1
	}
	defer closeSinks()

	recorder := engine.NewRecorder(boot.EventStore, boot.Snapshots, engine.Options{
		SnapshotEvery: uint64(cfg.Storage.SnapshotEvery),
		SnapshotKeep:  cfg.Storage.SnapshotKeep,
		DumpPath:      filepath.Join(boot.DataDir, "panic_dump.json"),
	}, sinks...)
	if err := recorder.RecoverFromWAL(ctx); err != nil {
		slog.Error("❌ Journal recovery failed", slog.Any("error", err))
		return 1
	}
	go recorder.Run(sinkCtx)

	ctrl := runner.New(orch, a1, a2, cache, direction.NewChooser(policy, nil), recorder, runner.Options{
		Market:          market,
		Size:            size,
		Mode:            mode,
		TradingMode:     cfg.Trading.Mode,
		InterRoundDelay: cfg.InterRoundDelay(),
		Jitter:          cfg.Jitter(),
		HaltOnFailure:   cfg.Run.HaltOnFailure,
		HaltOnImbalance: cfg.Run.HaltOnImbalance,
		MaxMarginRatio:  cfg.MaxMargin(),
	})

	go func() {
		select {
		case <-sigCh:
			ctrl.Stop()
		case <-ctx.Done():
			return
		}
		select {
		case <-sigCh:
			slog.Warn("⚠️  Second interrupt, aborting")
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("✨ Volume engine operational. Press Ctrl+C to stop after the current round.")
	stats, runErr := ctrl.Run(ctx)

	stopSinks()
	<-recorder.Done()

	printSummary(stats, pair.Paper)
	if runErr != nil {
		slog.Error("❌ Run ended with error", slog.Any("error", runErr))
		return 1
	}
	slog.Info("👋 Shutting down gracefully...")
	return 0
}

func sizeRequest(cfg *infra.Config) (sizing.Request, error) {
	kind, err := sizing.ParseKind(cfg.Trading.SizeKind)
	if err != nil {
		return sizing.Request{}, err
	}
	amount, err := decimal.NewFromString(cfg.Trading.Size)
	if err != nil {
		return sizing.Request{}, fmt.Errorf("size %q: %w", cfg.Trading.Size, err)
	}
	if !amount.IsPositive() {
		return sizing.Request{}, fmt.Errorf("size must be positive, got %s", amount)
	}
	return sizing.Request{Amount: amount, Kind: kind}, nil
}

// buildSinks wires the run log, metrics endpoint and notifier. Background
// workers stop with ctx.
func buildSinks(ctx context.Context, cfg *infra.Config) ([]engine.Sink, func(), error) {
	var (
		sinks   []engine.Sink
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Storage.RunLogPath != "" {
		w, err := journal.Open(cfg.Storage.RunLogPath)
		if err != nil {
			return nil, closeAll, err
		}
		sinks = append(sinks, w)
		closers = append(closers, func() { _ = w.Close() })
		slog.Info("📝 Run log enabled", slog.String("path", cfg.Storage.RunLogPath))
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		sinks = append(sinks, metrics.New(reg))
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg); err != nil {
				slog.Error("Metrics server failed", slog.Any("error", err))
			}
		}()
	}

	if cfg.Notify.Telegram.Enabled {
		tg := notify.NewTelegram(notify.TelegramOptions{
			APIURL: cfg.Notify.Telegram.APIURL,
			Token:  cfg.Notify.Telegram.Token,
			ChatID: cfg.Notify.Telegram.ChatID,
		})
		sinks = append(sinks, tg)
		done := make(chan struct{})
		go func() {
			tg.Run(ctx)
			close(done)
		}()
		closers = append(closers, func() { <-done })
		slog.Info("📣 Telegram notifications enabled")
	}
	return sinks, closeAll, nil
}

func awaitQuote(ctx context.Context, cache *ticker.Cache, market string, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		if snap, ok := cache.Observe(market); ok && snap.Valid() {
			slog.Info("✅ Ticker stream live",
				slog.String("bid", snap.Bid.String()),
				slog.String("ask", snap.Ask.String()))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errors.New("no quote for " + market + " within " + timeout.String())
		case <-tick.C:
		}
	}
}

func printSummary(s domain.RunStats, paper *gateway.PaperExchange) {
	fmt.Println()
	fmt.Println("=== Run summary ===")
	fmt.Printf("  Run:         %s (%s)\n", s.RunID, s.Mode)
	fmt.Printf("  Rounds:      %d (complete %d, imbalanced %d, failed %d)\n", s.Rounds, s.Completed, s.Imbalanced, s.Failed)
	fmt.Printf("  Open imbal.: %d\n", s.OpenImbalances)
	fmt.Printf("  Filled:      %s contracts\n", s.Filled)
	fmt.Printf("  Volume:      $%s\n", s.Volume.StringFixed(2))
	if s.Halted {
		fmt.Printf("  HALTED:      %s\n", s.Reason)
	} else if s.Stopped {
		fmt.Println("  Stopped by operator")
	}
	if paper != nil {
		fmt.Printf("  Paper fills: %s\n", strconv.Itoa(len(paper.Fills())))
	}
	fmt.Println()
}
