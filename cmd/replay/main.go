package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/infra"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/replay"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/storage"
)

// replay prints runs recorded in the journal and checks that each run's
// reported totals match its rounds.
func main() {
	defer infra.Recover()

	mode := flag.String("mode", "paper", "Trading mode whose journal to read")
	dbPath := flag.String("db", "", "Journal path (default: <workspace>/data/<mode>/journal.db)")
	runID := flag.String("run", "", "Run to report; lists runs when empty")
	flag.Parse()

	path := *dbPath
	if path == "" {
		path = filepath.Join(infra.GetWorkspaceDir(), "data", strings.ToLower(*mode), "journal.db")
	}
	if _, err := os.Stat(path); err != nil {
		slog.Error("❌ Journal not found", slog.String("path", path))
		os.Exit(1)
	}
	store, err := storage.NewEventStore(path)
	if err != nil {
		slog.Error("❌ Failed to open journal", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	r := replay.NewReplayer(store)

	if *runID == "" {
		runs, err := r.Runs(ctx)
		if err != nil {
			slog.Error("❌ Failed to read journal", slog.Any("error", err))
			os.Exit(1)
		}
		for _, info := range runs {
			fmt.Printf("%s  %-16s %-8s %-16s rounds=%d started=%s\n",
				info.RunID, info.Mode, info.TradingMode, info.Market, info.Rounds,
				info.StartedAt.Time().Format("2006-01-02 15:04:05"))
		}
		return
	}

	rep, err := r.Report(ctx, *runID)
	if err != nil {
		slog.Error("❌ Report failed", slog.Any("error", err))
		os.Exit(1)
	}
	fmt.Printf("Run %s (%s) on %s, long=%s\n\n", rep.Info.RunID, rep.Info.Mode, rep.Info.Market, rep.Info.Assignment.Long)
	for _, rd := range rep.Rounds {
		line := fmt.Sprintf("  %-14s %-7s %-10s size=%s maker=%s taker=%s",
			rd.ID, rd.Kind, rd.State, rd.RequestedSize, rd.MakerFilled, rd.TakerFilled)
		if rd.ErrorText != "" {
			line += "  " + rd.ErrorKind.String() + ": " + rd.ErrorText
		}
		fmt.Println(line)
	}
	for _, im := range rep.Imbalances {
		fmt.Printf("  imbalance %s: excess %s -> %s (closed %s, remaining %s)\n",
			im.RoundID, im.Excess, im.Outcome, im.Closed, im.Remaining)
	}
	s := rep.Recomputed
	fmt.Printf("\n  %d rounds: %d complete, %d imbalanced, %d failed; volume $%s\n",
		s.Rounds, s.Completed, s.Imbalanced, s.Failed, s.Volume.StringFixed(2))
	if rep.HaltReason != "" {
		fmt.Printf("  halted: %s\n", rep.HaltReason)
	}
	if !rep.Consistent() {
		fmt.Println("  ⚠️  recorded totals differ from the journaled rounds")
		os.Exit(1)
	}
}
