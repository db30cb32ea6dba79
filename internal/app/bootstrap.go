// Package app prepares the runtime: configuration, logging, data
// directories, the instance lock, the journal and the market catalog cache.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/gateway/grvt"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/infra"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/storage"
)

const marketKeyPrefix = "market:"

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config     *infra.Config
	ConfigPath string
	EventStore *storage.EventStore
	Snapshots  *storage.SnapshotManager
	DataDir    string
	LogDir     string

	unlock func()
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// LoadConfig reads the config file and the per-mode secrets file, then
// installs the process logger. A missing config file falls back to defaults
// plus environment overrides.
func (b *Bootstrap) LoadConfig(path string) error {
	if path == "" {
		path = infra.ResolveConfigPath()
	}
	b.ConfigPath = path

	cfg, err := infra.LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = infra.ParseConfig(nil)
	}
	if err != nil {
		return err
	}
	b.Config = cfg

	secretPath := infra.ResolveSecretPath(path, cfg.Trading.Mode)
	if _, statErr := os.Stat(secretPath); statErr == nil {
		sc, err := infra.LoadSecretConfig(secretPath)
		if err != nil {
			return err
		}
		sc.Apply(cfg)
	}

	slog.SetDefault(infra.NewLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format))
	return nil
}

// Initialize validates the final configuration (after CLI overrides), takes
// the instance lock and opens the journal. Data is isolated per trading
// mode: <workspace>/data/<mode>/journal.db.
func (b *Bootstrap) Initialize() error {
	cfg := b.Config
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.NotifyReady(); err != nil {
		return err
	}
	slog.Info("🚀 Bootstrapping", slog.String("app", cfg.App.Name), slog.String("version", cfg.App.Version))

	mode := strings.ToLower(cfg.Trading.Mode)
	workDir := infra.GetWorkspaceDir()
	b.DataDir = filepath.Join(workDir, "data", mode)
	b.LogDir = filepath.Join(workDir, "logs", mode)
	for _, dir := range []string{b.DataDir, b.LogDir} {
		if err := infra.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	// one process per account pair
	unlock, err := infra.CreateLockFile(b.DataDir, lockName(cfg))
	if err != nil {
		return err
	}
	b.unlock = unlock

	dbPath := filepath.Join(b.DataDir, "journal.db")
	if cfg.Storage.DBPath != "" {
		dbPath = infra.DataPath(cfg.Storage.DBPath)
	}
	store, err := storage.NewEventStore(dbPath)
	if err != nil {
		b.Close()
		return err
	}
	b.EventStore = store
	slog.Info("✅ Journal initialized (WAL-mode)", slog.String("path", dbPath), slog.String("mode", mode))

	snapDir := filepath.Join(b.DataDir, "snapshots")
	if cfg.Storage.SnapshotDir != "" {
		snapDir = infra.DataPath(cfg.Storage.SnapshotDir)
	}
	b.Snapshots = storage.NewSnapshotManager(snapDir)
	return nil
}

func lockName(cfg *infra.Config) string {
	a1, a2 := cfg.Accounts.Account1.SubAccountID, cfg.Accounts.Account2.SubAccountID
	if a1 == "" && a2 == "" {
		return "pair"
	}
	return "pair_" + a1 + "_" + a2
}

// Close releases the journal and the instance lock.
func (b *Bootstrap) Close() {
	if b.EventStore != nil {
		if err := b.EventStore.Close(); err != nil {
			slog.Warn("Journal close failed", slog.Any("err", err))
		}
		b.EventStore = nil
	}
	if b.unlock != nil {
		b.unlock()
		b.unlock = nil
	}
}

// ResolveMarket loads symbol's constraints from src and caches them in the
// journal metadata. When the exchange is unreachable the cached copy is
// used instead.
func (b *Bootstrap) ResolveMarket(ctx context.Context, src grvt.MarketSource, symbol string) (domain.Market, error) {
	m, err := src.Market(ctx, symbol)
	if err == nil {
		if verr := m.Validate(); verr != nil {
			return domain.Market{}, verr
		}
		b.cacheMarket(ctx, m)
		return m, nil
	}

	cached, ok := b.cachedMarket(ctx, symbol)
	if !ok {
		return domain.Market{}, err
	}
	slog.Warn("Using cached market constraints",
		slog.String("market", symbol),
		slog.Any("err", err))
	return cached, nil
}

// SyncMarkets refreshes the catalog of perpetuals and caches every market.
func (b *Bootstrap) SyncMarkets(ctx context.Context, catalog *grvt.Catalog) error {
	slog.Info("🔄 Syncing instrument catalog...")
	n, err := catalog.Refresh(ctx, "PERPETUAL")
	if err != nil {
		return err
	}
	for _, sym := range catalog.Symbols() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m, err := catalog.Market(ctx, sym)
		if err != nil {
			continue
		}
		b.cacheMarket(ctx, m)
	}
	slog.Info("✨ Instrument catalog synced", slog.Int("markets", n))
	return nil
}

func (b *Bootstrap) cacheMarket(ctx context.Context, m domain.Market) {
	if b.EventStore == nil {
		return
	}
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := b.EventStore.UpsertMetadata(ctx, marketKeyPrefix+m.Symbol, string(data), time.Now().UnixMicro()); err != nil {
		slog.Debug("Market cache write failed", slog.String("market", m.Symbol), slog.Any("err", err))
	}
}

func (b *Bootstrap) cachedMarket(ctx context.Context, symbol string) (domain.Market, bool) {
	if b.EventStore == nil {
		return domain.Market{}, false
	}
	val, err := b.EventStore.GetMetadata(ctx, marketKeyPrefix+symbol)
	if err != nil || val == "" {
		return domain.Market{}, false
	}
	var m domain.Market
	if err := json.Unmarshal([]byte(val), &m); err != nil || m.Validate() != nil {
		return domain.Market{}, false
	}
	return m, true
}
