package gateway

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/confirm"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/gateway/grvt"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/infra"
)

// ConfirmEnv is the safety latch required for REAL trading.
const ConfirmEnv = "CONFIRM_REAL_MONEY"

// Pair is the two gateways of a run.
type Pair struct {
	Gateways map[domain.AccountID]domain.Gateway
	Sessions map[domain.AccountID]grvt.SessionProvider // empty in paper mode
	Paper    *PaperExchange                            // nil unless paper mode
}

// Get returns the gateway of account.
func (p Pair) Get(id domain.AccountID) domain.Gateway { return p.Gateways[id] }

// Factory creates gateways according to the configured mode.
type Factory struct {
	config    *infra.Config
	confirmed bool
}

// NewFactory creates a factory. confirmed reflects the operator's explicit
// confirmation flag; REAL mode also accepts the environment latch.
func NewFactory(cfg *infra.Config, confirmed bool) *Factory {
	return &Factory{config: cfg, confirmed: confirmed}
}

// Build returns the gateway pair for the configured mode.
func (f *Factory) Build(markets grvt.MarketSource, quotes Quotes, hub *confirm.Hub) (Pair, error) {
	mode := f.config.Trading.Mode
	slog.Info("Initializing gateways", slog.String("mode", mode))

	switch mode {
	case infra.ModePaper:
		venue := NewPaperExchange(quotes, PaperOptions{Hub: hub})
		return Pair{
			Gateways: map[domain.AccountID]domain.Gateway{
				domain.Account1: venue.Account(domain.Account1),
				domain.Account2: venue.Account(domain.Account2),
			},
			Sessions: map[domain.AccountID]grvt.SessionProvider{},
			Paper:    venue,
		}, nil

	case infra.ModeTestnet:
		slog.Info("🔒 Connecting to GRVT TESTNET")
		return f.buildGRVT(markets)

	case infra.ModeReal:
		if !f.confirmed && os.Getenv(ConfirmEnv) != "true" {
			return Pair{}, fmt.Errorf("SAFETY_GUARD: real trading requires --confirm or %s=true", ConfirmEnv)
		}
		slog.Info("🚨🚨🚨 Connecting to GRVT REAL (Mainnet) 🚨🚨🚨")
		return f.buildGRVT(markets)

	default:
		return Pair{}, fmt.Errorf("unknown execution mode: %s", mode)
	}
}

func (f *Factory) buildGRVT(markets grvt.MarketSource) (Pair, error) {
	if err := f.config.RequireAccounts(); err != nil {
		return Pair{}, err
	}
	pair := Pair{
		Gateways: make(map[domain.AccountID]domain.Gateway, 2),
		Sessions: make(map[domain.AccountID]grvt.SessionProvider, 2),
	}
	for id, acc := range map[domain.AccountID]infra.AccountConfig{
		domain.Account1: f.config.Accounts.Account1,
		domain.Account2: f.config.Accounts.Account2,
	} {
		sess := grvt.StaticSession{AccountID: acc.AccountID, SubAccountID: acc.SubAccountID, Cookie: acc.SessionCookie}
		signer, err := grvt.NewEIP712Signer(acc.SigningKey, f.config.API.ChainID)
		if err != nil {
			return Pair{}, fmt.Errorf("%s signer: %w", id, err)
		}
		client := grvt.NewClient(ClientConfig(f.config), sess, string(id))
		pair.Gateways[id] = grvt.NewGateway(id, client, sess, signer, markets)
		pair.Sessions[id] = sess
		slog.Info("Account ready",
			slog.String("account", string(id)),
			slog.String("name", acc.Name),
			slog.String("sub_account", acc.SubAccountID),
			slog.String("signer", signer.Address()))
	}
	return pair, nil
}

// ClientConfig maps the API section onto a GRVT client configuration.
func ClientConfig(cfg *infra.Config) grvt.ClientConfig {
	return grvt.ClientConfig{
		TradesURL:     cfg.API.TradesURL,
		MarketDataURL: cfg.API.MarketDataURL,
		Origin:        cfg.API.Origin,
		Timeout:       cfg.APITimeout(),
		Retries503:    cfg.API.Retries503,
	}
}
