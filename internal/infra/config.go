package infra

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var (
	uaMu             sync.RWMutex
	currentUserAgent = GetPlatformUserAgent()
)

// GetUserAgent returns the User-Agent sent on REST and WebSocket requests.
func GetUserAgent() string {
	uaMu.RLock()
	defer uaMu.RUnlock()
	return currentUserAgent
}

// SetUserAgent replaces the User-Agent, e.g. to match the browser that
// produced the session cookie.
func SetUserAgent(ua string) {
	uaMu.Lock()
	defer uaMu.Unlock()
	currentUserAgent = ua
}

// GetPlatformUserAgent builds a browser-like User-Agent for the current OS.
// The GRVT edge rejects session cookies presented by obvious non-browsers.
func GetPlatformUserAgent() string {
	chromeVer := "131.0.0.0"
	switch runtime.GOOS {
	case "windows":
		return fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", chromeVer)
	case "linux":
		linuxArch := "x86_64"
		if runtime.GOARCH == "arm64" {
			linuxArch = "aarch64"
		}
		return fmt.Sprintf("Mozilla/5.0 (X11; Linux %s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", linuxArch, chromeVer)
	case "darwin":
		return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", chromeVer)
	default:
		return "Mozilla/5.0 (compatible; grvt-trading-tool/1.0)"
	}
}

// Trading modes.
const (
	ModePaper   = "PAPER"
	ModeTestnet = "TESTNET"
	ModeReal    = "REAL"
)

// AccountConfig identifies one GRVT trading account. Session material is
// normally supplied through the secrets file or environment.
type AccountConfig struct {
	Name          string `yaml:"name"`
	AccountID     string `yaml:"account_id"`
	SubAccountID  string `yaml:"sub_account_id"`
	SessionCookie string `yaml:"session_cookie"`
	SigningKey    string `yaml:"signing_key"` // hex session key for EIP-712 order signatures
}

// Complete reports whether the account can authenticate.
func (a AccountConfig) Complete() bool {
	return a.SubAccountID != "" && a.SessionCookie != ""
}

// Config holds every setting of the tool. LoadConfig reads it from YAML,
// then applies .env and GRVT_* environment overrides.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Trading struct {
		Mode      string `yaml:"mode"` // PAPER | TESTNET | REAL
		Market    string `yaml:"market"`
		Size      string `yaml:"size"`
		SizeKind  string `yaml:"size_kind"` // contracts | usd
		Direction string `yaml:"direction"` // random | account1_long | account1_short
	} `yaml:"trading"`

	API struct {
		TradesURL     string `yaml:"trades_url"`
		MarketDataURL string `yaml:"market_data_url"`
		MarketWSURL   string `yaml:"market_ws_url"`
		TradesWSURL   string `yaml:"trades_ws_url"`
		Origin        string `yaml:"origin"`
		ChainID       int64  `yaml:"chain_id"`
		TimeoutMS     int    `yaml:"timeout_ms"`
		Retries503    int    `yaml:"retries_503"`
	} `yaml:"api"`

	Accounts struct {
		Account1 AccountConfig `yaml:"account1"`
		Account2 AccountConfig `yaml:"account2"`
	} `yaml:"accounts"`

	Gate struct {
		WindowMS        int   `yaml:"window_ms"`
		MaxDeviationPPM int64 `yaml:"max_deviation_ppm"`
		SampleDelayMS   int   `yaml:"sample_delay_ms"`
		Retries         int   `yaml:"retries"`
		BufferDepth     int   `yaml:"buffer_depth"`
	} `yaml:"gate"`

	Execution struct {
		ConfirmTimeoutMS int  `yaml:"confirm_timeout_ms"`
		PollIntervalMS   int  `yaml:"poll_interval_ms"`
		MakerRetries     int  `yaml:"maker_retries"`
		CancelRetries    int  `yaml:"cancel_retries"`
		InsideSpread     bool `yaml:"inside_spread"`
	} `yaml:"execution"`

	Remediation struct {
		Enabled     *bool `yaml:"enabled"` // nil means enabled
		MaxAttempts int   `yaml:"max_attempts"`
	} `yaml:"remediation"`

	Run struct {
		Mode              string `yaml:"mode"` // instant | build_hold_close | build_hold | close_existing
		Rounds            int    `yaml:"rounds"`
		InterRoundDelayMS int    `yaml:"inter_round_delay_ms"`
		JitterMS          int    `yaml:"jitter_ms"`
		CloseDelayMS      int    `yaml:"close_delay_ms"`
		HoldSec           int    `yaml:"hold_sec"`
		HaltOnFailure     bool   `yaml:"halt_on_failure"`
		HaltOnImbalance   bool   `yaml:"halt_on_imbalance"`
		MaxMarginRatio    string `yaml:"max_margin_ratio"`
	} `yaml:"run"`

	Storage struct {
		DBPath        string `yaml:"db_path"`
		SnapshotDir   string `yaml:"snapshot_dir"`
		SnapshotEvery int    `yaml:"snapshot_every"`
		SnapshotKeep  int    `yaml:"snapshot_keep"`
		RunLogPath    string `yaml:"run_log_path"`
	} `yaml:"storage"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`

	Notify struct {
		Telegram struct {
			Enabled bool   `yaml:"enabled"`
			APIURL  string `yaml:"api_url"`
			Token   string `yaml:"token"`
			ChatID  string `yaml:"chat_id"`
		} `yaml:"telegram"`
	} `yaml:"notify"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text | json
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	var cfg Config
	cfg.applyDefaults()
	cfg.resolveChainID()
	return &cfg
}

// LoadConfig reads a YAML config file. A .env file next to the working
// directory is loaded first, without replacing variables already set.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML bytes and applies defaults, env overrides and
// validation.
func ParseConfig(data []byte) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	overrideWithEnv(&cfg)
	cfg.resolveChainID()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	setStr := func(p *string, v string) {
		if *p == "" {
			*p = v
		}
	}
	setInt := func(p *int, v int) {
		if *p == 0 {
			*p = v
		}
	}

	setStr(&c.App.Name, AppName)
	setStr(&c.App.Version, "dev")
	setStr(&c.Trading.Mode, ModePaper)
	setStr(&c.Trading.SizeKind, "contracts")
	setStr(&c.Trading.Direction, "random")

	setStr(&c.API.TradesURL, "https://trades.grvt.io")
	setStr(&c.API.MarketDataURL, "https://market-data.grvt.io")
	setStr(&c.API.MarketWSURL, "wss://market-data.grvt.io/ws/full")
	setStr(&c.API.TradesWSURL, "wss://trades.grvt.io/ws/full")
	setStr(&c.API.Origin, "https://grvt.io")
	setInt(&c.API.TimeoutMS, 10_000)
	setInt(&c.API.Retries503, 3)

	setStr(&c.Accounts.Account1.Name, "account1")
	setStr(&c.Accounts.Account2.Name, "account2")

	setInt(&c.Gate.WindowMS, 2_000)
	if c.Gate.MaxDeviationPPM == 0 {
		c.Gate.MaxDeviationPPM = 200
	}
	setInt(&c.Gate.SampleDelayMS, 1_000)
	setInt(&c.Gate.Retries, 3)
	setInt(&c.Gate.BufferDepth, 8)

	setInt(&c.Execution.ConfirmTimeoutMS, 5_000)
	setInt(&c.Execution.PollIntervalMS, 250)
	setInt(&c.Execution.MakerRetries, 2)
	setInt(&c.Execution.CancelRetries, 3)

	setInt(&c.Remediation.MaxAttempts, 3)

	setStr(&c.Run.Mode, "instant")
	setInt(&c.Run.Rounds, 1)
	setInt(&c.Run.InterRoundDelayMS, 1_000)

	setInt(&c.Storage.SnapshotEvery, 50)
	setInt(&c.Storage.SnapshotKeep, 5)

	setStr(&c.Metrics.Addr, "127.0.0.1:9464")
	setStr(&c.Notify.Telegram.APIURL, "https://api.telegram.org")
	setStr(&c.Logging.Level, "info")
	setStr(&c.Logging.Format, "text")
}

// resolveChainID picks the EIP-712 chain id for the trading mode unless one
// was configured explicitly.
func (c *Config) resolveChainID() {
	if c.API.ChainID != 0 {
		return
	}
	c.API.ChainID = 325
	if c.Trading.Mode == ModeTestnet {
		c.API.ChainID = 326
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	switch c.Trading.Mode {
	case ModePaper, ModeTestnet, ModeReal:
	default:
		return fmt.Errorf("invalid trading mode: %q", c.Trading.Mode)
	}

	if !hasScheme(c.API.TradesURL, "http://", "https://") {
		return fmt.Errorf("invalid trades URL: %s", c.API.TradesURL)
	}
	if !hasScheme(c.API.MarketDataURL, "http://", "https://") {
		return fmt.Errorf("invalid market data URL: %s", c.API.MarketDataURL)
	}
	if !hasScheme(c.API.MarketWSURL, "ws://", "wss://") {
		return fmt.Errorf("invalid market WS URL: %s", c.API.MarketWSURL)
	}
	if !hasScheme(c.API.TradesWSURL, "ws://", "wss://") {
		return fmt.Errorf("invalid trades WS URL: %s", c.API.TradesWSURL)
	}

	if c.Gate.WindowMS <= 0 || c.Gate.MaxDeviationPPM <= 0 {
		return fmt.Errorf("stability gate window and max deviation must be positive")
	}
	if c.Gate.BufferDepth < 2 {
		return fmt.Errorf("gate buffer depth must be at least 2, got %d", c.Gate.BufferDepth)
	}
	if c.Execution.ConfirmTimeoutMS <= 0 {
		return fmt.Errorf("confirm timeout must be positive")
	}
	if c.Remediation.MaxAttempts < 1 || c.Remediation.MaxAttempts > 5 {
		return fmt.Errorf("remediation max_attempts must be within 1..5, got %d", c.Remediation.MaxAttempts)
	}
	if c.Run.Rounds < 0 {
		return fmt.Errorf("rounds must not be negative")
	}
	if c.Run.MaxMarginRatio != "" {
		if _, err := decimal.NewFromString(c.Run.MaxMarginRatio); err != nil {
			return fmt.Errorf("invalid max_margin_ratio %q: %w", c.Run.MaxMarginRatio, err)
		}
	}
	return nil
}

// NotifyReady checks the notification settings. It runs after secrets are
// applied, since the bot token usually lives there.
func (c *Config) NotifyReady() error {
	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.Token == "" || c.Notify.Telegram.ChatID == "") {
		return fmt.Errorf("telegram notifications need token and chat_id")
	}
	return nil
}

// RequireAccounts fails unless both accounts can authenticate. Paper mode
// does not call it.
func (c *Config) RequireAccounts() error {
	for _, a := range []AccountConfig{c.Accounts.Account1, c.Accounts.Account2} {
		if !a.Complete() {
			return fmt.Errorf("account %s: sub_account_id and session_cookie are required", a.Name)
		}
		if a.SigningKey == "" {
			return fmt.Errorf("account %s: signing_key is required to sign orders", a.Name)
		}
	}
	if c.Accounts.Account1.SubAccountID == c.Accounts.Account2.SubAccountID {
		return fmt.Errorf("account1 and account2 must be different sub-accounts")
	}
	return nil
}

// RemediationEnabled reports whether imbalances are closed automatically.
func (c *Config) RemediationEnabled() bool {
	return c.Remediation.Enabled == nil || *c.Remediation.Enabled
}

// MaxMargin returns the margin guard threshold, zero when disabled.
func (c *Config) MaxMargin() decimal.Decimal {
	if c.Run.MaxMarginRatio == "" {
		return decimal.Zero
	}
	d, _ := decimal.NewFromString(c.Run.MaxMarginRatio)
	return d
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c *Config) APITimeout() time.Duration      { return ms(c.API.TimeoutMS) }
func (c *Config) GateWindow() time.Duration      { return ms(c.Gate.WindowMS) }
func (c *Config) SampleDelay() time.Duration     { return ms(c.Gate.SampleDelayMS) }
func (c *Config) ConfirmTimeout() time.Duration  { return ms(c.Execution.ConfirmTimeoutMS) }
func (c *Config) PollInterval() time.Duration    { return ms(c.Execution.PollIntervalMS) }
func (c *Config) InterRoundDelay() time.Duration { return ms(c.Run.InterRoundDelayMS) }
func (c *Config) Jitter() time.Duration          { return ms(c.Run.JitterMS) }
func (c *Config) CloseDelay() time.Duration      { return ms(c.Run.CloseDelayMS) }
func (c *Config) Hold() time.Duration            { return time.Duration(c.Run.HoldSec) * time.Second }

func hasScheme(s string, schemes ...string) bool {
	for _, p := range schemes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// overrideWithEnv applies GRVT_* environment variables. Environment wins over
// the config file.
func overrideWithEnv(cfg *Config) {
	if cfg.Accounts.Account1.SigningKey != "" || cfg.Accounts.Account2.SigningKey != "" ||
		cfg.Accounts.Account1.SessionCookie != "" || cfg.Accounts.Account2.SessionCookie != "" {
		fmt.Println("⚠️  SECURITY WARNING: account secrets found in config file.")
		fmt.Println("   Recommendation: use the secrets file or environment variables:")
		fmt.Println("   - GRVT_ACCOUNT1_COOKIE, GRVT_ACCOUNT1_SIGNING_KEY")
		fmt.Println("   - GRVT_ACCOUNT2_COOKIE, GRVT_ACCOUNT2_SIGNING_KEY")
	}

	str := map[string]*string{
		"GRVT_MODE":                 &cfg.Trading.Mode,
		"GRVT_MARKET":               &cfg.Trading.Market,
		"GRVT_TRADES_BASE_URL":      &cfg.API.TradesURL,
		"GRVT_MARKET_DATA_BASE_URL": &cfg.API.MarketDataURL,
		"GRVT_MARKET_WS_URL":        &cfg.API.MarketWSURL,
		"GRVT_TRADES_WS_URL":        &cfg.API.TradesWSURL,
		"GRVT_ORIGIN":               &cfg.API.Origin,
		"GRVT_ACCOUNT1_ID":          &cfg.Accounts.Account1.AccountID,
		"GRVT_ACCOUNT1_SUB_ACCOUNT": &cfg.Accounts.Account1.SubAccountID,
		"GRVT_ACCOUNT1_COOKIE":      &cfg.Accounts.Account1.SessionCookie,
		"GRVT_ACCOUNT2_ID":          &cfg.Accounts.Account2.AccountID,
		"GRVT_ACCOUNT2_SUB_ACCOUNT": &cfg.Accounts.Account2.SubAccountID,
		"GRVT_ACCOUNT2_COOKIE":      &cfg.Accounts.Account2.SessionCookie,
		"GRVT_TELEGRAM_TOKEN":       &cfg.Notify.Telegram.Token,
		"GRVT_TELEGRAM_CHAT_ID":     &cfg.Notify.Telegram.ChatID,
		"GRVT_LOG_LEVEL":            &cfg.Logging.Level,
	}
	// names used by the original volume scripts
	if cfg.Notify.Telegram.Token == "" {
		cfg.Notify.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if cfg.Notify.Telegram.ChatID == "" {
		cfg.Notify.Telegram.ChatID = os.Getenv("TELEGRAM_CHAT_ID")
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v, err := strconv.ParseInt(os.Getenv("GRVT_CHAIN_ID"), 10, 64); err == nil && v > 0 {
		cfg.API.ChainID = v
	}
	if v, err := strconv.Atoi(os.Getenv("GRVT_CONFIRM_TIMEOUT_MS")); err == nil && v > 0 {
		cfg.Execution.ConfirmTimeoutMS = v
	}
	cfg.Trading.Mode = strings.ToUpper(cfg.Trading.Mode)
}
