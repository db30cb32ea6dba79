package infra

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
trading:
  mode: paper
  market: BTC_USDT_Perp
`

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	if cfg.Trading.Mode != ModePaper {
		t.Errorf("mode = %q, want PAPER", cfg.Trading.Mode)
	}
	if cfg.ConfirmTimeout() != 5*time.Second {
		t.Errorf("confirm timeout = %s", cfg.ConfirmTimeout())
	}
	if cfg.Gate.Retries != 3 || cfg.Gate.BufferDepth != 8 {
		t.Errorf("gate defaults not applied: %+v", cfg.Gate)
	}
	if !cfg.RemediationEnabled() {
		t.Error("remediation should default to enabled")
	}
	if cfg.Remediation.MaxAttempts != 3 {
		t.Errorf("remediation attempts = %d", cfg.Remediation.MaxAttempts)
	}
	if cfg.Run.HaltOnFailure || cfg.Run.HaltOnImbalance {
		t.Error("halt options must default to false")
	}
	if !cfg.MaxMargin().IsZero() {
		t.Error("margin guard should be disabled by default")
	}
}

func TestParseConfig_EnvOverrides(t *testing.T) {
	t.Setenv("GRVT_MODE", "testnet")
	t.Setenv("GRVT_ACCOUNT1_COOKIE", "cookie-1")
	t.Setenv("GRVT_ACCOUNT2_SUB_ACCOUNT", "222")
	t.Setenv("GRVT_CONFIRM_TIMEOUT_MS", "1500")

	cfg, err := ParseConfig([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Trading.Mode != ModeTestnet {
		t.Errorf("mode = %q, want TESTNET", cfg.Trading.Mode)
	}
	if cfg.Accounts.Account1.SessionCookie != "cookie-1" {
		t.Error("account1 cookie not overridden")
	}
	if cfg.Accounts.Account2.SubAccountID != "222" {
		t.Error("account2 sub account not overridden")
	}
	if cfg.ConfirmTimeout() != 1500*time.Millisecond {
		t.Errorf("confirm timeout = %s", cfg.ConfirmTimeout())
	}
	if cfg.API.ChainID != 326 {
		t.Errorf("testnet chain id = %d, want 326", cfg.API.ChainID)
	}
}

func TestNotifyReady(t *testing.T) {
	t.Setenv("GRVT_TELEGRAM_TOKEN", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("GRVT_TELEGRAM_CHAT_ID", "")
	t.Setenv("TELEGRAM_CHAT_ID", "")

	cfg, err := ParseConfig([]byte("notify: {telegram: {enabled: true}}"))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if err := cfg.NotifyReady(); err == nil || !strings.Contains(err.Error(), "telegram") {
		t.Fatalf("expected telegram error, got %v", err)
	}

	t.Setenv("TELEGRAM_BOT_TOKEN", "bot-token")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	cfg, err = ParseConfig([]byte("notify: {telegram: {enabled: true}}"))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if err := cfg.NotifyReady(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad mode", "trading: {mode: live}", "trading mode"},
		{"bad ws url", "api: {market_ws_url: http://x}", "market WS URL"},
		{"remediation cap", "remediation: {max_attempts: 9}", "max_attempts"},
		{"bad margin", "run: {max_margin_ratio: abc}", "max_margin_ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestRequireAccounts(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.RequireAccounts(); err == nil {
		t.Fatal("empty accounts should fail")
	}

	cfg.Accounts.Account1 = AccountConfig{Name: "a", SubAccountID: "1", SessionCookie: "c", SigningKey: "k"}
	cfg.Accounts.Account2 = AccountConfig{Name: "b", SubAccountID: "1", SessionCookie: "c", SigningKey: "k"}
	if err := cfg.RequireAccounts(); err == nil {
		t.Fatal("identical sub accounts should fail")
	}

	cfg.Accounts.Account2.SubAccountID = "2"
	if err := cfg.RequireAccounts(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSecretConfig_Apply(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "paper.yaml")
	body := `
accounts:
  account1: {sub_account_id: "11", session_cookie: "s1"}
  account2: {sub_account_id: "22", session_cookie: "s2"}
telegram: {token: tok, chat_id: "42"}
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	sc, err := LoadSecretConfig(path)
	if err != nil {
		t.Fatalf("LoadSecretConfig: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Accounts.Account1.SessionCookie = "from-env"
	sc.Apply(cfg)

	if cfg.Accounts.Account1.SessionCookie != "from-env" {
		t.Error("existing values must win over secrets")
	}
	if cfg.Accounts.Account2.SessionCookie != "s2" || cfg.Accounts.Account1.SubAccountID != "11" {
		t.Error("secrets not applied")
	}
	if cfg.Notify.Telegram.ChatID != "42" {
		t.Error("telegram secrets not applied")
	}

	if _, err := LoadSecretConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing secrets file must fail")
	}
}

func TestCreateLockFile(t *testing.T) {
	dir := t.TempDir()
	release, err := CreateLockFile(dir, "BTC_USDT_Perp")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := CreateLockFile(dir, "BTC_USDT_Perp"); err == nil {
		t.Error("second lock on the same pair should fail")
	}
	if _, err := CreateLockFile(dir, "ETH_USDT_Perp"); err != nil {
		t.Errorf("different pair should lock: %v", err)
	}
	release()
	if _, err := CreateLockFile(dir, "BTC_USDT_Perp"); err != nil {
		t.Errorf("lock after release: %v", err)
	}
}

func TestPrintBanner(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Trading.Mode = ModeReal
	cfg.Trading.Market = "BTC_USDT_Perp"

	var buf bytes.Buffer
	PrintBanner(&buf, cfg, "instant")
	out := buf.String()
	for _, want := range []string{"REAL MONEY", "BTC_USDT_Perp", "instant", "WARNING"} {
		if !strings.Contains(out, want) {
			t.Errorf("banner missing %q", want)
		}
	}
}
