package infra

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SecretConfig matches secrets/<mode>.yaml: per-account session material
// kept out of the main config file.
type SecretConfig struct {
	Accounts struct {
		Account1 AccountSecret `yaml:"account1"`
		Account2 AccountSecret `yaml:"account2"`
	} `yaml:"accounts"`
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID string `yaml:"chat_id"`
	} `yaml:"telegram"`
}

// AccountSecret is the session material of one account.
type AccountSecret struct {
	AccountID     string `yaml:"account_id"`
	SubAccountID  string `yaml:"sub_account_id"`
	SessionCookie string `yaml:"session_cookie"`
	SigningKey    string `yaml:"signing_key"`
}

// LoadSecretConfig loads account secrets from a separate yaml file.
// A missing file is an error.
func LoadSecretConfig(path string) (*SecretConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret config: %w", err)
	}

	var sc SecretConfig
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse secret config: %w", err)
	}
	return &sc, nil
}

// Apply fills empty account fields of cfg from the secrets. Values already
// set (e.g. by environment) are kept.
func (s *SecretConfig) Apply(cfg *Config) {
	merge := func(dst *AccountConfig, src AccountSecret) {
		if dst.AccountID == "" {
			dst.AccountID = src.AccountID
		}
		if dst.SubAccountID == "" {
			dst.SubAccountID = src.SubAccountID
		}
		if dst.SessionCookie == "" {
			dst.SessionCookie = src.SessionCookie
		}
		if dst.SigningKey == "" {
			dst.SigningKey = src.SigningKey
		}
	}
	merge(&cfg.Accounts.Account1, s.Accounts.Account1)
	merge(&cfg.Accounts.Account2, s.Accounts.Account2)

	if cfg.Notify.Telegram.Token == "" {
		cfg.Notify.Telegram.Token = s.Telegram.Token
	}
	if cfg.Notify.Telegram.ChatID == "" {
		cfg.Notify.Telegram.ChatID = s.Telegram.ChatID
	}
}
