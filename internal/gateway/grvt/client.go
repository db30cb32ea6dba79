// Package grvt implements the account gateway and market data access for
// the GRVT exchange REST API.
package grvt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/infra"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	TradesURL     string
	MarketDataURL string
	Origin        string
	Timeout       time.Duration
	Retries503    int
	RetryDelay    time.Duration
}

// Client is a low-level GRVT REST client. Trading calls go through one
// account's session; market data calls are public.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	session    SessionProvider
	limiter    *infra.RateLimiter
	breaker    *infra.CircuitBreaker
}

// NewClient builds a client. session may be nil for a market-data-only client.
func NewClient(cfg ClientConfig, session SessionProvider, name string) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retries503 <= 0 {
		cfg.Retries503 = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	cfg.TradesURL = strings.TrimRight(cfg.TradesURL, "/")
	cfg.MarketDataURL = strings.TrimRight(cfg.MarketDataURL, "/")

	bc := infra.DefaultCircuitBreakerConfig("grvt-" + name)
	bc.Countable = countsAgainstBreaker

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		session:    session,
		limiter:    infra.GetGRVTAccountLimiter(name),
		breaker:    infra.NewCircuitBreaker(bc),
	}
}

// countsAgainstBreaker separates endpoint health from request validity:
// only transport faults and 5xx answers trip the breaker.
func countsAgainstBreaker(err error) bool {
	return domain.KindOf(err) == domain.KindTransient
}

// postTrades sends an authenticated request to the trades host.
func (c *Client) postTrades(ctx context.Context, path string, payload, out any) error {
	if c.session == nil {
		return fmt.Errorf("grvt %s: no session configured", path)
	}
	sess, err := c.session.Session(ctx)
	if err != nil {
		return domain.NewError(domain.KindAuthExpired, path, err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Origin", c.cfg.Origin)
	header.Set("Referer", c.cfg.Origin+"/")
	header.Set("X-Api-Source", "WEB")
	header.Set("X-Grvt-Account-Id", sess.AccountID)
	header.Set("Cookie", "gravity="+sess.Cookie)

	return c.breaker.Execute(func() error {
		return c.do(ctx, c.cfg.TradesURL+path, header, payload, out)
	})
}

// postMarket sends a public market data request.
func (c *Client) postMarket(ctx context.Context, path string, payload, out any) error {
	if err := infra.GetGRVTMarketLimiter().Wait(ctx); err != nil {
		return err
	}
	return c.do(ctx, c.cfg.MarketDataURL+path, http.Header{}, payload, out)
}

// do posts a JSON body, retrying 503s, and decodes the response into out.
func (c *Client) do(ctx context.Context, url string, header http.Header, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.Retries503; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.RetryDelay):
			}
		}

		status, data, err := c.send(ctx, url, header, body)
		if err != nil {
			return domain.NewError(domain.KindTransient, url, err)
		}
		if status == http.StatusServiceUnavailable {
			lastErr = domain.Errorf(domain.KindTransient, url, "service unavailable")
			slog.Warn("GRVT 503, retrying", slog.String("url", url), slog.Int("attempt", attempt+1))
			continue
		}
		if err := classify(url, status, data); err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s: %w", url, err)
		}
		return nil
	}
	return lastErr
}

func (c *Client) send(ctx context.Context, url string, header http.Header, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header = header.Clone()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", infra.GetUserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

// classify maps HTTP status and exchange error bodies to domain errors.
func classify(op string, status int, data []byte) error {
	var er errorResponse
	_ = json.Unmarshal(data, &er)
	code := er.code()

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden || code == codeAuthRequired:
		return domain.Errorf(domain.KindAuthExpired, op, "status %d code %d: %s", status, code, er.message())
	case code == codeInsufficientMargin:
		return domain.Errorf(domain.KindTransient, op, "insufficient margin (code %d): %s", code, er.message())
	case code == codeSizeTooSmall:
		return domain.Errorf(domain.KindSizeTooSmall, op, "order size too small (code %d): %s", code, er.message())
	case code == codeSignatureInvalid:
		return domain.Errorf(domain.KindOrderRejected, op, "invalid signature (code %d): %s", code, er.message())
	case code != 0:
		return domain.Errorf(domain.KindOrderRejected, op, "code %d: %s", code, er.message())
	case status >= 500:
		return domain.Errorf(domain.KindTransient, op, "status %d", status)
	case status >= 400:
		return domain.Errorf(domain.KindOrderRejected, op, "status %d: %s", status, strings.TrimSpace(string(data)))
	}
	return nil
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, domain.ErrTransient) || errors.Is(err, infra.ErrCircuitOpen)
}
