// Package notify forwards imbalance and halt events to a Telegram chat.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/event"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/infra"
)

// TelegramOptions configures the notifier.
type TelegramOptions struct {
	APIURL  string
	Token   string
	ChatID  string
	Client  *http.Client
	Limiter *infra.RateLimiter
	Queue   int
}

// Telegram is an engine sink. Handle only formats and queues; a worker
// goroutine started by Run does the sending. Messages are dropped when the
// queue is full.
type Telegram struct {
	opts  TelegramOptions
	queue chan string
}

// NewTelegram creates a notifier. Call Run to start delivery.
func NewTelegram(opts TelegramOptions) *Telegram {
	if opts.APIURL == "" {
		opts.APIURL = "https://api.telegram.org"
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 5 * time.Second}
	}
	if opts.Limiter == nil {
		// Telegram allows about one message per second per chat.
		opts.Limiter = infra.NewRateLimiter(3, 1)
	}
	if opts.Queue <= 0 {
		opts.Queue = 64
	}
	return &Telegram{opts: opts, queue: make(chan string, opts.Queue)}
}

// Handle implements engine.Sink.
func (t *Telegram) Handle(ev event.Event) {
	msg, ok := Format(ev)
	if !ok {
		return
	}
	select {
	case t.queue <- msg:
	default:
		slog.Warn("Notification queue full, message dropped", slog.String("type", ev.GetType().String()))
	}
}

// Run delivers queued messages until ctx is done, then flushes what is
// left with a short deadline.
func (t *Telegram) Run(ctx context.Context) {
	for {
		select {
		case msg := <-t.queue:
			t.deliver(ctx, msg)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
			defer cancel()
			for {
				select {
				case msg := <-t.queue:
					t.deliver(flushCtx, msg)
				default:
					return
				}
			}
		}
	}
}

func (t *Telegram) deliver(ctx context.Context, msg string) {
	if err := t.opts.Limiter.Wait(ctx); err != nil {
		return
	}
	if err := t.Send(ctx, msg); err != nil {
		slog.Warn("Telegram notification failed", slog.Any("err", err))
	}
}

// Send posts one message synchronously.
func (t *Telegram) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{"chat_id": t.opts.ChatID, "text": text})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.opts.APIURL, "/"), t.opts.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.opts.Client.Do(req)
	if err != nil {
		// the URL carries the bot token
		return fmt.Errorf("telegram send: %w", redact(err, t.opts.Token))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

// Format renders the events worth a notification.
func Format(ev event.Event) (string, bool) {
	switch e := ev.(type) {
	case *event.ImbalanceRecordedEvent:
		im := e.Imbalance
		level := "WARN"
		if im.Outcome == domain.OutcomeFailed {
			level = "CRITICAL"
		}
		msg := fmt.Sprintf("[%s] imbalance on %s round %s: excess %s, outcome %s, closed %s, remaining %s",
			level, im.Market, im.RoundID, im.Excess, outcomeName(im.Outcome), im.Closed, im.Remaining)
		if im.Reason != "" {
			msg += " (" + im.Reason + ")"
		}
		return msg, true
	case *event.SystemHaltEvent:
		return fmt.Sprintf("[CRITICAL] run %s halted: %s", e.RunID, e.Reason), true
	case *event.RunFinishedEvent:
		s := e.Stats
		return fmt.Sprintf("[INFO] run %s (%s) finished: %d rounds, %d complete, %d imbalanced, %d failed, volume $%s",
			s.RunID, s.Mode, s.Rounds, s.Completed, s.Imbalanced, s.Failed, s.Volume.StringFixed(2)), true
	default:
		return "", false
	}
}

func outcomeName(o domain.RemediationOutcome) string {
	if o == domain.OutcomeUnhandled {
		return "UNHANDLED"
	}
	return string(o)
}

type redactedError struct{ msg string }

func (e redactedError) Error() string { return e.msg }

func redact(err error, secret string) error {
	if secret == "" {
		return err
	}
	return redactedError{strings.ReplaceAll(err.Error(), secret, "***")}
}
