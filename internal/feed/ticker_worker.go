// Package feed runs the GRVT websocket subscriptions: one ticker stream
// writing the shared cache and one order stream per account feeding the
// confirmation hub.
package feed

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/gateway/grvt"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/infra"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/ticker"
	"github.com/lumaoDoggie/grvt-trading-tool/pkg/quant"
)

const pingWriteTimeout = 5 * time.Second

// TickerWorker subscribes to v1.ticker.s and publishes every update into
// the cache. It is the only writer of its markets' cells.
type TickerWorker struct {
	base    *infra.BaseWSWorker
	url     string
	markets []string
	cache   *ticker.Cache
	now     func() time.Time

	received atomic.Int64
}

// NewTickerWorker builds a worker for markets on the market data stream.
func NewTickerWorker(url string, markets []string, cache *ticker.Cache) *TickerWorker {
	w := &TickerWorker{
		url:     url,
		markets: markets,
		cache:   cache,
		now:     time.Now,
	}
	w.base = infra.NewBaseWSWorker(w)
	w.base.ReadTimeout = 30 * time.Second
	w.base.PingInterval = 15 * time.Second
	return w
}

func (w *TickerWorker) ID() string     { return "GRVT_TICKER" }
func (w *TickerWorker) GetURL() string { return w.url }

// Connect starts the reconnecting read loop.
func (w *TickerWorker) Connect(ctx context.Context) error {
	w.base.Start(ctx)
	return nil
}

// Disconnect stops the worker.
func (w *TickerWorker) Disconnect() {
	w.base.Stop()
}

// Received reports how many snapshots were accepted by the cache.
func (w *TickerWorker) Received() int64 { return w.received.Load() }

func (w *TickerWorker) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	msg, err := grvt.SubscribeMessage(grvt.StreamTicker, w.markets, 1)
	if err != nil {
		return err
	}
	return w.base.Write(websocket.TextMessage, msg)
}

func (w *TickerWorker) OnMessage(ctx context.Context, msg []byte) {
	snap, ok := grvt.ParseTickerFeed(msg)
	if !ok {
		return
	}
	if snap.Market == "" && len(w.markets) == 1 {
		snap.Market = w.markets[0]
	}
	// Freshness is judged on the local clock, like the sampled fallback.
	snap.Ts = quant.FromTime(w.now())
	if w.cache.Publish(snap) {
		w.received.Add(1)
	}
}

func (w *TickerWorker) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteTimeout))
}

func (w *TickerWorker) OnDisconnect(err error) {
	if err != nil {
		slog.Debug("Ticker stream disconnected", slog.Any("err", err))
	}
}
