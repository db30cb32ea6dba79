package feed

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumaoDoggie/grvt-trading-tool/internal/confirm"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/domain"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/gateway/grvt"
	"github.com/lumaoDoggie/grvt-trading-tool/internal/infra"
)

// OrderWorker subscribes to one account's v1.order stream and republishes
// updates of the traded market into the hub.
type OrderWorker struct {
	base    *infra.BaseWSWorker
	url     string
	account domain.AccountID
	session grvt.SessionProvider
	market  string
	hub     *confirm.Hub
}

// NewOrderWorker builds the order stream of account.
func NewOrderWorker(url string, account domain.AccountID, session grvt.SessionProvider, market string, hub *confirm.Hub) *OrderWorker {
	w := &OrderWorker{
		url:     url,
		account: account,
		session: session,
		market:  market,
		hub:     hub,
	}
	w.base = infra.NewBaseWSWorker(w)
	w.base.ReadTimeout = 60 * time.Second
	w.base.PingInterval = 20 * time.Second
	return w
}

func (w *OrderWorker) ID() string     { return "GRVT_ORDERS_" + string(w.account) }
func (w *OrderWorker) GetURL() string { return w.url }

// Connect starts the reconnecting read loop.
func (w *OrderWorker) Connect(ctx context.Context) error {
	w.base.Start(ctx)
	return nil
}

// Disconnect stops the worker and marks the stream down.
func (w *OrderWorker) Disconnect() {
	w.base.Stop()
	w.hub.SetConnected(w.account, false)
}

// Header authenticates the handshake with the account's session cookie.
func (w *OrderWorker) Header() http.Header {
	h := make(http.Header)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := w.session.Session(ctx)
	if err != nil {
		slog.Warn("Order stream has no session", slog.String("account", string(w.account)), slog.Any("err", err))
		return h
	}
	h.Set("Cookie", "gravity="+sess.Cookie)
	h.Set("X-Grvt-Account-Id", sess.AccountID)
	return h
}

func (w *OrderWorker) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	sess, err := w.session.Session(ctx)
	if err != nil {
		return domain.NewError(domain.KindAuthExpired, "order stream", err)
	}
	msg, err := grvt.SubscribeMessage(grvt.StreamOrder, grvt.OrderSelectors(sess.SubAccountID, w.market), 1)
	if err != nil {
		return err
	}
	if err := w.base.Write(websocket.TextMessage, msg); err != nil {
		return err
	}
	w.hub.SetConnected(w.account, true)
	return nil
}

func (w *OrderWorker) OnMessage(ctx context.Context, msg []byte) {
	o, ok := grvt.ParseOrderFeed(msg)
	if !ok {
		return
	}
	if o.Market == "" {
		o.Market = w.market
	}
	if w.market != "" && !grvt.EqualMarket(o.Market, w.market) {
		return
	}
	w.hub.Publish(w.account, o)
}

func (w *OrderWorker) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteTimeout))
}

func (w *OrderWorker) OnDisconnect(err error) {
	w.hub.SetConnected(w.account, false)
}
