package infra

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketHandler holds the stream-specific logic driven by BaseWSWorker.
type WebSocketHandler interface {
	GetURL() string
	OnConnect(ctx context.Context, conn *websocket.Conn) error
	OnMessage(ctx context.Context, msg []byte)
	OnPing(ctx context.Context, conn *websocket.Conn) error
	ID() string
}

// HeaderProvider is implemented by handlers that authenticate the handshake,
// e.g. with a session cookie.
type HeaderProvider interface {
	Header() http.Header
}

// DisconnectNotifier is implemented by handlers that track link health.
type DisconnectNotifier interface {
	OnDisconnect(err error)
}

// BaseWSWorker manages the lifecycle of a WebSocket connection.
// It handles reconnection with backoff, read timeouts, and thread-safe writes.
type BaseWSWorker struct {
	handler   WebSocketHandler
	mu        sync.RWMutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	connected atomic.Bool

	ReadTimeout      time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	Backoff          func(retry int) time.Duration
}

// NewBaseWSWorker creates a new generic WebSocket worker.
func NewBaseWSWorker(handler WebSocketHandler) *BaseWSWorker {
	return &BaseWSWorker{
		handler:          handler,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		Backoff:          CalculateBackoff,
	}
}

// Start initiates the connection loop.
func (w *BaseWSWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.runLoop(ctx)
}

// Stop terminates the worker and waits for its goroutines.
func (w *BaseWSWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.close()
	w.wg.Wait()
}

// Connected reports whether a connection is currently established.
func (w *BaseWSWorker) Connected() bool { return w.connected.Load() }

func (w *BaseWSWorker) runLoop(ctx context.Context) {
	defer w.wg.Done()
	retry := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("WS Connection failed",
				slog.String("id", w.handler.ID()),
				slog.Any("err", err),
				slog.Int("retry", retry))
			w.notifyDisconnect(err)
			delay := w.Backoff(retry)
			retry++

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retry = 0
		err := w.process(ctx)
		w.notifyDisconnect(err)
	}
}

func (w *BaseWSWorker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: w.HandshakeTimeout}
	header := make(http.Header)
	header.Set("User-Agent", GetUserAgent())
	if hp, ok := w.handler.(HeaderProvider); ok {
		for k, vs := range hp.Header() {
			for _, v := range vs {
				header.Add(k, v)
			}
		}
	}

	conn, resp, err := dialer.DialContext(ctx, w.handler.GetURL(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	if err := w.handler.OnConnect(ctx, conn); err != nil {
		w.close()
		return fmt.Errorf("OnConnect failed: %w", err)
	}
	w.connected.Store(true)

	if w.PingInterval > 0 {
		w.wg.Add(1)
		go w.pingLoop(ctx, conn)
	}

	slog.Info("WS Connected", slog.String("id", w.handler.ID()))
	return nil
}

func (w *BaseWSWorker) process(ctx context.Context) error {
	for {
		w.mu.RLock()
		c := w.conn
		w.mu.RUnlock()
		if c == nil {
			return fmt.Errorf("connection closed")
		}

		c.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("WS Read error", slog.String("id", w.handler.ID()), slog.Any("err", err))
			}
			w.close()
			return err
		}

		w.handler.OnMessage(ctx, msg)
	}
}

// pingLoop serves a single connection and exits once it is replaced.
func (w *BaseWSWorker) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.RLock()
			current := w.conn
			w.mu.RUnlock()
			if current != conn {
				return
			}
			w.writeMu.Lock()
			err := w.handler.OnPing(ctx, conn)
			w.writeMu.Unlock()
			if err != nil {
				slog.Warn("WS Ping error", slog.String("id", w.handler.ID()), slog.Any("err", err))
				w.close()
				return
			}
		}
	}
}

// Write sends one message on the current connection.
func (w *BaseWSWorker) Write(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	c := w.conn
	w.mu.RUnlock()

	if c == nil {
		return fmt.Errorf("ws not connected")
	}
	return c.WriteMessage(msgType, data)
}

func (w *BaseWSWorker) notifyDisconnect(err error) {
	w.connected.Store(false)
	if dn, ok := w.handler.(DisconnectNotifier); ok {
		dn.OnDisconnect(err)
	}
}

func (w *BaseWSWorker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}
