package infra

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockHandler implements WebSocketHandler for testing
type mockHandler struct {
	url            string
	header         http.Header
	onConnectCalls int32
	onMessageCalls int32
	disconnects    int32

	mu       sync.Mutex
	messages [][]byte
}

func (m *mockHandler) GetURL() string { return m.url }
func (m *mockHandler) ID() string     { return "MOCK" }
func (m *mockHandler) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	atomic.AddInt32(&m.onConnectCalls, 1)
	return nil
}
func (m *mockHandler) OnMessage(ctx context.Context, msg []byte) {
	atomic.AddInt32(&m.onMessageCalls, 1)
	m.mu.Lock()
	m.messages = append(m.messages, msg)
	m.mu.Unlock()
}
func (m *mockHandler) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return nil
}
func (m *mockHandler) Header() http.Header { return m.header }
func (m *mockHandler) OnDisconnect(error)  { atomic.AddInt32(&m.disconnects, 1) }

// createMockWSServer creates a test WebSocket server
func createMockWSServer(t *testing.T, handler func(*http.Request, *websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(r, conn)
	}))
}

// httpToWS converts http:// URL to ws://
func httpToWS(url string) string {
	return strings.Replace(url, "http://", "ws://", 1)
}

func TestBaseWSWorker_Connect(t *testing.T) {
	server := createMockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"test"}`))
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	handler := &mockHandler{url: httpToWS(server.URL)}
	worker := NewBaseWSWorker(handler)
	worker.ReadTimeout = 500 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	worker.Start(ctx)
	time.Sleep(200 * time.Millisecond)
	worker.Stop()

	if atomic.LoadInt32(&handler.onConnectCalls) == 0 {
		t.Error("OnConnect was not called")
	}
	if atomic.LoadInt32(&handler.onMessageCalls) == 0 {
		t.Error("OnMessage was not called")
	}
}

func TestBaseWSWorker_SendsHandlerHeaders(t *testing.T) {
	gotCookie := make(chan string, 1)
	server := createMockWSServer(t, func(r *http.Request, conn *websocket.Conn) {
		gotCookie <- r.Header.Get("Cookie")
		time.Sleep(50 * time.Millisecond)
	})
	defer server.Close()

	h := &mockHandler{url: httpToWS(server.URL), header: http.Header{"Cookie": {"gravity=abc"}}}
	worker := NewBaseWSWorker(h)
	worker.Start(context.Background())
	defer worker.Stop()

	select {
	case c := <-gotCookie:
		if c != "gravity=abc" {
			t.Errorf("cookie = %q", c)
		}
	case <-time.After(time.Second):
		t.Fatal("server never saw the handshake")
	}
}

func TestBaseWSWorker_ReconnectsAndNotifies(t *testing.T) {
	var conns int32
	server := createMockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		atomic.AddInt32(&conns, 1)
		// close immediately to force a reconnect
	})
	defer server.Close()

	h := &mockHandler{url: httpToWS(server.URL)}
	worker := NewBaseWSWorker(h)
	worker.Backoff = func(int) time.Duration { return 10 * time.Millisecond }
	worker.Start(context.Background())
	time.Sleep(300 * time.Millisecond)
	worker.Stop()

	if atomic.LoadInt32(&conns) < 2 {
		t.Errorf("expected reconnects, got %d connections", conns)
	}
	if atomic.LoadInt32(&h.disconnects) == 0 {
		t.Error("OnDisconnect was not called")
	}
	if worker.Connected() {
		t.Error("worker should report disconnected after Stop")
	}
}

func TestBaseWSWorker_GracefulShutdown(t *testing.T) {
	serverClosed := make(chan struct{})
	server := createMockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		<-serverClosed
	})
	defer server.Close()
	defer close(serverClosed)

	handler := &mockHandler{url: httpToWS(server.URL)}
	worker := NewBaseWSWorker(handler)
	worker.PingInterval = 20 * time.Millisecond

	worker.Start(context.Background())
	time.Sleep(100 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		worker.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Stop did not return within timeout")
	}
}

func TestBaseWSWorker_Write(t *testing.T) {
	receivedMsg := make(chan []byte, 1)

	server := createMockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err == nil {
			receivedMsg <- msg
		}
		time.Sleep(100 * time.Millisecond)
	})
	defer server.Close()

	handler := &mockHandler{url: httpToWS(server.URL)}
	worker := NewBaseWSWorker(handler)

	worker.Start(context.Background())
	time.Sleep(100 * time.Millisecond)

	testMsg := []byte(`{"method":"subscribe"}`)
	if err := worker.Write(websocket.TextMessage, testMsg); err != nil {
		t.Errorf("Write failed: %v", err)
	}

	select {
	case msg := <-receivedMsg:
		if string(msg) != string(testMsg) {
			t.Errorf("expected %s, got %s", testMsg, msg)
		}
	case <-time.After(1 * time.Second):
		t.Error("server did not receive message")
	}

	worker.Stop()
}
