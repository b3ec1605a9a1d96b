package rtms

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const testTimeout = 2 * time.Second

// peer is a scripted remote endpoint.
type peer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newPeer(t *testing.T) *peer {
	t.Helper()
	p := &peer{conns: make(chan *websocket.Conn, 1)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.conns <- c
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *peer) url() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http")
}

func (p *peer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-p.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(testTimeout):
		t.Fatal("no client connection")
		return nil
	}
}

func readJSON(t *testing.T, c *websocket.Conn) map[string]interface{} {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(testTimeout))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("peer got non-JSON %q: %v", data, err)
	}
	return m
}

func sendJSON(t *testing.T, c *websocket.Conn, v interface{}) {
	t.Helper()
	if err := c.WriteJSON(v); err != nil {
		t.Fatalf("peer write: %v", err)
	}
}

func sendRaw(t *testing.T, c *websocket.Conn, s string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(s)); err != nil {
		t.Fatalf("peer write: %v", err)
	}
}

func msgType(m map[string]interface{}) int {
	f, _ := m["msg_type"].(float64)
	return int(f)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func expectErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(testTimeout):
		t.Fatal("no error reported")
		return nil
	}
}

func expectNoErr(t *testing.T, ch <-chan error) {
	t.Helper()
	select {
	case err := <-ch:
		t.Fatalf("unexpected error reported: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}
