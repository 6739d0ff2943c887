// Package wstransport is the default natsws.Transport, dialing the server
// with gorilla/websocket. It adapts the client (dialer) side of the same
// read/write-pump split the teacher hub uses on the server side: one
// goroutine-free Receive reading whole WebSocket messages, one Send that
// relies on the caller's write mutex for serialization, and a Close that is
// safe to call more than once.
package wstransport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arlobridge/natsws/pkg/logger"
)

// Config tunes the dialer. A zero Config is usable — all fields fall back
// to gorilla/websocket's own defaults.
type Config struct {
	HandshakeTimeout time.Duration
	ReadLimit        int64
}

// Transport implements natsws.Transport over a single *websocket.Conn.
type Transport struct {
	cfg Config

	mu        sync.Mutex // guards conn and pending
	conn      *websocket.Conn
	connected atomic.Bool

	// pending carries the unread remainder of a WS message that didn't fit
	// in the caller's Receive buffer in one call, since gorilla/websocket
	// hands back whole messages, not a byte stream.
	pending []byte
}

// New returns a Transport ready to Connect.
func New(cfg Config) *Transport {
	return &Transport{cfg: cfg}
}

// Connect dials uri, which must be a ws:// or wss:// URL.
func (t *Transport) Connect(ctx context.Context, uri string) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, uri, nil)
	if err != nil {
		return err
	}
	if t.cfg.ReadLimit > 0 {
		conn.SetReadLimit(t.cfg.ReadLimit)
	}

	t.mu.Lock()
	t.conn = conn
	t.pending = nil
	t.mu.Unlock()
	t.connected.Store(true)
	return nil
}

// Receive reads the next chunk of the underlying message stream into buf.
// Binary and text frames are both accepted and treated as opaque bytes;
// anything left over from a message larger than buf is served from pending
// on the next call before a new ReadMessage is issued.
func (t *Transport) Receive(ctx context.Context, buf []byte) (int, error) {
	t.mu.Lock()
	conn := t.conn
	if len(t.pending) > 0 {
		n := copy(buf, t.pending)
		t.pending = t.pending[n:]
		t.mu.Unlock()
		return n, nil
	}
	t.mu.Unlock()

	if conn == nil {
		return 0, nil
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.connected.Store(false)
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return 0, nil
		}
		return 0, err
	}

	n := copy(buf, data)
	if n < len(data) {
		t.mu.Lock()
		t.pending = data[n:]
		t.mu.Unlock()
	}
	return n, nil
}

// Send writes p as a single binary WebSocket message. gorilla/websocket's
// Conn is not concurrency-safe for writes, and Send takes no lock around the
// write itself: callers serialize calls via the connection core's write
// mutex. The internal mutex is held only while reading the current conn.
func (t *Transport) Send(ctx context.Context, p []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	}
	return conn.WriteMessage(websocket.BinaryMessage, p)
}

// Close closes the underlying connection. Safe to call more than once.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	t.connected.Store(false)
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		logger.L().Warn("wstransport: error closing connection", "error", err)
		return err
	}
	return nil
}

// IsConnected reports the last known connectedness.
func (t *Transport) IsConnected() bool {
	return t.connected.Load()
}
