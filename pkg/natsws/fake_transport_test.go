package natsws

import (
	"bytes"
	"context"
	"sync"
)

// fakeTransport is an in-memory Transport double driven directly from
// tests: Script queues bytes for Receive to hand back, and Written records
// every byte slice handed to Send so a test can assert on the exact wire
// form the connection core produced.
type fakeTransport struct {
	mu      sync.Mutex
	inbound chan []byte
	written [][]byte
	closed  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan []byte, 64)}
}

func (t *fakeTransport) Connect(ctx context.Context, uri string) error { return nil }

func (t *fakeTransport) Receive(ctx context.Context, buf []byte) (int, error) {
	select {
	case chunk, ok := <-t.inbound:
		if !ok || chunk == nil {
			return 0, nil
		}
		n := copy(buf, chunk)
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (t *fakeTransport) Send(ctx context.Context, p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := append([]byte(nil), p...)
	t.written = append(t.written, cp)
	return nil
}

func (t *fakeTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.inbound)
	}
	return nil
}

func (t *fakeTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// feed pushes bytes for the next Receive calls to return.
func (t *fakeTransport) feed(b []byte) {
	t.inbound <- b
}

// simulateDrop makes the next Receive return (0, nil), the same orderly-EOF
// signal a real dropped link produces, without closing inbound outright so
// a later feed can supply a reconnect's handshake bytes on this same
// transport instance.
func (t *fakeTransport) simulateDrop() {
	t.inbound <- nil
}

func (t *fakeTransport) lastWritten() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.written) == 0 {
		return nil
	}
	return t.written[len(t.written)-1]
}

func (t *fakeTransport) allWritten() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []byte
	for _, w := range t.written {
		out = append(out, w...)
	}
	return out
}

func (t *fakeTransport) writeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.written)
}

func containsWrite(t *fakeTransport, want []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, w := range t.written {
		if bytes.Contains(w, want) {
			return true
		}
	}
	return false
}

// writeCountContaining counts how many separate Send calls carried want,
// used to tell an original SUB apart from its post-reconnect replay.
func writeCountContaining(t *fakeTransport, want []byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, w := range t.written {
		if bytes.Contains(w, want) {
			n++
		}
	}
	return n
}
