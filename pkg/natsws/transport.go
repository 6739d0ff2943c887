package natsws

import "context"

// Transport is the external collaborator that carries the connection's byte
// stream. The NATS layer never knows it's WebSocket underneath: it treats
// whatever Receive hands back as the next slice of an opaque, ordered byte
// stream and leaves TLS, framing, and reconnection-at-the-socket-level
// entirely to the implementation.
//
// Send is only ever called while the connection's write mutex is held, so
// implementations do not need to support concurrent Send calls — but Receive
// runs concurrently with Send and must be safe for that.
//
// The default implementation lives in pkg/natsws/wstransport, built on
// gorilla/websocket; embedders that need a different socket layer (a test
// double, a different WS client, a Unix socket for local testing) implement
// this interface directly.
type Transport interface {
	// Connect dials uri and blocks until the transport is ready to Send and
	// Receive, or ctx is done.
	Connect(ctx context.Context, uri string) error

	// Receive reads the next chunk of the byte stream into buf and returns
	// the number of bytes written. A return of (0, nil) signals an orderly
	// close of the underlying connection.
	Receive(ctx context.Context, buf []byte) (int, error)

	// Send writes p in full. Callers serialize calls to Send via the
	// connection's write mutex; Send itself does not need to be reentrant.
	Send(ctx context.Context, p []byte) error

	// Close tears down the transport. It is safe to call more than once.
	Close(ctx context.Context) error

	// IsConnected reports the transport's last known connectedness. It is a
	// best-effort hint used for status reporting, not a synchronization
	// primitive.
	IsConnected() bool
}

// Authentication is the external collaborator that supplies credential
// fields for the CONNECT frame. Given the server's optional nonce (present
// only when the server requires nkey/JWT signing), it returns whichever
// subset of fields applies to the configured credential scheme.
//
// The signature, when present, is the Ed25519 signature of the nonce bytes
// under the holder's seed, base64url-encoded without padding — computing it
// is this collaborator's job, not the connection core's.
//
// The default implementation lives in pkg/natsws/nkeyauth, built on
// nats-io/nkeys.
type Authentication interface {
	// Credentials returns the CONNECT fields to send. nonce is nil when the
	// server's INFO frame carried no "nonce" field.
	Credentials(ctx context.Context, nonce []byte) (Credentials, error)
}

// Credentials is the subset of CONNECT fields an Authentication collaborator
// may populate. Zero-value fields are omitted from the CONNECT JSON.
type Credentials struct {
	JWT       string
	Signature string // base64url, no padding
	AuthToken string
	User      string
	Pass      string
	NKey      string
}

// NoAuth is the zero-credential Authentication that Connect uses when
// Options.Auth is nil.
type NoAuth struct{}

// Credentials returns an empty Credentials value unconditionally.
func (NoAuth) Credentials(context.Context, []byte) (Credentials, error) {
	return Credentials{}, nil
}
