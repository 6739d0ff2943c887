// Package natsws implements a NATS client carried over an injected
// WebSocket-shaped Transport instead of a raw TCP socket: the wire protocol
// codec, the connection state machine (handshake, read loop, keep-alive,
// reconnect with subscription replay), subscription/request dispatch, and
// (in the jetstream and objstore subpackages) JetStream and an Object Store
// layered on it.
package natsws

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/arlobridge/natsws/pkg/logger"
	"github.com/arlobridge/natsws/pkg/natsws/nerrors"
	"github.com/arlobridge/natsws/pkg/natsws/wire"
	"github.com/arlobridge/natsws/pkg/resilience"
)

var tracer = otel.Tracer("github.com/arlobridge/natsws/pkg/natsws")

// Connection owns one transport session, one parse buffer, one subscription
// registry, one inbox correlator, and the read/keep-alive/reconnect loops
// that drive them. Callers obtain one via Connect and must call Close
// exactly once when done.
type Connection struct {
	opts Options

	status     *statusCell
	writeMu    sync.Mutex // serializes every outbound frame, see §5
	closedOnce sync.Once
	userClosed atomic.Bool

	transport Transport
	buf       wire.Buffer

	subs *subscriptionRegistry
	corr *correlator

	serverInfo atomic.Pointer[ServerInfo]

	outstandingPing atomic.Int32
	flushWaiters    []chan error
	flushMu         sync.Mutex

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// Connect dials opts.URL through opts.Transport, performs the handshake,
// and starts the read and keep-alive loops. The returned Connection is
// Connected on success.
func Connect(ctx context.Context, opts Options) (*Connection, error) {
	opts.applyDefaults()
	if opts.Transport == nil {
		return nil, nerrors.Connection("no Transport configured", nil)
	}

	c := &Connection{
		opts: opts,
	}
	c.subs = newSubscriptionRegistry(func(subject string, r any) {
		c.reportError(nerrors.Connection(fmt.Sprintf("subscription handler panicked on %s: %v", subject, r), nil))
	})
	c.status = newStatusCell(opts.StatusHandler)

	if err := c.connectOnce(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// connectOnce performs one full handshake attempt against a fresh
// transport instance and, on success, (re)starts the background loops. It
// is used both by Connect and by the reconnect loop.
func (c *Connection) connectOnce(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "natsws.connect")
	defer span.End()

	// A reconnect attempt stays Reconnecting until it succeeds.
	failStatus := StatusDisconnected
	if c.status.get() == StatusReconnecting {
		failStatus = StatusReconnecting
	} else {
		c.status.set(StatusConnecting)
	}

	connectCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	transport := c.opts.Transport
	if err := transport.Connect(connectCtx, c.opts.URL); err != nil {
		c.status.set(failStatus)
		return nerrors.Connection("transport connect failed", err)
	}

	c.transport = transport
	c.buf = wire.Buffer{}

	info, err := c.handshake(connectCtx)
	if err != nil {
		_ = transport.Close(ctx)
		c.status.set(failStatus)
		return err
	}
	c.serverInfo.Store(&info)

	corr, err := newCorrelator()
	if err != nil {
		_ = transport.Close(ctx)
		c.status.set(failStatus)
		return err
	}
	c.corr = corr
	if err := c.sendFrame(ctx, wire.SerializeSub(corr.wildcardSubject(), "", c.subs.nextID())); err != nil {
		_ = transport.Close(ctx)
		c.status.set(failStatus)
		return nerrors.Connection("subscribing inbox wildcard", err)
	}

	for _, cmd := range c.subs.resubscribeCommands() {
		if err := c.sendFrame(ctx, cmd); err != nil {
			_ = transport.Close(ctx)
			c.status.set(failStatus)
			return nerrors.Connection("replaying subscriptions", err)
		}
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	c.loopCancel = loopCancel
	c.loopDone = make(chan struct{})
	c.outstandingPing.Store(0)

	go c.readLoop(loopCtx)
	go c.keepAliveLoop(loopCtx)

	c.status.set(StatusConnected)
	return nil
}

// handshake implements §4.5.1: read INFO, invoke Authentication, send
// CONNECT then PING, expect an optional +OK followed by PONG.
func (c *Connection) handshake(ctx context.Context) (ServerInfo, error) {
	info, err := c.readUntilInfo(ctx)
	if err != nil {
		return ServerInfo{}, err
	}

	creds, err := c.opts.Auth.Credentials(ctx, info.Nonce)
	if err != nil {
		return ServerInfo{}, nerrors.Authentication("auth handler failed", err)
	}

	payload := connectPayload(&c.opts, creds)
	if err := c.sendFrame(ctx, wire.SerializeConnect(payload)); err != nil {
		return ServerInfo{}, nerrors.Connection("sending CONNECT", err)
	}
	if err := c.sendFrame(ctx, wire.SerializePing()); err != nil {
		return ServerInfo{}, nerrors.Connection("sending handshake PING", err)
	}

	if err := c.readUntilPong(ctx); err != nil {
		return ServerInfo{}, err
	}
	return info, nil
}

func (c *Connection) readUntilInfo(ctx context.Context) (ServerInfo, error) {
	readBuf := make([]byte, c.opts.ReceiveBufferSize)
	for {
		frame, err := c.buf.TryParse()
		if err == nil {
			if frame.Kind == wire.KindInfo {
				return parseServerInfo(frame.InfoJSON)
			}
			continue // ignore anything else preceding INFO
		}
		if !wire.IsIncomplete(err) {
			return ServerInfo{}, nerrors.Connection("parsing handshake frame", err)
		}
		n, rerr := c.transport.Receive(ctx, readBuf)
		if rerr != nil {
			return ServerInfo{}, nerrors.Connection("reading INFO", rerr)
		}
		if n == 0 {
			return ServerInfo{}, nerrors.Connection("connection closed before INFO", nil)
		}
		c.buf.Append(readBuf[:n])
	}
}

func (c *Connection) readUntilPong(ctx context.Context) error {
	readBuf := make([]byte, c.opts.ReceiveBufferSize)
	for {
		frame, err := c.buf.TryParse()
		if err == nil {
			switch frame.Kind {
			case wire.KindPong:
				return nil
			case wire.KindOK:
				continue
			case wire.KindErr:
				if isAuthFailureText(frame.ErrText) {
					return nerrors.Authentication(frame.ErrText, nil)
				}
				return nerrors.Server(frame.ErrText, nil)
			default:
				continue
			}
		}
		if !wire.IsIncomplete(err) {
			return nerrors.Connection("parsing handshake frame", err)
		}
		n, rerr := c.transport.Receive(ctx, readBuf)
		if rerr != nil {
			return nerrors.Connection("reading handshake reply", rerr)
		}
		if n == 0 {
			return nerrors.Connection("connection closed during handshake", nil)
		}
		c.buf.Append(readBuf[:n])
	}
}

func isAuthFailureText(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "auth")
}

// sendFrame writes p to the transport under the single write mutex so a
// frame's header and payload can never interleave with another goroutine's
// write.
func (c *Connection) sendFrame(ctx context.Context, p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.Send(ctx, p)
}

// readLoop is §4.5.2: own the transport's receive side, drain complete
// frames, route each by kind. It never blocks on user code — a MSG/HMSG
// frame is only enqueued onto its subscription's worker, never handled
// inline.
func (c *Connection) readLoop(ctx context.Context) {
	defer close(c.loopDone)
	readBuf := make([]byte, c.opts.ReceiveBufferSize)

	for {
		for {
			frame, err := c.buf.TryParse()
			if wire.IsIncomplete(err) {
				break
			}
			if err != nil {
				c.reportError(nerrors.Connection("frame decode error", err))
				break
			}
			c.handleFrame(ctx, frame)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := c.transport.Receive(ctx, readBuf)
		if err != nil || n == 0 {
			c.onLinkLost(err)
			return
		}
		c.buf.Append(readBuf[:n])
	}
}

func (c *Connection) handleFrame(ctx context.Context, frame *wire.Frame) {
	switch frame.Kind {
	case wire.KindPing:
		if err := c.sendFrame(ctx, wire.SerializePong()); err != nil {
			c.reportError(nerrors.Connection("sending PONG", err))
		}
	case wire.KindPong:
		c.outstandingPing.Store(0)
		c.resolveOldestFlush(nil)
	case wire.KindOK:
		// ignored
	case wire.KindErr:
		c.reportError(nerrors.Server(frame.ErrText, nil))
	case wire.KindInfo:
		if info, err := parseServerInfo(frame.InfoJSON); err == nil {
			c.serverInfo.Store(&info)
		}
	case wire.KindMsg, wire.KindHMsg:
		c.handleMsg(frame)
	}
}

func (c *Connection) handleMsg(frame *wire.Frame) {
	msg := &Message{Subject: frame.Subject, ReplyTo: frame.ReplyTo, Data: frame.Payload}
	if frame.Kind == wire.KindHMsg {
		h, err := wire.DecodeHeader(frame.HeaderBytes)
		if err != nil {
			c.reportError(nerrors.Connection("decoding message header", err))
			return
		}
		msg.Header = h
	}

	if c.corr.ownsSubject(frame.Subject) {
		c.corr.resolve(frame.Subject, msg)
		return
	}
	c.subs.dispatch(frame.Sid, msg)
}

func (c *Connection) reportError(err error) {
	if c.opts.ErrorHandler != nil {
		c.opts.ErrorHandler(err)
	} else {
		logger.L().Warn("natsws: non-fatal error", "error", err)
	}
}

// onLinkLost implements the tail of §4.5.2: fail everything in flight, and
// either hand off to reconnect or settle as terminally Disconnected.
func (c *Connection) onLinkLost(transportErr error) {
	lost := nerrors.Connection("connection lost", transportErr)
	c.corr.failAll(lost)
	c.resolveAllFlush(lost)
	if c.loopCancel != nil {
		c.loopCancel() // stop this session's keep-alive loop
	}

	if c.userClosed.Load() {
		return // Close already set the terminal Closed status
	}
	if !c.opts.AllowReconnect {
		c.status.set(StatusDisconnected)
		return
	}

	c.status.set(StatusReconnecting)
	go c.reconnectLoop()
}

// reconnectLoop is §4.5.4: exponential backoff with jitter, bounded by
// MaxReconnectAttempt (-1 = unlimited), replaying the handshake and every
// active subscription on each attempt.
func (c *Connection) reconnectLoop() {
	cfg := resilience.RetryConfig{
		MaxAttempts:    c.opts.MaxReconnectAttempt,
		InitialBackoff: c.opts.ReconnectDelay,
		MaxBackoff:     c.opts.MaxReconnectDelay,
		Multiplier:     2,
		Jitter:         c.opts.ReconnectJitter,
	}

	err := resilience.Retry(context.Background(), cfg, func(ctx context.Context) error {
		if c.userClosed.Load() {
			return nil
		}
		return c.connectOnce(ctx)
	})

	if err != nil && !c.userClosed.Load() {
		c.status.set(StatusDisconnected)
	}
}

// Publish sends a PUB (or HPUB, if header is non-nil) frame.
func (c *Connection) Publish(ctx context.Context, subject string, header *wire.Header, payload []byte) error {
	if c.status.get() != StatusConnected {
		return nerrors.Connection("publish while not connected", nil)
	}
	return c.publish(ctx, subject, "", header, payload)
}

func (c *Connection) publish(ctx context.Context, subject, reply string, header *wire.Header, payload []byte) error {
	var frame []byte
	if header != nil {
		frame = wire.SerializeHPub(subject, reply, header.Encode(), payload)
	} else {
		frame = wire.SerializePub(subject, reply, payload)
	}
	return c.sendFrame(ctx, frame)
}

// Subscribe registers h to receive messages on subject (optionally within
// queue group queue) and sends the SUB frame.
func (c *Connection) Subscribe(ctx context.Context, subject, queue string, h Handler) (string, error) {
	sub := c.subs.add(subject, queue, h)
	if err := c.sendFrame(ctx, wire.SerializeSub(subject, queue, sub.sid)); err != nil {
		c.subs.remove(sub.sid)
		return "", nerrors.Connection("sending SUB", err)
	}
	return sub.sid, nil
}

// Unsubscribe removes sid and sends UNSUB. max, if > 0, auto-unsubscribes
// after that many more deliveries instead of immediately.
func (c *Connection) Unsubscribe(ctx context.Context, sid string, max int) error {
	if max <= 0 {
		c.subs.remove(sid)
	}
	return c.sendFrame(ctx, wire.SerializeUnsub(sid, max))
}

// Request implements §4.5.5: publish with a reserved inbox reply subject,
// await the correlator's promise under opts.RequestTimeout (or ctx, if it
// carries an earlier deadline).
func (c *Connection) Request(ctx context.Context, subject string, header *wire.Header, payload []byte) (*Message, error) {
	if c.status.get() != StatusConnected {
		return nil, nerrors.Connection("request while not connected", nil)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	reply, pr := c.corr.reserve()
	defer c.corr.release(reply)

	if err := c.publish(reqCtx, subject, reply, header, payload); err != nil {
		return nil, nerrors.Connection("sending request", err)
	}

	msg, err := pr.await(reqCtx)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, nerrors.RequestTimeout(subject)
		}
		return nil, err
	}
	return msg, nil
}

// Flush implements §4.5.6: send PING, await the oldest-resolved flush
// promise, which every inbound PONG resolves in FIFO order.
func (c *Connection) Flush(ctx context.Context) error {
	waiter := make(chan error, 1)
	c.flushMu.Lock()
	c.flushWaiters = append(c.flushWaiters, waiter)
	c.flushMu.Unlock()

	if err := c.sendFrame(ctx, wire.SerializePing()); err != nil {
		return nerrors.Connection("sending flush PING", err)
	}

	select {
	case err := <-waiter:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) resolveOldestFlush(err error) {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	if len(c.flushWaiters) == 0 {
		return
	}
	w := c.flushWaiters[0]
	c.flushWaiters = c.flushWaiters[1:]
	w <- err
}

func (c *Connection) resolveAllFlush(err error) {
	c.flushMu.Lock()
	waiters := c.flushWaiters
	c.flushWaiters = nil
	c.flushMu.Unlock()
	for _, w := range waiters {
		w <- err
	}
}

// keepAliveLoop is §4.5.3: send PING at opts.PingInterval, count unanswered
// pings, force-close the transport past MaxPingOut so the read loop
// observes EOF and triggers reconnect.
func (c *Connection) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.outstandingPing.Add(1) > int32(c.opts.MaxPingOut) {
				logger.L().Warn("natsws: keep-alive exceeded max outstanding pings, forcing reconnect")
				_ = c.transport.Close(ctx)
				return
			}
			if err := c.sendFrame(ctx, wire.SerializePing()); err != nil {
				c.reportError(nerrors.Connection("sending keep-alive PING", err))
			}
		}
	}
}

// Status returns the connection's current lifecycle state.
func (c *Connection) Status() Status { return c.status.get() }

// ServerInfo returns the most recently observed server INFO.
func (c *Connection) ServerInfo() ServerInfo {
	if p := c.serverInfo.Load(); p != nil {
		return *p
	}
	return ServerInfo{}
}

// Close marks the connection user-closed (suppressing reconnect) and tears
// down the transport and background loops. It is a synchronous last resort
// per §5: it does not await the loops' own shutdown.
func (c *Connection) Close(ctx context.Context) error {
	var closeErr error
	c.closedOnce.Do(func() {
		c.userClosed.Store(true)
		c.status.set(StatusClosed)
		if c.loopCancel != nil {
			c.loopCancel()
		}
		if c.transport != nil {
			closeErr = c.transport.Close(ctx)
		}
		lost := nerrors.Connection("connection closed", nil)
		if c.corr != nil {
			c.corr.failAll(lost)
		}
		if c.subs != nil {
			c.subs.closeAll()
		}
		c.resolveAllFlush(lost)
	})
	return closeErr
}
