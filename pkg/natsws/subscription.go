package natsws

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/arlobridge/natsws/pkg/concurrency"
	"github.com/arlobridge/natsws/pkg/natsws/wire"
)

// Message is the value handed to a subscription handler and returned from a
// request.
type Message struct {
	Subject string
	ReplyTo string
	Header  *wire.Header // nil when the frame carried no header block
	Data    []byte
}

// Handler processes one inbound message. It runs on its own worker task, not
// on the read loop, and a panic inside it never tears down the connection.
type Handler func(*Message)

// subscription owns a per-sid, single-worker FIFO: dispatch appends to
// pending and pings wake, and the one worker goroutine started in add()
// drains pending strictly in append order. That single drainer is what
// gives "handler invocations are totally ordered" for this sid, instead of
// the ordering of goroutine spawns, which the Go scheduler never guarantees.
// pending grows without a cap, matching the "no backpressure beyond the
// transport" rule: dispatch (called from the read loop) never blocks on a
// slow handler.
type subscription struct {
	sid     string
	subject string
	queue   string
	handler Handler
	active  atomic.Bool

	mu      sync.Mutex
	pending []*Message
	wake    chan struct{}
	done    chan struct{}
}

func newSubscription(sid, subject, queue string, h Handler) *subscription {
	return &subscription{
		sid:     sid,
		subject: subject,
		queue:   queue,
		handler: h,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// enqueue appends msg to the pending queue and wakes the worker. Called
// synchronously from dispatch, so enqueue order matches the read loop's
// parse order.
func (sub *subscription) enqueue(msg *Message) {
	sub.mu.Lock()
	sub.pending = append(sub.pending, msg)
	sub.mu.Unlock()
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

// run drains pending in FIFO order until stop() closes done. It is the
// subscription's sole handler-invoking goroutine.
func (sub *subscription) run(onPanic func(subject string, r any)) {
	for {
		sub.mu.Lock()
		var msg *Message
		if len(sub.pending) > 0 {
			msg = sub.pending[0]
			sub.pending[0] = nil
			sub.pending = sub.pending[1:]
		}
		sub.mu.Unlock()

		if msg != nil {
			sub.invoke(msg, onPanic)
			continue
		}

		select {
		case <-sub.wake:
		case <-sub.done:
			return
		}
	}
}

func (sub *subscription) invoke(msg *Message, onPanic func(subject string, r any)) {
	defer func() {
		if rec := recover(); rec != nil && onPanic != nil {
			onPanic(sub.subject, rec)
		}
	}()
	sub.handler(msg)
}

// stop signals the worker goroutine to exit. Whatever is still in pending
// at that point is abandoned; remove() is only called once the caller no
// longer wants further deliveries.
func (sub *subscription) stop() {
	close(sub.done)
}

// subscriptionRegistry is the concurrent sid -> subscription mapping
// described for THE CORE's subscription-dispatch subsystem. next_sid is a
// simple monotonic counter reset at the start of every connection instance
// (sids only need to be unique within one connection's lifetime).
type subscriptionRegistry struct {
	bySid   *concurrency.ShardedMapString[*subscription]
	nextSid atomic.Int64
	onPanic func(subject string, r any)
}

// newSubscriptionRegistry builds a registry whose subscriptions report
// handler panics through onPanic instead of letting them escape the
// per-subscription worker goroutine.
func newSubscriptionRegistry(onPanic func(subject string, r any)) *subscriptionRegistry {
	return &subscriptionRegistry{
		bySid:   concurrency.NewShardedMapString[*subscription](),
		onPanic: onPanic,
	}
}

func (r *subscriptionRegistry) nextID() string {
	return strconv.FormatInt(r.nextSid.Add(1), 10)
}

// add allocates a sid, stores active subscription state, and starts the
// subscription's single drain worker.
func (r *subscriptionRegistry) add(subject, queue string, h Handler) *subscription {
	sub := newSubscription(r.nextID(), subject, queue, h)
	sub.active.Store(true)
	r.bySid.Set(sub.sid, sub)
	go sub.run(r.onPanic)
	return sub
}

// remove atomically deactivates and deletes sid and stops its drain worker.
// Double-remove is a no-op.
func (r *subscriptionRegistry) remove(sid string) {
	if sub, ok := r.bySid.Get(sid); ok {
		sub.active.Store(false)
		r.bySid.Delete(sid)
		sub.stop()
	}
}

// dispatch routes a MSG/HMSG frame to the matching active subscription's
// queue. The append happens synchronously on the read loop's own goroutine,
// so two frames for the same sid land on the queue in the order the read
// loop parsed them; the subscription's single worker goroutine then runs
// their handlers in that same order, off the read loop.
func (r *subscriptionRegistry) dispatch(sid string, msg *Message) {
	sub, ok := r.bySid.Get(sid)
	if !ok || !sub.active.Load() {
		return
	}
	sub.enqueue(msg)
}

// closeAll stops every subscription's drain worker, used when the
// connection itself is closing for good.
func (r *subscriptionRegistry) closeAll() {
	r.bySid.Range(func(_ string, sub *subscription) bool {
		sub.stop()
		return true
	})
}

// resubscribeCommands returns serialized SUB bytes for every active
// subscription, for replay immediately after a reconnect handshake
// completes, preserving each entry's original sid.
func (r *subscriptionRegistry) resubscribeCommands() [][]byte {
	var cmds [][]byte
	r.bySid.Range(func(_ string, sub *subscription) bool {
		if sub.active.Load() {
			cmds = append(cmds, wire.SerializeSub(sub.subject, sub.queue, sub.sid))
		}
		return true
	})
	return cmds
}
