package natsws

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nuid"

	"github.com/arlobridge/natsws/pkg/concurrency"
	"github.com/arlobridge/natsws/pkg/natsws/nerrors"
)

// pendingRequest is a promise resolved exactly once, either with a reply
// message or an error, by whichever of the read loop or the timeout/cancel
// path gets there first.
type pendingRequest struct {
	resultCh chan requestResult
}

type requestResult struct {
	msg *Message
	err error
}

// correlator owns the per-connection inbox: a fresh `_INBOX.<nuid>.` prefix
// chosen on every successful (re)connect, a single wildcard subscription to
// it, and the reply-subject -> pendingRequest table. It sits in front of the
// subscription registry in the read loop's MSG/HMSG dispatch: a frame whose
// subject falls under the current prefix is a reply, never a subscription
// deliver.
type correlator struct {
	prefix  string
	counter atomic.Int64
	pending *concurrency.ShardedMapString[*pendingRequest]
}

func newCorrelator() (*correlator, error) {
	return &correlator{
		prefix:  "_INBOX." + nuid.Next() + ".",
		pending: concurrency.NewShardedMapString[*pendingRequest](),
	}, nil
}

// wildcardSubject is the subject the connection core subscribes to so that
// every reply under this inbox reaches the read loop.
func (c *correlator) wildcardSubject() string { return c.prefix + "*" }

// reserve allocates a fresh reply subject and registers a pending promise
// for it.
func (c *correlator) reserve() (string, *pendingRequest) {
	subject := fmt.Sprintf("%s%d", c.prefix, c.counter.Add(1))
	pr := &pendingRequest{resultCh: make(chan requestResult, 1)}
	c.pending.Set(subject, pr)
	return subject, pr
}

func (c *correlator) release(subject string) {
	c.pending.Delete(subject)
}

// ownsSubject reports whether subject falls under this inbox's prefix, i.e.
// whether the read loop should treat an inbound frame as a reply rather than
// handing it to the subscription registry.
func (c *correlator) ownsSubject(subject string) bool {
	return len(subject) > len(c.prefix) && subject[:len(c.prefix)] == c.prefix
}

// resolve delivers msg to the pending request registered for its subject,
// if any, and removes the entry. A 503 status header resolves the promise
// with a No-Responders error instead of the raw message.
func (c *correlator) resolve(subject string, msg *Message) {
	pr, ok := c.pending.Get(subject)
	if !ok {
		return
	}
	c.pending.Delete(subject)

	if msg.Header != nil && msg.Header.IsNoResponders() {
		pr.resultCh <- requestResult{err: nerrors.NoResponders(subject)}
		return
	}
	pr.resultCh <- requestResult{msg: msg}
}

// failAll fails every currently pending request with err — used when the
// link drops (connection-lost) and before a reconnect installs a fresh
// inbox.
func (c *correlator) failAll(err error) {
	var subjects []string
	c.pending.Range(func(subject string, _ *pendingRequest) bool {
		subjects = append(subjects, subject)
		return true
	})
	for _, subject := range subjects {
		if pr, ok := c.pending.Get(subject); ok {
			c.pending.Delete(subject)
			pr.resultCh <- requestResult{err: err}
		}
	}
}

// await blocks until pr resolves, ctx is done, or the connection fails pr
// out from under the caller.
func (pr *pendingRequest) await(ctx context.Context) (*Message, error) {
	select {
	case res := <-pr.resultCh:
		return res.msg, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
