// Package jetstream is a thin request/reply façade over the $JS.API subject
// tree: stream lifecycle, publish/publish-ack, and direct-get. It holds no
// state beyond the connection it was built from and the API prefix.
package jetstream

import (
	"context"
	"fmt"

	"github.com/arlobridge/natsws/pkg/natsws"
	"github.com/arlobridge/natsws/pkg/natsws/nerrors"
	"github.com/arlobridge/natsws/pkg/natsws/njson"
	"github.com/arlobridge/natsws/pkg/natsws/wire"
)

// requester is the slice of *natsws.Connection this package depends on,
// named as an interface so the context can be exercised against a fake in
// tests without standing up a real transport.
type requester interface {
	Request(ctx context.Context, subject string, header *wire.Header, payload []byte) (*natsws.Message, error)
	Publish(ctx context.Context, subject string, header *wire.Header, payload []byte) error
}

// Context is a JetStream API handle bound to one connection and optional
// account domain.
type Context struct {
	conn   requester
	prefix string // "$JS.API" or "$JS.<domain>.API"
}

// New builds a Context over conn. domain, if non-empty, selects a
// domain-qualified API prefix instead of the default account-local one.
func New(conn requester, domain string) *Context {
	prefix := "$JS.API"
	if domain != "" {
		prefix = "$JS." + domain + ".API"
	}
	return &Context{conn: conn, prefix: prefix}
}

func (c *Context) subj(parts ...string) string {
	out := c.prefix
	for _, p := range parts {
		out += "." + p
	}
	return out
}

// apiError is the shape of the "error" object the $JS.API replies carry on
// failure: {code, description, err_code}.
type apiError struct {
	Code        int
	Description string
	ErrCode     int
}

func parseAPIError(v *njson.Value) *apiError {
	errVal := v.Get("error")
	if errVal.IsNull() {
		return nil
	}
	return &apiError{
		Code:        int(errVal.Get("code").Int64()),
		Description: errVal.Get("description").String(),
		ErrCode:     int(errVal.Get("err_code").Int64()),
	}
}

func (c *Context) call(ctx context.Context, subject string, payload []byte) (*njson.Value, error) {
	msg, err := c.conn.Request(ctx, subject, nil, payload)
	if err != nil {
		return nil, err
	}
	v, err := njson.Parse(msg.Data)
	if err != nil {
		return nil, nerrors.JetStream("decoding API response", 0, err)
	}
	if apiErr := parseAPIError(v); apiErr != nil {
		if apiErr.Code == 404 {
			return nil, nerrors.NotFound(apiErr.Description, subject)
		}
		return nil, nerrors.JetStream(apiErr.Description, apiErr.Code, nil)
	}
	return v, nil
}

// StreamConfig is the subset of stream-creation fields this client exposes.
// Object Store composes these directly; general callers may also use
// StreamCreate for their own streams.
type StreamConfig struct {
	Name              string
	Subjects          []string
	Retention         string // "limits", "interest", "workqueue"
	Discard           string // "old", "new"
	MaxMsgsPerSubject int64
	MaxBytes          int64
	MaxAge            int64 // nanoseconds
	Storage           string // "file", "memory"
	Replicas          int
	AllowRollupHdrs   bool
	AllowDirect       bool
	Compression       string // "none", "s2"
}

func (sc StreamConfig) encode() []byte {
	return njson.NewEncoder().
		FieldString("name", sc.Name).
		FieldStrings("subjects", sc.Subjects).
		FieldStringOmitEmpty("retention", sc.Retention).
		FieldStringOmitEmpty("discard", sc.Discard).
		FieldIntOmitZero("max_msgs_per_subject", sc.MaxMsgsPerSubject).
		FieldIntOmitZero("max_bytes", sc.MaxBytes).
		FieldIntOmitZero("max_age", sc.MaxAge).
		FieldStringOmitEmpty("storage", sc.Storage).
		FieldIntOmitZero("num_replicas", int64(sc.Replicas)).
		FieldBoolOmitFalse("allow_rollup_hdrs", sc.AllowRollupHdrs).
		FieldBoolOmitFalse("allow_direct", sc.AllowDirect).
		FieldStringOmitEmpty("compression", sc.Compression).
		Bytes()
}

// StreamInfo is the subset of the server's STREAM.INFO response this client
// surfaces.
type StreamInfo struct {
	Name     string
	Subjects []string
	Messages int64
	Bytes    int64
	FirstSeq int64
	LastSeq  int64
}

func parseStreamInfo(v *njson.Value) StreamInfo {
	cfg := v.Get("config")
	state := v.Get("state")
	info := StreamInfo{
		Name:     cfg.Get("name").String(),
		Messages: state.Get("messages").Int64(),
		Bytes:    state.Get("bytes").Int64(),
		FirstSeq: state.Get("first_seq").Int64(),
		LastSeq:  state.Get("last_seq").Int64(),
	}
	cfg.Get("subjects").ForEachArray(func(e *njson.Value) {
		info.Subjects = append(info.Subjects, e.String())
	})
	return info
}

// StreamCreate creates a stream per cfg.
func (c *Context) StreamCreate(ctx context.Context, cfg StreamConfig) (StreamInfo, error) {
	v, err := c.call(ctx, c.subj("STREAM", "CREATE", cfg.Name), cfg.encode())
	if err != nil {
		return StreamInfo{}, err
	}
	return parseStreamInfo(v), nil
}

// StreamInfo fetches the current info for stream name.
func (c *Context) StreamInfo(ctx context.Context, name string) (StreamInfo, error) {
	v, err := c.call(ctx, c.subj("STREAM", "INFO", name), []byte("{}"))
	if err != nil {
		return StreamInfo{}, err
	}
	return parseStreamInfo(v), nil
}

// StreamInfoWithSubjects fetches stream info filtered to subjects matching
// filter, returning the subject -> message-count map the server computes.
// Because the server internally truncates this map above a server-side
// threshold (observed around 10,000 entries), callers that need the
// complete set must page via offset until a page comes back empty — see
// StreamInfoSubjectsPaged.
func (c *Context) StreamInfoWithSubjects(ctx context.Context, name, filter string, offset int) (StreamInfo, map[string]int64, error) {
	payload := njson.NewEncoder().
		FieldString("subjects_filter", filter).
		FieldIntOmitZero("offset", int64(offset)).
		Bytes()
	v, err := c.call(ctx, c.subj("STREAM", "INFO", name), payload)
	if err != nil {
		return StreamInfo{}, nil, err
	}
	subjects := map[string]int64{}
	subjVal := v.Get("state").Get("subjects")
	if subjVal.Kind == njson.KindObject {
		for key, val := range subjVal.Object {
			subjects[key] = val.Int64()
		}
	}
	return parseStreamInfo(v), subjects, nil
}

// StreamInfoSubjectsPaged pages StreamInfoWithSubjects until the server
// returns an empty page, accumulating the full subject -> count map. This
// is the pagination the upstream reflection-based client omits (see design
// note on list pagination); it is required behavior here.
func (c *Context) StreamInfoSubjectsPaged(ctx context.Context, name, filter string) (map[string]int64, error) {
	all := map[string]int64{}
	offset := 0
	for {
		_, page, err := c.StreamInfoWithSubjects(ctx, name, filter, offset)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return all, nil
		}
		for k, v := range page {
			all[k] = v
		}
		offset += len(page)
	}
}

// StreamDelete deletes stream name.
func (c *Context) StreamDelete(ctx context.Context, name string) error {
	_, err := c.call(ctx, c.subj("STREAM", "DELETE", name), []byte("{}"))
	return err
}

// StreamPurge purges messages from stream name, optionally filtered by
// subject and/or sequence/keep bounds.
func (c *Context) StreamPurge(ctx context.Context, name string, filter string, seq, keep int64) error {
	payload := njson.NewEncoder().
		FieldStringOmitEmpty("filter", filter).
		FieldIntOmitZero("seq", seq).
		FieldIntOmitZero("keep", keep).
		Bytes()
	_, err := c.call(ctx, c.subj("STREAM", "PURGE", name), payload)
	return err
}

// PubAck is the server's acknowledgement of a JetStream publish.
type PubAck struct {
	Stream    string
	Seq       int64
	Duplicate bool
	Domain    string
}

// Publish sends payload to subject and waits for the publish-ack.
func (c *Context) Publish(ctx context.Context, subject string, header *wire.Header, payload []byte) (PubAck, error) {
	msg, err := c.conn.Request(ctx, subject, header, payload)
	if err != nil {
		return PubAck{}, err
	}
	v, err := njson.Parse(msg.Data)
	if err != nil {
		return PubAck{}, nerrors.JetStream("decoding publish ack", 0, err)
	}
	if apiErr := parseAPIError(v); apiErr != nil {
		return PubAck{}, nerrors.JetStream(apiErr.Description, apiErr.Code, nil)
	}
	return PubAck{
		Stream:    v.Get("stream").String(),
		Seq:       v.Get("seq").Int64(),
		Duplicate: v.Get("duplicate").BoolVal(),
		Domain:    v.Get("domain").String(),
	}, nil
}

// PublishWithRollup publishes payload with the Nats-Rollup: sub header set,
// replacing all prior messages on subject.
func (c *Context) PublishWithRollup(ctx context.Context, subject string, payload []byte) (PubAck, error) {
	h := wire.NewHeader()
	h.Set("Nats-Rollup", "sub")
	return c.Publish(ctx, subject, h, payload)
}

// DirectGetRequest selects one of the three direct-get modes; exactly one
// of LastBySubj, Seq, or NextBySubj(+Seq) should be set.
type DirectGetRequest struct {
	LastBySubj string
	Seq        int64
	NextBySubj string // combined with Seq as the starting sequence
}

func (r DirectGetRequest) encode() []byte {
	e := njson.NewEncoder()
	switch {
	case r.LastBySubj != "":
		e.FieldString("last_by_subj", r.LastBySubj)
	case r.NextBySubj != "":
		e.FieldInt("seq", r.Seq).FieldString("next_by_subj", r.NextBySubj)
	default:
		e.FieldInt("seq", r.Seq)
	}
	return e.Bytes()
}

// DirectGetResult is the decoded reply of a direct-get call. Found is false
// when the server answered 404 — the spec treats that as a null message,
// not an error.
type DirectGetResult struct {
	Found    bool
	Subject  string
	Sequence int64
	Data     []byte
	Header   *wire.Header
}

// DirectGet performs a direct-get on stream, per req.
func (c *Context) DirectGet(ctx context.Context, stream string, req DirectGetRequest) (DirectGetResult, error) {
	msg, err := c.conn.Request(ctx, c.subj("DIRECT", "GET", stream), nil, req.encode())
	if err != nil {
		return DirectGetResult{}, err
	}
	if msg.Header != nil && msg.Header.StatusCode == 404 {
		return DirectGetResult{Found: false}, nil
	}
	result := DirectGetResult{Found: true, Data: msg.Data, Header: msg.Header}
	if msg.Header != nil {
		result.Subject = msg.Header.Get("Nats-Subject")
		if seq := msg.Header.Get("Nats-Sequence"); seq != "" {
			fmt.Sscanf(seq, "%d", &result.Sequence)
		}
	}
	return result, nil
}
