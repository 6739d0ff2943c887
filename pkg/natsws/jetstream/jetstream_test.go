package jetstream

import (
	"context"
	"testing"

	"github.com/arlobridge/natsws/pkg/natsws"
	"github.com/arlobridge/natsws/pkg/natsws/njson"
	"github.com/arlobridge/natsws/pkg/natsws/wire"
)

// fakeRequester answers every Request by subject, scripted by the test.
type fakeRequester struct {
	responses map[string][]byte
	published []string
}

func (f *fakeRequester) Request(_ context.Context, subject string, _ *wire.Header, _ []byte) (*natsws.Message, error) {
	data, ok := f.responses[subject]
	if !ok {
		data = []byte(`{"error":{"code":404,"description":"not found"}}`)
	}
	return &natsws.Message{Subject: subject, Data: data}, nil
}

func (f *fakeRequester) Publish(_ context.Context, subject string, _ *wire.Header, _ []byte) error {
	f.published = append(f.published, subject)
	return nil
}

func TestStreamCreateAndInfo(t *testing.T) {
	fr := &fakeRequester{responses: map[string][]byte{
		"$JS.API.STREAM.CREATE.ORDERS": []byte(`{"config":{"name":"ORDERS","subjects":["orders.*"]},"state":{"messages":0,"bytes":0}}`),
	}}
	ctx := New(fr, "")
	info, err := ctx.StreamCreate(context.Background(), StreamConfig{Name: "ORDERS", Subjects: []string{"orders.*"}})
	if err != nil {
		t.Fatalf("StreamCreate: %v", err)
	}
	if info.Name != "ORDERS" || len(info.Subjects) != 1 || info.Subjects[0] != "orders.*" {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestStreamInfoNotFoundSurfaces404(t *testing.T) {
	fr := &fakeRequester{responses: map[string][]byte{}}
	ctx := New(fr, "")
	_, err := ctx.StreamInfo(context.Background(), "MISSING")
	if err == nil {
		t.Fatal("expected not-found error")
	}
}

// pagedSubjectsRequester simulates a server that truncates the subjects map
// after one page and returns an empty page once offset has advanced past
// it, so StreamInfoSubjectsPaged's loop-until-empty termination is
// actually exercised.
type pagedSubjectsRequester struct {
	firstPage map[string]int64
}

func (p *pagedSubjectsRequester) Request(_ context.Context, subject string, _ *wire.Header, payload []byte) (*natsws.Message, error) {
	v, _ := njson.Parse(payload)
	offset := v.Get("offset").Int64()
	if offset == 0 {
		return &natsws.Message{Subject: subject, Data: buildPageResponse(p.firstPage)}, nil
	}
	return &natsws.Message{Subject: subject, Data: buildPageResponse(nil)}, nil
}

func (p *pagedSubjectsRequester) Publish(context.Context, string, *wire.Header, []byte) error { return nil }

func TestStreamInfoSubjectsPagedStopsOnEmptyPage(t *testing.T) {
	pr := &pagedSubjectsRequester{firstPage: map[string]int64{"a": 1, "b": 2}}
	ctx := New(pr, "")
	all, err := ctx.StreamInfoSubjectsPaged(context.Background(), "BKT", "$O.bkt.M.>")
	if err != nil {
		t.Fatalf("paged: %v", err)
	}
	if all["a"] != 1 || all["b"] != 2 || len(all) != 2 {
		t.Fatalf("unexpected accumulated subjects: %v", all)
	}
}

func buildPageResponse(subjects map[string]int64) []byte {
	subEnc := njson.NewEncoder()
	for k, v := range subjects {
		subEnc.FieldInt(k, v)
	}
	stateJSON := njson.NewEncoder().FieldRaw("subjects", subEnc.Bytes()).Bytes()
	return njson.NewEncoder().
		FieldRaw("config", []byte(`{"name":"BKT"}`)).
		FieldRaw("state", stateJSON).
		Bytes()
}

func TestPublishAck(t *testing.T) {
	fr := &fakeRequester{responses: map[string][]byte{
		"orders.created": []byte(`{"stream":"ORDERS","seq":7,"duplicate":false}`),
	}}
	ctx := New(fr, "")
	ack, err := ctx.Publish(context.Background(), "orders.created", nil, []byte("payload"))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ack.Stream != "ORDERS" || ack.Seq != 7 {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestDirectGetNotFoundIsNullNotError(t *testing.T) {
	// fakeRequester returns a 404 JSON body by default, but direct-get
	// signals "missing" via a header status, not a JSON error body, so this
	// test uses a dedicated fake.
	dg := &fakeDirectGetRequester{status404: true}
	ctx := New(dg, "")
	res, err := ctx.DirectGet(context.Background(), "ORDERS", DirectGetRequest{LastBySubj: "orders.created"})
	if err != nil {
		t.Fatalf("DirectGet: %v", err)
	}
	if res.Found {
		t.Fatalf("expected Found=false on 404 status")
	}
}

type fakeDirectGetRequester struct {
	status404 bool
}

func (f *fakeDirectGetRequester) Request(_ context.Context, subject string, _ *wire.Header, _ []byte) (*natsws.Message, error) {
	if f.status404 {
		h := wire.NewHeader()
		h.StatusCode = 404
		return &natsws.Message{Subject: subject, Header: h}, nil
	}
	return &natsws.Message{Subject: subject, Data: []byte("payload")}, nil
}

func (f *fakeDirectGetRequester) Publish(context.Context, string, *wire.Header, []byte) error { return nil }
