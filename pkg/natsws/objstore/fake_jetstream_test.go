package objstore

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/arlobridge/natsws/pkg/natsws"
	"github.com/arlobridge/natsws/pkg/natsws/njson"
	"github.com/arlobridge/natsws/pkg/natsws/wire"
)

// fakeJS is a minimal in-memory JetStream simulator: just enough of the
// $JS.API subject tree (STREAM.CREATE/INFO/DELETE/PURGE, DIRECT.GET) and
// plain-subject publish-with-ack semantics for the Object Store's put/get/
// delete/list round trip to be exercised without a real server.
type fakeJS struct {
	mu      sync.Mutex
	streams map[string]*fakeStream
}

type fakeStream struct {
	subjects  []string
	bySubject map[string][]storedMsg
	seq       int64
}

type storedMsg struct {
	seq  int64
	data []byte
}

func newFakeJS() *fakeJS {
	return &fakeJS{streams: map[string]*fakeStream{}}
}

func subjectMatches(pattern, subject string) bool {
	if strings.HasSuffix(pattern, ">") {
		return strings.HasPrefix(subject, strings.TrimSuffix(pattern, ">"))
	}
	return pattern == subject
}

func (f *fakeJS) streamFor(subject string) (string, *fakeStream) {
	for name, s := range f.streams {
		for _, pat := range s.subjects {
			if subjectMatches(pat, subject) {
				return name, s
			}
		}
	}
	return "", nil
}

func (f *fakeJS) Request(_ context.Context, subject string, header *wire.Header, payload []byte) (*natsws.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.HasPrefix(subject, "$JS.API.STREAM.CREATE."):
		name := strings.TrimPrefix(subject, "$JS.API.STREAM.CREATE.")
		v, _ := njson.Parse(payload)
		var subjects []string
		v.Get("subjects").ForEachArray(func(e *njson.Value) { subjects = append(subjects, e.String()) })
		f.streams[name] = &fakeStream{subjects: subjects, bySubject: map[string][]storedMsg{}}
		return jsonMsg(subject, njson.NewEncoder().FieldRaw("config", []byte(`{"name":"`+name+`"}`)).FieldRaw("state", []byte(`{"messages":0,"bytes":0}`)).Bytes()), nil

	case strings.HasPrefix(subject, "$JS.API.STREAM.INFO."):
		name := strings.TrimPrefix(subject, "$JS.API.STREAM.INFO.")
		s, ok := f.streams[name]
		if !ok {
			return jsonMsg(subject, notFoundJSON("stream not found")), nil
		}
		v, _ := njson.Parse(payload)
		filter := v.Get("subjects_filter").String()
		offset := int(v.Get("offset").Int64())
		subjEnc := njson.NewEncoder()
		var matched []string
		for subj := range s.bySubject {
			if filter == "" || subjectMatches(filter, subj) {
				matched = append(matched, subj)
			}
		}
		const pageSize = 2
		end := offset + pageSize
		if end > len(matched) {
			end = len(matched)
		}
		if offset < len(matched) {
			for _, subj := range matched[offset:end] {
				subjEnc.FieldInt(subj, int64(len(s.bySubject[subj])))
			}
		}
		state := njson.NewEncoder().FieldRaw("subjects", subjEnc.Bytes()).Bytes()
		return jsonMsg(subject, njson.NewEncoder().FieldRaw("config", []byte(`{"name":"`+name+`"}`)).FieldRaw("state", state).Bytes()), nil

	case strings.HasPrefix(subject, "$JS.API.STREAM.DELETE."):
		name := strings.TrimPrefix(subject, "$JS.API.STREAM.DELETE.")
		delete(f.streams, name)
		return jsonMsg(subject, []byte(`{}`)), nil

	case strings.HasPrefix(subject, "$JS.API.STREAM.PURGE."):
		name := strings.TrimPrefix(subject, "$JS.API.STREAM.PURGE.")
		v, _ := njson.Parse(payload)
		filter := v.Get("filter").String()
		if s, ok := f.streams[name]; ok {
			for subj := range s.bySubject {
				if filter == "" || subjectMatches(filter, subj) {
					delete(s.bySubject, subj)
				}
			}
		}
		return jsonMsg(subject, []byte(`{}`)), nil

	case strings.HasPrefix(subject, "$JS.API.DIRECT.GET."):
		name := strings.TrimPrefix(subject, "$JS.API.DIRECT.GET.")
		s, ok := f.streams[name]
		if !ok {
			return notFoundMessage(subject), nil
		}
		v, _ := njson.Parse(payload)
		if lastBy := v.Get("last_by_subj").String(); lastBy != "" {
			msgs := s.bySubject[lastBy]
			if len(msgs) == 0 {
				return notFoundMessage(subject), nil
			}
			return dataMessage(msgs[len(msgs)-1]), nil
		}
		if nextBy := v.Get("next_by_subj").String(); nextBy != "" {
			startSeq := v.Get("seq").Int64()
			for _, m := range s.bySubject[nextBy] {
				if m.seq >= startSeq {
					return dataMessage(m), nil
				}
			}
			return notFoundMessage(subject), nil
		}
		return notFoundMessage(subject), nil

	default:
		// Plain publish: store under whatever stream's subject filter
		// matches. Chunk publishes share one subject per object across
		// every chunk (direct-get's next_by_subj mode walks them by
		// sequence), so messages append; a rollup-tagged metadata publish
		// instead clears prior revisions first, leaving only the latest.
		name, s := f.streamFor(subject)
		if s == nil {
			return jsonMsg(subject, []byte(`{"error":{"code":404,"description":"no stream matches subject"}}`)), nil
		}
		if header != nil && header.Get("Nats-Rollup") == "sub" {
			s.bySubject[subject] = nil
		}
		s.seq++
		s.bySubject[subject] = append(s.bySubject[subject], storedMsg{seq: s.seq, data: payload})
		return jsonMsg(subject, njson.NewEncoder().FieldString("stream", name).FieldInt("seq", s.seq).Bytes()), nil
	}
}

func (f *fakeJS) Publish(context.Context, string, *wire.Header, []byte) error { return nil }

func jsonMsg(subject string, data []byte) *natsws.Message {
	return &natsws.Message{Subject: subject, Data: data}
}

func notFoundJSON(desc string) []byte {
	return []byte(`{"error":{"code":404,"description":"` + desc + `"}}`)
}

func notFoundMessage(subject string) *natsws.Message {
	h := wire.NewHeader()
	h.StatusCode = 404
	return &natsws.Message{Subject: subject, Header: h}
}

func dataMessage(m storedMsg) *natsws.Message {
	h := wire.NewHeader()
	h.Set("Nats-Sequence", strconv.FormatInt(m.seq, 10))
	return &natsws.Message{Data: m.data, Header: h}
}
