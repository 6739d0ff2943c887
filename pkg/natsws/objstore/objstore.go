// Package objstore implements an ADR-20-conformant Object Store layered on
// JetStream: blobs are chunked messages on a per-bucket stream, with
// SHA-256 integrity, base64url-encoded metadata subjects, and
// rollup-based latest-only metadata.
package objstore

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"

	"github.com/nats-io/nuid"

	"github.com/arlobridge/natsws/pkg/natsws/jetstream"
	"github.com/arlobridge/natsws/pkg/natsws/nerrors"
	"github.com/arlobridge/natsws/pkg/natsws/njson"
)

// DefaultChunkSize is the default size objects are split into, per §6.
const DefaultChunkSize = 131072

var bucketNameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateBucketName enforces the bucket-name rule: non-empty, no
// leading/trailing dot, characters restricted to [A-Za-z0-9_-]. There is no
// dot in the allowed character class at all, so the leading/trailing-dot
// clause is automatically satisfied; the regex alone is the complete rule,
// which is why this does not reach for a general-purpose sanitizer.
func ValidateBucketName(name string) bool {
	return name != "" && bucketNameRE.MatchString(name)
}

// BucketConfig configures bucket creation.
type BucketConfig struct {
	Bucket      string
	Description string
	MaxBytes    int64
	MaxAge      int64
	Storage     string
	Replicas    int
	Compression string
}

// Store is a handle to one bucket's backing stream.
type Store struct {
	js     *jetstream.Context
	bucket string
	stream string
}

// Create creates the backing stream for a new bucket.
func Create(ctx context.Context, js *jetstream.Context, cfg BucketConfig) (*Store, error) {
	if !ValidateBucketName(cfg.Bucket) {
		return nil, nerrors.New(nerrors.KindJetStream, "invalid bucket name: "+cfg.Bucket, nil)
	}
	stream := "OBJ_" + cfg.Bucket
	_, err := js.StreamCreate(ctx, jetstream.StreamConfig{
		Name:              stream,
		Subjects:          []string{"$O." + cfg.Bucket + ".C.>", "$O." + cfg.Bucket + ".M.>"},
		Retention:         "limits",
		Discard:           "new",
		MaxMsgsPerSubject: 1,
		MaxBytes:          cfg.MaxBytes,
		MaxAge:            cfg.MaxAge,
		Storage:           cfg.Storage,
		Replicas:          cfg.Replicas,
		AllowRollupHdrs:   true,
		AllowDirect:       true,
		Compression:       cfg.Compression,
	})
	if err != nil {
		return nil, err
	}
	return &Store{js: js, bucket: cfg.Bucket, stream: stream}, nil
}

// Get returns a handle to an existing bucket, failing with a not-found
// error if its backing stream does not exist.
func Get(ctx context.Context, js *jetstream.Context, bucket string) (*Store, error) {
	stream := "OBJ_" + bucket
	if _, err := js.StreamInfo(ctx, stream); err != nil {
		if nerrors.KindOf(err) == nerrors.KindNotFound {
			return nil, nerrors.NotFound("bucket not found: "+bucket, bucket)
		}
		return nil, err
	}
	return &Store{js: js, bucket: bucket, stream: stream}, nil
}

// GetOrCreate returns the existing bucket, or creates it per cfg if absent.
func GetOrCreate(ctx context.Context, js *jetstream.Context, cfg BucketConfig) (*Store, error) {
	store, err := Get(ctx, js, cfg.Bucket)
	if err == nil {
		return store, nil
	}
	if nerrors.KindOf(err) != nerrors.KindNotFound {
		return nil, err
	}
	return Create(ctx, js, cfg)
}

// Delete removes the bucket's backing stream entirely.
func (s *Store) Delete(ctx context.Context) error {
	return s.js.StreamDelete(ctx, s.stream)
}

func (s *Store) metaSubject(name string) string {
	return "$O." + s.bucket + ".M." + base64.RawURLEncoding.EncodeToString([]byte(name))
}

func (s *Store) chunkSubject(nuid string) string {
	return "$O." + s.bucket + ".C." + nuid
}

// objectMeta is the JSON-persisted metadata record (§3 "Object metadata").
type objectMeta struct {
	Name        string
	Bucket      string
	NUID        string
	Size        int64
	Chunks      int64
	Digest      string
	Description string
	Deleted     bool
}

func (m objectMeta) encode() []byte {
	e := njson.NewEncoder().
		FieldString("name", m.Name).
		FieldString("bucket", m.Bucket).
		FieldString("nuid", m.NUID).
		FieldInt("size", m.Size).
		FieldInt("chunks", m.Chunks).
		FieldStringOmitEmpty("digest", m.Digest).
		FieldStringOmitEmpty("description", m.Description).
		FieldBool("deleted", m.Deleted)
	return e.Bytes()
}

func decodeMeta(raw []byte) (objectMeta, error) {
	v, err := njson.Parse(raw)
	if err != nil {
		return objectMeta{}, err
	}
	return objectMeta{
		Name:        v.Get("name").String(),
		Bucket:      v.Get("bucket").String(),
		NUID:        v.Get("nuid").String(),
		Size:        v.Get("size").Int64(),
		Chunks:      v.Get("chunks").Int64(),
		Digest:      v.Get("digest").String(),
		Description: v.Get("description").String(),
		Deleted:     v.Get("deleted").BoolVal(),
	}, nil
}

// Info is the public, decoded form of an object's metadata.
type Info struct {
	Name        string
	Bucket      string
	Size        int64
	Chunks      int64
	Digest      string
	Description string
	Deleted     bool
}

func (m objectMeta) toInfo() Info {
	return Info{Name: m.Name, Bucket: m.Bucket, Size: m.Size, Chunks: m.Chunks, Digest: m.Digest, Description: m.Description, Deleted: m.Deleted}
}

// newObjectNUID names each object's chunk subject with a fresh NUID: a
// crypto/rand-seeded 12-character prefix plus a 10-digit incrementing
// sequence, the same 22-character identifier scheme nats-io/nuid generates
// for message and inbox subjects elsewhere in the ecosystem.
func newObjectNUID() (string, error) {
	return nuid.Next(), nil
}

// Put uploads the contents of src as a new object named name, chunked at
// chunkSize bytes (DefaultChunkSize if <= 0).
func (s *Store) Put(ctx context.Context, name string, src io.Reader, chunkSize int) (Info, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	objectID, err := newObjectNUID()
	if err != nil {
		return Info{}, err
	}

	hasher := sha256.New()
	chunkBuf := make([]byte, chunkSize)
	var size, chunks int64
	published := false

	for {
		n, rerr := src.Read(chunkBuf)
		if n > 0 {
			hasher.Write(chunkBuf[:n])
			if _, perr := s.js.Publish(ctx, s.chunkSubject(objectID), nil, chunkBuf[:n]); perr != nil {
				if published {
					_ = s.js.StreamPurge(ctx, s.stream, s.chunkSubject(objectID), 0, 0)
				}
				return Info{}, nerrors.JetStream("publishing object chunk", 0, perr)
			}
			published = true
			size += int64(n)
			chunks++
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if published {
				_ = s.js.StreamPurge(ctx, s.stream, s.chunkSubject(objectID), 0, 0)
			}
			return Info{}, fmt.Errorf("objstore: reading source: %w", rerr)
		}
	}

	digest := "SHA-256=" + base64.StdEncoding.EncodeToString(hasher.Sum(nil))
	meta := objectMeta{Name: name, Bucket: s.bucket, NUID: objectID, Size: size, Chunks: chunks, Digest: digest}
	if _, err := s.js.PublishWithRollup(ctx, s.metaSubject(name), meta.encode()); err != nil {
		if published {
			_ = s.js.StreamPurge(ctx, s.stream, s.chunkSubject(objectID), 0, 0)
		}
		return Info{}, err
	}
	return meta.toInfo(), nil
}

// GetInfo fetches the latest metadata for name without reading its chunks.
func (s *Store) GetInfo(ctx context.Context, name string) (Info, error) {
	meta, err := s.fetchMeta(ctx, name)
	if err != nil {
		return Info{}, err
	}
	return meta.toInfo(), nil
}

func (s *Store) fetchMeta(ctx context.Context, name string) (objectMeta, error) {
	res, err := s.js.DirectGet(ctx, s.stream, jetstream.DirectGetRequest{LastBySubj: s.metaSubject(name)})
	if err != nil {
		return objectMeta{}, err
	}
	if !res.Found {
		return objectMeta{}, nerrors.NotFound("object not found: "+name, name)
	}
	meta, err := decodeMeta(res.Data)
	if err != nil {
		return objectMeta{}, err
	}
	if meta.Deleted {
		return objectMeta{}, nerrors.NotFound("object not found: "+name, name)
	}
	return meta, nil
}

// Exists reports whether name currently denotes a live (non-deleted)
// object.
func (s *Store) Exists(ctx context.Context, name string) bool {
	_, err := s.fetchMeta(ctx, name)
	return err == nil
}

// Get streams the named object's contents to dst, verifying its digest.
func (s *Store) Get(ctx context.Context, name string, dst io.Writer) (Info, error) {
	meta, err := s.fetchMeta(ctx, name)
	if err != nil {
		return Info{}, err
	}
	if meta.Chunks == 0 {
		return meta.toInfo(), nil
	}

	hasher := sha256.New()
	cursor := int64(1)
	for i := int64(0); i < meta.Chunks; i++ {
		res, err := s.js.DirectGet(ctx, s.stream, jetstream.DirectGetRequest{NextBySubj: s.chunkSubject(meta.NUID), Seq: cursor})
		if err != nil {
			return Info{}, err
		}
		if !res.Found {
			return Info{}, nerrors.Integrity("missing chunk for object "+name, name)
		}
		hasher.Write(res.Data)
		if _, werr := dst.Write(res.Data); werr != nil {
			return Info{}, fmt.Errorf("objstore: writing destination: %w", werr)
		}
		cursor = res.Sequence + 1
	}

	if meta.Digest != "" {
		got := "SHA-256=" + base64.StdEncoding.EncodeToString(hasher.Sum(nil))
		if got != meta.Digest {
			return Info{}, nerrors.Integrity("digest mismatch for object "+name, name)
		}
	}
	return meta.toInfo(), nil
}

// Delete masks the object: the metadata record is rewritten with
// deleted=true and its chunks are best-effort purged.
func (s *Store) Delete(ctx context.Context, name string) error {
	meta, err := s.fetchMeta(ctx, name)
	if err != nil {
		if nerrors.KindOf(err) == nerrors.KindNotFound {
			return nil
		}
		return err
	}

	tombstone := objectMeta{Name: meta.Name, Bucket: meta.Bucket, NUID: meta.NUID, Deleted: true}
	if _, err := s.js.PublishWithRollup(ctx, s.metaSubject(name), tombstone.encode()); err != nil {
		return err
	}
	_ = s.js.StreamPurge(ctx, s.stream, s.chunkSubject(meta.NUID), 0, 0)
	return nil
}

// List enumerates the bucket's objects. Deleted objects are omitted unless
// includeDeleted is set.
func (s *Store) List(ctx context.Context, includeDeleted bool) ([]Info, error) {
	subjects, err := s.js.StreamInfoSubjectsPaged(ctx, s.stream, "$O."+s.bucket+".M.>")
	if err != nil {
		return nil, err
	}

	var out []Info
	for subject := range subjects {
		res, err := s.js.DirectGet(ctx, s.stream, jetstream.DirectGetRequest{LastBySubj: subject})
		if err != nil {
			return nil, err
		}
		if !res.Found {
			continue
		}
		meta, err := decodeMeta(res.Data)
		if err != nil {
			return nil, err
		}
		if meta.Deleted && !includeDeleted {
			continue
		}
		out = append(out, meta.toInfo())
	}
	return out, nil
}
