package forward

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync/atomic"
	"time"

	"github.com/ppiankov/spool/internal/cloud"
)

// ObjectTransport writes each batch envelope as one object in a bucket.
type ObjectTransport struct {
	backend     cloud.Backend
	prefix      string
	compression Compression
	now         func() time.Time
	seq         atomic.Uint64
}

// NewObjectTransport writes objects under prefix through backend.
func NewObjectTransport(backend cloud.Backend, prefix string, c Compression) *ObjectTransport {
	return &ObjectTransport{
		backend:     backend,
		prefix:      prefix,
		compression: c,
		now:         time.Now,
	}
}

// Upload writes body to <prefix>/<UTC time>-<seq>.json with the compression suffix.
func (t *ObjectTransport) Upload(ctx context.Context, body []byte) error {
	payload, err := t.compression.encode(body)
	if err != nil {
		return err
	}
	key := t.nextKey()
	return t.backend.Upload(ctx, cloud.Object{
		Key:             key,
		Body:            bytes.NewReader(payload),
		Size:            int64(len(payload)),
		ContentType:     "application/json",
		ContentEncoding: string(t.compression),
	})
}

// Connected always reports true; reachability surfaces as an upload failure.
func (t *ObjectTransport) Connected() bool { return true }

func (t *ObjectTransport) nextKey() string {
	name := fmt.Sprintf("%s-%06d.json%s",
		t.now().UTC().Format("20060102T150405.000Z"), t.seq.Add(1), t.compression.Extension())
	if t.prefix == "" {
		return name
	}
	return path.Join(t.prefix, name)
}

// TransportOptions configures NewTransport.
type TransportOptions struct {
	WriteKey    string
	Compression Compression
	Timeout     time.Duration
	DialCheck   bool
	Insecure    bool
}

// NewTransport returns an ObjectTransport for s3:// and gs:// targets and an
// HTTPTransport otherwise.
func NewTransport(ctx context.Context, target string, o TransportOptions) (Transport, error) {
	if cloud.IsURL(target) {
		scheme, bucket, prefix, err := cloud.ParseURL(target)
		if err != nil {
			return nil, err
		}
		backend, err := cloud.NewBackend(ctx, scheme, bucket)
		if err != nil {
			return nil, err
		}
		return NewObjectTransport(backend, prefix, o.Compression), nil
	}

	opts := []HTTPOption{WithWriteKey(o.WriteKey), WithCompression(o.Compression), WithTimeout(o.Timeout)}
	if o.Insecure {
		opts = append(opts, WithInsecureTLS())
	}
	if o.DialCheck {
		opts = append(opts, WithDialCheck(0))
	}
	t, err := NewHTTPTransport(target, opts...)
	if err != nil {
		return nil, err
	}
	return t, nil
}
