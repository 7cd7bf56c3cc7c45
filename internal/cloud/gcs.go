package cloud

import (
	"context"
	"fmt"
	"io"

	gstorage "cloud.google.com/go/storage"
)

type gcsBackend struct {
	bucket    string
	newWriter func(ctx context.Context, bucket string, obj Object) io.WriteCloser
}

func newGCSBackend(ctx context.Context, bucket string) (*gcsBackend, error) {
	client, err := gstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &gcsBackend{
		bucket: bucket,
		newWriter: func(ctx context.Context, b string, obj Object) io.WriteCloser {
			w := client.Bucket(b).Object(obj.Key).NewWriter(ctx)
			w.ContentType = obj.ContentType
			w.ContentEncoding = obj.ContentEncoding
			return w
		},
	}, nil
}

func (b *gcsBackend) Upload(ctx context.Context, obj Object) error {
	w := b.newWriter(ctx, b.bucket, obj)
	if _, err := io.Copy(w, obj.Body); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs upload %s: %w", obj.Key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs finalize %s: %w", obj.Key, err)
	}
	return nil
}
