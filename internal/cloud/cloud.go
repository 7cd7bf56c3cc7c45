package cloud

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Backend writes objects to cloud storage.
type Backend interface {
	// Upload writes obj.Body to obj.Key.
	Upload(ctx context.Context, obj Object) error
}

// Object is one object to write.
type Object struct {
	Key             string
	Body            io.Reader
	Size            int64
	ContentType     string
	ContentEncoding string
}

// ParseURL extracts scheme, bucket, and prefix from a cloud URL.
// Supported schemes: s3://, gs://
func ParseURL(raw string) (scheme, bucket, prefix string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", "", fmt.Errorf("empty URL")
	}

	var rest string
	switch {
	case strings.HasPrefix(raw, "s3://"):
		scheme = "s3"
		rest = strings.TrimPrefix(raw, "s3://")
	case strings.HasPrefix(raw, "gs://"):
		scheme = "gs"
		rest = strings.TrimPrefix(raw, "gs://")
	default:
		return "", "", "", fmt.Errorf("unsupported scheme in %q: expected s3:// or gs://", raw)
	}

	if rest == "" {
		return "", "", "", fmt.Errorf("empty bucket in %q", raw)
	}

	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return scheme, rest, "", nil
	}

	bucket = rest[:idx]
	if bucket == "" {
		return "", "", "", fmt.Errorf("empty bucket in %q", raw)
	}
	prefix = strings.Trim(rest[idx+1:], "/")

	return scheme, bucket, prefix, nil
}

// IsURL reports whether target names an object storage location.
func IsURL(target string) bool {
	target = strings.TrimSpace(target)
	return strings.HasPrefix(target, "s3://") || strings.HasPrefix(target, "gs://")
}

// NewBackend creates a Backend for the given scheme and bucket.
func NewBackend(ctx context.Context, scheme, bucket string) (Backend, error) {
	switch scheme {
	case "s3":
		return newS3Backend(ctx, bucket)
	case "gs":
		return newGCSBackend(ctx, bucket)
	default:
		return nil, fmt.Errorf("unsupported scheme %q: expected s3 or gs", scheme)
	}
}
