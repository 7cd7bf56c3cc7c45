package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API abstracts the S3 client methods used by s3Backend.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type s3Backend struct {
	client s3API
	bucket string
}

func newS3Backend(ctx context.Context, bucket string) (*s3Backend, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &s3Backend{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (b *s3Backend) Upload(ctx context.Context, obj Object) error {
	in := &s3.PutObjectInput{
		Bucket:        &b.bucket,
		Key:           &obj.Key,
		Body:          obj.Body,
		ContentLength: &obj.Size,
	}
	if obj.ContentType != "" {
		in.ContentType = &obj.ContentType
	}
	if obj.ContentEncoding != "" {
		in.ContentEncoding = &obj.ContentEncoding
	}
	if _, err := b.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3 upload %s: %w", obj.Key, err)
	}
	return nil
}
