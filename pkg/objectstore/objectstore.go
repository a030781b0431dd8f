// Package objectstore is a thin contract over an S3-compatible blob store.
package objectstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a bucket or object does not exist.
var ErrNotFound = errors.New("object not found")

// Object is a retrieved blob. Callers must close Body.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Gateway is the minimal blob-store surface the service needs.
type Gateway interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
	GetObject(ctx context.Context, bucket, key string) (*Object, error)
	RemoveObject(ctx context.Context, bucket, key string) error
	// PresignGet builds a time-limited public URL without a network call.
	PresignGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}
