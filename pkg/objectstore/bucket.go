package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"taskflow/pkg/fault"
)

// BucketConfig configures a Bucket.
type BucketConfig struct {
	Name    string
	Prefix  string        // key namespace, e.g. "task-executions/"
	Timeout time.Duration // bound on every store call
	LinkTTL time.Duration // lifetime of presigned links
}

// Bucket binds a Gateway to one bucket and key namespace. Every call runs
// under cfg.Timeout.
type Bucket struct {
	gw  Gateway
	cfg BucketConfig
}

// NewBucket creates a Bucket.
func NewBucket(gw Gateway, cfg BucketConfig) *Bucket {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = time.Hour
	}
	return &Bucket{gw: gw, cfg: cfg}
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.cfg.Name }

// Prefix returns the key namespace.
func (b *Bucket) Prefix() string { return b.cfg.Prefix }

// Ensure creates the bucket when it is missing. A bucket created
// concurrently by someone else counts as success.
func (b *Bucket) Ensure(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	return b.ensure(ctx)
}

func (b *Bucket) ensure(ctx context.Context) error {
	ok, err := b.gw.BucketExists(ctx, b.cfg.Name)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if err := b.gw.MakeBucket(ctx, b.cfg.Name); err != nil {
		if ok, headErr := b.gw.BucketExists(ctx, b.cfg.Name); headErr == nil && ok {
			return nil
		}
		return err
	}
	return nil
}

// Upload ensures the bucket and stores r under key. Failures are
// fault.UploadFailed; a timeout is marked retryable.
func (b *Bucket) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	if err := b.ensure(ctx); err != nil {
		return uploadFailed("ensure bucket", err)
	}
	if err := b.gw.PutObject(ctx, b.cfg.Name, key, r, size, contentType); err != nil {
		return uploadFailed("put object", err)
	}
	return nil
}

func uploadFailed(step string, err error) error {
	fe := fault.Wrap(fault.UploadFailed, "upload: "+step, err)
	fe.Retryable = errors.Is(err, context.DeadlineExceeded)
	return fe
}

// KeyFor resolves ref to an object key in this bucket.
func (b *Bucket) KeyFor(ref Ref) (string, error) {
	key, ok := ref.keyIn(b.cfg.Name, b.cfg.Prefix)
	if !ok {
		return "", fault.New(fault.NotFound, "File not found")
	}
	return key, nil
}

// Download opens the object ref points to. The timeout covers the whole
// read and is released when the body is closed.
func (b *Bucket) Download(ctx context.Context, ref Ref) (*Object, error) {
	key, err := b.KeyFor(ref)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	obj, err := b.gw.GetObject(ctx, b.cfg.Name, key)
	if err != nil {
		cancel()
		if errors.Is(err, ErrNotFound) {
			return nil, fault.Wrap(fault.NotFound, "File not found", err)
		}
		return nil, fault.Wrap(fault.Internal, "download file", err)
	}
	obj.Body = &cancelOnClose{ReadCloser: obj.Body, cancel: cancel}
	return obj, nil
}

// Remove deletes key.
func (b *Bucket) Remove(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	if err := b.gw.RemoveObject(ctx, b.cfg.Name, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Link returns a presigned GET link for ref.
func (b *Bucket) Link(ctx context.Context, ref Ref) (string, error) {
	key, err := b.KeyFor(ref)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	return b.gw.PresignGet(ctx, b.cfg.Name, key, b.cfg.LinkTTL)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
