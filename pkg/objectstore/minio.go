package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig describes how to reach the blob store.
type MinioConfig struct {
	Endpoint       string // internal endpoint, e.g. http://s3:9000
	PublicEndpoint string // endpoint embedded in presigned links; Endpoint when empty
	Region         string
	AccessKey      string
	SecretKey      string
	PathStyle      bool
}

// MinioGateway implements Gateway on minio-go. Object I/O goes through the
// internal endpoint; links are signed against the public one.
type MinioGateway struct {
	client *minio.Client
	signer *minio.Client
	region string
}

// NewMinio creates a MinioGateway. No network call is made.
func NewMinio(cfg MinioConfig) (*MinioGateway, error) {
	client, err := newClient(cfg.Endpoint, cfg)
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}
	signer := client
	if cfg.PublicEndpoint != "" && cfg.PublicEndpoint != cfg.Endpoint {
		signer, err = newClient(cfg.PublicEndpoint, cfg)
		if err != nil {
			return nil, fmt.Errorf("object store signer: %w", err)
		}
	}
	return &MinioGateway{client: client, signer: signer, region: cfg.Region}, nil
}

func newClient(endpoint string, cfg MinioConfig) (*minio.Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("endpoint %q has no host", endpoint)
	}
	lookup := minio.BucketLookupDNS
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}
	return minio.New(u.Host, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       u.Scheme == "https",
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
}

// BucketExists reports whether bucket exists.
func (g *MinioGateway) BucketExists(ctx context.Context, bucket string) (bool, error) {
	ok, err := g.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, fmt.Errorf("head bucket %s: %w", bucket, err)
	}
	return ok, nil
}

// MakeBucket creates bucket. Creating a bucket we already own succeeds.
func (g *MinioGateway) MakeBucket(ctx context.Context, bucket string) error {
	err := g.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: g.region})
	if err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

// PutObject uploads r under key.
func (g *MinioGateway) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	_, err := g.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// GetObject fetches key. The object's metadata is read eagerly so a
// missing key surfaces here rather than on the first Read.
func (g *MinioGateway) GetObject(ctx context.Context, bucket, key string) (*Object, error) {
	obj, err := g.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, mapMissing(err))
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, fmt.Errorf("stat object %s: %w", key, mapMissing(err))
	}
	return &Object{Body: obj, ContentType: info.ContentType, Size: info.Size}, nil
}

// RemoveObject deletes key.
func (g *MinioGateway) RemoveObject(ctx context.Context, bucket, key string) error {
	if err := g.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

// PresignGet returns a GET link valid for expiry.
func (g *MinioGateway) PresignGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	u, err := g.signer.PresignedGetObject(ctx, bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

func mapMissing(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
		return fmt.Errorf("%w: %s", ErrNotFound, resp.Code)
	}
	return err
}
