package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/pkg/fault"
)

// --- In-memory gateway ---

type memGateway struct {
	mu       sync.Mutex
	buckets  map[string]map[string][]byte
	types    map[string]string
	makes    int
	makeErr  error
	raced    bool // MakeBucket fails but the bucket appears anyway
	putDelay time.Duration
}

func newMemGateway() *memGateway {
	return &memGateway{buckets: map[string]map[string][]byte{}, types: map[string]string{}}
}

func (g *memGateway) BucketExists(_ context.Context, bucket string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.buckets[bucket]
	return ok, nil
}

func (g *memGateway) MakeBucket(_ context.Context, bucket string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.makes++
	if g.raced {
		g.buckets[bucket] = map[string][]byte{}
	}
	if g.makeErr != nil {
		return g.makeErr
	}
	g.buckets[bucket] = map[string][]byte{}
	return nil
}

func (g *memGateway) PutObject(ctx context.Context, bucket, key string, r io.Reader, _ int64, contentType string) error {
	if g.putDelay > 0 {
		select {
		case <-time.After(g.putDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.buckets[bucket][key] = data
	g.types[key] = contentType
	return nil
}

func (g *memGateway) GetObject(_ context.Context, bucket, key string) (*Object, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	data, ok := g.buckets[bucket][key]
	if !ok {
		return nil, ErrNotFound
	}
	return &Object{Body: io.NopCloser(bytes.NewReader(data)), ContentType: g.types[key], Size: int64(len(data))}, nil
}

func (g *memGateway) RemoveObject(_ context.Context, bucket, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.buckets[bucket], key)
	return nil
}

func (g *memGateway) PresignGet(_ context.Context, bucket, key string, expiry time.Duration) (string, error) {
	return "https://files.example.com/" + bucket + "/" + key + "?X-Amz-Expires=" + expiry.String(), nil
}

func newBucket(gw Gateway) *Bucket {
	return NewBucket(gw, BucketConfig{Name: "docs", Prefix: "task-executions/", Timeout: time.Second})
}

func TestUploadCreatesMissingBucketOnce(t *testing.T) {
	gw := newMemGateway()
	b := newBucket(gw)
	ctx := context.Background()

	require.NoError(t, b.Upload(ctx, "task-executions/a.txt", strings.NewReader("one"), 3, "text/plain"))
	require.NoError(t, b.Upload(ctx, "task-executions/b.txt", strings.NewReader("two"), 3, "text/plain"))
	assert.Equal(t, 1, gw.makes)
}

func TestEnsureToleratesConcurrentCreate(t *testing.T) {
	gw := newMemGateway()
	gw.makeErr = errors.New("conflict")
	gw.raced = true
	b := newBucket(gw)

	assert.NoError(t, b.Ensure(context.Background()))
	assert.Equal(t, 1, gw.makes)
}

func TestUploadFailureIsClassified(t *testing.T) {
	gw := newMemGateway()
	gw.makeErr = errors.New("access denied")
	b := newBucket(gw)

	err := b.Upload(context.Background(), "k", strings.NewReader("x"), 1, "text/plain")
	require.ErrorIs(t, err, fault.UploadFailed)

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.False(t, fe.Retryable)
}

func TestUploadTimeoutIsRetryable(t *testing.T) {
	gw := newMemGateway()
	gw.putDelay = time.Second
	b := NewBucket(gw, BucketConfig{Name: "docs", Timeout: 20 * time.Millisecond})

	err := b.Upload(context.Background(), "k", strings.NewReader("x"), 1, "text/plain")
	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fault.UploadFailed, fe.Kind)
	assert.True(t, fe.Retryable)
}

func TestDownloadRoundTrip(t *testing.T) {
	gw := newMemGateway()
	b := newBucket(gw)
	ctx := context.Background()
	require.NoError(t, b.Upload(ctx, "task-executions/n.txt", strings.NewReader("hello"), 5, "text/plain"))

	ref, ok := ParseRef("task-executions/n.txt", "notes.txt")
	require.True(t, ok)
	obj, err := b.Download(ctx, ref)
	require.NoError(t, err)
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, "text/plain", obj.ContentType)
}

func TestDownloadMissingObject(t *testing.T) {
	b := newBucket(newMemGateway())
	ref, _ := ParseRef("task-executions/none.txt", "none.txt")
	_, err := b.Download(context.Background(), ref)
	assert.ErrorIs(t, err, fault.NotFound)
}

func TestKeyFor(t *testing.T) {
	b := newBucket(newMemGateway())

	tests := []struct {
		name     string
		filePath string
		fileName string
		want     string
		wantKind RefKind
	}{
		{"bare key", "task-executions/ab_report.pdf", "report.pdf", "task-executions/ab_report.pdf", StoredKey},
		{"legacy url", "http://localhost:9000/docs/task-executions/ab_report.pdf", "ab_report.pdf", "task-executions/ab_report.pdf", LegacyURL},
		{"legacy url with query", "https://s3.example.com/docs/task-executions/x.csv?v=1", "", "task-executions/x.csv", LegacyURL},
		{"legacy url other bucket", "http://localhost:9000/old-bucket/x.csv", "x.csv", "task-executions/x.csv", LegacyURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, ok := ParseRef(tt.filePath, tt.fileName)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, ref.Kind)
			key, err := b.KeyFor(ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, key)
		})
	}
}

func TestKeyForUnresolvable(t *testing.T) {
	b := newBucket(newMemGateway())
	ref, _ := ParseRef("http://localhost:9000/elsewhere/x.csv", "")
	_, err := b.KeyFor(ref)
	assert.ErrorIs(t, err, fault.NotFound)

	_, ok := ParseRef("  ", "x")
	assert.False(t, ok)
}

func TestLink(t *testing.T) {
	b := newBucket(newMemGateway())
	ref, _ := ParseRef("task-executions/r.pdf", "r.pdf")
	link, err := b.Link(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "https://files.example.com/docs/task-executions/r.pdf"))
}
