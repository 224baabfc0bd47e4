package snapshot

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore writes snapshots to gs://bucket/prefix locations. The manifest
// is uploaded last, so a location without it is not a snapshot.
type GCSStore struct {
	client *storage.Client
	logger *zap.Logger
}

// NewGCSStore creates a store. An empty credentialsFile uses the
// application default credentials.
func NewGCSStore(ctx context.Context, credentialsFile string, logger *zap.Logger) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, logger: logger}, nil
}

// Begin implements Store.
func (s *GCSStore) Begin(ctx context.Context, base, name string) (Txn, error) {
	bucket, prefix, err := splitBucketURL(base, "gs")
	if err != nil {
		return nil, err
	}
	prefix = objectKey(prefix, name)
	handle := s.client.Bucket(bucket)

	it := handle.Objects(ctx, &storage.Query{Prefix: prefix + "/"})
	if _, err := it.Next(); err == nil {
		return nil, fmt.Errorf("snapshot location gs://%s/%s already exists", bucket, prefix)
	} else if !stderrors.Is(err, iterator.Done) {
		return nil, fmt.Errorf("failed to inspect gs://%s/%s: %w", bucket, prefix, err)
	}
	return &gcsTxn{store: s, bucket: handle, name: bucket, prefix: prefix}, nil
}

type gcsTxn struct {
	store  *GCSStore
	bucket *storage.BucketHandle
	name   string
	prefix string

	mu      sync.Mutex
	objects []string
}

func (t *gcsTxn) Location() string {
	return "gs://" + t.name + "/" + t.prefix
}

func (t *gcsTxn) Put(ctx context.Context, object string, r io.Reader) error {
	key := objectKey(t.prefix, object)
	t.mu.Lock()
	t.objects = append(t.objects, key)
	t.mu.Unlock()

	w := t.bucket.Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (t *gcsTxn) Commit(context.Context) error {
	return nil
}

func (t *gcsTxn) Abort(ctx context.Context) error {
	t.mu.Lock()
	objects := append([]string(nil), t.objects...)
	t.mu.Unlock()

	var firstErr error
	for _, key := range objects {
		err := t.bucket.Object(key).Delete(ctx)
		if err != nil && !stderrors.Is(err, storage.ErrObjectNotExist) {
			t.store.logger.Warn("failed to delete staged object", zap.String("object", key), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
