package snapshot

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const defaultUploadPartSize = 5 * 1024 * 1024 // 5MB

// S3Store writes snapshots to s3://bucket/prefix locations. The manifest
// is uploaded last, so a location without it is not a snapshot.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	logger   *zap.Logger
}

// NewS3Store creates a store from the default AWS credential chain.
func NewS3Store(ctx context.Context, region string, logger *zap.Logger) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3Store{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = defaultUploadPartSize
		}),
		logger: logger,
	}, nil
}

// Begin implements Store.
func (s *S3Store) Begin(ctx context.Context, base, name string) (Txn, error) {
	bucket, prefix, err := splitBucketURL(base, "s3")
	if err != nil {
		return nil, err
	}
	prefix = objectKey(prefix, name)

	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(prefix + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to inspect s3://%s/%s: %w", bucket, prefix, err)
	}
	if len(out.Contents) > 0 {
		return nil, fmt.Errorf("snapshot location s3://%s/%s already exists", bucket, prefix)
	}
	return &s3Txn{store: s, bucket: bucket, prefix: prefix}, nil
}

type s3Txn struct {
	store  *S3Store
	bucket string
	prefix string

	mu   sync.Mutex
	keys []string
}

func (t *s3Txn) Location() string {
	return "s3://" + t.bucket + "/" + t.prefix
}

func (t *s3Txn) Put(ctx context.Context, object string, r io.Reader) error {
	key := objectKey(t.prefix, object)
	t.mu.Lock()
	t.keys = append(t.keys, key)
	t.mu.Unlock()

	_, err := t.store.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

func (t *s3Txn) Commit(context.Context) error {
	return nil
}

func (t *s3Txn) Abort(ctx context.Context) error {
	t.mu.Lock()
	keys := append([]string(nil), t.keys...)
	t.mu.Unlock()

	var firstErr error
	for _, key := range keys {
		_, err := t.store.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(t.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			t.store.logger.Warn("failed to delete staged object", zap.String("key", key), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
