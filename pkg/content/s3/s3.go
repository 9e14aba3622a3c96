package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/rugalib/ruga-filepond/pkg/content"
)

// S3ContentStore implements content.Store using Amazon S3 or S3-compatible
// storage (Localstack, MinIO, Cubbit DS3).
//
// Key Design:
//   - The content id is used directly as the object key
//   - An optional key prefix groups all objects of one deployment
//
// Thread Safety:
// This implementation is safe for concurrent use by multiple goroutines.
// Concurrent writes to the same id are last-write-wins.
type S3ContentStore struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// S3ContentStoreConfig contains configuration for S3 content store.
type S3ContentStoreConfig struct {
	// Client is the configured S3 client
	Client *s3.Client

	// Bucket is the S3 bucket name
	Bucket string

	// KeyPrefix is an optional prefix for all object keys
	// Example: "filepond/" results in keys like "filepond/abc123"
	KeyPrefix string
}

// NewS3ContentStore creates a new S3-based content store.
//
// The bucket must already exist; its accessibility is verified with
// HeadBucket.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: S3 configuration
//
// Returns:
//   - *S3ContentStore: Initialized S3 content store
//   - error: Returns error if bucket access fails or context is cancelled
func NewS3ContentStore(ctx context.Context, cfg S3ContentStoreConfig) (*S3ContentStore, error) {
	// ========================================================================
	// Step 1: Check context before S3 operations
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Validate configuration
	// ========================================================================

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}

	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	// ========================================================================
	// Step 3: Verify bucket access
	// ========================================================================

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &S3ContentStore{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

// getObjectKey returns the full S3 object key for a given content id.
func (s *S3ContentStore) getObjectKey(id string) string {
	return s.keyPrefix + id
}

// isNotFound reports whether err is an S3 "no such object" response.
// GetObject answers NoSuchKey, HeadObject answers a bare NotFound.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}

// Put uploads r as a single object.
//
// Request signing needs a seekable body. An *os.File or other io.ReadSeeker
// is streamed directly; any other reader is buffered in memory first.
func (s *S3ContentStore) Put(ctx context.Context, id string, r io.Reader, size int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if id == "" {
		return 0, content.ErrInvalidID
	}

	body, length, err := seekableBody(r)
	if err != nil {
		return 0, err
	}
	if size >= 0 && length != size {
		return 0, fmt.Errorf("content %s: got %d of %d bytes: %w", id, length, size, content.ErrSizeMismatch)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.getObjectKey(id)),
		Body:          body,
		ContentLength: aws.Int64(length),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to put object: %w", err)
	}

	return length, nil
}

// seekableBody returns r as an io.ReadSeeker positioned at its current
// offset, along with the number of bytes remaining.
func seekableBody(r io.Reader) (io.ReadSeeker, int64, error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		start, err := rs.Seek(0, io.SeekCurrent)
		if err == nil {
			end, err := rs.Seek(0, io.SeekEnd)
			if err == nil {
				if _, err := rs.Seek(start, io.SeekStart); err == nil {
					return rs, end - start, nil
				}
			}
		}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read content: %w", err)
	}
	return bytes.NewReader(data), int64(len(data)), nil
}

// Open downloads the object and returns its body. The caller closes it.
func (s *S3ContentStore) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.getObjectKey(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}

	return resp.Body, nil
}

func (s *S3ContentStore) Size(ctx context.Context, id string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.getObjectKey(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
		}
		return 0, fmt.Errorf("failed to head object: %w", err)
	}

	return aws.ToInt64(resp.ContentLength), nil
}

func (s *S3ContentStore) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.Size(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, content.ErrContentNotFound) {
		return false, nil
	}
	return false, err
}

// Delete removes the object. S3 deletes are idempotent, so existence is
// checked first to report ErrContentNotFound consistently with the other
// backends.
func (s *S3ContentStore) Delete(ctx context.Context, id string) error {
	exists, err := s.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.getObjectKey(id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// List pages through ListObjectsV2 below the key prefix.
func (s *S3ContentStore) List(ctx context.Context) ([]string, error) {
	var ids []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			ids = append(ids, strings.TrimPrefix(key, s.keyPrefix))
		}
	}

	return ids, nil
}
