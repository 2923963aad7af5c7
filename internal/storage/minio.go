package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/sentinel/internal/config"
)

// ImageStore holds raw event images in object storage. Records only ever
// carry the object key; bytes are fetched on demand or served via presigned
// links.
type ImageStore struct {
	client  *minio.Client
	bucket  string
	linkTTL time.Duration
}

func NewImageStore(cfg config.MinIOConfig) (*ImageStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &ImageStore{
		client:  client,
		bucket:  cfg.Bucket,
		linkTTL: cfg.LinkTTL,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *ImageStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// Put uploads image bytes under the given key.
func (s *ImageStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// Get retrieves image bytes by key.
func (s *ImageStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// PresignedURL returns a time-limited retrieval link for an image key.
func (s *ImageStore) PresignedURL(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.linkTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

// Ping checks object store connectivity.
func (s *ImageStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

// ImageKey builds the canonical object key for an event image:
// events/YYYY/MM/DD/HH-MM-SS-<id>.jpg.
func ImageKey(observedAt time.Time, id string) string {
	t := observedAt.UTC()
	return fmt.Sprintf("events/%04d/%02d/%02d/%s-%s.jpg",
		t.Year(), int(t.Month()), t.Day(), t.Format("15-04-05"), id)
}
