package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/mediaguard/reviewcenter/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// BlobStore fetches file bytes by storage path. Upload is handled by the API
// layer; the pipeline only reads.
type BlobStore interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

type MinioBlobStore struct {
	client *minio.Client
	bucket string
}

func NewMinioBlobStore(cfg *config.Config) (*MinioBlobStore, error) {
	client, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKeyID, cfg.MinIO.SecretAccessKey, ""),
		Secure: cfg.MinIO.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.MinIO.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinIO.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioBlobStore{client: client, bucket: cfg.MinIO.BucketName}, nil
}

// Fetch accepts either a bare object name in the default bucket or an
// s3://bucket/object URL.
func (s *MinioBlobStore) Fetch(ctx context.Context, path string) ([]byte, error) {
	bucket, object := s.bucket, path
	if strings.HasPrefix(path, "s3://") {
		u, err := url.Parse(path)
		if err != nil {
			return nil, &ValidationError{Reason: "bad storage path: " + path}
		}
		if u.Host != "" {
			bucket = u.Host
		}
		object = strings.TrimPrefix(u.Path, "/")
	}

	obj, err := s.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, &TransientError{Op: "blob get", Err: err}
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, obj); err != nil {
		return nil, &TransientError{Op: "blob read", Err: err}
	}
	return buf.Bytes(), nil
}
