package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"charterpay/internal/app/policies"
)

// Archiver stores raw webhook payloads in an S3-compatible bucket so disputed
// settlements can be replayed. The bucket stays private.
type Archiver struct {
	bucket         string
	client         *minio.Client
	logger         *slog.Logger
	bucketInitOnce sync.Once
	bucketInitErr  error
}

// New configures the archiver using the provided endpoint and credentials.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool, logger *slog.Logger) (*Archiver, error) {
	host := parseEndpoint(endpoint)
	if host == "" {
		return nil, errors.New("audit: endpoint is required")
	}
	if bucket == "" {
		return nil, errors.New("audit: bucket is required")
	}
	minioClient, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("audit: init client: %w", err)
	}
	return &Archiver{bucket: bucket, client: minioClient, logger: logger}, nil
}

func (a *Archiver) Archive(ctx context.Context, key string, payload []byte) error {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return errors.New("audit: object key is required")
	}
	if err := a.ensureBucket(ctx); err != nil {
		return err
	}
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("audit: put object: %w", err)
	}
	if a.logger != nil {
		a.logger.Debug("webhook payload archived", "bucket", a.bucket, "key", key, "size", len(payload))
	}
	return nil
}

func (a *Archiver) ensureBucket(ctx context.Context) error {
	a.bucketInitOnce.Do(func() {
		exists, err := a.client.BucketExists(ctx, a.bucket)
		if err != nil {
			a.bucketInitErr = fmt.Errorf("audit: check bucket: %w", err)
			return
		}
		if exists {
			return
		}
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			a.bucketInitErr = fmt.Errorf("audit: create bucket: %w", err)
		}
	})
	return a.bucketInitErr
}

// NoopArchiver drops payloads, for runs without object storage.
type NoopArchiver struct{}

func (NoopArchiver) Archive(context.Context, string, []byte) error {
	return nil
}

func parseEndpoint(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return endpoint
}

var _ policies.Archiver = (*Archiver)(nil)
var _ policies.Archiver = NoopArchiver{}
