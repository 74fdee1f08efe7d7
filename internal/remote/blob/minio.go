// Package blob stores listing images in an S3-compatible bucket.
package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/starford/bartermate/internal/remote"
)

// Options configures the MinIO client.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	// PublicURL overrides the base of returned object URLs. Defaults to
	// <endpoint>/<bucket>.
	PublicURL string
}

// Store uploads objects to one bucket.
type Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
	logger    *slog.Logger

	mu          sync.Mutex
	bucketReady bool
}

var _ remote.BlobStore = (*Store)(nil)

// New creates the client. The bucket is created on the first upload so that
// the store can be built while offline.
func New(opts Options, logger *slog.Logger) (*Store, error) {
	endpoint, secure := splitEndpoint(opts.Endpoint)
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("blob: client: %w", err)
	}

	base := opts.PublicURL
	if base == "" {
		base = client.EndpointURL().String() + "/" + opts.Bucket
	}
	return &Store{
		client:    client,
		bucket:    opts.Bucket,
		publicURL: strings.TrimRight(base, "/"),
		logger:    logger,
	}, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bucketReady {
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, existsErr := s.client.BucketExists(ctx, s.bucket)
		if existsErr != nil || !exists {
			return fmt.Errorf("blob: make bucket %q: %w", s.bucket, err)
		}
	} else {
		s.logger.Info("blob: bucket created", slog.String("bucket", s.bucket))
	}
	s.bucketReady = true
	return nil
}

// Upload writes the object at key, replacing any existing one, and returns
// its public URL.
func (s *Store) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("blob: put %s: %w", key, err)
	}
	s.logger.Debug("blob: uploaded",
		slog.String("key", info.Key),
		slog.Int64("size", info.Size),
	)
	return s.PublicURL(key), nil
}

// PublicURL returns the URL an uploaded key resolves to.
func (s *Store) PublicURL(key string) string {
	return s.publicURL + "/" + strings.TrimLeft(key, "/")
}

// splitEndpoint accepts either host:port or a full URL.
func splitEndpoint(endpoint string) (string, bool) {
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" && u.Host != "" {
		return u.Host, u.Scheme == "https"
	}
	return endpoint, false
}
