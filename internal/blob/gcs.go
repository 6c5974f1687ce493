package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSStore keeps blobs in a Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	ttl    time.Duration
	logger *slog.Logger
}

func NewGCSStore(ctx context.Context, bucket string, ttl time.Duration, logger *slog.Logger) (*GCSStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if bucket == "" {
		return nil, errors.New("gcs: bucket name is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs: new client: %w", err)
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &GCSStore{client: client, bucket: client.Bucket(bucket), ttl: ttl, logger: logger}, nil
}

// Put writes only if the object does not exist yet, so a re-processed document keeps its
// first upload.
func (s *GCSStore) Put(ctx context.Context, name string, data []byte, contentType string) error {
	w := s.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		if isPreconditionFailed(err) {
			s.logger.Debug("blob.gcs.put.exists", "blob_name", name)
			return nil
		}
		return fmt.Errorf("gcs: write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			s.logger.Debug("blob.gcs.put.exists", "blob_name", name)
			return nil
		}
		return fmt.Errorf("gcs: finalize %s: %w", name, err)
	}
	s.logger.Debug("blob.gcs.put", "blob_name", name, "size_bytes", len(data))
	return nil
}

func (s *GCSStore) URL(_ context.Context, name string) (string, error) {
	u, err := s.bucket.SignedURL(name, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(s.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("gcs: sign %s: %w", name, err)
	}
	return u, nil
}

func (s *GCSStore) Delete(ctx context.Context, name string) error {
	err := s.bucket.Object(name).Delete(ctx)
	if err == nil || errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return fmt.Errorf("gcs: delete %s: %w", name, err)
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
