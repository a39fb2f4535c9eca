package supabase

import (
	"context"
	"time"

	"github.com/mcravero/statement-ingest/internal/domain"

	storage_go "github.com/supabase-community/storage-go"
	"go.uber.org/zap"
)

// Storage resolves uploaded statement files in Supabase Storage. The
// pipeline prefers handing the recognition service a signed URL;
// Download exists for the inline fallback when signing is unavailable.
type Storage struct {
	client *storage_go.Client
	bucket string
	logger *zap.Logger
}

// NewStorage creates a Storage backed by the project's storage API.
func NewStorage(baseURL, serviceRoleKey, bucket string, logger *zap.Logger) *Storage {
	return &Storage{
		client: storage_go.NewClient(baseURL+"/storage/v1", serviceRoleKey, nil),
		bucket: bucket,
		logger: logger,
	}
}

// SignedURL returns a time-limited public link to an uploaded file.
func (s *Storage) SignedURL(ctx context.Context, path string, expiresIn time.Duration) (string, error) {
	res, err := s.client.CreateSignedUrl(s.bucket, path, int(expiresIn.Seconds()))
	if err != nil {
		s.logger.Warn("storage: signed URL failed",
			zap.String("path", path),
			zap.Error(err),
		)
		return "", &domain.ErrExternalService{Service: "storage", Err: err}
	}
	return res.SignedURL, nil
}

// Download fetches the raw file bytes.
func (s *Storage) Download(ctx context.Context, path string) ([]byte, error) {
	data, err := s.client.DownloadFile(s.bucket, path)
	if err != nil {
		s.logger.Warn("storage: download failed",
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, &domain.ErrExternalService{Service: "storage", Err: err}
	}
	return data, nil
}
