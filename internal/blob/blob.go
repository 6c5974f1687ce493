// Package blob stores the original uploaded file next to its extraction.
package blob

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-ingest/internal/common"
)

// Store is the blob collaborator used by the pipeline.
type Store interface {
	// Put writes data under name. Writing a name that already exists is not an error.
	Put(ctx context.Context, name string, data []byte, contentType string) error
	// URL returns a time-limited reader URL, or "" when the backend cannot hand one out.
	URL(ctx context.Context, name string) (string, error)
	// Delete removes name; a missing object is not an error.
	Delete(ctx context.Context, name string) error
}

// ObjectName is the stable blob name of a document: <tenant>/<document id><ext>.
func ObjectName(tenantID string, documentID uuid.UUID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	tenant := strings.Trim(strings.ReplaceAll(tenantID, "/", "_"), ".")
	if tenant == "" {
		tenant = "_"
	}
	return tenant + "/" + documentID.String() + ext
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg common.BlobConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "gcs":
		return NewGCSStore(ctx, cfg.Bucket, cfg.SignedTTL, logger)
	case "local":
		return NewLocalStore(cfg.LocalDir, logger)
	default:
		return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown blob backend %q", cfg.Backend), common.ErrInvalidInput)
	}
}
