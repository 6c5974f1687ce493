package server

import (
	"context"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-ingest/internal/common"
	"github.com/joseph-ayodele/invoice-ingest/internal/export"
)

// Exporter renders a tenant's finished extractions as an XLSX workbook.
type Exporter interface {
	ExportXLSX(ctx context.Context, tenantID string, from, to *time.Time) ([]byte, error)
}

type ExportRequest struct {
	TenantID string `json:"tenantId"`
	FromDate string `json:"fromDate,omitempty"` // YYYY-MM-DD
	ToDate   string `json:"toDate,omitempty"`   // YYYY-MM-DD
}

type ExportResponse struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"` // base64 in JSON
}

// Export returns the DONE extractions of a tenant, optionally bounded by issue date.
func (s *DocumentsService) Export(ctx context.Context, req *ExportRequest) (*ExportResponse, error) {
	tenant := strings.TrimSpace(req.TenantID)
	if tenant == "" {
		return nil, common.ValidationError("tenantId is required")
	}

	var fromPtr, toPtr *time.Time
	if fd := strings.TrimSpace(req.FromDate); fd != "" {
		t, err := time.Parse("2006-01-02", fd)
		if err != nil {
			return nil, common.ValidationError("fromDate must be YYYY-MM-DD")
		}
		fromPtr = &t
	}
	if td := strings.TrimSpace(req.ToDate); td != "" {
		t, err := time.Parse("2006-01-02", td)
		if err != nil {
			return nil, common.ValidationError("toDate must be YYYY-MM-DD")
		}
		toPtr = &t
	}
	if fromPtr != nil && toPtr != nil && toPtr.Before(*fromPtr) {
		return nil, common.ValidationError("toDate must not be before fromDate")
	}

	xlsx, err := s.exporter.ExportXLSX(ctx, tenant, fromPtr, toPtr)
	if err != nil {
		s.logger.Error("export.xlsx.failed", "tenant_id", tenant, "error", err)
		return nil, err
	}
	return &ExportResponse{Filename: export.Filename(tenant, time.Now()), Content: xlsx}, nil
}
