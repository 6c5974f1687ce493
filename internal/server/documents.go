// Package server exposes the document request/reply operations over gRPC.
package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-ingest/constants"
	"github.com/joseph-ayodele/invoice-ingest/internal/async"
	"github.com/joseph-ayodele/invoice-ingest/internal/common"
	"github.com/joseph-ayodele/invoice-ingest/internal/entity"
)

// Documents is the document store surface the server needs.
type Documents interface {
	Create(ctx context.Context, in entity.NewDocument) (*entity.Document, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
}

// Extractions reads the extraction of a document, nil when there is none yet.
type Extractions interface {
	GetByDocumentID(ctx context.Context, documentID uuid.UUID) (*entity.Extraction, error)
}

// Queue accepts submitted documents and reports its load.
type Queue interface {
	Enqueue(ctx context.Context, job async.Job) error
	Health() async.Health
}

type SubmitRequest struct {
	Buffer           string `json:"buffer"` // base64
	Filename         string `json:"filename"`
	Mimetype         string `json:"mimetype"`
	DocumentType     string `json:"documentType"`
	HasDeliveryNotes bool   `json:"hasDeliveryNotes"`
	UploadedBy       string `json:"uploadedBy"`
	TenantID         string `json:"tenantId"`
}

type SubmitResponse struct {
	DocumentID string `json:"documentId"`
}

type GetByIDRequest struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId,omitempty"`
}

// DocumentReply is a document with its extraction, when one exists.
type DocumentReply struct {
	ID               string                   `json:"id"`
	TenantID         string                   `json:"tenantId"`
	UploadedBy       string                   `json:"uploadedBy"`
	Filename         string                   `json:"filename"`
	MimeType         string                   `json:"mimeType"`
	SizeBytes        int64                    `json:"sizeBytes"`
	DocumentType     *string                  `json:"documentType,omitempty"`
	HasDeliveryNotes bool                     `json:"hasDeliveryNotes"`
	Status           constants.DocumentStatus `json:"status"`
	ErrorReason      *string                  `json:"errorReason,omitempty"`
	InvoiceID        *string                  `json:"invoiceId,omitempty"`
	BlobName         *string                  `json:"blobName,omitempty"`
	Extraction       *entity.ExtractionView   `json:"extraction,omitempty"`
	Lines            []entity.LineView        `json:"lines"`
	ProcessedAt      *time.Time               `json:"processedAt,omitempty"`
	CreatedAt        time.Time                `json:"createdAt"`
	UpdatedAt        time.Time                `json:"updatedAt"`
}

type HealthRequest struct{}

type HealthResponse struct {
	Status     string `json:"status"`
	Queued     int    `json:"queued"`
	ActiveJobs int    `json:"activeJobs"`
}

// DocumentsService implements documents.v1.DocumentsService.
type DocumentsService struct {
	docs        Documents
	extractions Extractions
	queue       Queue
	exporter    Exporter
	logger      *slog.Logger
}

func NewDocumentsService(docs Documents, extractions Extractions, queue Queue, exporter Exporter, logger *slog.Logger) *DocumentsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentsService{docs: docs, extractions: extractions, queue: queue, exporter: exporter, logger: logger}
}

// Submit stores the file as a PENDING document and queues it. Processing is asynchronous.
func (s *DocumentsService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	in, err := s.validateSubmit(req)
	if err != nil {
		s.logger.Warn("submit rejected", "tenant_id", req.TenantID, "filename", req.Filename, "error", err)
		return nil, err
	}

	doc, err := s.docs.Create(ctx, in)
	if err != nil {
		s.logger.Error("failed to create document", "tenant_id", in.TenantID, "error", err)
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, async.Job{DocumentID: doc.ID, Reason: "submit"}); err != nil {
		// the document stays PENDING and is picked up by the next startup scan
		s.logger.Warn("document stored but not queued", "document_id", doc.ID, "error", err)
	}
	s.logger.Info("document submitted",
		"document_id", doc.ID,
		"tenant_id", doc.TenantID,
		"filename", doc.Filename,
		"size_bytes", doc.SizeBytes,
		"request_id", common.RequestIDFromContext(ctx),
	)
	return &SubmitResponse{DocumentID: doc.ID.String()}, nil
}

func (s *DocumentsService) validateSubmit(req *SubmitRequest) (entity.NewDocument, error) {
	v := common.NewValidator()
	v.Field("tenantId", req.TenantID, common.Required, common.MaxLength(128))
	v.Field("filename", req.Filename, common.Required, common.MaxLength(255))
	v.Field("uploadedBy", req.UploadedBy, common.MaxLength(128))
	v.Field("buffer", req.Buffer, common.Required)
	if err := v.Err(); err != nil {
		return entity.NewDocument{}, err
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(req.Buffer))
	if err != nil {
		return entity.NewDocument{}, common.ValidationError("buffer must be base64 encoded")
	}
	mime := constants.NormalizeMimeType(req.Mimetype)

	v.Field("buffer", data, common.Required, common.MaxBytes(constants.MaxUploadBytes))
	v.Field("mimetype", mime, common.Required, mimeAllowed)
	if err := v.Err(); err != nil {
		return entity.NewDocument{}, err
	}

	var docType *string
	if dt := constants.NormalizeDocumentType(req.DocumentType); dt != "" {
		s := string(dt)
		docType = &s
	}
	return entity.NewDocument{
		TenantID:         strings.TrimSpace(req.TenantID),
		UploadedBy:       strings.TrimSpace(req.UploadedBy),
		Filename:         strings.TrimSpace(req.Filename),
		MimeType:         mime,
		DocumentType:     docType,
		HasDeliveryNotes: req.HasDeliveryNotes,
		RawBytes:         data,
	}, nil
}

func mimeAllowed(fieldName string, value interface{}) *common.FieldError {
	mt, _ := value.(string)
	if mt == "" || constants.MimeAllowed(mt) {
		return nil
	}
	return &common.FieldError{Field: fieldName, Value: value, Message: "is not a supported file type"}
}

// GetByID returns the document with its extraction and lines. A supplied tenant must own it.
func (s *DocumentsService) GetByID(ctx context.Context, req *GetByIDRequest) (*DocumentReply, error) {
	raw := strings.TrimSpace(req.ID)
	if err := common.NewValidator().Field("id", raw, common.UUID).Err(); err != nil {
		return nil, err
	}
	id := uuid.MustParse(raw)
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			s.logger.Error("failed to load document", "document_id", id, "error", err)
		}
		return nil, err
	}
	if req.TenantID != "" && req.TenantID != doc.TenantID {
		s.logger.Warn("tenant mismatch on document read", "document_id", id, "tenant_id", req.TenantID)
		return nil, common.ForbiddenError(fmt.Sprintf("document %s does not belong to tenant %s", id, req.TenantID))
	}

	ex, err := s.extractions.GetByDocumentID(ctx, id)
	if err != nil {
		s.logger.Error("failed to load extraction", "document_id", id, "error", err)
		return nil, err
	}

	reply := &DocumentReply{
		ID:               doc.ID.String(),
		TenantID:         doc.TenantID,
		UploadedBy:       doc.UploadedBy,
		Filename:         doc.Filename,
		MimeType:         doc.MimeType,
		SizeBytes:        doc.SizeBytes,
		DocumentType:     doc.DocumentType,
		HasDeliveryNotes: doc.HasDeliveryNotes,
		Status:           doc.Status,
		ErrorReason:      doc.ErrorReason,
		InvoiceID:        doc.InvoiceID,
		BlobName:         doc.BlobName,
		Lines:            []entity.LineView{},
		ProcessedAt:      doc.ProcessedAt,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
	if ex != nil {
		reply.Extraction = ex.View()
		reply.Lines = reply.Extraction.Lines
	}
	return reply, nil
}

func (s *DocumentsService) Health(context.Context, *HealthRequest) (*HealthResponse, error) {
	h := s.queue.Health()
	return &HealthResponse{Status: "ok", Queued: h.Queued, ActiveJobs: h.Active}, nil
}
