package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-ingest/constants"
	"github.com/joseph-ayodele/invoice-ingest/internal/common"
	"github.com/joseph-ayodele/invoice-ingest/internal/entity"
)

const documentsTable = "documents"

var documentColumns = []string{
	"id", "tenant_id", "uploaded_by", "filename", "mime_type", "size_bytes", "document_type",
	"has_delivery_notes", "raw_bytes", "status", "error_reason", "invoice_id", "blob_name",
	"processed_at", "created_at", "updated_at",
}

// DocumentRepository owns documents rows and their status transitions. Only the pipeline
// moves a document between statuses.
type DocumentRepository interface {
	Create(ctx context.Context, in entity.NewDocument) (*entity.Document, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	ListIDsByStatus(ctx context.Context, statuses ...constants.DocumentStatus) ([]uuid.UUID, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	SetInvoiceID(ctx context.Context, id uuid.UUID, invoiceID string) error
	CountByStatus(ctx context.Context) (map[constants.DocumentStatus]int, error)
}

type documentRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewDocumentRepository(db *DB, logger *slog.Logger) DocumentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &documentRepository{db: db, logger: logger}
}

// Create stores a new PENDING document holding the raw bytes.
func (r *documentRepository) Create(ctx context.Context, in entity.NewDocument) (*entity.Document, error) {
	now := time.Now().UTC()
	doc := &entity.Document{
		ID:               uuid.New(),
		TenantID:         in.TenantID,
		UploadedBy:       in.UploadedBy,
		Filename:         in.Filename,
		MimeType:         in.MimeType,
		SizeBytes:        int64(len(in.RawBytes)),
		DocumentType:     in.DocumentType,
		HasDeliveryNotes: in.HasDeliveryNotes,
		RawBytes:         in.RawBytes,
		Status:           constants.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	q, args := r.db.builder().Insert(documentsTable).
		Columns("id", "tenant_id", "uploaded_by", "filename", "mime_type", "size_bytes", "document_type",
			"has_delivery_notes", "raw_bytes", "status", "created_at", "updated_at").
		Values(doc.ID, doc.TenantID, doc.UploadedBy, doc.Filename, doc.MimeType, doc.SizeBytes, doc.DocumentType,
			doc.HasDeliveryNotes, doc.RawBytes, string(doc.Status), now, now).
		Query()
	if err := r.db.drv.Exec(ctx, q, args, nil); err != nil {
		r.logger.Error("failed to create document", "tenant_id", in.TenantID, "filename", in.Filename, "error", err)
		return nil, common.PersistenceError("create document", err)
	}
	r.logger.Debug("document created", "document_id", doc.ID, "tenant_id", doc.TenantID, "size_bytes", doc.SizeBytes)
	return doc, nil
}

func (r *documentRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	return getDocument(ctx, r.db, r.db.drv, id)
}

func getDocument(ctx context.Context, db *DB, eq dialect.ExecQuerier, id uuid.UUID) (*entity.Document, error) {
	b := db.builder()
	q, args := b.Select(documentColumns...).
		From(b.Table(documentsTable)).
		Where(entsql.EQ("id", id)).
		Query()
	rows := &entsql.Rows{}
	if err := eq.Query(ctx, q, args, rows); err != nil {
		return nil, common.PersistenceError("get document", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, common.PersistenceError("get document", err)
		}
		return nil, common.NotFoundError(fmt.Sprintf("document %s not found", id))
	}
	doc, err := scanDocument(rows)
	if err != nil {
		return nil, common.PersistenceError("scan document", err)
	}
	return doc, nil
}

func scanDocument(rows *entsql.Rows) (*entity.Document, error) {
	var (
		d                                 entity.Document
		status                            string
		processedAt, createdAt, updatedAt dbTime
	)
	if err := rows.Scan(&d.ID, &d.TenantID, &d.UploadedBy, &d.Filename, &d.MimeType, &d.SizeBytes,
		&d.DocumentType, &d.HasDeliveryNotes, &d.RawBytes, &status, &d.ErrorReason, &d.InvoiceID,
		&d.BlobName, &processedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	d.Status = constants.DocumentStatus(status)
	d.ProcessedAt = processedAt.ptr()
	d.CreatedAt = createdAt.Time
	d.UpdatedAt = updatedAt.Time
	return &d, nil
}

// ListIDsByStatus returns matching document ids, oldest first.
func (r *documentRepository) ListIDsByStatus(ctx context.Context, statuses ...constants.DocumentStatus) ([]uuid.UUID, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	b := r.db.builder()
	q, args := b.Select("id").
		From(b.Table(documentsTable)).
		Where(entsql.In("status", statusArgs(statuses)...)).
		OrderBy(entsql.Asc("created_at"), entsql.Asc("id")).
		Query()
	rows := &entsql.Rows{}
	if err := r.db.drv.Query(ctx, q, args, rows); err != nil {
		r.logger.Error("failed to list documents by status", "statuses", statuses, "error", err)
		return nil, common.PersistenceError("list documents", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, common.PersistenceError("scan document id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, common.PersistenceError("list documents", err)
	}
	return ids, nil
}

// MarkProcessing claims a PENDING (or crashed PROCESSING) document and clears any stale
// error reason.
func (r *documentRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	q, args := r.db.builder().Update(documentsTable).
		Set("status", string(constants.StatusProcessing)).
		SetNull("error_reason").
		Set("updated_at", time.Now().UTC()).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.In("status", statusArgs(activeStatuses)...),
		)).
		Query()
	return r.transition(ctx, id, constants.StatusProcessing, q, args)
}

// MarkFailed records a bounded reason and drops the raw bytes.
func (r *documentRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	reason = common.TruncateReason(reason, constants.MaxErrorReasonLen)
	if reason == "" {
		reason = "unknown error"
	}
	q, args := r.db.builder().Update(documentsTable).
		Set("status", string(constants.StatusFailed)).
		Set("error_reason", reason).
		SetNull("raw_bytes").
		Set("updated_at", time.Now().UTC()).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.In("status", statusArgs(activeStatuses)...),
		)).
		Query()
	return r.transition(ctx, id, constants.StatusFailed, q, args)
}

func (r *documentRepository) transition(ctx context.Context, id uuid.UUID, to constants.DocumentStatus, q string, args []any) error {
	n, err := execAffected(ctx, r.db.drv, q, args)
	if err != nil {
		r.logger.Error("failed to update document status", "document_id", id, "to", to, "error", err)
		return common.PersistenceError("update document status", err)
	}
	if n == 1 {
		return nil
	}
	doc, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return common.NewAppError("INVALID_TRANSITION",
		fmt.Sprintf("document %s cannot move from %s to %s", id, doc.Status, to), common.ErrInvalidTransition)
}

// SetInvoiceID links the invoice recorded by the service of record.
func (r *documentRepository) SetInvoiceID(ctx context.Context, id uuid.UUID, invoiceID string) error {
	q, args := r.db.builder().Update(documentsTable).
		Set("invoice_id", invoiceID).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.EQ("id", id)).
		Query()
	n, err := execAffected(ctx, r.db.drv, q, args)
	if err != nil {
		return common.PersistenceError("set invoice id", err)
	}
	if n == 0 {
		return common.NotFoundError(fmt.Sprintf("document %s not found", id))
	}
	return nil
}

// CountByStatus returns the number of documents per status; absent statuses count zero.
func (r *documentRepository) CountByStatus(ctx context.Context) (map[constants.DocumentStatus]int, error) {
	b := r.db.builder()
	q, args := b.Select("status", entsql.Count("*")).
		From(b.Table(documentsTable)).
		GroupBy("status").
		Query()
	rows := &entsql.Rows{}
	if err := r.db.drv.Query(ctx, q, args, rows); err != nil {
		return nil, common.PersistenceError("count documents", err)
	}
	defer rows.Close()

	out := make(map[constants.DocumentStatus]int, len(constants.DocumentStatuses))
	for _, s := range constants.DocumentStatuses {
		out[s] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, common.PersistenceError("scan document count", err)
		}
		out[constants.DocumentStatus(status)] = n
	}
	return out, rows.Err()
}

var activeStatuses = []constants.DocumentStatus{constants.StatusPending, constants.StatusProcessing}

func statusArgs(statuses []constants.DocumentStatus) []any {
	out := make([]any, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
