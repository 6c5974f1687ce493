// Package pipeline drives one document from PENDING to DONE or FAILED.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-ingest/constants"
	"github.com/joseph-ayodele/invoice-ingest/internal/blob"
	"github.com/joseph-ayodele/invoice-ingest/internal/common"
	"github.com/joseph-ayodele/invoice-ingest/internal/duplicates"
	"github.com/joseph-ayodele/invoice-ingest/internal/entity"
	"github.com/joseph-ayodele/invoice-ingest/internal/events"
	"github.com/joseph-ayodele/invoice-ingest/internal/extract"
	"github.com/joseph-ayodele/invoice-ingest/internal/normalize"
)

// bookkeepingTimeout bounds the FAILED write and the outcome event once a job is over,
// even when the job's own deadline has passed.
const bookkeepingTimeout = 10 * time.Second

// DocumentStore is the slice of the document repository the pipeline drives.
type DocumentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// ExtractionStore persists a finished extraction and moves its document to DONE.
type ExtractionStore interface {
	Persist(ctx context.Context, ex *entity.Extraction, blobName string) (*entity.Extraction, error)
}

// Processor runs the per-document job: upload, analyze, normalize, duplicate check, persist.
type Processor struct {
	logger      *slog.Logger
	docs        DocumentStore
	extractions ExtractionStore
	blobs       blob.Store
	analyzer    extract.Analyzer
	normalizer  *normalize.Normalizer
	checker     duplicates.Checker
	publisher   events.Publisher
}

func NewProcessor(
	logger *slog.Logger,
	docs DocumentStore,
	extractions ExtractionStore,
	blobs blob.Store,
	analyzer extract.Analyzer,
	normalizer *normalize.Normalizer,
	checker duplicates.Checker,
	publisher events.Publisher,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if checker == nil {
		checker = duplicates.Nop{}
	}
	return &Processor{
		logger:      logger,
		docs:        docs,
		extractions: extractions,
		blobs:       blobs,
		analyzer:    analyzer,
		normalizer:  normalizer,
		checker:     checker,
		publisher:   publisher,
	}
}

// Process runs one attempt for documentID. A document that no longer exists, or that has
// already reached a terminal status, is skipped. Every failure after the document is claimed
// ends in FAILED with a bounded reason and a failure event; the returned error is for logging.
func (p *Processor) Process(ctx context.Context, documentID uuid.UUID) (err error) {
	start := time.Now()
	doc, err := p.docs.GetByID(ctx, documentID)
	if errors.Is(err, common.ErrNotFound) {
		p.logger.Warn("document vanished before processing; skipping", "document_id", documentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load document %s: %w", documentID, err)
	}
	if doc.Status.Terminal() {
		p.logger.Info("document already terminal; skipping", "document_id", documentID, "status", doc.Status)
		return nil
	}

	logger := p.logger.With("document_id", doc.ID, "tenant_id", doc.TenantID)
	ctx = common.WithDocument(ctx, doc.ID.String(), doc.TenantID)

	if err := p.docs.MarkProcessing(ctx, doc.ID); err != nil {
		if errors.Is(err, common.ErrNotFound) || errors.Is(err, common.ErrInvalidTransition) {
			logger.Warn("document could not be claimed; skipping", "error", err)
			return nil
		}
		return fmt.Errorf("claim document %s: %w", doc.ID, err)
	}
	logger.Info("processing document", "filename", doc.Filename, "mime_type", doc.MimeType, "size_bytes", doc.SizeBytes)

	stage := "start"
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline panicked", "stage", stage, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = common.UnexpectedError(fmt.Sprintf("%s: panic: %v", stage, r), nil)
		}
		if err != nil {
			p.fail(ctx, logger, doc, stage, err)
		}
	}()

	blobName := blob.ObjectName(doc.TenantID, doc.ID, doc.Filename)

	stage = "upload"
	url, err := p.upload(ctx, logger, doc, blobName)
	if err != nil {
		return err
	}

	stage = "extract"
	res, err := p.analyze(ctx, logger, doc, url)
	if err != nil {
		return err
	}

	stage = "normalize"
	ex := p.normalizer.Extraction(doc.ID, res)

	stage = "duplicate_check"
	if err := p.checkDuplicate(ctx, logger, doc, ex, blobName); err != nil {
		return err
	}

	stage = "persist"
	saved, err := p.extractions.Persist(ctx, ex, blobName)
	if err != nil {
		return err
	}

	logger.Info("document processed",
		"vendor", p.analyzer.Name(),
		"lines", len(saved.Lines),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	p.publishCompleted(ctx, logger, doc, saved, blobName)
	return nil
}

// upload stores the raw bytes and returns a reader URL for the vendor, or "" when the
// store hands none out.
func (p *Processor) upload(ctx context.Context, logger *slog.Logger, doc *entity.Document, blobName string) (string, error) {
	if err := p.blobs.Put(ctx, blobName, doc.RawBytes, doc.MimeType); err != nil {
		return "", common.UnexpectedError("upload original file", err)
	}
	url, err := p.blobs.URL(ctx, blobName)
	if err != nil {
		logger.Warn("could not sign blob url; sending bytes inline", "blob_name", blobName, "error", err)
		return "", nil
	}
	return url, nil
}

func (p *Processor) analyze(ctx context.Context, logger *slog.Logger, doc *entity.Document, url string) (*extract.Result, error) {
	start := time.Now()
	res, err := p.analyzer.Analyze(ctx, doc.RawBytes, doc.MimeType, url)
	if err != nil {
		var ae *common.AppError
		if !errors.As(err, &ae) {
			err = common.ExtractionServiceError(p.analyzer.Name()+" analyze failed", err)
		}
		return nil, err
	}
	if res == nil {
		return nil, common.ExtractionServiceError("no invoice recognized in document", nil)
	}
	logger.Debug("extraction finished", "vendor", p.analyzer.Name(), "lines", len(res.Lines), "elapsed_ms", time.Since(start).Milliseconds())
	return res, nil
}

// checkDuplicate consults the invoice service when both an invoice number and a document type
// are known. A match removes the uploaded blob and fails the job.
func (p *Processor) checkDuplicate(ctx context.Context, logger *slog.Logger, doc *entity.Document, ex *entity.Extraction, blobName string) error {
	if ex.InvoiceNumber == nil || doc.DocumentType == nil {
		return nil
	}
	res, err := p.checker.Exists(ctx, *ex.InvoiceNumber, *doc.DocumentType, doc.TenantID)
	if err != nil {
		return err
	}
	if !res.Exists {
		return nil
	}

	if err := p.blobs.Delete(ctx, blobName); err != nil {
		logger.Warn("could not remove blob of duplicate document", "blob_name", blobName, "error", err)
	}
	msg := fmt.Sprintf("%s %s already recorded", *doc.DocumentType, *ex.InvoiceNumber)
	if res.InvoiceID != nil {
		msg += " as invoice " + *res.InvoiceID
	}
	return common.DuplicateInvoiceError(msg)
}

// fail records the FAILED transition and emits the failure event. The job's own context may
// already be done, so both run on a detached one.
func (p *Processor) fail(ctx context.Context, logger *slog.Logger, doc *entity.Document, stage string, cause error) {
	var ae *common.AppError
	if !errors.As(cause, &ae) {
		cause = common.UnexpectedError(stage, cause)
	}
	reason := common.TruncateReason(cause.Error(), constants.MaxErrorReasonLen)
	logger.Error("document processing failed", "stage", stage, "error", cause)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	if err := p.docs.MarkFailed(ctx, doc.ID, reason); err != nil {
		logger.Error("failed to record failure", "stage", stage, "error", err)
		return
	}
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Failed(ctx, events.FailedEvent{
		DocumentID: doc.ID.String(),
		TenantID:   doc.TenantID,
		Reason:     reason,
	}); err != nil {
		logger.Warn("failure event not delivered", "error", err)
	}
}

func (p *Processor) publishCompleted(ctx context.Context, logger *slog.Logger, doc *entity.Document, ex *entity.Extraction, blobName string) {
	if p.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	if err := p.publisher.Completed(ctx, events.CompletedEvent{
		DocumentID: doc.ID.String(),
		TenantID:   doc.TenantID,
		BlobName:   blobName,
		Extraction: ex.View(),
	}); err != nil {
		logger.Warn("completion event not delivered", "error", err)
	}
}
