package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-ingest/internal/common"
	"github.com/joseph-ayodele/invoice-ingest/internal/entity"
)

// InvoiceProcessed is the payload of TypeInvoiceProcessed.
type InvoiceProcessed struct {
	DocumentID string `json:"documentId"`
	InvoiceID  string `json:"invoiceId"`
	TenantID   string `json:"tenantId"`
	Success    bool   `json:"success"`
}

// InvoiceLinker is the slice of the document store the receiver writes to.
type InvoiceLinker interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	SetInvoiceID(ctx context.Context, id uuid.UUID, invoiceID string) error
}

// Receiver links documents to the invoices booked from them.
type Receiver struct {
	docs   InvoiceLinker
	logger *slog.Logger
}

func NewReceiver(docs InvoiceLinker, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{docs: docs, logger: logger}
}

// Run receives CloudEvents over HTTP on port until ctx is done.
func (r *Receiver) Run(ctx context.Context, port int) error {
	c, err := cloudevents.NewClientHTTP(cloudevents.WithPort(port))
	if err != nil {
		return fmt.Errorf("cloudevents receiver: %w", err)
	}
	r.logger.Info("events receiver listening", "port", port)
	if err := c.StartReceiver(ctx, r.Receive); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("cloudevents receiver: %w", err)
	}
	return nil
}

// Receive always acknowledges; every problem is logged and dropped.
func (r *Receiver) Receive(ctx context.Context, e cloudevents.Event) {
	if err := r.handle(ctx, e); err != nil {
		r.logger.Warn("events.invoice_processed.dropped", "event_id", e.ID(), "type", e.Type(), "error", err)
	}
}

func (r *Receiver) handle(ctx context.Context, e cloudevents.Event) error {
	if e.Type() != TypeInvoiceProcessed && !strings.HasSuffix(e.Type(), "invoiceProcessed") {
		r.logger.Debug("ignoring event", "event_id", e.ID(), "type", e.Type())
		return nil
	}
	var in InvoiceProcessed
	if err := e.DataAs(&in); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if !in.Success {
		r.logger.Info("invoice service reported failure", "document_id", in.DocumentID, "tenant_id", in.TenantID)
		return nil
	}
	id, err := uuid.Parse(in.DocumentID)
	if err != nil {
		return fmt.Errorf("documentId %q: %w", in.DocumentID, err)
	}
	if strings.TrimSpace(in.InvoiceID) == "" {
		return errors.New("invoiceId is empty")
	}

	doc, err := r.docs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if in.TenantID != "" && doc.TenantID != in.TenantID {
		return common.ForbiddenError(fmt.Sprintf("tenant %s does not own document %s", in.TenantID, id))
	}
	if err := r.docs.SetInvoiceID(ctx, id, in.InvoiceID); err != nil {
		return err
	}
	r.logger.Info("linked invoice to document", "document_id", id, "invoice_id", in.InvoiceID, "tenant_id", doc.TenantID)
	return nil
}
