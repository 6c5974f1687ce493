// Package events publishes document outcomes as CloudEvents and consumes the invoice service's
// invoiceProcessed notifications.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/protocol"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-ingest/internal/common"
	"github.com/joseph-ayodele/invoice-ingest/internal/entity"
)

const (
	TypeDocumentCompleted = "invoiceingest.document.completed"
	TypeDocumentFailed    = "invoiceingest.document.failed"
	TypeInvoiceProcessed  = "invoiceingest.invoice.processed"
)

// CompletedEvent is the payload of TypeDocumentCompleted.
type CompletedEvent struct {
	DocumentID string                 `json:"documentId"`
	TenantID   string                 `json:"tenantId"`
	BlobName   string                 `json:"blobName"`
	Extraction *entity.ExtractionView `json:"extraction"`
}

// FailedEvent is the payload of TypeDocumentFailed.
type FailedEvent struct {
	DocumentID string `json:"documentId"`
	TenantID   string `json:"tenantId"`
	Reason     string `json:"reason"`
}

// Publisher emits document outcomes. Delivery is best effort; callers log a returned error
// and carry on.
type Publisher interface {
	Completed(ctx context.Context, ev CompletedEvent) error
	Failed(ctx context.Context, ev FailedEvent) error
}

// Sender is the part of a CloudEvents client the publisher needs.
type Sender interface {
	Send(ctx context.Context, e cloudevents.Event) protocol.Result
}

// CloudEventsPublisher sends structured-JSON CloudEvents through a Sender.
type CloudEventsPublisher struct {
	sender Sender
	source string
	logger *slog.Logger
}

// New returns a publisher posting to cfg.SinkURL over HTTP, or a logging-only publisher when
// no sink is configured.
func New(cfg common.EventsConfig, logger *slog.Logger) (Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SinkURL == "" {
		return LogPublisher{logger: logger}, nil
	}
	c, err := cloudevents.NewClientHTTP(cloudevents.WithTarget(cfg.SinkURL))
	if err != nil {
		return nil, fmt.Errorf("cloudevents client: %w", err)
	}
	return NewPublisher(c, cfg.Source, logger), nil
}

func NewPublisher(sender Sender, source string, logger *slog.Logger) *CloudEventsPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if source == "" {
		source = "/invoice-ingest/documents"
	}
	return &CloudEventsPublisher{sender: sender, source: source, logger: logger}
}

func (p *CloudEventsPublisher) Completed(ctx context.Context, ev CompletedEvent) error {
	return p.send(ctx, TypeDocumentCompleted, ev.DocumentID, ev.TenantID, ev)
}

func (p *CloudEventsPublisher) Failed(ctx context.Context, ev FailedEvent) error {
	return p.send(ctx, TypeDocumentFailed, ev.DocumentID, ev.TenantID, ev)
}

func (p *CloudEventsPublisher) send(ctx context.Context, typ, documentID, tenantID string, payload any) error {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(p.source)
	e.SetType(typ)
	e.SetSubject(documentID)
	e.SetTime(time.Now().UTC())
	e.SetExtension("tenantid", tenantID)
	if err := e.SetData(cloudevents.ApplicationJSON, payload); err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}

	res := p.sender.Send(ctx, e)
	if !cloudevents.IsACK(res) {
		p.logger.Warn("events.publish.failed", "type", typ, "document_id", documentID, "tenant_id", tenantID, "error", res)
		return fmt.Errorf("publish %s: %w", typ, res)
	}
	p.logger.Debug("events.publish", "type", typ, "event_id", e.ID(), "document_id", documentID)
	return nil
}

// LogPublisher only logs outcomes.
type LogPublisher struct {
	logger *slog.Logger
}

func (p LogPublisher) Completed(_ context.Context, ev CompletedEvent) error {
	p.logger.Info("document completed", "document_id", ev.DocumentID, "tenant_id", ev.TenantID, "blob_name", ev.BlobName)
	return nil
}

func (p LogPublisher) Failed(_ context.Context, ev FailedEvent) error {
	p.logger.Info("document failed", "document_id", ev.DocumentID, "tenant_id", ev.TenantID, "reason", ev.Reason)
	return nil
}
