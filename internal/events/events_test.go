package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/protocol"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-ingest/internal/common"
	"github.com/joseph-ayodele/invoice-ingest/internal/entity"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	sent []cloudevents.Event
	res  protocol.Result
}

func (f *fakeSender) Send(_ context.Context, e cloudevents.Event) protocol.Result {
	f.sent = append(f.sent, e)
	if f.res != nil {
		return f.res
	}
	return protocol.ResultACK
}

func TestPublishCompleted(t *testing.T) {
	s := &fakeSender{}
	p := NewPublisher(s, "/test", discardLogger())

	name := "ACME SL"
	ex := &entity.Extraction{
		SupplierName: &name,
		TotalAmount:  decimal.NewNullDecimal(decimal.RequireFromString("121.00")),
		Currency:     "EUR",
		Lines:        []entity.LineItem{{Quantity: decimal.NewNullDecimal(decimal.RequireFromString("2.5"))}},
	}
	docID := uuid.NewString()
	require.NoError(t, p.Completed(context.Background(), CompletedEvent{
		DocumentID: docID, TenantID: "acme", BlobName: "acme/x.pdf", Extraction: ex.View(),
	}))

	require.Len(t, s.sent, 1)
	e := s.sent[0]
	assert.Equal(t, TypeDocumentCompleted, e.Type())
	assert.Equal(t, "/test", e.Source())
	assert.Equal(t, docID, e.Subject())
	assert.Equal(t, "acme", e.Extensions()["tenantid"])

	var body map[string]any
	require.NoError(t, json.Unmarshal(e.Data(), &body))
	assert.Equal(t, docID, body["documentId"])
	assert.Equal(t, "acme/x.pdf", body["blobName"])
	extraction := body["extraction"].(map[string]any)
	assert.Equal(t, "ACME SL", extraction["supplierName"])
	assert.Equal(t, "121.00", extraction["totalAmount"])
	assert.Nil(t, extraction["taxAmount"])
	require.Len(t, extraction["lines"], 1)
	assert.Equal(t, "2.500", extraction["lines"].([]any)[0].(map[string]any)["quantity"])
}

func TestPublishFailedReportsUndelivered(t *testing.T) {
	s := &fakeSender{res: protocol.NewResult("connection refused")}
	p := NewPublisher(s, "", discardLogger())

	err := p.Failed(context.Background(), FailedEvent{DocumentID: "d", TenantID: "t", Reason: "boom"})
	require.Error(t, err)
	require.Len(t, s.sent, 1)
	assert.Equal(t, TypeDocumentFailed, s.sent[0].Type())

	var body FailedEvent
	require.NoError(t, json.Unmarshal(s.sent[0].Data(), &body))
	assert.Equal(t, FailedEvent{DocumentID: "d", TenantID: "t", Reason: "boom"}, body)
}

func TestNewWithoutSinkLogsOnly(t *testing.T) {
	p, err := New(common.EventsConfig{}, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, LogPublisher{}, p)
	assert.NoError(t, p.Failed(context.Background(), FailedEvent{DocumentID: "d"}))
}

type fakeDocs struct {
	docs   map[uuid.UUID]*entity.Document
	linked map[uuid.UUID]string
	err    error
}

func (f *fakeDocs) GetByID(_ context.Context, id uuid.UUID) (*entity.Document, error) {
	d, ok := f.docs[id]
	if !ok {
		return nil, common.NotFoundError("document not found")
	}
	return d, nil
}

func (f *fakeDocs) SetInvoiceID(_ context.Context, id uuid.UUID, invoiceID string) error {
	if f.err != nil {
		return f.err
	}
	f.linked[id] = invoiceID
	return nil
}

func invoiceEvent(t *testing.T, typ string, payload InvoiceProcessed) cloudevents.Event {
	t.Helper()
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource("/invoices")
	e.SetType(typ)
	require.NoError(t, e.SetData(cloudevents.ApplicationJSON, payload))
	return e
}

func TestReceiverLinksInvoice(t *testing.T) {
	id := uuid.New()
	docs := &fakeDocs{docs: map[uuid.UUID]*entity.Document{id: {ID: id, TenantID: "acme"}}, linked: map[uuid.UUID]string{}}
	r := NewReceiver(docs, discardLogger())

	r.Receive(context.Background(), invoiceEvent(t, TypeInvoiceProcessed, InvoiceProcessed{
		DocumentID: id.String(), InvoiceID: "inv-1", TenantID: "acme", Success: true,
	}))
	assert.Equal(t, "inv-1", docs.linked[id])

	// the short type name used by the invoice service is accepted too
	r.Receive(context.Background(), invoiceEvent(t, "invoiceProcessed", InvoiceProcessed{
		DocumentID: id.String(), InvoiceID: "inv-2", TenantID: "acme", Success: true,
	}))
	assert.Equal(t, "inv-2", docs.linked[id])
}

func TestReceiverIgnoresBadEvents(t *testing.T) {
	id := uuid.New()
	docs := &fakeDocs{docs: map[uuid.UUID]*entity.Document{id: {ID: id, TenantID: "acme"}}, linked: map[uuid.UUID]string{}}
	r := NewReceiver(docs, discardLogger())
	ctx := context.Background()

	cases := []cloudevents.Event{
		invoiceEvent(t, "something.else", InvoiceProcessed{DocumentID: id.String(), InvoiceID: "x", Success: true}),
		invoiceEvent(t, TypeInvoiceProcessed, InvoiceProcessed{DocumentID: id.String(), InvoiceID: "x", Success: false}),
		invoiceEvent(t, TypeInvoiceProcessed, InvoiceProcessed{DocumentID: "not-a-uuid", InvoiceID: "x", Success: true}),
		invoiceEvent(t, TypeInvoiceProcessed, InvoiceProcessed{DocumentID: id.String(), InvoiceID: "x", TenantID: "other", Success: true}),
		invoiceEvent(t, TypeInvoiceProcessed, InvoiceProcessed{DocumentID: uuid.NewString(), InvoiceID: "x", Success: true}),
	}
	for _, e := range cases {
		assert.NotPanics(t, func() { r.Receive(ctx, e) })
	}
	assert.Empty(t, docs.linked)

	docs.err = errors.New("db down")
	assert.NotPanics(t, func() {
		r.Receive(ctx, invoiceEvent(t, TypeInvoiceProcessed, InvoiceProcessed{DocumentID: id.String(), InvoiceID: "x", Success: true}))
	})
	assert.Empty(t, docs.linked)
}
