package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-ingest/constants"
)

// Document represents one submitted file and its processing state.
type Document struct {
	ID               uuid.UUID                `json:"id"`
	TenantID         string                   `json:"tenant_id"`
	UploadedBy       string                   `json:"uploaded_by"`
	Filename         string                   `json:"filename"`
	MimeType         string                   `json:"mime_type"`
	SizeBytes        int64                    `json:"size_bytes"`
	DocumentType     *string                  `json:"document_type,omitempty"`
	HasDeliveryNotes bool                     `json:"has_delivery_notes"`
	RawBytes         []byte                   `json:"-"`
	Status           constants.DocumentStatus `json:"status"`
	ErrorReason      *string                  `json:"error_reason,omitempty"`
	InvoiceID        *string                  `json:"invoice_id,omitempty"`
	BlobName         *string                  `json:"blob_name,omitempty"`
	ProcessedAt      *time.Time               `json:"processed_at,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

// NewDocument represents the fields a submission supplies.
type NewDocument struct {
	TenantID         string
	UploadedBy       string
	Filename         string
	MimeType         string
	DocumentType     *string
	HasDeliveryNotes bool
	RawBytes         []byte
}
