package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Extraction represents the normalized invoice data derived from a Document.
// Money amounts carry two fractional digits.
type Extraction struct {
	ID            uuid.UUID           `json:"id"`
	DocumentID    uuid.UUID           `json:"document_id"`
	SupplierName  *string             `json:"supplier_name,omitempty"`
	SupplierTaxID *string             `json:"supplier_tax_id,omitempty"`
	InvoiceNumber *string             `json:"invoice_number,omitempty"`
	IssueDate     *time.Time          `json:"issue_date,omitempty"`
	TotalAmount   decimal.NullDecimal `json:"total_amount"`
	TaxAmount     decimal.NullDecimal `json:"tax_amount"`
	Currency      string              `json:"currency"`
	Raw           json.RawMessage     `json:"raw,omitempty"`
	Lines         []LineItem          `json:"lines"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// LineItem represents one product or service row of an Extraction.
// Quantity carries three fractional digits, the money fields two.
type LineItem struct {
	ID           uuid.UUID           `json:"id"`
	ExtractionID uuid.UUID           `json:"extraction_id"`
	Position     int                 `json:"position"`
	Description  *string             `json:"description,omitempty"`
	ProductCode  *string             `json:"product_code,omitempty"`
	Unit         *string             `json:"unit,omitempty"`
	Quantity     decimal.NullDecimal `json:"quantity"`
	UnitPrice    decimal.NullDecimal `json:"unit_price"`
	LinePrice    decimal.NullDecimal `json:"line_price"`
	Total        decimal.NullDecimal `json:"total"`
	TaxIndicator *string             `json:"tax_indicator,omitempty"`
	Discount     *string             `json:"discount,omitempty"`
	Reference    *string             `json:"reference,omitempty"`
}

// IsEmpty reports whether every field of the line is null.
func (l LineItem) IsEmpty() bool {
	return l.Description == nil && l.ProductCode == nil && l.Unit == nil &&
		!l.Quantity.Valid && !l.UnitPrice.Valid && !l.LinePrice.Valid && !l.Total.Valid &&
		l.TaxIndicator == nil && l.Discount == nil && l.Reference == nil
}

// ExportRow joins an Extraction with the document fields an export needs.
type ExportRow struct {
	DocumentID  uuid.UUID
	Filename    string
	ProcessedAt *time.Time
	InvoiceID   *string
	Extraction  Extraction
}
