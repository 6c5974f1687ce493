package extract

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Analyzer turns a document into the canonical record. A nil Result with a nil error means
// the vendor finished but recognized no document.
type Analyzer interface {
	Analyze(ctx context.Context, data []byte, mimeType, url string) (*Result, error)
	Name() string
}

// Number is a vendor amount. Value is set when the vendor typed it as a number;
// otherwise Raw keeps the text as printed on the document.
type Number struct {
	Value *decimal.Decimal
	Raw   string
}

// Present reports whether the vendor reported anything for the field.
func (n Number) Present() bool {
	return n.Value != nil || n.Raw != ""
}

// Party is a supplier or customer block.
type Party struct {
	Name    *string
	Address *string
	// TaxID is normalized; TaxIDValid tells whether it passed the control-character check.
	TaxID      *string
	TaxIDValid bool
}

// Line is one recognized row of the items table.
type Line struct {
	Description  *string
	ProductCode  *string
	Unit         *string
	Quantity     Number
	UnitPrice    Number
	LinePrice    Number
	Amount       Number
	TaxIndicator *string
	Discount     *string
	Reference    *string
}

// Result is the vendor-agnostic record produced by every Analyzer.
type Result struct {
	Vendor        string
	Supplier      Party
	Customer      Party
	InvoiceNumber *string
	InvoiceDate   *time.Time
	SaleDate      *time.Time
	PrintDate     *time.Time
	DeliveryDate  *time.Time
	DueDate       *time.Time
	Currency      *string
	Subtotal      Number
	TotalTax      Number
	InvoiceTotal  Number
	Lines         []Line
	Raw           json.RawMessage
}

// IssueDate picks the first date that identifies when the invoice was issued.
func (r *Result) IssueDate() *time.Time {
	for _, d := range []*time.Time{r.InvoiceDate, r.SaleDate, r.PrintDate} {
		if d != nil {
			return d
		}
	}
	return nil
}
