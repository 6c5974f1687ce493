package entity

import (
	"database/sql/driver"
	"time"

	"github.com/shopspring/decimal"
)

// Fixed is a nullable decimal written with a fixed number of places, "9.00" rather than "9",
// both on the wire and in storage.
type Fixed struct {
	decimal.NullDecimal
	Places int32
}

// Money fixes d at 2 places.
func Money(d decimal.NullDecimal) Fixed { return Fixed{NullDecimal: d, Places: 2} }

// Quantity fixes d at 3 places.
func Quantity(d decimal.NullDecimal) Fixed { return Fixed{NullDecimal: d, Places: 3} }

func (f Fixed) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return []byte(`"` + f.Decimal.StringFixed(f.Places) + `"`), nil
}

func (f Fixed) Value() (driver.Value, error) {
	if !f.Valid {
		return nil, nil
	}
	return f.Decimal.StringFixed(f.Places), nil
}

// ExtractionView is the camelCase shape of an Extraction carried in replies and events.
type ExtractionView struct {
	SupplierName  *string    `json:"supplierName"`
	SupplierTaxID *string    `json:"supplierTaxId"`
	InvoiceNumber *string    `json:"invoiceNumber"`
	IssueDate     *time.Time `json:"issueDate"`
	TotalAmount   Fixed      `json:"totalAmount"`
	TaxAmount     Fixed      `json:"taxAmount"`
	Currency      string     `json:"currency"`
	Lines         []LineView `json:"lines"`
}

type LineView struct {
	Description  *string `json:"description"`
	ProductCode  *string `json:"productCode"`
	Unit         *string `json:"unit"`
	Quantity     Fixed   `json:"quantity"`
	UnitPrice    Fixed   `json:"unitPrice"`
	LinePrice    Fixed   `json:"linePrice"`
	Total        Fixed   `json:"total"`
	TaxIndicator *string `json:"taxIndicator"`
	Discount     *string `json:"discount"`
	Reference    *string `json:"reference"`
}

// View converts ex for the wire; nil stays nil.
func (ex *Extraction) View() *ExtractionView {
	if ex == nil {
		return nil
	}
	out := &ExtractionView{
		SupplierName:  ex.SupplierName,
		SupplierTaxID: ex.SupplierTaxID,
		InvoiceNumber: ex.InvoiceNumber,
		IssueDate:     ex.IssueDate,
		TotalAmount:   Money(ex.TotalAmount),
		TaxAmount:     Money(ex.TaxAmount),
		Currency:      ex.Currency,
		Lines:         LineViews(ex.Lines),
	}
	return out
}

func LineViews(lines []LineItem) []LineView {
	out := make([]LineView, 0, len(lines))
	for _, l := range lines {
		out = append(out, LineView{
			Description:  l.Description,
			ProductCode:  l.ProductCode,
			Unit:         l.Unit,
			Quantity:     Quantity(l.Quantity),
			UnitPrice:    Money(l.UnitPrice),
			LinePrice:    Money(l.LinePrice),
			Total:        Money(l.Total),
			TaxIndicator: l.TaxIndicator,
			Discount:     l.Discount,
			Reference:    l.Reference,
		})
	}
	return out
}
