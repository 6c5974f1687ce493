package openai

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-ingest/internal/extract"
)

// amount accepts a JSON number, a printed string, or null.
type amount extract.Number

func (a *amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		a.Raw = strings.TrimSpace(s)
		return nil
	}
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		a.Raw = string(b)
		return nil
	}
	a.Value = &d
	a.Raw = string(b)
	return nil
}

type invoiceLine struct {
	Description  *string `json:"description"`
	ProductCode  *string `json:"product_code"`
	Unit         *string `json:"unit"`
	Quantity     amount  `json:"quantity"`
	UnitPrice    amount  `json:"unit_price"`
	LinePrice    amount  `json:"line_price"`
	Amount       amount  `json:"amount"`
	TaxIndicator *string `json:"tax_indicator"`
	Discount     *string `json:"discount"`
	Reference    *string `json:"reference"`
}

type invoiceFields struct {
	SupplierName    *string       `json:"supplier_name"`
	SupplierTaxID   *string       `json:"supplier_tax_id"`
	SupplierAddress *string       `json:"supplier_address"`
	CustomerName    *string       `json:"customer_name"`
	CustomerTaxID   *string       `json:"customer_tax_id"`
	CustomerAddress *string       `json:"customer_address"`
	InvoiceNumber   *string       `json:"invoice_number"`
	InvoiceDate     *string       `json:"invoice_date"`
	SaleDate        *string       `json:"sale_date"`
	PrintDate       *string       `json:"print_date"`
	DeliveryDate    *string       `json:"delivery_date"`
	DueDate         *string       `json:"due_date"`
	Currency        *string       `json:"currency"`
	Subtotal        amount        `json:"subtotal"`
	TotalTax        amount        `json:"total_tax"`
	InvoiceTotal    amount        `json:"invoice_total"`
	Lines           []invoiceLine `json:"lines"`
}

func (f invoiceFields) toResult() *extract.Result {
	res := &extract.Result{
		Vendor:        "openai",
		Supplier:      party(f.SupplierName, f.SupplierTaxID, f.SupplierAddress),
		Customer:      party(f.CustomerName, f.CustomerTaxID, f.CustomerAddress),
		InvoiceNumber: text(f.InvoiceNumber),
		InvoiceDate:   date(f.InvoiceDate),
		SaleDate:      date(f.SaleDate),
		PrintDate:     date(f.PrintDate),
		DeliveryDate:  date(f.DeliveryDate),
		DueDate:       date(f.DueDate),
		Subtotal:      extract.Number(f.Subtotal),
		TotalTax:      extract.Number(f.TotalTax),
		InvoiceTotal:  extract.Number(f.InvoiceTotal),
	}
	if f.Currency != nil {
		res.Currency = extract.Currency(*f.Currency)
	}
	for _, l := range f.Lines {
		res.Lines = append(res.Lines, extract.Line{
			Description:  text(l.Description),
			ProductCode:  text(l.ProductCode),
			Unit:         text(l.Unit),
			Quantity:     extract.Number(l.Quantity),
			UnitPrice:    extract.Number(l.UnitPrice),
			LinePrice:    extract.Number(l.LinePrice),
			Amount:       extract.Number(l.Amount),
			TaxIndicator: text(l.TaxIndicator),
			Discount:     text(l.Discount),
			Reference:    text(l.Reference),
		})
	}
	return res
}

func party(name, tax, address *string) extract.Party {
	p := extract.Party{Name: text(name), Address: text(address)}
	if tax != nil {
		p.TaxID, p.TaxIDValid = extract.TaxID(*tax)
	}
	return p
}

func text(s *string) *string {
	if s == nil {
		return nil
	}
	return extract.Text(*s)
}

func date(s *string) *time.Time {
	if s == nil {
		return nil
	}
	return extract.ParseDate(*s)
}

// stripFences removes a ```json fence some models wrap around the object.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
