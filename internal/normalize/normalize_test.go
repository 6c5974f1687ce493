package normalize

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-ingest/internal/extract"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func str(s string) *string { return &s }

func newNormalizer() *Normalizer {
	return New("EUR", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLineDerivesTotal(t *testing.T) {
	line := Line(extract.Line{
		Quantity:  extract.Number{Value: dec("2.5")},
		UnitPrice: extract.Number{Raw: "3,60"},
	})
	require.True(t, line.Total.Valid)
	assert.Equal(t, "9.00", line.Total.Decimal.StringFixed(2))
	assert.True(t, decimal.RequireFromString("9").Equal(line.Total.Decimal))
}

func TestLineKeepsExplicitTotal(t *testing.T) {
	line := Line(extract.Line{
		Quantity:  extract.Number{Value: dec("2")},
		UnitPrice: extract.Number{Value: dec("3")},
		Amount:    extract.Number{Value: dec("5.5")},
	})
	assert.Equal(t, "5.50", line.Total.Decimal.StringFixed(2))
}

func TestLineRoundsQuantityToThreePlaces(t *testing.T) {
	line := Line(extract.Line{
		Quantity:  extract.Number{Value: dec("1.23456")},
		UnitPrice: extract.Number{Value: dec("10")},
	})
	assert.Equal(t, "1.235", line.Quantity.Decimal.String())
	assert.Equal(t, "12.35", line.Total.Decimal.StringFixed(2))
}

func TestExtractionMapsAndPrunes(t *testing.T) {
	id := uuid.New()
	issued := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	res := &extract.Result{
		Supplier:      extract.Party{Name: str("Suministros Norte SL"), TaxID: str("A12345674"), TaxIDValid: true},
		InvoiceNumber: str("F-1"),
		SaleDate:      &issued,
		InvoiceTotal:  extract.Number{Raw: "1.234,56"},
		TotalTax:      extract.Number{Raw: "n/a"},
		Lines: []extract.Line{
			{},
			{Description: str("Harina"), Quantity: extract.Number{Value: dec("2.5")}, UnitPrice: extract.Number{Value: dec("3.60")}},
			{Quantity: extract.Number{Raw: "--"}},
			{Reference: str("PO-9")},
		},
		Raw: json.RawMessage(`{"vendor":"x"}`),
	}

	ex := newNormalizer().Extraction(id, res)
	assert.Equal(t, id, ex.DocumentID)
	assert.Equal(t, "Suministros Norte SL", *ex.SupplierName)
	assert.Equal(t, "A12345674", *ex.SupplierTaxID)
	assert.Equal(t, issued, *ex.IssueDate)
	assert.Equal(t, "1234.56", ex.TotalAmount.Decimal.StringFixed(2))
	assert.False(t, ex.TaxAmount.Valid)
	assert.Equal(t, "EUR", ex.Currency, "currency defaults when the vendor reports none")
	assert.JSONEq(t, `{"vendor":"x"}`, string(ex.Raw))

	require.Len(t, ex.Lines, 2)
	assert.Equal(t, 0, ex.Lines[0].Position)
	assert.Equal(t, "9.00", ex.Lines[0].Total.Decimal.StringFixed(2))
	assert.Equal(t, 1, ex.Lines[1].Position)
	assert.Equal(t, "PO-9", *ex.Lines[1].Reference)
}

func TestExtractionKeepsVendorCurrencyAndDerivesTotal(t *testing.T) {
	res := &extract.Result{
		Currency: str("USD"),
		Subtotal: extract.Number{Value: dec("100")},
		TotalTax: extract.Number{Value: dec("21")},
	}
	ex := newNormalizer().Extraction(uuid.New(), res)
	assert.Equal(t, "USD", ex.Currency)
	require.True(t, ex.TotalAmount.Valid)
	assert.Equal(t, "121.00", ex.TotalAmount.Decimal.StringFixed(2))
	assert.Empty(t, ex.Lines)
}
