package normalize

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-ingest/constants"
	"github.com/joseph-ayodele/invoice-ingest/internal/entity"
	"github.com/joseph-ayodele/invoice-ingest/internal/extract"
)

// Normalizer maps extract.Result onto entity.Extraction.
type Normalizer struct {
	defaultCurrency string
	logger          *slog.Logger
}

func New(defaultCurrency string, logger *slog.Logger) *Normalizer {
	if defaultCurrency == "" {
		defaultCurrency = constants.DefaultCurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{defaultCurrency: defaultCurrency, logger: logger}
}

// Extraction builds the persisted shape for documentID. Lines with no data are dropped and a
// missing line total is derived from quantity and unit price.
func (n *Normalizer) Extraction(documentID uuid.UUID, res *extract.Result) *entity.Extraction {
	out := &entity.Extraction{
		DocumentID:    documentID,
		SupplierName:  res.Supplier.Name,
		SupplierTaxID: res.Supplier.TaxID,
		InvoiceNumber: res.InvoiceNumber,
		IssueDate:     res.IssueDate(),
		TotalAmount:   Amount(res.InvoiceTotal, MoneyPlaces),
		TaxAmount:     Amount(res.TotalTax, MoneyPlaces),
		Currency:      n.defaultCurrency,
		Raw:           res.Raw,
	}
	if res.Currency != nil {
		out.Currency = *res.Currency
	}
	if !out.TotalAmount.Valid {
		sub := Amount(res.Subtotal, MoneyPlaces)
		if sub.Valid && out.TaxAmount.Valid {
			out.TotalAmount = decimalSum(sub, out.TaxAmount)
		}
	}
	if res.Supplier.TaxID != nil && !res.Supplier.TaxIDValid {
		n.logger.Warn("normalize.invalid_supplier_tax_id", "document_id", documentID, "tax_id", *res.Supplier.TaxID)
	}

	dropped := 0
	for _, l := range res.Lines {
		line := Line(l)
		if line.IsEmpty() {
			dropped++
			continue
		}
		line.Position = len(out.Lines)
		out.Lines = append(out.Lines, line)
	}
	if dropped > 0 {
		n.logger.Debug("normalize.lines_dropped", "document_id", documentID, "dropped", dropped)
	}
	return out
}

// Line converts one canonical line.
func Line(l extract.Line) entity.LineItem {
	item := entity.LineItem{
		Description:  l.Description,
		ProductCode:  l.ProductCode,
		Unit:         l.Unit,
		Quantity:     Amount(l.Quantity, QuantityPlaces),
		UnitPrice:    Amount(l.UnitPrice, MoneyPlaces),
		LinePrice:    Amount(l.LinePrice, MoneyPlaces),
		Total:        Amount(l.Amount, MoneyPlaces),
		TaxIndicator: l.TaxIndicator,
		Discount:     l.Discount,
		Reference:    l.Reference,
	}
	if !item.Total.Valid && item.Quantity.Valid && item.UnitPrice.Valid {
		item.Total.Decimal = item.Quantity.Decimal.Mul(item.UnitPrice.Decimal).Round(MoneyPlaces)
		item.Total.Valid = true
	}
	return item
}

func decimalSum(a, b decimal.NullDecimal) decimal.NullDecimal {
	return decimal.NewNullDecimal(a.Decimal.Add(b.Decimal))
}
