package azure

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-ingest/internal/extract"
)

// field is one node of the typed field tree returned by the analyze operation.
type field struct {
	Type          string           `json:"type"`
	Content       string           `json:"content"`
	Confidence    float64          `json:"confidence"`
	ValueString   *string          `json:"valueString"`
	ValueNumber   *decimal.Decimal `json:"valueNumber"`
	ValueInteger  *int64           `json:"valueInteger"`
	ValueDate     *string          `json:"valueDate"`
	ValueCurrency *currencyValue   `json:"valueCurrency"`
	ValueArray    []field          `json:"valueArray"`
	ValueObject   map[string]field `json:"valueObject"`
}

type currencyValue struct {
	Amount         *decimal.Decimal `json:"amount"`
	CurrencyCode   string           `json:"currencyCode"`
	CurrencySymbol string           `json:"currencySymbol"`
}

type fieldSet map[string]field

// lookup returns the first present field among the given names (prebuilt and custom models
// name some fields differently).
func (fs fieldSet) lookup(names ...string) (field, bool) {
	for _, n := range names {
		if f, ok := fs[n]; ok {
			return f, true
		}
	}
	return field{}, false
}

func (fs fieldSet) text(names ...string) *string {
	f, ok := fs.lookup(names...)
	if !ok {
		return nil
	}
	if f.ValueString != nil {
		return extract.Text(*f.ValueString)
	}
	return extract.Text(f.Content)
}

func (fs fieldSet) number(names ...string) extract.Number {
	f, ok := fs.lookup(names...)
	if !ok {
		return extract.Number{}
	}
	switch {
	case f.ValueCurrency != nil && f.ValueCurrency.Amount != nil:
		return extract.Number{Value: f.ValueCurrency.Amount, Raw: f.Content}
	case f.ValueNumber != nil:
		return extract.Number{Value: f.ValueNumber, Raw: f.Content}
	case f.ValueInteger != nil:
		v := decimal.NewFromInt(*f.ValueInteger)
		return extract.Number{Value: &v, Raw: f.Content}
	}
	return extract.Number{Raw: f.Content}
}

// date converts the field to an instant; an unparseable date is dropped, never an error.
func (fs fieldSet) date(names ...string) *time.Time {
	f, ok := fs.lookup(names...)
	if !ok {
		return nil
	}
	if f.ValueDate != nil {
		if t := extract.ParseDate(*f.ValueDate); t != nil {
			return t
		}
	}
	return extract.ParseDate(f.Content)
}

func (fs fieldSet) currency(names ...string) *string {
	f, ok := fs.lookup(names...)
	if !ok || f.ValueCurrency == nil {
		return nil
	}
	return extract.Currency(f.ValueCurrency.CurrencyCode)
}

func (fs fieldSet) party(nameKeys, taxKeys, addressKeys []string) extract.Party {
	p := extract.Party{
		Name:    fs.text(nameKeys...),
		Address: fs.text(addressKeys...),
	}
	if raw := fs.text(taxKeys...); raw != nil {
		p.TaxID, p.TaxIDValid = extract.TaxID(*raw)
	}
	return p
}

func (fs fieldSet) lines(names ...string) []extract.Line {
	f, ok := fs.lookup(names...)
	if !ok {
		return nil
	}
	out := make([]extract.Line, 0, len(f.ValueArray))
	for _, item := range f.ValueArray {
		obj := fieldSet(item.ValueObject)
		if obj == nil {
			continue
		}
		out = append(out, extract.Line{
			Description:  obj.text("Description"),
			ProductCode:  obj.text("ProductCode", "Code"),
			Unit:         obj.text("Unit"),
			Quantity:     obj.number("Quantity"),
			UnitPrice:    obj.number("UnitPrice"),
			LinePrice:    obj.number("LinePrice", "NetAmount"),
			Amount:       obj.number("Amount", "Total"),
			TaxIndicator: obj.text("TaxIndicator", "TaxRate", "Tax"),
			Discount:     obj.text("DiscountCode", "Discount"),
			Reference:    obj.text("Reference", "PurchaseOrder"),
		})
	}
	return out
}
