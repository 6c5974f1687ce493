package export

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/invoice-ingest/internal/entity"
)

type fakeLister struct {
	rows     []entity.ExportRow
	err      error
	tenant   string
	from, to *time.Time
}

func (f *fakeLister) ListDone(_ context.Context, tenantID string, from, to *time.Time) ([]entity.ExportRow, error) {
	f.tenant, f.from, f.to = tenantID, from, to
	return f.rows, f.err
}

func str(s string) *string { return &s }

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func TestExportXLSXWritesBothSheets(t *testing.T) {
	issued := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	docID := uuid.New()
	lister := &fakeLister{rows: []entity.ExportRow{{
		DocumentID: docID,
		Filename:   "factura.pdf",
		InvoiceID:  str("inv-1"),
		Extraction: entity.Extraction{
			DocumentID:    docID,
			SupplierName:  str("Suministros Norte SL"),
			SupplierTaxID: str("B12345674"),
			InvoiceNumber: str("F-1"),
			IssueDate:     &issued,
			TotalAmount:   nd("121.00"),
			TaxAmount:     nd("21.00"),
			Currency:      "EUR",
			Lines: []entity.LineItem{
				{Position: 0, Description: str("Tornillos"), Quantity: nd("2.5"), UnitPrice: nd("3.60"), Total: nd("9.00")},
				{Position: 1, Description: str("Portes"), Total: nd("112.00")},
			},
		},
	}}}

	b, err := NewService(lister, nil).ExportXLSX(context.Background(), "acme", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "acme", lister.tenant)
	assert.Nil(t, lister.from)
	assert.Nil(t, lister.to)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Extractions", "Lines"}, f.GetSheetList())

	rows, err := f.GetRows("Extractions")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Document ID", rows[0][0])
	assert.Equal(t, docID.String(), rows[1][0])
	assert.Equal(t, "Suministros Norte SL", rows[1][2])
	assert.Equal(t, "F-1", rows[1][4])
	assert.Equal(t, "2024-03-05", rows[1][5])
	assert.Equal(t, "121", rows[1][6])
	assert.Equal(t, "EUR", rows[1][8])
	assert.Equal(t, "2", rows[1][9])
	assert.Equal(t, "inv-1", rows[1][10])

	lines, err := f.GetRows("Lines")
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, "1", lines[1][2])
	assert.Equal(t, "Tornillos", lines[1][3])
	assert.Equal(t, "2.5", lines[1][6])
	assert.Equal(t, "9", lines[1][9])
	assert.Equal(t, "Portes", lines[2][3])
}

func TestExportXLSXDateWindow(t *testing.T) {
	lister := &fakeLister{}
	svc := NewService(lister, nil)
	from := time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 8, 0, 0, 0, time.UTC)

	_, err := svc.ExportXLSX(context.Background(), "acme", &from, &to)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), *lister.from)
	assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 999999999, time.UTC), *lister.to)

	// only from: window ends today
	_, err = svc.ExportXLSX(context.Background(), "acme", &from, nil)
	require.NoError(t, err)
	require.NotNil(t, lister.to)
	assert.Equal(t, dayEnd(time.Now()), *lister.to)
}

func TestExportXLSXPropagatesStoreErrors(t *testing.T) {
	_, err := NewService(&fakeLister{err: errors.New("db down")}, nil).ExportXLSX(context.Background(), "acme", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "extractions-acme-20240305-101500.xlsx",
		Filename("acme", time.Date(2024, 3, 5, 10, 15, 0, 0, time.UTC)))
}
