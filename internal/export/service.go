// Package export renders a tenant's finished extractions as an XLSX workbook.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/invoice-ingest/internal/entity"
)

const (
	extractionsSheet = "Extractions"
	linesSheet       = "Lines"
	dateLayout       = "2006-01-02"
)

// Lister reads DONE extractions; the extraction repository satisfies it.
type Lister interface {
	ListDone(ctx context.Context, tenantID string, from, to *time.Time) ([]entity.ExportRow, error)
}

// Service is a tiny façade over the extraction store that produces XLSX bytes.
type Service struct {
	extractions Lister
	logger      *slog.Logger
}

func NewService(extractions Lister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{extractions: extractions, logger: logger}
}

// ExportXLSX returns a workbook for tenantID with the issue-date window applied.
// If only from is provided -> from..today (inclusive).
// If only to is provided   -> beginning..to (inclusive).
// If neither is provided   -> everything.
func (s *Service) ExportXLSX(ctx context.Context, tenantID string, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	var fromDate, toDate *time.Time
	if from != nil {
		f := dayStart(*from)
		fromDate = &f
	}
	if to != nil {
		t := dayEnd(*to)
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		t := dayEnd(time.Now())
		toDate = &t
	}

	rows, err := s.extractions.ListDone(ctx, tenantID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("query extractions: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), extractionsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(linesSheet); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)

	lines, err := writeExtractions(f, rows)
	if err != nil {
		return nil, err
	}
	if err := writeLines(f, rows); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"tenant_id", tenantID,
		"rows", len(rows),
		"lines", lines,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// Filename is the suggested download name of an export.
func Filename(tenantID string, now time.Time) string {
	return fmt.Sprintf("extractions-%s-%s.xlsx", tenantID, now.UTC().Format("20060102-150405"))
}

func writeExtractions(f *excelize.File, rows []entity.ExportRow) (int, error) {
	headers := []string{
		"Document ID", "Filename", "Supplier", "Supplier Tax ID", "Invoice Number", "Issue Date",
		"Total", "Tax", "Currency", "Lines", "Invoice ID", "Processed At",
	}
	if err := writeHeader(f, extractionsSheet, headers); err != nil {
		return 0, err
	}

	lines := 0
	for i, r := range rows {
		w := rowWriter{f: f, sheet: extractionsSheet, row: i + 2}
		ex := r.Extraction
		w.set(1, r.DocumentID.String())
		w.set(2, r.Filename)
		w.set(3, deref(ex.SupplierName))
		w.set(4, deref(ex.SupplierTaxID))
		w.set(5, deref(ex.InvoiceNumber))
		w.set(6, formatDate(ex.IssueDate, dateLayout))
		w.decimal(7, ex.TotalAmount, 2)
		w.decimal(8, ex.TaxAmount, 2)
		w.set(9, ex.Currency)
		w.set(10, len(ex.Lines))
		w.set(11, deref(r.InvoiceID))
		w.set(12, formatDate(r.ProcessedAt, time.RFC3339))
		if w.err != nil {
			return 0, w.err
		}
		lines += len(ex.Lines)
	}

	_ = f.SetColWidth(extractionsSheet, "A", "A", 38) // id
	_ = f.SetColWidth(extractionsSheet, "B", "C", 28)
	_ = f.SetColWidth(extractionsSheet, "D", "F", 16)
	_ = f.SetColWidth(extractionsSheet, "G", "H", 14) // amounts
	_ = f.SetColWidth(extractionsSheet, "K", "L", 24)
	return lines, nil
}

func writeLines(f *excelize.File, rows []entity.ExportRow) error {
	headers := []string{
		"Document ID", "Invoice Number", "Line", "Description", "Product Code", "Unit", "Quantity",
		"Unit Price", "Line Price", "Total", "Tax Indicator", "Discount", "Reference",
	}
	if err := writeHeader(f, linesSheet, headers); err != nil {
		return err
	}

	row := 2
	for _, r := range rows {
		for _, l := range r.Extraction.Lines {
			w := rowWriter{f: f, sheet: linesSheet, row: row}
			w.set(1, r.DocumentID.String())
			w.set(2, deref(r.Extraction.InvoiceNumber))
			w.set(3, l.Position+1)
			w.set(4, truncate(deref(l.Description), 140))
			w.set(5, deref(l.ProductCode))
			w.set(6, deref(l.Unit))
			w.decimal(7, l.Quantity, 3)
			w.decimal(8, l.UnitPrice, 2)
			w.decimal(9, l.LinePrice, 2)
			w.decimal(10, l.Total, 2)
			w.set(11, deref(l.TaxIndicator))
			w.set(12, deref(l.Discount))
			w.set(13, deref(l.Reference))
			if w.err != nil {
				return w.err
			}
			row++
		}
	}

	_ = f.SetColWidth(linesSheet, "A", "A", 38)
	_ = f.SetColWidth(linesSheet, "D", "D", 48) // description
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []string) error {
	w := rowWriter{f: f, sheet: sheet, row: 1}
	for i, h := range headers {
		w.set(i+1, h)
	}
	return w.err
}

// rowWriter keeps the first error of a row.
type rowWriter struct {
	f     *excelize.File
	sheet string
	row   int
	err   error
}

func (w *rowWriter) set(col int, v any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(col, w.row)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetCellValue(w.sheet, cell, v)
}

func (w *rowWriter) decimal(col int, d decimal.NullDecimal, places int32) {
	if w.err != nil || !d.Valid {
		return
	}
	cell, err := excelize.CoordinatesToCellName(col, w.row)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetCellFloat(w.sheet, cell, d.Decimal.Round(places).InexactFloat64(), -1, 64)
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func dayEnd(t time.Time) time.Time {
	return dayStart(t).Add(24*time.Hour - time.Nanosecond)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatDate(t *time.Time, layout string) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(layout)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
