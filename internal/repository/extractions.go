package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-ingest/constants"
	"github.com/joseph-ayodele/invoice-ingest/internal/common"
	"github.com/joseph-ayodele/invoice-ingest/internal/entity"
)

const (
	extractionsTable = "extractions"
	lineItemsTable   = "line_items"
)

var extractionColumns = []string{
	"id", "document_id", "supplier_name", "supplier_tax_id", "invoice_number", "issue_date",
	"total_amount", "tax_amount", "currency", "raw", "created_at", "updated_at",
}

var lineItemColumns = []string{
	"id", "extraction_id", "line_no", "description", "product_code", "unit", "quantity",
	"unit_price", "line_price", "total", "tax_indicator", "discount", "reference",
}

// ExtractionRepository persists extraction results and reads them back.
type ExtractionRepository interface {
	// Persist atomically upserts the extraction of ex.DocumentID, replaces its lines and moves
	// the document to DONE with blobName recorded and raw bytes cleared.
	Persist(ctx context.Context, ex *entity.Extraction, blobName string) (*entity.Extraction, error)
	// GetByDocumentID returns nil without error when the document has no extraction yet.
	GetByDocumentID(ctx context.Context, documentID uuid.UUID) (*entity.Extraction, error)
	ListDone(ctx context.Context, tenantID string, from, to *time.Time) ([]entity.ExportRow, error)
}

type extractionRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewExtractionRepository(db *DB, logger *slog.Logger) ExtractionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &extractionRepository{db: db, logger: logger}
}

func (r *extractionRepository) Persist(ctx context.Context, ex *entity.Extraction, blobName string) (*entity.Extraction, error) {
	start := time.Now()
	tx, err := r.db.drv.Tx(ctx)
	if err != nil {
		return nil, common.PersistenceError("begin persist transaction", err)
	}

	out, err := r.persistTx(ctx, tx, ex, blobName)
	if err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			r.logger.Error("failed to roll back persist", "document_id", ex.DocumentID, "error", rerr)
		}
		r.logger.Error("persist extraction failed", "document_id", ex.DocumentID, "error", err)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		r.logger.Error("failed to commit persist", "document_id", ex.DocumentID, "error", err)
		return nil, common.PersistenceError("commit persist transaction", err)
	}

	r.logger.Info("extraction persisted",
		"document_id", ex.DocumentID,
		"extraction_id", out.ID,
		"lines", len(out.Lines),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (r *extractionRepository) persistTx(ctx context.Context, tx dialect.Tx, ex *entity.Extraction, blobName string) (*entity.Extraction, error) {
	b := r.db.builder()
	now := time.Now().UTC()

	// The document must be claimed (or already DONE when re-processed).
	q, args := b.Update(documentsTable).
		Set("status", string(constants.StatusDone)).
		Set("blob_name", blobName).
		Set("processed_at", now).
		SetNull("raw_bytes").
		SetNull("error_reason").
		Set("updated_at", now).
		Where(entsql.And(
			entsql.EQ("id", ex.DocumentID),
			entsql.In("status", string(constants.StatusProcessing), string(constants.StatusDone)),
		)).
		Query()
	n, err := execAffected(ctx, tx, q, args)
	if err != nil {
		return nil, common.PersistenceError("mark document done", err)
	}
	if n != 1 {
		doc, err := getDocument(ctx, r.db, tx, ex.DocumentID)
		if err != nil {
			return nil, err
		}
		return nil, common.NewAppError("INVALID_TRANSITION",
			fmt.Sprintf("document %s cannot move from %s to %s", ex.DocumentID, doc.Status, constants.StatusDone),
			common.ErrInvalidTransition)
	}

	currency := ex.Currency
	if currency == "" {
		currency = constants.DefaultCurrency
	}
	q, args = b.Insert(extractionsTable).
		Columns(extractionColumns...).
		Values(uuid.New(), ex.DocumentID, ex.SupplierName, ex.SupplierTaxID, ex.InvoiceNumber,
			nullableTime(ex.IssueDate), entity.Money(ex.TotalAmount), entity.Money(ex.TaxAmount), currency, nullableJSON(ex.Raw), now, now).
		OnConflict(
			entsql.ConflictColumns("document_id"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				for _, c := range []string{"supplier_name", "supplier_tax_id", "invoice_number", "issue_date",
					"total_amount", "tax_amount", "currency", "raw", "updated_at"} {
					u.SetExcluded(c)
				}
			}),
		).
		Query()
	if err := tx.Exec(ctx, q, args, nil); err != nil {
		return nil, common.PersistenceError("upsert extraction", err)
	}

	saved, err := r.selectExtraction(ctx, tx, ex.DocumentID)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, common.PersistenceError("upsert extraction", fmt.Errorf("extraction for %s vanished", ex.DocumentID))
	}

	q, args = b.Delete(lineItemsTable).Where(entsql.EQ("extraction_id", saved.ID)).Query()
	if err := tx.Exec(ctx, q, args, nil); err != nil {
		return nil, common.PersistenceError("delete previous lines", err)
	}

	saved.Lines = make([]entity.LineItem, 0, len(ex.Lines))
	if len(ex.Lines) > 0 {
		ins := b.Insert(lineItemsTable).Columns(lineItemColumns...)
		for i, l := range ex.Lines {
			l.ID = uuid.New()
			l.ExtractionID = saved.ID
			l.Position = i
			ins = ins.Values(l.ID, l.ExtractionID, l.Position, l.Description, l.ProductCode, l.Unit,
				entity.Quantity(l.Quantity), entity.Money(l.UnitPrice), entity.Money(l.LinePrice), entity.Money(l.Total),
				l.TaxIndicator, l.Discount, l.Reference)
			saved.Lines = append(saved.Lines, l)
		}
		q, args = ins.Query()
		if err := tx.Exec(ctx, q, args, nil); err != nil {
			return nil, common.PersistenceError("insert lines", err)
		}
	}
	return saved, nil
}

func (r *extractionRepository) GetByDocumentID(ctx context.Context, documentID uuid.UUID) (*entity.Extraction, error) {
	ex, err := r.selectExtraction(ctx, r.db.drv, documentID)
	if err != nil || ex == nil {
		return nil, err
	}
	lines, err := r.selectLines(ctx, r.db.drv, ex.ID)
	if err != nil {
		return nil, err
	}
	ex.Lines = lines[ex.ID]
	return ex, nil
}

func (r *extractionRepository) selectExtraction(ctx context.Context, eq dialect.ExecQuerier, documentID uuid.UUID) (*entity.Extraction, error) {
	b := r.db.builder()
	q, args := b.Select(extractionColumns...).
		From(b.Table(extractionsTable)).
		Where(entsql.EQ("document_id", documentID)).
		Query()
	rows := &entsql.Rows{}
	if err := eq.Query(ctx, q, args, rows); err != nil {
		return nil, common.PersistenceError("get extraction", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, common.PersistenceError("get extraction", err)
		}
		return nil, nil
	}
	ex, err := scanExtraction(rows)
	if err != nil {
		return nil, common.PersistenceError("scan extraction", err)
	}
	return ex, nil
}

func scanExtraction(rows *entsql.Rows, extra ...any) (*entity.Extraction, error) {
	var (
		ex                   entity.Extraction
		issueDate            dbTime
		createdAt, updatedAt dbTime
		raw                  []byte
	)
	dest := []any{&ex.ID, &ex.DocumentID, &ex.SupplierName, &ex.SupplierTaxID, &ex.InvoiceNumber,
		&issueDate, &ex.TotalAmount, &ex.TaxAmount, &ex.Currency, &raw, &createdAt, &updatedAt}
	if err := rows.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	ex.IssueDate = issueDate.ptr()
	ex.CreatedAt = createdAt.Time
	ex.UpdatedAt = updatedAt.Time
	if len(raw) > 0 {
		ex.Raw = json.RawMessage(raw)
	}
	return &ex, nil
}

// selectLines loads the lines of the given extractions, keyed by extraction id, in line order.
func (r *extractionRepository) selectLines(ctx context.Context, eq dialect.ExecQuerier, extractionIDs ...uuid.UUID) (map[uuid.UUID][]entity.LineItem, error) {
	out := make(map[uuid.UUID][]entity.LineItem, len(extractionIDs))
	if len(extractionIDs) == 0 {
		return out, nil
	}
	ids := make([]any, len(extractionIDs))
	for i, id := range extractionIDs {
		ids[i] = id
	}
	b := r.db.builder()
	q, args := b.Select(lineItemColumns...).
		From(b.Table(lineItemsTable)).
		Where(entsql.In("extraction_id", ids...)).
		OrderBy(entsql.Asc("extraction_id"), entsql.Asc("line_no")).
		Query()
	rows := &entsql.Rows{}
	if err := eq.Query(ctx, q, args, rows); err != nil {
		return nil, common.PersistenceError("list lines", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l entity.LineItem
		if err := rows.Scan(&l.ID, &l.ExtractionID, &l.Position, &l.Description, &l.ProductCode, &l.Unit,
			&l.Quantity, &l.UnitPrice, &l.LinePrice, &l.Total, &l.TaxIndicator, &l.Discount, &l.Reference); err != nil {
			return nil, common.PersistenceError("scan line", err)
		}
		out[l.ExtractionID] = append(out[l.ExtractionID], l)
	}
	if err := rows.Err(); err != nil {
		return nil, common.PersistenceError("list lines", err)
	}
	return out, nil
}

// ListDone returns the extractions of a tenant's DONE documents, optionally bounded by issue
// date (inclusive), ordered by issue date.
func (r *extractionRepository) ListDone(ctx context.Context, tenantID string, from, to *time.Time) ([]entity.ExportRow, error) {
	b := r.db.builder()
	e := b.Table(extractionsTable).As("e")
	d := b.Table(documentsTable).As("d")

	cols := make([]string, 0, len(extractionColumns)+3)
	for _, c := range extractionColumns {
		cols = append(cols, e.C(c))
	}
	cols = append(cols, d.C("filename"), d.C("processed_at"), d.C("invoice_id"))

	preds := []*entsql.Predicate{
		entsql.EQ(d.C("tenant_id"), tenantID),
		entsql.EQ(d.C("status"), string(constants.StatusDone)),
	}
	if from != nil {
		preds = append(preds, entsql.GTE(e.C("issue_date"), from.UTC()))
	}
	if to != nil {
		preds = append(preds, entsql.LTE(e.C("issue_date"), to.UTC()))
	}

	q, args := b.Select(cols...).
		From(e).
		Join(d).On(e.C("document_id"), d.C("id")).
		Where(entsql.And(preds...)).
		OrderBy(entsql.Asc(e.C("issue_date")), entsql.Asc(d.C("created_at"))).
		Query()
	rows := &entsql.Rows{}
	if err := r.db.drv.Query(ctx, q, args, rows); err != nil {
		r.logger.Error("failed to list extractions", "tenant_id", tenantID, "error", err)
		return nil, common.PersistenceError("list extractions", err)
	}

	var (
		out []entity.ExportRow
		ids []uuid.UUID
	)
	for rows.Next() {
		var (
			row         entity.ExportRow
			processedAt dbTime
		)
		ex, err := scanExtraction(rows, &row.Filename, &processedAt, &row.InvoiceID)
		if err != nil {
			_ = rows.Close()
			return nil, common.PersistenceError("scan extraction", err)
		}
		row.DocumentID = ex.DocumentID
		row.ProcessedAt = processedAt.ptr()
		row.Extraction = *ex
		out = append(out, row)
		ids = append(ids, ex.ID)
	}
	err := rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, common.PersistenceError("list extractions", err)
	}

	lines, err := r.selectLines(ctx, r.db.drv, ids...)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Extraction.Lines = lines[out[i].Extraction.ID]
	}
	return out, nil
}
