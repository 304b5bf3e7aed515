package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type InvoiceStore struct {
	db *sqlx.DB
}

const insertInvoiceQuery = `INSERT INTO repair.invoices (
	invoice_year,
	invoice_month,
	invoice_week,
	invoice_date,
	truck,
	total_price,
	invoice_nr,
	seller,
	buyer,
	kategorie,
	pdf_filename,
	ai_confidence,
	ai_model,
	prompt_version,
	tokens_used,
	cost_usd,
	is_gutschrift,
	is_review,
	created_at
) VALUES (
	:invoice_year,
	:invoice_month,
	:invoice_week,
	:invoice_date,
	:truck,
	:total_price,
	:invoice_nr,
	:seller,
	:buyer,
	:kategorie,
	:pdf_filename,
	:ai_confidence,
	:ai_model,
	:prompt_version,
	:tokens_used,
	:cost_usd,
	:is_gutschrift,
	:is_review,
	:created_at
) ON CONFLICT (invoice_nr, seller, invoice_date) DO NOTHING
RETURNING id`

const selectInvoiceIDQuery = `SELECT id FROM repair.invoices
	WHERE invoice_nr = ? AND seller = ? AND invoice_date = ?`

// insertInvoiceIfAbsent runs the conflict-checked insert on any queryer, so
// the same statement serves both the standalone store method and the
// transactional RecordOutcome path. The unique constraint on
// (invoice_nr, seller, invoice_date) is the sole cross-document coordination
// point: exactly one concurrent writer creates the row, everyone else gets
// the existing id back with Created=false.
func insertInvoiceIfAbsent(ctx context.Context, q sqlx.ExtContext, inv *Invoice) (InsertOutcome, error) {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	rows, err := sqlx.NamedQueryContext(ctx, q, insertInvoiceQuery, inv)
	if err != nil {
		return InsertOutcome{}, fmt.Errorf("insert invoice %s/%s: %w", inv.InvoiceNr, inv.Seller, err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&inv.ID); err != nil {
			return InsertOutcome{}, fmt.Errorf("scan invoice id: %w", err)
		}
		return InsertOutcome{Created: true, InvoiceID: inv.ID}, nil
	}
	if err := rows.Err(); err != nil {
		return InsertOutcome{}, fmt.Errorf("insert invoice %s/%s: %w", inv.InvoiceNr, inv.Seller, err)
	}

	// Conflict path: the natural key is already taken, look up who owns it.
	var existingID int64
	query := q.Rebind(selectInvoiceIDQuery)
	if err := sqlx.GetContext(ctx, q, &existingID, query, inv.InvoiceNr, inv.Seller, inv.InvoiceDate); err != nil {
		return InsertOutcome{}, fmt.Errorf("lookup existing invoice %s/%s: %w", inv.InvoiceNr, inv.Seller, err)
	}
	return InsertOutcome{Created: false, InvoiceID: existingID}, nil
}

// InsertIfAbsent inserts one invoice row unless its natural key already
// exists. Duplicates are reported through the outcome, never as an error.
func (is *InvoiceStore) InsertIfAbsent(ctx context.Context, inv *Invoice) (InsertOutcome, error) {
	return insertInvoiceIfAbsent(ctx, is.db, inv)
}

func (is *InvoiceStore) GetByNaturalKey(ctx context.Context, invoiceNr, seller string, invoiceDate time.Time) (*Invoice, error) {
	query := is.db.Rebind(`SELECT * FROM repair.invoices
		WHERE invoice_nr = ? AND seller = ? AND invoice_date = ?`)

	var inv Invoice
	err := is.db.GetContext(ctx, &inv, query, invoiceNr, seller, invoiceDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice %s/%s: %w", invoiceNr, seller, err)
	}
	return &inv, nil
}

func (is *InvoiceStore) GetRecent(ctx context.Context, limit int) ([]Invoice, error) {
	query := is.db.Rebind(`SELECT * FROM repair.invoices
		ORDER BY created_at DESC, id DESC LIMIT ?`)

	invoices := []Invoice{}
	if err := is.db.SelectContext(ctx, &invoices, query, limit); err != nil {
		return nil, fmt.Errorf("get recent invoices: %w", err)
	}
	return invoices, nil
}
