package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type ProcessingLogStore struct {
	db *sqlx.DB
}

const insertLogQuery = `INSERT INTO repair.processing_log (
	batch_id,
	pdf_filename,
	status,
	invoice_id,
	error_message,
	ai_model,
	tokens_input,
	tokens_output,
	cost_usd,
	ai_response,
	duration_ms,
	created_at
) VALUES (
	:batch_id,
	:pdf_filename,
	:status,
	:invoice_id,
	:error_message,
	:ai_model,
	:tokens_input,
	:tokens_output,
	:cost_usd,
	:ai_response,
	:duration_ms,
	:created_at
) RETURNING id`

func appendLogEntry(ctx context.Context, q sqlx.ExtContext, entry *LogEntry) (int64, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	rows, err := sqlx.NamedQueryContext(ctx, q, insertLogQuery, entry)
	if err != nil {
		return 0, fmt.Errorf("append log entry for %s: %w", entry.PdfFilename, err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&entry.ID); err != nil {
			return 0, fmt.Errorf("scan log entry id: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("append log entry for %s: %w", entry.PdfFilename, err)
	}
	return entry.ID, nil
}

// Append writes one processing-log row. The log is append-only; rows are
// never updated or deleted by the pipeline.
func (pl *ProcessingLogStore) Append(ctx context.Context, entry *LogEntry) (int64, error) {
	return appendLogEntry(ctx, pl.db, entry)
}

func (pl *ProcessingLogStore) GetLatest(ctx context.Context, limit int) ([]LogEntry, error) {
	query := pl.db.Rebind(`SELECT * FROM repair.processing_log
		ORDER BY created_at DESC, id DESC LIMIT ?`)

	entries := []LogEntry{}
	if err := pl.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, fmt.Errorf("get latest log entries: %w", err)
	}
	return entries, nil
}

func (pl *ProcessingLogStore) BatchSummary(ctx context.Context, batchID string) (*BatchSummary, error) {
	query := pl.db.Rebind(`SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'success') AS success,
		COUNT(*) FILTER (WHERE status = 'review') AS review,
		COUNT(*) FILTER (WHERE status = 'manual') AS manual,
		COUNT(*) FILTER (WHERE status = 'error') AS errors,
		COUNT(*) FILTER (WHERE status = 'duplicate') AS duplicates,
		COALESCE(SUM(cost_usd), 0) AS total_cost_usd
	FROM repair.processing_log
	WHERE batch_id = ?`)

	var summary BatchSummary
	if err := pl.db.GetContext(ctx, &summary, query, batchID); err != nil {
		return nil, fmt.Errorf("batch summary %s: %w", batchID, err)
	}
	summary.BatchID = batchID
	return &summary, nil
}

// CostSince returns the accumulated extraction cost and attempt count since
// the given instant. Used for the daily cost guard.
func (pl *ProcessingLogStore) CostSince(ctx context.Context, since time.Time) (float64, int, error) {
	query := pl.db.Rebind(`SELECT
		COALESCE(SUM(cost_usd), 0) AS cost_usd,
		COUNT(*) AS attempts
	FROM repair.processing_log
	WHERE created_at >= ?`)

	var row struct {
		CostUSD  float64 `db:"cost_usd"`
		Attempts int     `db:"attempts"`
	}
	if err := pl.db.GetContext(ctx, &row, query, since); err != nil {
		return 0, 0, fmt.Errorf("cost since %s: %w", since.Format(time.RFC3339), err)
	}
	return row.CostUSD, row.Attempts, nil
}
