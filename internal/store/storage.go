package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type Storage struct {
	db *sqlx.DB

	Invoices interface {
		InsertIfAbsent(ctx context.Context, inv *Invoice) (InsertOutcome, error)
		GetByNaturalKey(ctx context.Context, invoiceNr, seller string, invoiceDate time.Time) (*Invoice, error)
		GetRecent(ctx context.Context, limit int) ([]Invoice, error)
	}

	ProcessingLog interface {
		Append(ctx context.Context, entry *LogEntry) (int64, error)
		GetLatest(ctx context.Context, limit int) ([]LogEntry, error)
		BatchSummary(ctx context.Context, batchID string) (*BatchSummary, error)
		CostSince(ctx context.Context, since time.Time) (float64, int, error)
	}
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		db:            db,
		Invoices:      &InvoiceStore{db: db},
		ProcessingLog: &ProcessingLogStore{db: db},
	}
}

// IngestResult reports the combined invoice/log write of one document.
type IngestResult struct {
	Status     Status
	Created    int
	Duplicates int
	InvoiceIDs []int64
}

// RecordOutcome writes the extracted invoices of one document and its single
// processing-log entry in one transaction, so a crash between the two writes
// cannot leave an invoice without an audit record.
//
// Natural-key collisions are not errors: each invoice is inserted if absent,
// and when every row already existed the entry status is downgraded to
// duplicate. The entry references the first invoice row, created or matched.
func (s *Storage) RecordOutcome(ctx context.Context, invoices []*Invoice, entry *LogEntry) (*IngestResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin ingest tx: %w", err)
	}
	defer tx.Rollback()

	result := &IngestResult{Status: entry.Status}

	for _, inv := range invoices {
		out, err := insertInvoiceIfAbsent(ctx, tx, inv)
		if err != nil {
			return nil, err
		}
		if out.Created {
			result.Created++
		} else {
			result.Duplicates++
		}
		result.InvoiceIDs = append(result.InvoiceIDs, out.InvoiceID)
	}

	if len(invoices) > 0 && result.Created == 0 {
		result.Status = StatusDuplicate
		entry.Status = StatusDuplicate
		if entry.ErrorMessage == "" {
			entry.ErrorMessage = "all extracted invoices already present"
		}
	} else if result.Duplicates > 0 && entry.ErrorMessage == "" {
		entry.ErrorMessage = fmt.Sprintf("%d of %d invoices already present", result.Duplicates, len(invoices))
	}

	if len(result.InvoiceIDs) > 0 {
		id := result.InvoiceIDs[0]
		entry.InvoiceID = &id
	}

	if _, err := appendLogEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ingest tx: %w", err)
	}
	return result, nil
}
