// Package storetest opens throwaway in-memory databases for store-level
// tests. The schema mirrors migrations/0001_init.sql in sqlite dialect; the
// repair schema is emulated with an attached database so the production
// queries run unchanged.
package storetest

import (
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE repair.invoices (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	invoice_year   INTEGER NOT NULL,
	invoice_month  INTEGER NOT NULL,
	invoice_week   INTEGER NOT NULL,
	invoice_date   DATE NOT NULL,
	truck          TEXT NOT NULL DEFAULT '',
	total_price    REAL NOT NULL,
	invoice_nr     TEXT NOT NULL,
	seller         TEXT NOT NULL,
	buyer          TEXT NOT NULL DEFAULT '',
	kategorie      TEXT NOT NULL DEFAULT '',
	pdf_filename   TEXT NOT NULL DEFAULT '',
	ai_confidence  REAL NOT NULL DEFAULT 0,
	ai_model       TEXT NOT NULL DEFAULT '',
	prompt_version TEXT NOT NULL DEFAULT '',
	tokens_used    INTEGER NOT NULL DEFAULT 0,
	cost_usd       REAL NOT NULL DEFAULT 0,
	is_gutschrift  BOOLEAN NOT NULL DEFAULT 0,
	is_review      BOOLEAN NOT NULL DEFAULT 0,
	created_at     TIMESTAMP NOT NULL,
	UNIQUE (invoice_nr, seller, invoice_date)
);

CREATE TABLE repair.processing_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id      TEXT NOT NULL,
	pdf_filename  TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	invoice_id    INTEGER REFERENCES invoices (id),
	error_message TEXT NOT NULL DEFAULT '',
	ai_model      TEXT NOT NULL DEFAULT '',
	tokens_input  INTEGER NOT NULL DEFAULT 0,
	tokens_output INTEGER NOT NULL DEFAULT 0,
	cost_usd      REAL NOT NULL DEFAULT 0,
	ai_response   TEXT,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL
);
`

var bindOnce sync.Once

// Open returns an in-memory database with the repair schema applied. The
// connection pool is capped at one connection so the :memory: database is
// shared; concurrent use is serialized by database/sql.
func Open(t *testing.T) *sqlx.DB {
	t.Helper()

	bindOnce.Do(func() {
		sqlx.BindDriver("sqlite", sqlx.QUESTION)
	})

	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`ATTACH DATABASE ':memory:' AS repair`); err != nil {
		t.Fatalf("attach repair schema: %v", err)
	}
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}
