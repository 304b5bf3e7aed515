package store

import (
	"time"
)

// Status is the terminal outcome of one ingestion attempt.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusReview    Status = "review"
	StatusManual    Status = "manual"
	StatusError     Status = "error"
	StatusDuplicate Status = "duplicate"
)

// Invoice represents one row of the 'repair.invoices' table. The natural key
// (invoice_nr, seller, invoice_date) is unique; id is the surrogate key and is
// assigned by the database.
type Invoice struct {
	ID            int64     `db:"id" json:"id"`
	InvoiceYear   int16     `db:"invoice_year" json:"invoice_year"`
	InvoiceMonth  int16     `db:"invoice_month" json:"invoice_month"`
	InvoiceWeek   int16     `db:"invoice_week" json:"invoice_week"`
	InvoiceDate   time.Time `db:"invoice_date" json:"invoice_date"`
	Truck         string    `db:"truck" json:"truck"`
	TotalPrice    float64   `db:"total_price" json:"total_price"`
	InvoiceNr     string    `db:"invoice_nr" json:"invoice_nr"`
	Seller        string    `db:"seller" json:"seller"`
	Buyer         string    `db:"buyer" json:"buyer"`
	Kategorie     string    `db:"kategorie" json:"kategorie"`
	PdfFilename   string    `db:"pdf_filename" json:"pdf_filename"`
	AiConfidence  float64   `db:"ai_confidence" json:"ai_confidence"`
	AiModel       string    `db:"ai_model" json:"ai_model"`
	PromptVersion string    `db:"prompt_version" json:"prompt_version"`
	TokensUsed    int       `db:"tokens_used" json:"tokens_used"`
	CostUSD       float64   `db:"cost_usd" json:"cost_usd"`
	IsGutschrift  bool      `db:"is_gutschrift" json:"is_gutschrift"`
	IsReview      bool      `db:"is_review" json:"is_review"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// LogEntry represents one row of the 'repair.processing_log' table. Entries
// are append-only: one per ingestion attempt, immutable once written.
type LogEntry struct {
	ID           int64     `db:"id" json:"id"`
	BatchID      string    `db:"batch_id" json:"batch_id"`
	PdfFilename  string    `db:"pdf_filename" json:"pdf_filename"`
	Status       Status    `db:"status" json:"status"`
	InvoiceID    *int64    `db:"invoice_id" json:"invoice_id,omitempty"`
	ErrorMessage string    `db:"error_message" json:"error_message,omitempty"`
	AiModel      string    `db:"ai_model" json:"ai_model,omitempty"`
	TokensInput  int       `db:"tokens_input" json:"tokens_input"`
	TokensOutput int       `db:"tokens_output" json:"tokens_output"`
	CostUSD      float64   `db:"cost_usd" json:"cost_usd"`
	AiResponse   *string   `db:"ai_response" json:"-"`
	DurationMs   int64     `db:"duration_ms" json:"duration_ms"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// InsertOutcome reports whether an insert created a new invoice row or hit
// an existing natural key.
type InsertOutcome struct {
	Created   bool
	InvoiceID int64
}

// BatchSummary aggregates the processing log of one batch run.
type BatchSummary struct {
	BatchID      string  `db:"batch_id" json:"batch_id"`
	Total        int     `db:"total" json:"total"`
	Success      int     `db:"success" json:"success"`
	Review       int     `db:"review" json:"review"`
	Manual       int     `db:"manual" json:"manual"`
	Errors       int     `db:"errors" json:"errors"`
	Duplicates   int     `db:"duplicates" json:"duplicates"`
	TotalCostUSD float64 `db:"total_cost_usd" json:"total_cost_usd"`
}
