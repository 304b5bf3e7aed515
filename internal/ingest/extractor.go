package ingest

import (
	"context"
)

// ExtractedInvoice is one candidate invoice as returned by the extraction
// model. A single PDF may carry several invoices.
type ExtractedInvoice struct {
	InvoiceDate string  `json:"invoice_date"` // DD.MM.YYYY
	Truck       string  `json:"truck"`
	TotalPrice  float64 `json:"total_price"` // netto, negative for Gutschrift
	InvoiceNr   string  `json:"invoice_nr"`
	Seller      string  `json:"seller"`
	Buyer       string  `json:"buyer"`
	Kategorie   string  `json:"kategorie"`
	Confidence  float64 `json:"confidence"`
}

// Extraction is the adapter's result for one document, including the
// telemetry persisted alongside the invoice rows. RawResponse carries the
// verbatim model payload for audit and replay; the pipeline never inspects
// it beyond the explicitly validated fields.
type Extraction struct {
	Invoices      []ExtractedInvoice
	Model         string
	PromptVersion string
	TokensInput   int
	TokensOutput  int
	CostUSD       float64
	DurationMs    int64
	RawResponse   string
}

// Extractor is the external field-extraction boundary. Implementations own
// their retry policy; a returned error means the attempt is spent.
type Extractor interface {
	Extract(ctx context.Context, doc Document) (*Extraction, error)
}
