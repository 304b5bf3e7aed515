package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/mailstoaleksei-droid/repair-invoice-bot/internal/logger"
	"github.com/mailstoaleksei-droid/repair-invoice-bot/internal/store"
)

// Outcome is the terminal result of one document's ingestion attempt.
// Err is set only when the persistence layer itself failed; adapter and
// validation failures are regular outcomes carried in Status and ErrorMsg.
type Outcome struct {
	Document   Document     `json:"document"`
	Status     store.Status `json:"status"`
	InvoiceIDs []int64      `json:"invoice_ids,omitempty"`
	Created    int          `json:"created"`
	ErrorMsg   string       `json:"error_message,omitempty"`
	CostUSD    float64      `json:"cost_usd"`
	DurationMs int64        `json:"duration_ms"`
	Err        error        `json:"-"`
}

// Pipeline drives one document through the ingestion state machine:
// received -> extracted -> validated -> {success|review|manual|error|duplicate}.
// Every terminal state writes exactly one processing-log row; success and
// review additionally insert invoice rows, committed together with the log.
type Pipeline struct {
	storage   *store.Storage
	extractor Extractor
	cfg       Config
	files     *files
	log       *logger.Logger

	// swapped out in tests
	pageCount func(path string) (int, error)
}

func NewPipeline(storage *store.Storage, extractor Extractor, cfg Config, log *logger.Logger) *Pipeline {
	return &Pipeline{
		storage:   storage,
		extractor: extractor,
		cfg:       cfg,
		files:     &files{checkedDir: cfg.CheckedDir, manualDir: cfg.ManualDir, log: log},
		log:       log,
		pageCount: pdfPageCount,
	}
}

// Process runs one document to a terminal state. It never panics the batch:
// every failure mode ends in an Outcome.
func (p *Pipeline) Process(ctx context.Context, batchID string, doc Document) *Outcome {
	const component = "Pipeline"
	start := time.Now()

	out := &Outcome{Document: doc}
	entry := &store.LogEntry{BatchID: batchID, PdfFilename: doc.Name}

	pages, err := p.pageCount(doc.Path)
	if err != nil || pages == 0 {
		reason := "cannot read PDF"
		if err != nil {
			reason = fmt.Sprintf("cannot read PDF: %v", err)
		}
		p.log.Warn(component, "Unreadable document: file=%s error=%v", doc.Name, err)
		return p.finishWithoutInvoice(ctx, out, entry, store.StatusManual, reason, start)
	}

	extraction, err := p.extractor.Extract(ctx, doc)
	if err != nil {
		p.log.Error(component, "Extraction failed: file=%s error=%v", doc.Name, err)
		return p.finishWithoutInvoice(ctx, out, entry, store.StatusError, err.Error(), start)
	}

	entry.AiModel = extraction.Model
	entry.TokensInput = extraction.TokensInput
	entry.TokensOutput = extraction.TokensOutput
	entry.CostUSD = extraction.CostUSD
	if extraction.RawResponse != "" {
		raw := extraction.RawResponse
		entry.AiResponse = &raw
	}
	out.CostUSD = extraction.CostUSD

	if len(extraction.Invoices) == 0 {
		return p.finishWithoutInvoice(ctx, out, entry, store.StatusManual, "extractor returned no invoices", start)
	}

	now := time.Now()
	records := make([]*store.Invoice, 0, len(extraction.Invoices))
	hasReview := false

	for _, candidate := range extraction.Invoices {
		if problems := Validate(candidate, now); len(problems) > 0 {
			verr := &ValidationError{Doc: doc.Name, Problems: problems}
			p.log.Warn(component, "Validation failed: file=%s problems=%v", doc.Name, problems)
			return p.finishWithoutInvoice(ctx, out, entry, store.StatusManual, verr.Error(), start)
		}

		conf := clampConfidence(candidate.Confidence)
		if conf < p.cfg.ConfidenceReview {
			reason := fmt.Sprintf("confidence %.2f below floor %.2f", conf, p.cfg.ConfidenceReview)
			return p.finishWithoutInvoice(ctx, out, entry, store.StatusManual, reason, start)
		}

		rec, err := Enrich(candidate)
		if err != nil {
			verr := &ValidationError{Doc: doc.Name, Problems: []string{err.Error()}}
			return p.finishWithoutInvoice(ctx, out, entry, store.StatusManual, verr.Error(), start)
		}

		rec.PdfFilename = doc.Name
		rec.AiModel = extraction.Model
		rec.PromptVersion = extraction.PromptVersion
		rec.TokensUsed = extraction.TokensInput + extraction.TokensOutput
		rec.CostUSD = extraction.CostUSD / float64(len(extraction.Invoices))
		rec.IsReview = conf < p.cfg.ConfidenceAuto
		if rec.IsReview {
			hasReview = true
		}
		records = append(records, rec)
	}

	entry.Status = store.StatusSuccess
	if hasReview {
		entry.Status = store.StatusReview
	}
	entry.DurationMs = time.Since(start).Milliseconds()

	result, err := p.storage.RecordOutcome(ctx, records, entry)
	if err != nil {
		p.log.Error(component, "Store write failed: file=%s error=%v", doc.Name, err)
		out.Status = store.StatusError
		out.Err = &StoreError{Op: "record outcome", Err: err}
		out.ErrorMsg = out.Err.Error()
		p.auditStoreFailure(ctx, batchID, doc, out, start)
		p.files.toManual(doc)
		out.DurationMs = time.Since(start).Milliseconds()
		return out
	}

	out.Status = result.Status
	out.InvoiceIDs = result.InvoiceIDs
	out.Created = result.Created
	out.ErrorMsg = entry.ErrorMessage
	out.DurationMs = time.Since(start).Milliseconds()

	if result.Status == store.StatusDuplicate {
		p.log.Warn(component, "Duplicate document: file=%s invoiceID=%d", doc.Name, result.InvoiceIDs[0])
	} else {
		p.log.Info(component, "Document ingested: file=%s status=%s created=%d", doc.Name, result.Status, result.Created)
	}

	p.files.toChecked(doc, int(records[0].InvoiceYear))
	return out
}

// finishWithoutInvoice records a terminal state that writes no invoice row.
// The log append is the system's only record of the attempt, so a failure
// here escalates into a store failure on the outcome.
func (p *Pipeline) finishWithoutInvoice(ctx context.Context, out *Outcome, entry *store.LogEntry, status store.Status, reason string, start time.Time) *Outcome {
	entry.Status = status
	entry.ErrorMessage = reason
	entry.DurationMs = time.Since(start).Milliseconds()

	out.Status = status
	out.ErrorMsg = reason

	if _, err := p.storage.ProcessingLog.Append(ctx, entry); err != nil {
		p.log.Error("Pipeline", "Audit log write failed: file=%s error=%v", out.Document.Name, err)
		out.Status = store.StatusError
		out.Err = &StoreError{Op: "append log", Err: err}
		out.ErrorMsg = out.Err.Error()
	}

	p.files.toManual(out.Document)
	out.DurationMs = time.Since(start).Milliseconds()
	return out
}

// auditStoreFailure makes a best-effort attempt to still leave a log row
// behind after a failed invoice transaction.
func (p *Pipeline) auditStoreFailure(ctx context.Context, batchID string, doc Document, out *Outcome, start time.Time) {
	entry := &store.LogEntry{
		BatchID:      batchID,
		PdfFilename:  doc.Name,
		Status:       store.StatusError,
		ErrorMessage: out.ErrorMsg,
		DurationMs:   time.Since(start).Milliseconds(),
	}
	if _, err := p.storage.ProcessingLog.Append(ctx, entry); err != nil {
		out.Err = fmt.Errorf("%w (audit log also failed: %v)", out.Err, err)
		out.ErrorMsg = out.Err.Error()
	}
}
