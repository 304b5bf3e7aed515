package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mailstoaleksei-droid/repair-invoice-bot/internal/logger"
	"github.com/mailstoaleksei-droid/repair-invoice-bot/internal/store"
	"github.com/mailstoaleksei-droid/repair-invoice-bot/internal/store/storetest"
)

// concurrentExtractor tracks how many Extract calls run at once.
type concurrentExtractor struct {
	inFlight    int32
	maxInFlight int32
	errFor      map[string]error
	delay       time.Duration
}

func (c *concurrentExtractor) Extract(ctx context.Context, doc Document) (*Extraction, error) {
	n := atomic.AddInt32(&c.inFlight, 1)
	defer atomic.AddInt32(&c.inFlight, -1)
	for {
		max := atomic.LoadInt32(&c.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&c.maxInFlight, max, n) {
			break
		}
	}

	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := c.errFor[doc.Name]; err != nil {
		return nil, err
	}

	inv := validExtraction()
	inv.InvoiceNr = "INV-" + doc.Name
	return extractionFor(inv), nil
}

func newTestCoordinator(t *testing.T, ex Extractor, cfg Config) (*Coordinator, *store.Storage) {
	t.Helper()
	storage := store.NewStorage(storetest.Open(t))
	c := NewCoordinator(storage, ex, cfg, logger.New(logger.LevelError))
	c.pipeline.pageCount = func(string) (int, error) { return 1, nil }
	return c, storage
}

func docsNamed(n int) []Document {
	docs := make([]Document, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, Document{Name: fmt.Sprintf("doc-%02d.pdf", i)})
	}
	return docs
}

func TestRun_CountsOutcomes(t *testing.T) {
	ex := &concurrentExtractor{errFor: map[string]error{
		"doc-02.pdf": &AdapterError{Doc: "doc-02.pdf", Err: errors.New("boom")},
	}}
	cfg := DefaultConfig()
	cfg.DailyCostLimitUSD = 0
	c, storage := newTestCoordinator(t, ex, cfg)

	result, err := c.Run(context.Background(), docsNamed(4), nil)
	if err != nil {
		t.Fatal(err)
	}

	if result.BatchID == "" {
		t.Fatal("batch must get an id")
	}
	if result.TotalFiles != 4 || len(result.Outcomes) != 4 {
		t.Fatalf("result = %+v, want 4 outcomes", result)
	}
	if result.Success != 3 || result.Errors != 1 {
		t.Fatalf("success=%d errors=%d, want 3/1", result.Success, result.Errors)
	}
	if result.TotalCostUSD <= 0 {
		t.Fatal("batch cost must accumulate per-document cost")
	}

	// every attempt left an audit row under the batch id
	summary, err := storage.ProcessingLog.BatchSummary(context.Background(), result.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Total != 4 || summary.Success != 3 || summary.Errors != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRun_FreshBatchIDPerRun(t *testing.T) {
	ex := &concurrentExtractor{}
	cfg := DefaultConfig()
	cfg.DailyCostLimitUSD = 0
	c, _ := newTestCoordinator(t, ex, cfg)

	first, err := c.Run(context.Background(), docsNamed(1), nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Run(context.Background(), docsNamed(1), nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.BatchID == second.BatchID {
		t.Fatal("each run must mint a new batch id")
	}
	// same documents again: second run is all duplicates
	if second.Duplicates != 1 || second.Success != 0 {
		t.Fatalf("second run = %+v, want one duplicate", second)
	}
}

func TestRun_HonorsParallelLimit(t *testing.T) {
	ex := &concurrentExtractor{delay: 20 * time.Millisecond}
	cfg := DefaultConfig()
	cfg.DailyCostLimitUSD = 0
	cfg.MaxParallel = 2
	c, _ := newTestCoordinator(t, ex, cfg)

	if _, err := c.Run(context.Background(), docsNamed(8), nil); err != nil {
		t.Fatal(err)
	}
	if max := atomic.LoadInt32(&ex.maxInFlight); max > 2 {
		t.Fatalf("observed %d concurrent extractions, limit is 2", max)
	}
}

func TestRun_ProgressCallback(t *testing.T) {
	ex := &concurrentExtractor{}
	cfg := DefaultConfig()
	cfg.DailyCostLimitUSD = 0
	cfg.MaxParallel = 1
	c, _ := newTestCoordinator(t, ex, cfg)

	var mu sync.Mutex
	var seen []int
	_, err := c.Run(context.Background(), docsNamed(3), func(done, total int, outcome *Outcome) {
		mu.Lock()
		defer mu.Unlock()
		if total != 3 || outcome == nil {
			t.Errorf("progress(done=%d, total=%d, outcome=%v)", done, total, outcome)
		}
		seen = append(seen, done)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 3 || seen[len(seen)-1] != 3 {
		t.Fatalf("progress calls = %v", seen)
	}
}

func TestRun_DailyCostLimitStopsBatch(t *testing.T) {
	ex := &concurrentExtractor{}
	cfg := DefaultConfig()
	cfg.DailyCostLimitUSD = 1.0
	c, storage := newTestCoordinator(t, ex, cfg)

	entry := &store.LogEntry{
		BatchID:     "yesterday-but-today",
		PdfFilename: "expensive.pdf",
		Status:      store.StatusSuccess,
		CostUSD:     1.25,
	}
	if _, err := storage.ProcessingLog.Append(context.Background(), entry); err != nil {
		t.Fatal(err)
	}

	result, err := c.Run(context.Background(), docsNamed(2), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !result.CostLimitHit {
		t.Fatal("expected cost guard to trip")
	}
	if len(result.Outcomes) != 0 {
		t.Fatal("no document may be processed once the limit is hit")
	}
}

func TestRun_EmptyBatch(t *testing.T) {
	ex := &concurrentExtractor{}
	cfg := DefaultConfig()
	cfg.DailyCostLimitUSD = 0
	c, _ := newTestCoordinator(t, ex, cfg)

	result, err := c.Run(context.Background(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.TotalFiles != 0 || len(result.Outcomes) != 0 {
		t.Fatalf("result = %+v, want empty", result)
	}
}
