package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mailstoaleksei-droid/repair-invoice-bot/internal/logger"
	"github.com/mailstoaleksei-droid/repair-invoice-bot/internal/store"
)

// BatchResult aggregates one coordinator run.
type BatchResult struct {
	BatchID      string        `json:"batch_id"`
	TotalFiles   int           `json:"total_files"`
	Success      int           `json:"success"`
	Review       int           `json:"review"`
	Manual       int           `json:"manual"`
	Errors       int           `json:"errors"`
	Duplicates   int           `json:"duplicates"`
	TotalCostUSD float64       `json:"total_cost_usd"`
	Duration     time.Duration `json:"duration_ns"`
	CostLimitHit bool          `json:"cost_limit_hit"`
	Outcomes     []*Outcome    `json:"outcomes"`
}

// ProgressFunc is invoked once per completed document, in completion order.
type ProgressFunc func(done, total int, outcome *Outcome)

// Coordinator groups one run over a set of documents under a fresh batch id.
// Documents are processed concurrently up to the configured limit; a single
// document's failure never aborts the batch.
type Coordinator struct {
	pipeline *Pipeline
	storage  *store.Storage
	cfg      Config
	log      *logger.Logger
}

func NewCoordinator(storage *store.Storage, extractor Extractor, cfg Config, log *logger.Logger) *Coordinator {
	return &Coordinator{
		pipeline: NewPipeline(storage, extractor, cfg, log),
		storage:  storage,
		cfg:      cfg,
		log:      log,
	}
}

// Run processes all documents and returns the per-batch aggregate. A new
// call over the same documents gets a new batch id; batches are never
// restartable. The returned error reflects coordinator-level failures only
// (cost-guard lookup); per-document failures live in the outcomes.
func (c *Coordinator) Run(ctx context.Context, docs []Document, progress ProgressFunc) (*BatchResult, error) {
	const component = "Coordinator"
	start := time.Now()

	result := &BatchResult{
		BatchID:    uuid.NewString(),
		TotalFiles: len(docs),
	}

	if c.cfg.DailyCostLimitUSD > 0 {
		midnight := time.Now().UTC().Truncate(24 * time.Hour)
		cost, attempts, err := c.storage.ProcessingLog.CostSince(ctx, midnight)
		if err != nil {
			return nil, err
		}
		if cost >= c.cfg.DailyCostLimitUSD {
			c.log.Warn(component, "Daily cost limit reached: cost=%.4f limit=%.4f attempts=%d",
				cost, c.cfg.DailyCostLimitUSD, attempts)
			result.CostLimitHit = true
			result.Duration = time.Since(start)
			return result, nil
		}
	}

	if len(docs) == 0 {
		result.Duration = time.Since(start)
		return result, nil
	}

	c.log.Info(component, "Batch started: batchID=%s files=%d maxParallel=%d",
		result.BatchID, len(docs), c.cfg.MaxParallel)

	maxParallel := c.cfg.MaxParallel
	if maxParallel < 1 {
		maxParallel = 1
	}
	sem := make(chan struct{}, maxParallel)

	var wg sync.WaitGroup
	var mu sync.Mutex
	done := 0

	for _, doc := range docs {
		wg.Add(1)
		go func(doc Document) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			dctx := ctx
			if c.cfg.DocumentTimeout > 0 {
				var cancel context.CancelFunc
				dctx, cancel = context.WithTimeout(ctx, c.cfg.DocumentTimeout)
				defer cancel()
			}

			outcome := c.pipeline.Process(dctx, result.BatchID, doc)

			mu.Lock()
			result.tally(outcome)
			done++
			current := done
			mu.Unlock()

			if progress != nil {
				progress(current, len(docs), outcome)
			}
		}(doc)
	}
	wg.Wait()

	result.Duration = time.Since(start)
	c.log.Info(component, "Batch completed: batchID=%s success=%d review=%d manual=%d errors=%d duplicates=%d cost=%.4f duration=%.2fs",
		result.BatchID, result.Success, result.Review, result.Manual,
		result.Errors, result.Duplicates, result.TotalCostUSD, result.Duration.Seconds())
	return result, nil
}

// tally must be called with the coordinator's accumulation mutex held.
func (r *BatchResult) tally(o *Outcome) {
	switch o.Status {
	case store.StatusSuccess:
		r.Success++
	case store.StatusReview:
		r.Review++
	case store.StatusManual:
		r.Manual++
	case store.StatusDuplicate:
		r.Duplicates++
	default:
		r.Errors++
	}
	r.TotalCostUSD += o.CostUSD
	r.Outcomes = append(r.Outcomes, o)
}
