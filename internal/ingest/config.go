package ingest

import (
	"time"

	"github.com/mailstoaleksei-droid/repair-invoice-bot/internal/env"
)

// Config controls the ingestion pipeline and batch coordinator.
type Config struct {
	// ConfidenceAuto is the threshold below which an inserted invoice is
	// flagged for human review (is_review = true, log status review).
	ConfidenceAuto float64
	// ConfidenceReview is the floor below which extraction output is not
	// trusted at all and the document is routed to manual data entry.
	ConfidenceReview float64

	MaxParallel     int
	DocumentTimeout time.Duration

	// DailyCostLimitUSD stops a batch before it starts once the day's
	// accumulated extraction cost reaches the limit. Zero disables the guard.
	DailyCostLimitUSD float64

	// CheckedDir and ManualDir are the disposition folders for processed
	// PDFs. File moves are skipped when empty.
	CheckedDir string
	ManualDir  string
}

func DefaultConfig() Config {
	return Config{
		ConfidenceAuto:    0.8,
		ConfidenceReview:  0.5,
		MaxParallel:       5,
		DocumentTimeout:   90 * time.Second,
		DailyCostLimitUSD: 1.0,
	}
}

func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.ConfidenceAuto = env.GetFloat("CONFIDENCE_AUTO", cfg.ConfidenceAuto)
	cfg.ConfidenceReview = env.GetFloat("CONFIDENCE_REVIEW", cfg.ConfidenceReview)
	cfg.MaxParallel = env.GetInt("MAX_PARALLEL_PDFS", cfg.MaxParallel)
	cfg.DocumentTimeout = time.Duration(env.GetInt("DOCUMENT_TIMEOUT_SECONDS", 90)) * time.Second
	cfg.DailyCostLimitUSD = env.GetFloat("DAILY_COST_LIMIT_USD", cfg.DailyCostLimitUSD)
	cfg.CheckedDir = env.GetString("CHECKED_FOLDER", "")
	cfg.ManualDir = env.GetString("MANUAL_FOLDER", "")
	return cfg
}
