package main

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mailstoaleksei-droid/repair-invoice-bot/internal/ingest"
	"github.com/mailstoaleksei-droid/repair-invoice-bot/internal/store"
)

type application struct {
	config      config
	store       *store.Storage
	coordinator *ingest.Coordinator

	// one batch at a time; the inbox folder is a shared resource
	batchMu sync.Mutex
}

type config struct {
	addr      string
	pdfFolder string
	db        dbConfig
}

type dbConfig struct {
	addr         string
	maxOpenConns int
	maxIdleConns int
	maxIdleTime  string
}

func (app *application) mount() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// Set a timeout value on the request context (ctx), that will signal
	// through ctx.Done() that the request has timed out and further
	// processing should be stopped. Batch runs can take a while.
	r.Use(middleware.Timeout(10 * time.Minute))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", app.healthCheckHandler)
		r.Route("/invoices", func(r chi.Router) {
			r.Get("/recent", app.handleGetRecentInvoices)
		})
		r.Route("/processing", func(r chi.Router) {
			r.Get("/history", app.handleGetProcessingHistory)
		})
		r.Route("/batches", func(r chi.Router) {
			r.Post("/", app.handleRunBatch)
			r.Get("/{batchID}/summary", app.handleGetBatchSummary)
		})
	})

	return r
}

func (app *application) run(mux http.Handler) error {

	srv := &http.Server{
		Addr:         app.config.addr,
		Handler:      mux,
		WriteTimeout: time.Minute * 15,
		ReadTimeout:  time.Second * 40,
		IdleTimeout:  time.Minute,
	}

	log.Printf("Server started on %s", app.config.addr)
	return srv.ListenAndServe()
}
