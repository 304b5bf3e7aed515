package main

import (
	"net/http"

	"github.com/mailstoaleksei-droid/repair-invoice-bot/internal/ingest"
	"github.com/mailstoaleksei-droid/repair-invoice-bot/internal/response"
)

type RunBatchResponse = response.APIResponse[*ingest.BatchResult]

// @Summary		Run an ingestion batch
// @Description	Processes every PDF currently in the configured inbox folder under a fresh batch id. Only one batch runs at a time.
// @Tags			Processing
// @Produce		json
// @Success		200	{object}	RunBatchResponse		"Batch completed"
// @Failure		409	{object}	response.ErrorResponse	"A batch is already running"
// @Failure		500	{object}	response.ErrorResponse	"Batch failed to start"
// @Router			/batches [post]
func (app *application) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	if app.config.pdfFolder == "" {
		writeJSONError(w, http.StatusInternalServerError, "no PDF folder configured")
		return
	}

	if !app.batchMu.TryLock() {
		writeJSONError(w, http.StatusConflict, "a batch is already running")
		return
	}
	defer app.batchMu.Unlock()

	docs, err := ingest.ListPDFs(app.config.pdfFolder)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list pdf folder: "+err.Error())
		return
	}

	result, err := app.coordinator.Run(r.Context(), docs, nil)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "batch failed: "+err.Error())
		return
	}

	message := "Batch completed"
	if result.CostLimitHit {
		message = "Batch not started: daily cost limit reached"
	}

	response := &RunBatchResponse{
		Success: true,
		Data:    result,
		Message: message,
	}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}
