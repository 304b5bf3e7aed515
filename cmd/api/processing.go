package main

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mailstoaleksei-droid/repair-invoice-bot/internal/response"
	"github.com/mailstoaleksei-droid/repair-invoice-bot/internal/store"
)

type GetProcessingHistoryResponse = response.APIResponse[[]store.LogEntry]
type GetBatchSummaryResponse = response.APIResponse[*store.BatchSummary]

// @Summary		Get processing history
// @Description	Get the latest processing-log entries, newest first.
// @Tags			Processing
// @Produce		json
// @Param			limit	query		int								false	"Limit the number of results"	default(20)
// @Success		200		{object}	GetProcessingHistoryResponse	"Successfully retrieved processing history"
// @Failure		500		{object}	response.ErrorResponse			"Failed to get processing history"
// @Router			/processing/history [get]
func (app *application) handleGetProcessingHistory(w http.ResponseWriter, r *http.Request) {
	limitParam := r.URL.Query().Get("limit")
	limit := 20
	if limitParam != "" {
		if l, err := strconv.Atoi(limitParam); err == nil {
			limit = l
		}
	}

	ctx := r.Context()
	data, err := app.store.ProcessingLog.GetLatest(ctx, limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to get processing history: "+err.Error())
		return
	}

	response := &GetProcessingHistoryResponse{
		Success: true,
		Data:    data,
		Message: "Successfully retrieved processing history",
	}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}

// @Summary		Get batch summary
// @Description	Get the per-status counts and total cost of one batch run.
// @Tags			Processing
// @Produce		json
// @Param			batchID	path		string						true	"Batch identifier"
// @Success		200		{object}	GetBatchSummaryResponse		"Successfully retrieved batch summary"
// @Failure		500		{object}	response.ErrorResponse		"Failed to get batch summary"
// @Router			/batches/{batchID}/summary [get]
func (app *application) handleGetBatchSummary(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	summary, err := app.store.ProcessingLog.BatchSummary(r.Context(), batchID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to get batch summary: "+err.Error())
		return
	}

	response := &GetBatchSummaryResponse{
		Success: true,
		Data:    summary,
		Message: "Successfully retrieved batch summary",
	}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}
