package main

import (
	"net/http"
	"strconv"

	"github.com/mailstoaleksei-droid/repair-invoice-bot/internal/response"
	"github.com/mailstoaleksei-droid/repair-invoice-bot/internal/store"
)

type GetRecentInvoicesResponse = response.APIResponse[[]store.Invoice]

// @Summary		Get recent invoices
// @Description	Get the most recently ingested invoice rows, newest first.
// @Tags			Invoices
// @Produce		json
// @Param			limit	query		int							false	"Limit the number of results"	default(20)
// @Success		200		{object}	GetRecentInvoicesResponse	"Successfully retrieved recent invoices"
// @Failure		500		{object}	response.ErrorResponse		"Failed to get recent invoices"
// @Router			/invoices/recent [get]
func (app *application) handleGetRecentInvoices(w http.ResponseWriter, r *http.Request) {
	limitParam := r.URL.Query().Get("limit")
	limit := 20
	if limitParam != "" {
		if l, err := strconv.Atoi(limitParam); err == nil {
			limit = l
		}
	}

	invoices, err := app.store.Invoices.GetRecent(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to get recent invoices: "+err.Error())
		return
	}

	response := &GetRecentInvoicesResponse{
		Success: true,
		Data:    invoices,
		Message: "Successfully retrieved recent invoices",
	}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to write response")
	}
}
