package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"p9e.in/takweed/middleware"
	"p9e.in/takweed/models"
	"p9e.in/takweed/pkg/ledger"
)

// OpenTraceability creates the ledger of a registered request.
func (h *Handler) OpenTraceability(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	req, err := h.Registry.Request(r.Context(), code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := h.Ledger.Open(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type transferRequest struct {
	From            *string           `json:"from"`
	To              *string           `json:"to"`
	TransactionType string            `json:"transactionType"`
	Payload         []models.Quantity `json:"payload"`
	Date            *time.Time        `json:"date,omitempty"`
}

// PostTransfer records a hub transfer after checking the source balance.
// The acting user comes from the token.
func (h *Handler) PostTransfer(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	var body transferRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	entry := models.TraceabilityTransaction{
		From:            body.From,
		To:              body.To,
		User:            middleware.GetUserID(r),
		TransactionType: body.TransactionType,
		Payload:         body.Payload,
	}
	if body.Date != nil {
		entry.CreatedAt = body.Date.UTC()
	}
	stored, err := h.Ledger.Transfer(r.Context(), code, entry)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

// GetHoldings returns what each hub currently holds for a request.
func (h *Handler) GetHoldings(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	holdings, anomalies, err := h.Ledger.CurrentHoldings(r.Context(), code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	remaining, charged, err := h.Ledger.RemainingCharge(r.Context(), code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	warnings := append(append([]ledger.Anomaly{}, anomalies...), charged...)
	writeJSON(w, http.StatusOK, map[string]any{
		"code":      code,
		"holdings":  holdings,
		"remaining": remaining,
		"warnings":  warnings,
	})
}

// GetChain returns the chain of custody of a request.
func (h *Handler) GetChain(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	c, err := h.Reports.ChainOfCustody(r.Context(), code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetVarietyChain lists the transfers of one variety, newest first.
func (h *Handler) GetVarietyChain(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	hops, err := h.Ledger.ChainForVariety(r.Context(), vars["code"], vars["variety"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"code":    vars["code"],
		"variety": vars["variety"],
		"hops":    hops,
	})
}
