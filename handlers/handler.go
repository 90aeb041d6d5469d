// Package handlers exposes the conflict, traceability and report services
// over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"p9e.in/takweed/pkg/archive"
	"p9e.in/takweed/pkg/geometry"
	"p9e.in/takweed/pkg/intersect"
	"p9e.in/takweed/pkg/ledger"
	"p9e.in/takweed/pkg/metrics"
	"p9e.in/takweed/pkg/registry"
	"p9e.in/takweed/pkg/report"
)

// maxUploadBytes bounds plot survey uploads.
const maxUploadBytes = 32 << 20

// Handler serves the API. Archive may be nil.
type Handler struct {
	Plots    geometry.Store
	Registry registry.Store
	Resolver *intersect.Resolver
	Ledger   *ledger.Ledger
	Reports  *report.Aggregator
	Archive  archive.Archiver
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

// writeError maps service errors to status codes. Unexpected errors are
// logged and hidden from the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *report.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid filters", Problems: verr.Problems})
	case errors.Is(err, ledger.ErrInvalidEntry),
		errors.Is(err, geometry.ErrInvalidPolygon),
		errors.Is(err, geometry.ErrInvalidIntersection),
		errors.Is(err, geometry.ErrNoPlots):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, registry.ErrNotFound),
		errors.Is(err, geometry.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, ledger.ErrExists),
		errors.Is(err, geometry.ErrDuplicatePlot),
		errors.Is(err, ledger.ErrVersionConflict),
		errors.Is(err, ledger.ErrInsufficientBalance):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	default:
		h.logger().Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
