package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// GetConflicts returns the confirmed conflicts of a request's plots.
func (h *Handler) GetConflicts(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	rep, err := h.Resolver.Resolve(r.Context(), code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"code":      rep.Code,
		"conflicts": rep.Count(),
		"plots":     rep.Plots,
	})
}
