package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"p9e.in/takweed/pkg/report"
)

// Export formats.
const (
	FormatJSON    = "json"
	FormatXLSX    = "xlsx"
	FormatCSV     = "csv"
	FormatGeoJSON = "geojson"
)

var contentTypes = map[string]string{
	FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	FormatCSV:  "text/csv",
}

// writeTable renders t as a download and archives a copy when an archive
// is configured. Archive failures are logged, not returned.
func (h *Handler) writeTable(ctx context.Context, w http.ResponseWriter, name, format string, t report.Table) error {
	now := time.Now().UTC()
	var buf bytes.Buffer
	var err error
	if format == FormatXLSX {
		err = report.WriteXLSX(&buf, t, now)
	} else {
		err = report.WriteCSV(&buf, t)
	}
	if err != nil {
		return fmt.Errorf("render %s: %w", format, err)
	}

	filename := report.Filename(name, format, now)
	if h.Archive != nil {
		key := now.Format("2006/01/02/") + filename
		if loc, err := h.Archive.Put(ctx, key, contentTypes[format], buf.Bytes()); err != nil {
			h.logger().Warn("export not archived", "file", filename, "error", err)
		} else {
			h.logger().Info("export archived", "location", loc)
		}
	}

	w.Header().Set("Content-Type", contentTypes[format])
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
	return nil
}

// ActivityReport serves the activity report in format.
func (h *Handler) ActivityReport(format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := report.ParseFilters(r.URL.Query())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		page, err := h.Reports.BuildReport(r.Context(), f)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if format == FormatJSON {
			writeJSON(w, http.StatusOK, page)
			return
		}
		if err := h.writeTable(r.Context(), w, "activity", format, report.ActivityTable(page.Rows)); err != nil {
			h.writeError(w, r, err)
		}
	}
}

// GeoReport serves the plot export as JSON rows or a GeoJSON
// FeatureCollection.
func (h *Handler) GeoReport(format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := report.ParseFilters(r.URL.Query())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		page, err := h.Reports.GeoExport(r.Context(), f)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if format == FormatGeoJSON {
			data, err := page.FeatureCollection().MarshalJSON()
			if err != nil {
				h.writeError(w, r, err)
				return
			}
			w.Header().Set("Content-Type", "application/geo+json")
			w.WriteHeader(http.StatusOK)
			w.Write(data)
			return
		}
		if format == FormatJSON {
			writeJSON(w, http.StatusOK, page)
			return
		}
		if err := h.writeTable(r.Context(), w, "plots", format, report.GeoTable(page.Rows)); err != nil {
			h.writeError(w, r, err)
		}
	}
}

// Transactions serves the history export of one request.
func (h *Handler) Transactions(format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := mux.Vars(r)["code"]
		rows, err := h.Reports.TransactionExport(r.Context(), code)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if format == FormatJSON {
			writeJSON(w, http.StatusOK, map[string]any{"code": code, "transactions": rows})
			return
		}
		if err := h.writeTable(r.Context(), w, "transactions_"+code, format, report.TransactionTable(code, rows)); err != nil {
			h.writeError(w, r, err)
		}
	}
}
