package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"p9e.in/takweed/models"
	"p9e.in/takweed/pkg/geometry"
)

// ListPlots returns every plot of a request.
func (h *Handler) ListPlots(w http.ResponseWriter, r *http.Request) {
	plots, err := h.Plots.ByCode(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plots)
}

// GetPlot returns one plot by its point label.
func (h *Handler) GetPlot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	plot, err := h.Plots.ByPlotLabel(r.Context(), vars["code"], vars["point"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plot)
}

// readSurvey returns the uploaded file and its format, taken from the
// format query parameter or else the file extension.
func readSurvey(r *http.Request) ([]byte, string, error) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	var src io.Reader = r.Body

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, "", fmt.Errorf("invalid multipart body: %w", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", fmt.Errorf("missing file field: %w", err)
		}
		defer file.Close()
		src = file
		if format == "" {
			format = strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
		}
	}

	data, err := io.ReadAll(io.LimitReader(src, maxUploadBytes+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxUploadBytes {
		return nil, "", errors.New("survey file too large")
	}
	return data, format, nil
}

// ImportPlots parses a GPX, KML or KMZ survey and stores its plots under
// the request. The request's crop is applied to plots without one.
func (h *Handler) ImportPlots(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	req, err := h.Registry.Request(r.Context(), code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	data, format, err := readSurvey(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var plots []models.Geometry
	switch format {
	case "gpx":
		plots, err = geometry.ParseGPX(code, data)
	case "kmz":
		plots, err = geometry.ParseKMZ(code, data)
	case "kml":
		plots, err = geometry.ParseKML(code, data)
	default:
		badRequest(w, "format must be gpx, kml or kmz")
		return
	}
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	// A re-imported survey is refused before anything is written.
	for i := range plots {
		_, err := h.Plots.ByPlotLabel(r.Context(), code, plots[i].Point)
		if err == nil {
			h.writeError(w, r, fmt.Errorf("%w: %s/%s", geometry.ErrDuplicatePlot, code, plots[i].Point))
			return
		}
		if !errors.Is(err, geometry.ErrNotFound) {
			h.writeError(w, r, err)
			return
		}
	}

	for i := range plots {
		if plots[i].CropID == nil {
			plots[i].CropID = req.CropID
		}
		if plots[i].GpxDate.IsZero() {
			plots[i].GpxDate = req.GpxDate
		}
		if err := h.Plots.Create(r.Context(), &plots[i]); err != nil {
			h.writeError(w, r, fmt.Errorf("plot %s: %w", plots[i].Point, err))
			return
		}
	}
	h.logger().Info("plots imported", "code", code, "format", format, "plots", len(plots))
	writeJSON(w, http.StatusCreated, plots)
}

// PutIntersections records the overlaps the batch job computed for a plot.
func (h *Handler) PutIntersections(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		badRequest(w, "invalid plot id")
		return
	}
	var items []models.Intersection
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if err := h.Plots.AppendIntersections(r.Context(), id, items); err != nil {
		if errors.Is(err, geometry.ErrInvalidIntersection) {
			h.Metrics.RecordRejectedIntersections()
		}
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
