package routes

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"p9e.in/takweed/handlers"
	"p9e.in/takweed/middleware"
)

// RegisterRoutes sets up all application routes
func RegisterRoutes(h *handlers.Handler, auth *middleware.Auth, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Logging(logger))

	// Public
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	// Protected
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(auth.JWT)

	registerRequestRoutes(api, h)
	registerReportRoutes(api, h)

	api.Handle("/plots/{id}/intersections", middleware.RequireRole(
		[]string{middleware.RoleAdmin, middleware.RoleBatch},
		http.HandlerFunc(h.PutIntersections),
	)).Methods("PUT")

	return enableCORS(r)
}

func registerRequestRoutes(api *mux.Router, h *handlers.Handler) {
	req := api.PathPrefix("/requests/{code}").Subrouter()

	req.HandleFunc("/conflicts", h.GetConflicts).Methods("GET")

	req.HandleFunc("/plots", h.ListPlots).Methods("GET")
	req.HandleFunc("/plots/import", h.ImportPlots).Methods("POST")
	req.HandleFunc("/plots/{point}", h.GetPlot).Methods("GET")

	req.HandleFunc("/traceability", h.OpenTraceability).Methods("POST")
	req.HandleFunc("/transfers", h.PostTransfer).Methods("POST")
	req.HandleFunc("/holdings", h.GetHoldings).Methods("GET")
	req.HandleFunc("/chain", h.GetChain).Methods("GET")
	req.HandleFunc("/chain/{variety}", h.GetVarietyChain).Methods("GET")

	req.HandleFunc("/transactions", h.Transactions(handlers.FormatJSON)).Methods("GET")
	req.HandleFunc("/transactions.xlsx", h.Transactions(handlers.FormatXLSX)).Methods("GET")
	req.HandleFunc("/transactions.csv", h.Transactions(handlers.FormatCSV)).Methods("GET")
}

func registerReportRoutes(api *mux.Router, h *handlers.Handler) {
	api.HandleFunc("/reports/activity", h.ActivityReport(handlers.FormatJSON)).Methods("GET")
	api.HandleFunc("/reports/activity.xlsx", h.ActivityReport(handlers.FormatXLSX)).Methods("GET")
	api.HandleFunc("/reports/activity.csv", h.ActivityReport(handlers.FormatCSV)).Methods("GET")
	api.HandleFunc("/reports/geo", h.GeoReport(handlers.FormatJSON)).Methods("GET")
	api.HandleFunc("/reports/geo.geojson", h.GeoReport(handlers.FormatGeoJSON)).Methods("GET")
	api.HandleFunc("/reports/geo.xlsx", h.GeoReport(handlers.FormatXLSX)).Methods("GET")
	api.HandleFunc("/reports/geo.csv", h.GeoReport(handlers.FormatCSV)).Methods("GET")
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
