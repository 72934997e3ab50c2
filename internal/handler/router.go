package handler

import (
	"github.com/Dan9191/underwriting-service/internal/config"
	"github.com/Dan9191/underwriting-service/internal/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// NewRouter wires the HTTP API
func NewRouter(h *Handler, cfg *config.Config, log *logrus.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(log))

	// Public routes
	r.HandleFunc("/login", h.Login).Methods("POST")
	r.HandleFunc("/healthz", h.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Protected routes
	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Use(middleware.AuthMiddleware(cfg))
	admin.HandleFunc("/merchants/{id}/latest-underwriting-analysis", h.LatestAnalysis).Methods("GET")
	admin.HandleFunc("/merchants/{id}/underwriting-analysis/{assetReportId}", h.AnalysisByReport).Methods("GET")
	admin.HandleFunc("/merchants/{id}/underwriting-analysis/{assetReportId}/recompute", h.Recompute).Methods("POST")
	admin.HandleFunc("/merchants/{id}/asset-reports", h.RegisterAssetReport).Methods("POST")
	admin.HandleFunc("/merchants/{id}/bank-statements", h.ImportStatement).Methods("POST")
	admin.HandleFunc("/underwriting/score", h.ScoreMetrics).Methods("POST")

	return r
}
