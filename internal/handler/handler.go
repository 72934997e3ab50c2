package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/Dan9191/underwriting-service/internal/analytics"
	"github.com/Dan9191/underwriting-service/internal/models"
	"github.com/Dan9191/underwriting-service/internal/repository"
	"github.com/Dan9191/underwriting-service/internal/service"
	"github.com/Dan9191/underwriting-service/internal/underwriting"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxStatementBytes = 10 << 20

// Service is the business logic behind the HTTP API
type Service interface {
	Login(ctx context.Context, email, password string) (string, error)
	LatestAnalysis(ctx context.Context, merchantID int64) (*models.UnderwritingAnalysis, error)
	AnalysisByReport(ctx context.Context, merchantID int64, reportID string) (*models.UnderwritingAnalysis, error)
	Recompute(ctx context.Context, merchantID int64, reportID string) (*models.UnderwritingAnalysis, error)
	RegisterAssetReport(ctx context.Context, merchantID int64, reportID, token string) (*models.UnderwritingAnalysis, error)
	ImportStatement(ctx context.Context, merchantID int64, r io.Reader) (*models.UnderwritingAnalysis, error)
	ScoreMetrics(m models.MetricsBundle) (models.UnderwritingScore, error)
}

type Handler struct {
	svc      Service
	log      *logrus.Logger
	validate *validator.Validate
}

func NewHandler(svc Service, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, log: log, validate: validator.New()}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registerReportRequest struct {
	AssetReportID    string `json:"assetReportId" validate:"required,max=128"`
	AssetReportToken string `json:"assetReportToken" validate:"required"`
}

// Login handles user authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"token": token})
}

// LatestAnalysis returns the most recent analysis of a merchant
func (h *Handler) LatestAnalysis(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := merchantIDFromPath(w, r)
	if !ok {
		return
	}
	a, err := h.svc.LatestAnalysis(r.Context(), merchantID)
	h.writeAnalysis(w, a, err)
}

// AnalysisByReport returns the analysis of one asset report
func (h *Handler) AnalysisByReport(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := merchantIDFromPath(w, r)
	if !ok {
		return
	}
	a, err := h.svc.AnalysisByReport(r.Context(), merchantID, mux.Vars(r)["assetReportId"])
	h.writeAnalysis(w, a, err)
}

// Recompute refreshes an asset report from the aggregator and scores it again
func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := merchantIDFromPath(w, r)
	if !ok {
		return
	}
	a, err := h.svc.Recompute(r.Context(), merchantID, mux.Vars(r)["assetReportId"])
	h.writeAnalysis(w, a, err)
}

// RegisterAssetReport links an aggregator report to a merchant and analyzes it
func (h *Handler) RegisterAssetReport(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := merchantIDFromPath(w, r)
	if !ok {
		return
	}
	var req registerReportRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.svc.RegisterAssetReport(r.Context(), merchantID, req.AssetReportID, req.AssetReportToken)
	h.writeAnalysis(w, a, err)
}

// ImportStatement analyzes an uploaded camt.053 bank statement
func (h *Handler) ImportStatement(w http.ResponseWriter, r *http.Request) {
	merchantID, ok := merchantIDFromPath(w, r)
	if !ok {
		return
	}
	body := http.MaxBytesReader(w, r.Body, maxStatementBytes)
	a, err := h.svc.ImportStatement(r.Context(), merchantID, body)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeMessage(w, http.StatusRequestEntityTooLarge, "Bank statement too large")
		return
	}
	h.writeAnalysis(w, a, err)
}

// ScoreMetrics scores a metrics bundle without storing it
func (h *Handler) ScoreMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := underwriting.DecodeBundle(r.Body)
	if errors.Is(err, underwriting.ErrInvalidMetrics) {
		h.writeError(w, err)
		return
	}
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	score, err := h.svc.ScoreMetrics(m)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "score": score})
}

// Health reports that the process is serving requests
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *Handler) writeAnalysis(w http.ResponseWriter, a *models.UnderwritingAnalysis, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "analysis": a})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "No underwriting analysis found")
	case errors.Is(err, service.ErrInvalidCredentials):
		writeMessage(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, service.ErrInvalidStatement):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, underwriting.ErrInvalidMetrics), errors.Is(err, analytics.ErrNoTransactions):
		writeMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrReportSource):
		h.log.Warnf("Report source failure: %v", err)
		writeMessage(w, http.StatusBadGateway, "Bank data aggregator unavailable")
	default:
		h.log.Errorf("Request failed: %v", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

func merchantIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeMessage(w, http.StatusBadRequest, "Invalid merchant id")
		return 0, false
	}
	return id, true
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
