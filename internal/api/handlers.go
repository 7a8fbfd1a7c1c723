package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aegisstack/aegis-detect/internal/models"
	"github.com/aegisstack/aegis-detect/internal/repo"
	"github.com/aegisstack/aegis-detect/internal/utils"
)

// DetectionAPI is the service surface the HTTP handlers call.
type DetectionAPI interface {
	Ready() bool
	DetectAnomaly(ctx context.Context, samples []models.MetricSample) models.AnomalyResult
	DetectFailure(ctx context.Context, samples []models.MetricSample, entries []models.LogEntry) models.FailureResult
	History(ctx context.Context, filter models.VerdictFilter) ([]models.VerdictRecord, error)
	Stats(ctx context.Context) (repo.HistoryStats, error)
	Patterns(ctx context.Context) ([]models.FailurePattern, error)
}

type handlers struct {
	logger  *slog.Logger
	service DetectionAPI
}

type detectAnomalyRequest struct {
	Metrics []models.MetricSample `json:"metrics"`
}

type detectFailureRequest struct {
	Metrics []models.MetricSample `json:"metrics"`
	Logs    []models.LogEntry     `json:"logs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handlers) detectAnomaly(w http.ResponseWriter, r *http.Request) {
	if !h.service.Ready() {
		writeError(w, http.StatusServiceUnavailable, "detection engine not initialized")
		return
	}

	var req detectAnomalyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result := h.service.DetectAnomaly(r.Context(), req.Metrics)
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) detectFailure(w http.ResponseWriter, r *http.Request) {
	if !h.service.Ready() {
		writeError(w, http.StatusServiceUnavailable, "detection engine not initialized")
		return
	}

	var req detectFailureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result := h.service.DetectFailure(r.Context(), req.Metrics, req.Logs)
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !h.service.Ready() {
		status = "initializing"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"ready":  h.service.Ready(),
	})
}

func (h *handlers) ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"ping": "pong"})
}

func (h *handlers) predictions(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.service.History(r.Context(), filter)
	if err != nil {
		h.logger.Error("history query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if records == nil {
		records = []models.VerdictRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"predictions": records,
		"count":       len(records),
	})
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.logger.Error("stats query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "stats query failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handlers) patterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := h.service.Patterns(r.Context())
	if err != nil {
		h.logger.Error("pattern mining failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "pattern mining failed")
		return
	}
	if patterns == nil {
		patterns = []models.FailurePattern{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": patterns})
}

func filterFromQuery(r *http.Request) (models.VerdictFilter, error) {
	var filter models.VerdictFilter
	q := r.URL.Query()

	if kind := q.Get("kind"); kind != "" {
		filter.Kind = models.VerdictKind(kind)
	}
	if since := q.Get("since"); since != "" {
		ts, err := utils.ParseRFC3339(since)
		if err != nil {
			return filter, err
		}
		filter.Since = ts
	}
	if detected := q.Get("detected"); detected == "true" || detected == "1" {
		filter.OnlyDetected = true
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid limit %q", limit)
		}
		filter.Limit = n
	}
	return filter, nil
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
