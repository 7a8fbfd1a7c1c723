package main

import (
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"time"
)

type metricSample struct {
	MetricType string    `json:"metric_type"`
	Value      float64   `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

type logEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Service   string    `json:"service"`
}

func main() {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/telemetry/metrics", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		now := time.Now()
		samples := make([]metricSample, 0, 30)
		for i := 0; i < 10; i++ {
			ts := now.Add(time.Duration(-i) * 30 * time.Second)
			samples = append(samples,
				metricSample{MetricType: "cpu_usage", Value: 45 + rng.Float64()*10, Timestamp: ts},
				metricSample{MetricType: "memory_usage", Value: 60 + rng.Float64()*5, Timestamp: ts},
				metricSample{MetricType: "request_rate", Value: 200 + rng.Float64()*40, Timestamp: ts},
			)
		}
		writeJSON(w, map[string]any{"samples": samples})
	})

	mux.HandleFunc("/api/v1/telemetry/logs", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		now := time.Now()
		entries := []logEntry{
			{Timestamp: now.Add(-2 * time.Minute), Level: "info", Message: "request completed", Service: "api-service"},
			{Timestamp: now.Add(-90 * time.Second), Level: "warn", Message: "slow upstream response", Service: "api-service"},
			{Timestamp: now.Add(-1 * time.Minute), Level: "error", Message: "connection timeout reaching database", Service: "worker-service"},
		}
		writeJSON(w, map[string]any{"entries": entries})
	})

	logger := log.New(log.Writer(), "telemetry-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8080",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
