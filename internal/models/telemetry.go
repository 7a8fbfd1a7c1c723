package models

import "time"

// MetricType enumerates the metric streams the detectors understand.
type MetricType string

const (
	MetricCPUUsage     MetricType = "cpu_usage"
	MetricMemoryUsage  MetricType = "memory_usage"
	MetricRequestRate  MetricType = "request_rate"
	MetricErrorRate    MetricType = "error_rate"
	MetricResponseTime MetricType = "response_time"
	MetricDiskIO       MetricType = "disk_io"
)

// LogLevel enumerates log entry severities.
type LogLevel string

const (
	LevelError LogLevel = "error"
	LevelWarn  LogLevel = "warn"
	LevelInfo  LogLevel = "info"
	LevelDebug LogLevel = "debug"
)

// MetricSample is a single metric observation supplied by the caller.
type MetricSample struct {
	MetricType MetricType        `json:"metric_type"`
	Value      float64           `json:"value"`
	Timestamp  time.Time         `json:"timestamp"`
	Labels     map[string]string `json:"labels,omitempty"`
}

// LogEntry is a single structured log line supplied by the caller.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Service   string         `json:"service"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
