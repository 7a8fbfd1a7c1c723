package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the detection engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Clients   ClientsConfig   `yaml:"clients"`
	Detection DetectionConfig `yaml:"detection"`
	History   HistoryConfig   `yaml:"history"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
	Cache     CacheConfig     `yaml:"cache"`
}

// ServerConfig controls the HTTP listener and the gRPC health endpoint.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HealthAddress   string        `yaml:"healthAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	APIKey          string        `yaml:"apiKey"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// ClientsConfig groups integrations with upstream telemetry APIs.
type ClientsConfig struct {
	Telemetry TelemetryClientConfig `yaml:"telemetry"`
	Executor  ExecutorClientConfig  `yaml:"executor"`
	Policy    PolicyClientConfig    `yaml:"policy"`
}

// TelemetryClientConfig configures access to the metrics/logs aggregation
// service the engine polls.
type TelemetryClientConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	MetricsPath string        `yaml:"metricsPath"`
	LogsPath    string        `yaml:"logsPath"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ExecutorClientConfig configures the remediation executor the scheduler
// dispatches approved actions to.
type ExecutorClientConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// PolicyClientConfig configures the policy-decision service consulted before
// any action is executed.
type PolicyClientConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
}

// DetectionConfig tunes the detector pair. AnomalyThreshold is the expected
// share of normal traffic; the scorer is calibrated with contamination
// 1 - AnomalyThreshold.
type DetectionConfig struct {
	AnomalyThreshold float64       `yaml:"anomalyThreshold"`
	LogWindow        time.Duration `yaml:"logWindow"`
	MinTrainingRows  int           `yaml:"minTrainingRows"`
}

// Contamination derives the outlier fraction for scorer calibration.
func (d DetectionConfig) Contamination() float64 {
	if d.AnomalyThreshold <= 0 || d.AnomalyThreshold >= 1 {
		return 0.1
	}
	return 1 - d.AnomalyThreshold
}

// HistoryConfig controls the SQLite verdict store.
type HistoryConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// SchedulerConfig controls the background analysis loop.
type SchedulerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	FetchWindow  time.Duration `yaml:"fetchWindow"`
	AutoExecute  bool          `yaml:"autoExecute"`
	RetrainEvery time.Duration `yaml:"retrainEvery"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls Redis-backed caching of telemetry fetches. When
// disabled an in-memory cache is used instead.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	TelemetryTTL time.Duration `yaml:"telemetryTTL"`
	PatternsTTL  time.Duration `yaml:"patternsTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("AEGIS_DETECT_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8000",
			HealthAddress:   ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Clients: ClientsConfig{
			Telemetry: TelemetryClientConfig{
				MetricsPath: "/api/v1/telemetry/metrics",
				LogsPath:    "/api/v1/telemetry/logs",
				Timeout:     5 * time.Second,
			},
			Executor: ExecutorClientConfig{Timeout: 10 * time.Second},
			Policy:   PolicyClientConfig{Timeout: 5 * time.Second},
		},
		Detection: DetectionConfig{
			AnomalyThreshold: 0.85,
			LogWindow:        5 * time.Minute,
			MinTrainingRows:  10,
		},
		History: HistoryConfig{
			Path:      "data/verdicts.db",
			Retention: 7 * 24 * time.Hour,
		},
		Scheduler: SchedulerConfig{
			Enabled:     false,
			Interval:    30 * time.Second,
			FetchWindow: 5 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			TelemetryTTL: 30 * time.Second,
			PatternsTTL:  10 * time.Minute,
		},
	}
}

func validate(cfg *Config) error {
	if cfg.Detection.AnomalyThreshold <= 0 || cfg.Detection.AnomalyThreshold >= 1 {
		return fmt.Errorf("detection.anomalyThreshold must be in (0, 1), got %v", cfg.Detection.AnomalyThreshold)
	}
	if cfg.Detection.LogWindow <= 0 {
		return fmt.Errorf("detection.logWindow must be positive, got %v", cfg.Detection.LogWindow)
	}
	if cfg.Scheduler.Enabled && cfg.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive when the scheduler is enabled")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AEGIS_DETECT_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("AEGIS_DETECT_HEALTH_ADDRESS"); v != "" {
		cfg.Server.HealthAddress = v
	}
	if v := os.Getenv("AEGIS_DETECT_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("AEGIS_DETECT_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("AEGIS_DETECT_TELEMETRY_BASE_URL"); v != "" {
		cfg.Clients.Telemetry.BaseURL = v
	}
	if v := os.Getenv("AEGIS_DETECT_TELEMETRY_METRICS_PATH"); v != "" {
		cfg.Clients.Telemetry.MetricsPath = v
	}
	if v := os.Getenv("AEGIS_DETECT_TELEMETRY_LOGS_PATH"); v != "" {
		cfg.Clients.Telemetry.LogsPath = v
	}
	if v := os.Getenv("AEGIS_DETECT_EXECUTOR_BASE_URL"); v != "" {
		cfg.Clients.Executor.BaseURL = v
	}
	if v := os.Getenv("AEGIS_DETECT_EXECUTOR_TOKEN"); v != "" {
		cfg.Clients.Executor.Token = v
	}
	if v := os.Getenv("AEGIS_DETECT_POLICY_BASE_URL"); v != "" {
		cfg.Clients.Policy.BaseURL = v
	}
	if v := os.Getenv("AEGIS_DETECT_ANOMALY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detection.AnomalyThreshold = f
		}
	}
	if v := os.Getenv("AEGIS_DETECT_LOG_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Detection.LogWindow = d
		}
	}
	if v := os.Getenv("AEGIS_DETECT_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("AEGIS_DETECT_SCHEDULER_ENABLED"); v != "" {
		cfg.Scheduler.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("AEGIS_DETECT_SCHEDULER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.Interval = d
		}
	}
	if v := os.Getenv("AEGIS_DETECT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AEGIS_DETECT_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("AEGIS_DETECT_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("AEGIS_DETECT_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("AEGIS_DETECT_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("AEGIS_DETECT_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("AEGIS_DETECT_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("AEGIS_DETECT_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("AEGIS_DETECT_CACHE_TELEMETRY_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TelemetryTTL = d
		}
	}
}
