package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/weather-forecast/internal/features"
	"github.com/couchcryptid/weather-forecast/internal/model"
)

// Config holds all forecaster settings, populated from environment variables
// and an optional YAML model file. Command-line flags may override fields
// after Load; call Validate again afterwards.
type Config struct {
	Alpha        float64
	Features     features.Config
	EvalHoldout  float64
	TrainWorkers int

	ModelConfigPath string
	Model           model.Params
	ModelDir        string

	LogLevel        string
	LogFormat       string
	MetricsTextfile string
	ShutdownTimeout time.Duration

	// Forecast publishing. No brokers disables it.
	KafkaBrokers []string
	KafkaTopic   string

	// Mapbox reverse geocoding of the site.
	MapboxToken   string
	MapboxEnabled bool
	MapboxTimeout time.Duration
}

// Load reads configuration from a .env file when present, then from
// environment variables, applying defaults where unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	alpha, err := parseFloat("FORECAST_ALPHA", "0.9")
	if err != nil {
		return nil, err
	}
	holdout, err := parseFloat("FORECAST_EVAL_HOLDOUT", "0.2")
	if err != nil {
		return nil, err
	}
	workers, err := parseInt("FORECAST_TRAIN_WORKERS", "9")
	if err != nil {
		return nil, err
	}
	baselineDays, err := parseInt("FORECAST_BASELINE_WINDOW_DAYS", "15")
	if err != nil {
		return nil, err
	}
	lags, err := ParseLags(sharedcfg.EnvOrDefault("FORECAST_LAGS", "1h,2h,3h,24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid FORECAST_LAGS: %w", err)
	}
	tolerance, err := parseDuration("FORECAST_LAG_TOLERANCE", "30m")
	if err != nil {
		return nil, err
	}
	window, err := parseDuration("FORECAST_ROLLING_WINDOW", "24h")
	if err != nil {
		return nil, err
	}
	baseline, err := strconv.ParseBool(sharedcfg.EnvOrDefault("FORECAST_BASELINE", "true"))
	if err != nil {
		return nil, errors.New("invalid FORECAST_BASELINE")
	}
	mapboxTimeout, err := parseDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil || mapboxTimeout <= 0 {
		return nil, errors.New("invalid MAPBOX_TIMEOUT")
	}

	modelConfigPath := os.Getenv("FORECAST_MODEL_CONFIG")
	params := model.DefaultParams()
	if modelConfigPath != "" {
		if params, err = LoadModelParams(modelConfigPath); err != nil {
			return nil, err
		}
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = sharedcfg.ParseBrokers(raw)
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		Alpha: alpha,
		Features: features.Config{
			Lags:               lags,
			LagTolerance:       tolerance,
			RollingWindow:      window,
			Baseline:           baseline,
			BaselineWindowDays: baselineDays,
		},
		EvalHoldout:  holdout,
		TrainWorkers: workers,

		ModelConfigPath: modelConfigPath,
		Model:           params,
		ModelDir:        os.Getenv("FORECAST_MODEL_DIR"),

		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "text"),
		MetricsTextfile: os.Getenv("METRICS_TEXTFILE"),
		ShutdownTimeout: shutdownTimeout,

		KafkaBrokers: brokers,
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "weather-forecasts"),

		MapboxToken:   mapboxToken,
		MapboxEnabled: mapboxEnabled,
		MapboxTimeout: mapboxTimeout,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if !(c.Alpha > 0 && c.Alpha < 1) {
		return fmt.Errorf("alpha %v must be in (0, 1)", c.Alpha)
	}
	if err := c.Features.Validate(); err != nil {
		return fmt.Errorf("feature config: %w", err)
	}
	if c.EvalHoldout < 0 || c.EvalHoldout > 0.5 {
		return fmt.Errorf("FORECAST_EVAL_HOLDOUT %v must be in [0, 0.5]", c.EvalHoldout)
	}
	if c.TrainWorkers < 1 {
		return fmt.Errorf("FORECAST_TRAIN_WORKERS %d must be at least 1", c.TrainWorkers)
	}
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model config: %w", err)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	if c.MapboxEnabled && c.MapboxToken == "" {
		return errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	return nil
}

// PublishEnabled reports whether forecasts are sent to Kafka.
func (c *Config) PublishEnabled() bool { return len(c.KafkaBrokers) > 0 }

// LoadModelParams reads gradient boosting parameters from a YAML file.
// Keys missing from the file keep their defaults.
func LoadModelParams(path string) (model.Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Params{}, fmt.Errorf("read model config: %w", err)
	}
	params := model.DefaultParams()
	if err := yaml.Unmarshal(data, &params); err != nil {
		return model.Params{}, fmt.Errorf("parse model config %s: %w", path, err)
	}
	if err := params.Validate(); err != nil {
		return model.Params{}, fmt.Errorf("model config %s: %w", path, err)
	}
	return params, nil
}

// ParseLags parses a comma-separated list of durations such as "1h,24h".
func ParseLags(s string) ([]time.Duration, error) {
	var lags []time.Duration
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, err
		}
		lags = append(lags, d)
	}
	if len(lags) == 0 {
		return nil, errors.New("no lags given")
	}
	return lags, nil
}

func parseFloat(key, def string) (float64, error) {
	v, err := strconv.ParseFloat(sharedcfg.EnvOrDefault(key, def), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

func parseInt(key, def string) (int, error) {
	v, err := strconv.Atoi(sharedcfg.EnvOrDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	v, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}
