// Command forecast trains quantile models on an hourly observation file and
// writes a 24-hour forecast with confidence intervals.
//
// Usage:
//
//	forecast -data observations.csv [-out forecast.csv] [-alpha 0.9] \
//	  [-model-dir models/] [-retrain]
//
// Exit status is 0 on success, 1 when the run fails and 2 for bad flags or
// configuration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/weather-forecast/internal/adapter/csvfile"
	kafkaadapter "github.com/couchcryptid/weather-forecast/internal/adapter/kafka"
	"github.com/couchcryptid/weather-forecast/internal/adapter/mapbox"
	"github.com/couchcryptid/weather-forecast/internal/config"
	"github.com/couchcryptid/weather-forecast/internal/domain"
	"github.com/couchcryptid/weather-forecast/internal/modelstore"
	"github.com/couchcryptid/weather-forecast/internal/observability"
	"github.com/couchcryptid/weather-forecast/internal/pipeline"
	"github.com/couchcryptid/weather-forecast/internal/report"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr, observability.NewMetrics(), sharedobs.NewLogger)
	stop()
	os.Exit(code)
}

type flags struct {
	data     string
	out      string
	alpha    float64
	alphaSet bool
	modelDir string
	retrain  bool
}

func parseFlags(args []string, stderr io.Writer) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("forecast", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.data, "data", "", "input observation CSV (required)")
	fs.StringVar(&f.out, "out", "forecast.csv", "output path; a .parquet suffix writes Parquet")
	fs.Float64Var(&f.alpha, "alpha", 0, "interval confidence level in (0, 1) (default FORECAST_ALPHA or 0.9)")
	fs.StringVar(&f.modelDir, "model-dir", "", "directory to load and save trained models (default FORECAST_MODEL_DIR)")
	fs.BoolVar(&f.retrain, "retrain", false, "train new models even if the model directory holds compatible ones")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == "alpha" {
			f.alphaSet = true
		}
	})
	if fs.NArg() > 0 {
		return flags{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if f.data == "" {
		fs.Usage()
		return flags{}, errors.New("missing required flag: -data")
	}
	return f, nil
}

// loggerFunc builds the run logger from the configured level and format.
type loggerFunc func(level, format string) *slog.Logger

func run(ctx context.Context, args []string, stderr io.Writer, metrics *observability.Metrics, newLogger loggerFunc) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "forecast: %v\n", err)
		}
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "forecast: config: %v\n", err)
		return exitUsage
	}
	if f.alphaSet {
		cfg.Alpha = f.alpha
	}
	if f.modelDir != "" {
		cfg.ModelDir = f.modelDir
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "forecast: config: %v\n", err)
		return exitUsage
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	defer writeMetrics(cfg, metrics, logger)

	p, err := pipeline.New(pipeline.Settings{
		Alpha:       cfg.Alpha,
		Features:    cfg.Features,
		Params:      cfg.Model,
		EvalHoldout: cfg.EvalHoldout,
		Workers:     cfg.TrainWorkers,
		Retrain:     f.retrain,
	}, pipeline.TableReaderFunc(csvfile.Read), report.NewWriter(), logger, metrics)
	if err != nil {
		fmt.Fprintf(stderr, "forecast: %v\n", err)
		return exitUsage
	}

	if cfg.ModelDir != "" {
		p.WithStore(modelstore.New(cfg.ModelDir, logger))
	}

	// Geocoding is feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN.
	if cfg.MapboxEnabled {
		p.WithGeocoder(mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger))
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "timeout", cfg.MapboxTimeout)
	}

	if cfg.PublishEnabled() {
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer closeWriter(writer, cfg.ShutdownTimeout, logger)
		p.WithPublisher(writer)
		logger.Info("forecast publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	res, err := p.Run(ctx, f.data, f.out)
	if err != nil {
		fmt.Fprintf(stderr, "forecast: %s\n", describe(err))
		return exitFailure
	}
	logger.Info("run complete",
		"run_id", res.RunID,
		"rows", len(res.Rows),
		"models", res.ModelSource,
		"out", f.out,
	)
	return exitOK
}

// describe turns a run error into a one-line message naming its class.
func describe(err error) string {
	var (
		schemaErr    *domain.SchemaError
		insufficient *domain.InsufficientDataError
		ioErr        *domain.IOError
	)
	switch {
	case errors.As(err, &schemaErr):
		return "invalid input: " + err.Error()
	case errors.As(err, &insufficient):
		return "not enough data: " + insufficient.Error()
	case errors.As(err, &ioErr):
		return "file error: " + ioErr.Error()
	case errors.Is(err, context.Canceled):
		return "interrupted"
	default:
		return err.Error()
	}
}

func writeMetrics(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) {
	if cfg.MetricsTextfile == "" {
		return
	}
	if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
		logger.Error("write metrics textfile", "path", cfg.MetricsTextfile, "error", err)
	}
}

// closeWriter flushes the Kafka writer, giving up after timeout.
func closeWriter(w io.Closer, timeout time.Duration, logger *slog.Logger) {
	done := make(chan error, 1)
	go func() { done <- w.Close() }()
	select {
	case err := <-done:
		if err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	case <-time.After(timeout):
		logger.Error("kafka writer close timed out", "timeout", timeout)
	}
}
