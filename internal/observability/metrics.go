package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "weather_forecast"

// Metrics holds the Prometheus counters, histograms, and gauges for a forecast run.
type Metrics struct {
	RunsTotal     *prometheus.CounterVec // labels: outcome={success,failure}
	RunDuration   prometheus.Histogram
	StageDuration *prometheus.HistogramVec // labels: stage
	PipelineState prometheus.Gauge

	// Data volume.
	ObservationRows prometheus.Gauge
	TrainingRows    prometheus.Gauge
	ForecastRows    prometheus.Gauge

	// Model bank.
	ModelTrainDuration *prometheus.HistogramVec // labels: model
	ModelStore         *prometheus.CounterVec   // labels: result={loaded,missing,incompatible,saved,error}
	HoldoutMAE         *prometheus.GaugeVec     // labels: target
	HoldoutCoverage    *prometheus.GaugeVec     // labels: target

	// Forecast publishing.
	MessagesPublished prometheus.Counter
	PublishErrors     prometheus.Counter

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: method={reverse}, outcome={success,error,empty}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: method={reverse}
	GeocodeEnabled     prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics creates and registers all forecaster metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	reg := prometheus.NewRegistry()
	return newMetrics(reg, reg)
}

func newMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Forecast runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete forecast run.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"stage"}),
		PipelineState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_state",
			Help:      "Current pipeline state as its ordinal (0 idle ... 6 done, 7 failed).",
		}),
		ObservationRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observation_rows",
			Help:      "Validated observations read from the input file.",
		}),
		TrainingRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "training_rows",
			Help:      "Feature rows with full lag history used for training.",
		}),
		ForecastRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "forecast_rows",
			Help:      "Forecast rows written to the output file.",
		}),
		ModelTrainDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_train_duration_seconds",
			Help:      "Training time of each quantile model.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"model"}),
		ModelStore: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_store_total",
			Help:      "Model store operations by result.",
		}, []string{"result"}),
		HoldoutMAE: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "holdout_mae",
			Help:      "Mean absolute error of the median on the holdout rows.",
		}, []string{"target"}),
		HoldoutCoverage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "holdout_interval_coverage",
			Help:      "Share of holdout rows inside [low, high].",
		}, []string{"target"}),
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Forecast messages written to Kafka.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed attempts to publish a forecast to Kafka.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when site geocoding is enabled, 0 otherwise.",
		}),
		gatherer: gatherer,
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.StageDuration,
		m.PipelineState,
		m.ObservationRows,
		m.TrainingRows,
		m.ForecastRows,
		m.ModelTrainDuration,
		m.ModelStore,
		m.HoldoutMAE,
		m.HoldoutCoverage,
		m.MessagesPublished,
		m.PublishErrors,
		m.GeocodeRequests,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
	)

	return m
}

// WriteTextfile writes every registered metric to path in the Prometheus
// text format, for collection by the node exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.gatherer)
}
