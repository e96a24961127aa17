package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/weather-forecast/internal/config"
	"github.com/couchcryptid/weather-forecast/internal/domain"
)

// Writer publishes forecasts to a Kafka topic, one message per forecast hour.
// It implements pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured forecast topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes every row of f and sends them in a single
// WriteMessages call.
func (w *Writer) Publish(ctx context.Context, f domain.Forecast) error {
	if len(f.Rows) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(f.Rows))
	for i := range f.Rows {
		msg, err := serializeToMessage(f, f.Rows[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish forecast: %w", err)
	}
	w.logger.Debug("forecast published", "run_id", f.RunID, "messages", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// hourMessage is the JSON payload of one forecast hour.
type hourMessage struct {
	RunID       string           `json:"run_id"`
	TargetDate  time.Time        `json:"target_date"`
	IssuedAt    time.Time        `json:"issued_at"`
	Site        domain.Site      `json:"site"`
	Location    domain.SiteLabel `json:"location"`
	Alpha       float64          `json:"alpha"`
	Temperature domain.Interval  `json:"temperature"`
	Humidity    domain.Interval  `json:"humidity"`
	Pressure    domain.Interval  `json:"pressure"`
}

// serializeToMessage marshals one forecast row into a Kafka message keyed
// by its target date.
func serializeToMessage(f domain.Forecast, row domain.ForecastRow) (kafkago.Message, error) {
	target := row.TargetDate.UTC()
	data, err := json.Marshal(hourMessage{
		RunID:       f.RunID,
		TargetDate:  target,
		IssuedAt:    f.IssuedAt.UTC(),
		Site:        f.Site,
		Location:    f.Label,
		Alpha:       f.Alpha,
		Temperature: row.Interval(domain.Temperature),
		Humidity:    row.Interval(domain.Humidity),
		Pressure:    row.Interval(domain.Pressure),
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize forecast row: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(target.Format(time.RFC3339)),
		Value: data,
		Time:  f.IssuedAt,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(f.RunID)},
			{Key: "location", Value: []byte(f.Label.PlaceName)},
			{Key: "issued_at", Value: []byte(f.IssuedAt.UTC().Format(time.RFC3339))},
			{Key: "alpha", Value: []byte(strconv.FormatFloat(f.Alpha, 'g', -1, 64))},
		},
	}, nil
}
