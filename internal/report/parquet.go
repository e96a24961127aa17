package report

import (
	"bytes"
	"fmt"
	"io"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/couchcryptid/weather-forecast/internal/domain"
)

// parquetRow mirrors Columns. target_date is milliseconds since the epoch.
type parquetRow struct {
	TargetDate      int64   `parquet:"name=target_date, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	TemperaturePred float64 `parquet:"name=temperature_pred, type=DOUBLE"`
	TemperatureLow  float64 `parquet:"name=temperature_low, type=DOUBLE"`
	TemperatureHigh float64 `parquet:"name=temperature_high, type=DOUBLE"`
	HumidityPred    float64 `parquet:"name=humidity_pred, type=DOUBLE"`
	HumidityLow     float64 `parquet:"name=humidity_low, type=DOUBLE"`
	HumidityHigh    float64 `parquet:"name=humidity_high, type=DOUBLE"`
	PressurePred    float64 `parquet:"name=pressure_pred, type=DOUBLE"`
	PressureLow     float64 `parquet:"name=pressure_low, type=DOUBLE"`
	PressureHigh    float64 `parquet:"name=pressure_high, type=DOUBLE"`
}

func toParquetRow(r domain.ForecastRow) parquetRow {
	t, h, p := r.Intervals[domain.Temperature], r.Intervals[domain.Humidity], r.Intervals[domain.Pressure]
	return parquetRow{
		TargetDate:      r.TargetDate.UTC().UnixMilli(),
		TemperaturePred: t.Pred, TemperatureLow: t.Low, TemperatureHigh: t.High,
		HumidityPred: h.Pred, HumidityLow: h.Low, HumidityHigh: h.High,
		PressurePred: p.Pred, PressureLow: p.Low, PressureHigh: p.High,
	}
}

// ParquetEncoder writes rows as a Snappy-compressed Parquet file.
type ParquetEncoder struct{}

// Encode implements Encoder. The file is assembled in memory and copied to w
// once the footer has been written.
func (ParquetEncoder) Encode(w io.Writer, rows []domain.ForecastRow) error {
	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(parquetRow), 1)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i, r := range rows {
		if err := pw.Write(toParquetRow(r)); err != nil {
			return fmt.Errorf("write parquet row %d: %w", i, err)
		}
	}
	if err := stopParquet(pw); err != nil {
		return err
	}
	_, err = io.Copy(w, buf)
	return err
}

// stopParquet flushes the footer. WriteStop can panic on internal errors.
func stopParquet(pw *writer.ParquetWriter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stop parquet writer: panic: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("stop parquet writer: %w", err)
	}
	return nil
}
