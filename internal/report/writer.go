// Package report serializes forecast rows to CSV or Parquet. Output files
// appear all at once or not at all.
package report

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/weather-forecast/internal/atomicfile"
	"github.com/couchcryptid/weather-forecast/internal/domain"
)

// Columns is the output header in order.
var Columns = []string{
	"target_date",
	"temperature_pred", "temperature_low", "temperature_high",
	"humidity_pred", "humidity_low", "humidity_high",
	"pressure_pred", "pressure_low", "pressure_high",
}

// Encoder writes rows in one file format.
type Encoder interface {
	Encode(w io.Writer, rows []domain.ForecastRow) error
}

// Writer commits forecast rows to a path, choosing the format by extension.
type Writer struct {
	csv     Encoder
	parquet Encoder
}

// NewWriter returns a Writer for .csv (default) and .parquet paths.
func NewWriter() *Writer {
	return &Writer{csv: CSVEncoder{}, parquet: ParquetEncoder{}}
}

// EncoderFor returns the encoder selected by path's extension.
func (w *Writer) EncoderFor(path string) Encoder {
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		return w.parquet
	}
	return w.csv
}

// Write validates rows and atomically replaces path with their encoding.
// Any failure is returned as a *domain.IOError and leaves path untouched.
func (w *Writer) Write(path string, rows []domain.ForecastRow) error {
	if err := checkRows(rows); err != nil {
		return &domain.IOError{Op: "write", Path: path, Err: err}
	}
	enc := w.EncoderFor(path)
	return atomicfile.Write(path, func(f io.Writer) error { return enc.Encode(f, rows) })
}

func checkRows(rows []domain.ForecastRow) error {
	for i, r := range rows {
		for _, t := range domain.Targets {
			if !r.Intervals[t].Ordered() {
				return fmt.Errorf("row %d: %s interval is not ordered", i, t)
			}
		}
		if i > 0 && !r.TargetDate.After(rows[i-1].TargetDate) {
			return fmt.Errorf("row %d: target_date %s not after previous row", i, r.TargetDate.Format(time.RFC3339))
		}
	}
	return nil
}

// IsIOError reports whether err carries a *domain.IOError.
func IsIOError(err error) bool {
	var ioe *domain.IOError
	return errors.As(err, &ioe)
}
