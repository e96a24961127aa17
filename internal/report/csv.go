package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/couchcryptid/weather-forecast/internal/domain"
)

// CSVEncoder writes the header and one line per row. Dates are RFC 3339 UTC
// and values have four decimals.
type CSVEncoder struct{}

// Encode implements Encoder.
func (CSVEncoder) Encode(w io.Writer, rows []domain.ForecastRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	record := make([]string, len(Columns))
	for _, r := range rows {
		record[0] = r.TargetDate.UTC().Format(time.RFC3339)
		for i, t := range domain.Targets {
			iv := r.Intervals[t]
			record[1+3*i] = FormatValue(iv.Pred)
			record[2+3*i] = FormatValue(iv.Low)
			record[3+3*i] = FormatValue(iv.High)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatValue renders v with four decimals. Values that round to zero are
// written without a sign.
func FormatValue(v float64) string {
	s := strconv.FormatFloat(v, 'f', 4, 64)
	if s == "-0.0000" {
		return "0.0000"
	}
	return s
}
