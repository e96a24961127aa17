package domain

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
)

// Input column names.
const (
	ColTimestamp   = "timestamp"
	ColLat         = "lat"
	ColLon         = "lon"
	ColElevation   = "elevation_m"
	ColTemperature = "temperature"
	ColHumidity    = "humidity"
	ColPressure    = "pressure"
)

// RequiredColumns lists the input columns in their documented order.
var RequiredColumns = []string{ColTimestamp, ColLat, ColLon, ColElevation, ColTemperature, ColHumidity, ColPressure}

// maxViolations caps how many schema violations are collected before giving up.
const maxViolations = 20

// timestampLayouts are tried in order; zone-less layouts are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
}

// record is a parsed row before range checks. The col tag names the input
// column reported in violations.
type record struct {
	Timestamp   time.Time
	Lat         float64 `col:"lat" validate:"gte=-90,lte=90"`
	Lon         float64 `col:"lon" validate:"gte=-180,lte=180"`
	ElevationM  float64 `col:"elevation_m" validate:"gte=-500,lte=9000"`
	Temperature float64 `col:"temperature" validate:"gte=-90,lte=60"`
	Humidity    float64 `col:"humidity" validate:"gte=0,lte=100"`
	Pressure    float64 `col:"pressure" validate:"gte=800,lte=1100"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("col")
	})
	return v
}

// violations accumulates SchemaErrors up to maxViolations.
type violations struct {
	err   *multierror.Error
	count int
}

func (v *violations) add(line int, column, format string, args ...any) {
	v.count++
	if v.count > maxViolations {
		return
	}
	v.err = multierror.Append(v.err, &SchemaError{Line: line, Column: column, Violation: fmt.Sprintf(format, args...)})
}

func (v *violations) full() bool { return v.count >= maxViolations }

func (v *violations) errorOrNil() error {
	if v.err == nil {
		return nil
	}
	if v.count > maxViolations {
		v.err.ErrorFormat = func(es []error) string {
			return fmt.Sprintf("%s (and %d more)", multierror.ListFormatFunc(es), v.count-maxViolations)
		}
	}
	return v.err.ErrorOrNil()
}

// ValidateTable converts a raw table into observations sorted by timestamp.
// Any violation fails the whole table; rows are never skipped or coerced.
// The returned error wraps one *SchemaError per violation.
func ValidateTable(raw RawTable) ([]Observation, error) {
	var errs violations

	index := make(map[string]int, len(raw.Header))
	for i, name := range raw.Header {
		index[strings.TrimSpace(name)] = i
	}
	for _, col := range RequiredColumns {
		if _, ok := index[col]; !ok {
			errs.add(0, col, "missing column")
		}
	}
	if err := errs.errorOrNil(); err != nil {
		return nil, err
	}

	type parsed struct {
		line int
		obs  Observation
	}
	rows := make([]parsed, 0, len(raw.Rows))
	for i, cells := range raw.Rows {
		if errs.full() {
			break
		}
		line := raw.Line(i)
		rec, ok := parseRecord(cells, index, line, &errs)
		if !ok {
			continue
		}
		if err := validate.Struct(rec); err != nil {
			var fieldErrs validator.ValidationErrors
			if !errors.As(err, &fieldErrs) {
				return nil, fmt.Errorf("validate line %d: %w", line, err)
			}
			for _, fe := range fieldErrs {
				errs.add(line, fe.Field(), "value %v out of range (%s %s)", fe.Value(), fe.Tag(), fe.Param())
			}
			continue
		}
		rows = append(rows, parsed{line: line, obs: Observation{
			Timestamp:   rec.Timestamp,
			Site:        Site{Lat: rec.Lat, Lon: rec.Lon, ElevationM: rec.ElevationM},
			Temperature: rec.Temperature,
			Humidity:    rec.Humidity,
			Pressure:    rec.Pressure,
		}})
	}
	if err := errs.errorOrNil(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(rows, func(a, b parsed) int { return a.obs.Timestamp.Compare(b.obs.Timestamp) })

	out := make([]Observation, len(rows))
	for i, r := range rows {
		out[i] = r.obs
		if i == 0 {
			continue
		}
		prev := rows[i-1]
		if r.obs.Timestamp.Equal(prev.obs.Timestamp) {
			errs.add(r.line, ColTimestamp, "duplicate timestamp %s (also on line %d)", r.obs.Timestamp.Format(time.RFC3339), prev.line)
		}
		first := rows[0].obs.Site
		switch {
		case r.obs.Site.Lat != first.Lat:
			errs.add(r.line, ColLat, "site differs from first row (%v != %v)", r.obs.Site.Lat, first.Lat)
		case r.obs.Site.Lon != first.Lon:
			errs.add(r.line, ColLon, "site differs from first row (%v != %v)", r.obs.Site.Lon, first.Lon)
		case r.obs.Site.ElevationM != first.ElevationM:
			errs.add(r.line, ColElevation, "site differs from first row (%v != %v)", r.obs.Site.ElevationM, first.ElevationM)
		}
		if errs.full() {
			break
		}
	}
	if err := errs.errorOrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// parseRecord converts the cells of one line. It reports every unparsable
// cell of the line and returns false if any were found.
func parseRecord(cells []string, index map[string]int, line int, errs *violations) (record, bool) {
	cell := func(col string) (string, bool) {
		i := index[col]
		if i >= len(cells) {
			errs.add(line, col, "missing value")
			return "", false
		}
		v := strings.TrimSpace(cells[i])
		if v == "" {
			errs.add(line, col, "missing value")
			return "", false
		}
		return v, true
	}
	number := func(col string, dst *float64) bool {
		s, ok := cell(col)
		if !ok {
			return false
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			errs.add(line, col, "non-numeric value %q", s)
			return false
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errs.add(line, col, "non-finite value %q", s)
			return false
		}
		*dst = v
		return true
	}

	var rec record
	ok := true
	if s, present := cell(ColTimestamp); present {
		ts, err := parseTimestamp(s)
		if err != nil {
			errs.add(line, ColTimestamp, "unparseable timestamp %q", s)
			ok = false
		}
		rec.Timestamp = ts
	} else {
		ok = false
	}
	ok = number(ColLat, &rec.Lat) && ok
	ok = number(ColLon, &rec.Lon) && ok
	ok = number(ColElevation, &rec.ElevationM) && ok
	ok = number(ColTemperature, &rec.Temperature) && ok
	ok = number(ColHumidity, &rec.Humidity) && ok
	ok = number(ColPressure, &rec.Pressure) && ok
	return rec, ok
}

func parseTimestamp(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, s)
		if err == nil {
			return ts.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
