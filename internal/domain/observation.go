package domain

import (
	"fmt"
	"time"
)

// Target identifies one of the forecast variables.
type Target int

const (
	Temperature Target = iota
	Humidity
	Pressure
)

// NumTargets is the number of forecast variables.
const NumTargets = 3

// Targets lists every forecast variable in output column order.
var Targets = [NumTargets]Target{Temperature, Humidity, Pressure}

func (t Target) String() string {
	switch t {
	case Temperature:
		return "temperature"
	case Humidity:
		return "humidity"
	case Pressure:
		return "pressure"
	default:
		return fmt.Sprintf("target(%d)", int(t))
	}
}

// ParseTarget is the inverse of Target.String.
func ParseTarget(s string) (Target, error) {
	for _, t := range Targets {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown target %q", s)
}

// Site is the fixed geographic point a series was observed at.
type Site struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	ElevationM float64 `json:"elevation_m"`
}

// Observation is one validated, immutable hourly reading.
type Observation struct {
	Timestamp   time.Time
	Site        Site
	Temperature float64
	Humidity    float64
	Pressure    float64
}

// Value returns the observed value of target t.
func (o Observation) Value(t Target) float64 {
	switch t {
	case Temperature:
		return o.Temperature
	case Humidity:
		return o.Humidity
	default:
		return o.Pressure
	}
}

// Values returns all target values in Targets order.
func (o Observation) Values() [NumTargets]float64 {
	return [NumTargets]float64{o.Temperature, o.Humidity, o.Pressure}
}

// RawTable is an unvalidated table of string cells as read from the input file.
type RawTable struct {
	Source string
	Header []string
	Rows   [][]string
	// Lines holds the 1-based file line each row starts on. When it is not
	// aligned with Rows, row i is assumed to sit on line i+2.
	Lines []int
}

// Line returns the input line of row i.
func (t RawTable) Line(i int) int {
	if len(t.Lines) == len(t.Rows) {
		return t.Lines[i]
	}
	return i + 2
}
