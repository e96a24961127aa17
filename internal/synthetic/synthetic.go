// Package synthetic generates deterministic hourly observation series with a
// seasonal cycle, a diurnal cycle, and autocorrelated noise. It backs the
// genmock command and the pipeline tests.
package synthetic

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/couchcryptid/weather-forecast/internal/domain"
)

// Options configure a generated series.
type Options struct {
	Start time.Time
	Hours int
	Site  domain.Site
	Seed  uint64
	// Skip lists hour offsets to leave out, for simulating sensor gaps.
	Skip []int
}

// DefaultSite is Moscow city centre.
var DefaultSite = domain.Site{Lat: 55.7558, Lon: 37.6173, ElevationM: 156}

// DefaultOptions returns 30 days starting 2024-01-01 at DefaultSite.
func DefaultOptions() Options {
	return Options{
		Start: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		Hours: 30 * 24,
		Site:  DefaultSite,
		Seed:  42,
	}
}

// Generate returns the observations for opts. The same options always give
// the same series.
func Generate(opts Options) []domain.Observation {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	skip := make(map[int]bool, len(opts.Skip))
	for _, h := range opts.Skip {
		skip[h] = true
	}

	out := make([]domain.Observation, 0, opts.Hours)
	var tempNoise, humNoise, presNoise float64
	for h := range opts.Hours {
		ts := opts.Start.Add(time.Duration(h) * time.Hour).UTC()

		// AR(1) noise keeps neighbouring hours correlated.
		tempNoise = 0.8*tempNoise + rng.NormFloat64()*0.6
		humNoise = 0.7*humNoise + rng.NormFloat64()*2
		presNoise = 0.95*presNoise + rng.NormFloat64()*0.4

		if skip[h] {
			continue
		}

		doy := float64(ts.YearDay())
		hour := float64(ts.Hour())
		seasonal := math.Sin(2 * math.Pi * (doy - 110) / 365.25)
		diurnal := math.Sin(2 * math.Pi * (hour - 9) / 24)
		front := math.Sin(2 * math.Pi * float64(h) / (24 * 5))

		temp := 5 + 15*seasonal + 4*diurnal - opts.Site.ElevationM*0.0065 + tempNoise
		hum := 72 - 12*diurnal + humNoise
		pres := 1013 + 6*front + presNoise

		out = append(out, domain.Observation{
			Timestamp:   ts,
			Site:        opts.Site,
			Temperature: round2(clamp(temp, -80, 55)),
			Humidity:    round2(clamp(hum, 5, 100)),
			Pressure:    round2(clamp(pres, 900, 1080)),
		})
	}
	return out
}

// WriteCSV writes obs in the forecaster's input format.
func WriteCSV(w io.Writer, obs []domain.Observation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(domain.RequiredColumns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, o := range obs {
		rec := []string{
			o.Timestamp.UTC().Format(time.RFC3339),
			formatFloat(o.Site.Lat),
			formatFloat(o.Site.Lon),
			formatFloat(o.Site.ElevationM),
			formatFloat(o.Temperature),
			formatFloat(o.Humidity),
			formatFloat(o.Pressure),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Table renders obs as the raw table the CSV reader would produce.
func Table(obs []domain.Observation) domain.RawTable {
	t := domain.RawTable{Source: "synthetic", Header: append([]string(nil), domain.RequiredColumns...)}
	for _, o := range obs {
		t.Rows = append(t.Rows, []string{
			o.Timestamp.UTC().Format(time.RFC3339),
			formatFloat(o.Site.Lat),
			formatFloat(o.Site.Lon),
			formatFloat(o.Site.ElevationM),
			formatFloat(o.Temperature),
			formatFloat(o.Humidity),
			formatFloat(o.Pressure),
		})
	}
	return t
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }
