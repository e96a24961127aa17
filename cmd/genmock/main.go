// Command genmock writes a deterministic synthetic observation CSV for local
// runs and fixtures. The same flags always produce the same file.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock/observations.csv -days 30 -seed 42
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/weather-forecast/internal/domain"
	"github.com/couchcryptid/weather-forecast/internal/synthetic"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	opts := synthetic.DefaultOptions()
	out := flag.String("out", "", "output path for the observation CSV")
	days := flag.Int("days", 30, "number of days of hourly observations")
	seed := flag.Uint64("seed", opts.Seed, "noise seed")
	start := flag.String("start", opts.Start.Format(time.DateOnly), "first day (UTC), YYYY-MM-DD")
	lat := flag.Float64("lat", opts.Site.Lat, "site latitude")
	lon := flag.Float64("lon", opts.Site.Lon, "site longitude")
	elevation := flag.Float64("elevation", opts.Site.ElevationM, "site elevation in metres")
	skip := flag.String("skip", "", "comma-separated hour offsets to leave out, e.g. 100,101")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	if *days < 1 {
		return fmt.Errorf("-days %d must be at least 1", *days)
	}
	first, err := time.Parse(time.DateOnly, *start)
	if err != nil {
		return fmt.Errorf("parse -start: %w", err)
	}

	opts.Start = first
	opts.Hours = *days * 24
	opts.Seed = *seed
	opts.Site = domain.Site{Lat: *lat, Lon: *lon, ElevationM: *elevation}
	if opts.Skip, err = parseSkip(*skip); err != nil {
		return err
	}

	obs := synthetic.Generate(opts)
	if err := writeCSV(*out, obs); err != nil {
		return fmt.Errorf("writing observations: %w", err)
	}
	log.Printf("wrote %d observations: %s", len(obs), *out)

	printStats(obs)
	return nil
}

func parseSkip(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var h int
		if _, err := fmt.Sscanf(part, "%d", &h); err != nil {
			return nil, fmt.Errorf("parse -skip %q: %w", part, err)
		}
		out = append(out, h)
	}
	return out, nil
}

func writeCSV(path string, obs []domain.Observation) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := synthetic.WriteCSV(f, obs); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// printStats prints per-target ranges for updating test assertions.
func printStats(obs []domain.Observation) {
	if len(obs) == 0 {
		return
	}
	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Rows: %d\n", len(obs))
	fmt.Printf("First: %s\n", obs[0].Timestamp.Format(time.RFC3339))
	fmt.Printf("Last:  %s\n", obs[len(obs)-1].Timestamp.Format(time.RFC3339))
	for _, t := range domain.Targets {
		lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
		for _, o := range obs {
			v := o.Value(t)
			lo, hi = math.Min(lo, v), math.Max(hi, v)
			sum += v
		}
		fmt.Printf("%-12s min=%.2f max=%.2f mean=%.2f\n", t, lo, hi, sum/float64(len(obs)))
	}
}
