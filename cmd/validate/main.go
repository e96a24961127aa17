// Command validate performs integrity checks on a forecast output file: its
// columns, its timeline relative to the input observations, the ordering of
// every interval, and optionally the model store that produced it.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -forecast forecast.csv \
//	  -data data/mock/observations.csv \
//	  -model-dir models/
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/weather-forecast/internal/adapter/csvfile"
	"github.com/couchcryptid/weather-forecast/internal/domain"
	"github.com/couchcryptid/weather-forecast/internal/forecast"
	"github.com/couchcryptid/weather-forecast/internal/model"
	"github.com/couchcryptid/weather-forecast/internal/modelstore"
	"github.com/couchcryptid/weather-forecast/internal/report"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// forecastRow is one parsed output line.
type forecastRow struct {
	lineNum    int
	targetDate time.Time
	values     map[string]float64
}

func main() {
	forecastPath := flag.String("forecast", "", "path to the forecast CSV")
	dataPath := flag.String("data", "", "path to the input observation CSV (optional)")
	modelDir := flag.String("model-dir", "", "model store directory (optional)")
	flag.Parse()

	if *forecastPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	os.Exit(run(os.Stdout, *forecastPath, *dataPath, *modelDir))
}

func run(w io.Writer, forecastPath, dataPath, modelDir string) int {
	fmt.Fprintln(w, "=== Forecast Integrity Validation ===")
	fmt.Fprintln(w)

	header, rows, err := loadForecast(forecastPath)
	if err != nil {
		fmt.Fprintf(w, "FATAL: load forecast: %v\n", err)
		return 1
	}

	var obs []domain.Observation
	if dataPath != "" {
		table, err := csvfile.Read(dataPath)
		if err != nil {
			fmt.Fprintf(w, "FATAL: load observations: %v\n", err)
			return 1
		}
		if obs, err = domain.ValidateTable(table); err != nil {
			fmt.Fprintf(w, "FATAL: validate observations: %v\n", err)
			return 1
		}
	}

	phases := []*phase{
		validateColumns(header, rows),
		validateTimeline(rows, obs),
		validateIntervals(rows),
	}
	if modelDir != "" {
		phases = append(phases, validateModelStore(modelDir))
	}

	fmt.Fprintln(w)
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Records: %d forecast rows, %d observations\n", len(rows), len(obs))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

// ── Data loading ──

func loadForecast(path string) ([]string, []forecastRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(all) < 1 {
		return nil, nil, fmt.Errorf("empty file %s", path)
	}

	header := all[0]
	rows := make([]forecastRow, 0, len(all)-1)
	for i, rec := range all[1:] {
		row := forecastRow{lineNum: i + 2, values: make(map[string]float64, len(header))}
		for j, h := range header {
			if j >= len(rec) {
				break
			}
			if h == "target_date" {
				row.targetDate, _ = time.Parse(time.RFC3339, rec[j])
				continue
			}
			if v, err := strconv.ParseFloat(rec[j], 64); err == nil {
				row.values[h] = v
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

// ── Phase 1: Columns ──

func validateColumns(header []string, rows []forecastRow) *phase {
	p := &phase{name: "Phase 1: Columns and values"}

	if !slices.Equal(header, report.Columns) {
		p.errorf("header: expected %s, got %s", strings.Join(report.Columns, ","), strings.Join(header, ","))
	}
	if len(rows) != forecast.DefaultSteps {
		p.errorf("row count: expected %d, got %d", forecast.DefaultSteps, len(rows))
	}
	for _, row := range rows {
		if row.targetDate.IsZero() {
			p.errorf("line %d: target_date missing or not RFC 3339", row.lineNum)
		}
		for _, col := range report.Columns[1:] {
			if _, ok := row.values[col]; !ok {
				p.errorf("line %d: column %q missing or not numeric", row.lineNum, col)
			}
		}
	}
	return p
}

// ── Phase 2: Timeline ──

func validateTimeline(rows []forecastRow, obs []domain.Observation) *phase {
	p := &phase{name: "Phase 2: Timeline (hourly, after input)"}

	for i := 1; i < len(rows); i++ {
		if d := rows[i].targetDate.Sub(rows[i-1].targetDate); d != forecast.DefaultStep {
			p.errorf("line %d: %s after previous row, expected %s", rows[i].lineNum, d, forecast.DefaultStep)
		}
	}
	if len(obs) > 0 && len(rows) > 0 {
		last := obs[len(obs)-1].Timestamp
		if want := last.Add(forecast.DefaultStep); !rows[0].targetDate.Equal(want) {
			p.errorf("first target_date %s, expected %s (one step after the last observation)",
				rows[0].targetDate.Format(time.RFC3339), want.Format(time.RFC3339))
		}
	}
	return p
}

// ── Phase 3: Intervals ──

func validateIntervals(rows []forecastRow) *phase {
	p := &phase{name: "Phase 3: Intervals (low <= pred <= high)"}

	for _, row := range rows {
		for _, t := range domain.Targets {
			iv := domain.Interval{
				Pred: row.values[t.String()+"_pred"],
				Low:  row.values[t.String()+"_low"],
				High: row.values[t.String()+"_high"],
			}
			if !iv.Ordered() {
				p.errorf("line %d: %s interval not ordered: low=%v pred=%v high=%v", row.lineNum, t, iv.Low, iv.Pred, iv.High)
			}
		}
	}
	return p
}

// ── Phase 4: Model store ──

func validateModelStore(dir string) *phase {
	p := &phase{name: "Phase 4: Model store"}

	bundle, err := modelstore.New(dir, slog.New(slog.NewTextHandler(io.Discard, nil))).Load()
	if err != nil {
		p.errorf("load: %v", err)
		return p
	}
	m := bundle.Manifest
	if len(m.Models) != len(model.Keys()) {
		p.errorf("manifest lists %d models, expected %d", len(m.Models), len(model.Keys()))
	}
	levels, err := model.Levels(m.Alpha)
	if err != nil {
		p.errorf("alpha: %v", err)
	} else if levels != m.Quantiles {
		p.errorf("quantiles %v do not match alpha %v (expected %v)", m.Quantiles, m.Alpha, levels)
	}
	if m.Features.Baseline && m.Baseline == nil {
		p.errorf("baseline enabled but not stored")
	}
	if bundle.Evaluation == nil {
		fmt.Println("  Note: model store has no holdout metrics")
	}
	return p
}
