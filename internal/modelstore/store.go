// Package modelstore saves a trained model bank to a directory and loads it
// back on later runs.
//
// A store holds one JSON file per model, an optional metrics.json with the
// holdout evaluation, and manifest.json. The manifest is written last and
// names every model file, so a store without one is treated as absent.
package modelstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/couchcryptid/weather-forecast/internal/atomicfile"
	"github.com/couchcryptid/weather-forecast/internal/domain"
	"github.com/couchcryptid/weather-forecast/internal/features"
	"github.com/couchcryptid/weather-forecast/internal/model"
)

// Artifact file names.
const (
	ManifestFile = "manifest.json"
	MetricsFile  = "metrics.json"
)

// FormatVersion is bumped whenever the on-disk layout changes.
const FormatVersion = 1

// ErrNotFound is returned by Load when the directory holds no manifest.
var ErrNotFound = errors.New("model store: no manifest")

// ErrIncompatible is returned by Compatible when a stored bank cannot serve
// the current feature layout or settings.
var ErrIncompatible = errors.New("model store: incompatible")

// FeatureSpec records the feature settings a bank was trained with.
type FeatureSpec struct {
	Names              []string `json:"names"`
	Lags               []string `json:"lags"`
	LagTolerance       string   `json:"lag_tolerance"`
	RollingWindow      string   `json:"rolling_window"`
	Baseline           bool     `json:"baseline"`
	BaselineWindowDays int      `json:"baseline_window_days"`
}

// SpecOf describes b's layout.
func SpecOf(b *features.Builder) FeatureSpec {
	cfg := b.Config()
	lags := make([]string, len(cfg.Lags))
	for i, l := range cfg.Lags {
		lags[i] = l.String()
	}
	return FeatureSpec{
		Names:              b.Names(),
		Lags:               lags,
		LagTolerance:       cfg.LagTolerance.String(),
		RollingWindow:      cfg.RollingWindow.String(),
		Baseline:           cfg.Baseline,
		BaselineWindowDays: cfg.BaselineWindowDays,
	}
}

// Manifest describes a stored bank.
type Manifest struct {
	Version      int                `json:"version"`
	RunID        string             `json:"run_id"`
	TrainedAt    time.Time          `json:"trained_at"`
	Alpha        float64            `json:"alpha"`
	Quantiles    [3]float64         `json:"quantiles"`
	Params       model.Params       `json:"params"`
	Site         domain.Site        `json:"site"`
	TrainingRows int                `json:"training_rows"`
	Features     FeatureSpec        `json:"features"`
	Baseline     *features.Baseline `json:"baseline,omitempty"`
	Models       map[string]string  `json:"models"`
}

// Bundle is everything a store holds.
type Bundle struct {
	Manifest   Manifest
	Bank       *model.Bank
	Evaluation *model.Evaluation
}

// Store reads and writes one model directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New returns a store rooted at dir.
func New(dir string, logger *slog.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Save writes the bundle. Every model must marshal to JSON; the manifest's
// Models map and Quantiles are filled in from the bank.
//
// The previous manifest is removed before any model file is replaced and the
// new one is written last, so a save that fails partway leaves a store that
// Load reports as ErrNotFound.
func (s *Store) Save(b Bundle) error {
	if b.Bank == nil {
		return errors.New("model store: nothing to save")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &domain.IOError{Op: "create directory", Path: s.dir, Err: err}
	}
	if err := removeIfExists(filepath.Join(s.dir, ManifestFile)); err != nil {
		return err
	}

	m := b.Manifest
	m.Version = FormatVersion
	m.Alpha = b.Bank.Alpha()
	m.Quantiles = b.Bank.Levels()
	m.Models = make(map[string]string, len(model.Keys()))
	for _, k := range model.Keys() {
		name := k.String() + ".json"
		data, err := json.Marshal(b.Bank.Model(k))
		if err != nil {
			return fmt.Errorf("marshal model %s: %w", k, err)
		}
		if err := atomicfile.WriteFile(filepath.Join(s.dir, name), data); err != nil {
			return err
		}
		m.Models[k.String()] = name
	}

	if b.Evaluation != nil {
		data, err := json.MarshalIndent(b.Evaluation, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal evaluation: %w", err)
		}
		if err := atomicfile.WriteFile(filepath.Join(s.dir, MetricsFile), data); err != nil {
			return err
		}
	} else if err := removeIfExists(filepath.Join(s.dir, MetricsFile)); err != nil {
		return err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := atomicfile.WriteFile(filepath.Join(s.dir, ManifestFile), data); err != nil {
		return err
	}
	s.logger.Info("model store saved", "dir", s.dir, "run_id", m.RunID, "models", len(m.Models))
	return nil
}

// Load reads the bundle. It returns ErrNotFound when there is no manifest.
func (s *Store) Load() (Bundle, error) {
	var m Manifest
	path := filepath.Join(s.dir, ManifestFile)
	if err := readJSON(path, &m); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Bundle{}, ErrNotFound
		}
		return Bundle{}, err
	}
	if m.Version != FormatVersion {
		return Bundle{}, fmt.Errorf("%w: format version %d, want %d", ErrIncompatible, m.Version, FormatVersion)
	}

	dim := len(m.Features.Names)
	models := make(map[model.Key]model.Regressor, len(m.Models))
	for _, k := range model.Keys() {
		name, ok := m.Models[k.String()]
		if !ok {
			return Bundle{}, fmt.Errorf("model store: manifest lists no %s model", k)
		}
		var g model.GradientBoosting
		if err := readJSON(filepath.Join(s.dir, filepath.Base(name)), &g); err != nil {
			return Bundle{}, err
		}
		if err := g.Validate(); err != nil {
			return Bundle{}, fmt.Errorf("model store: %s: %w", k, err)
		}
		if g.NumFeatures != dim {
			return Bundle{}, fmt.Errorf("model store: %s expects %d features, manifest lists %d", k, g.NumFeatures, dim)
		}
		models[k] = &g
	}
	bank, err := model.NewBank(m.Alpha, dim, models)
	if err != nil {
		return Bundle{}, fmt.Errorf("model store: %w", err)
	}

	out := Bundle{Manifest: m, Bank: bank}
	var ev model.Evaluation
	switch err := readJSON(filepath.Join(s.dir, MetricsFile), &ev); {
	case err == nil:
		out.Evaluation = &ev
	case !errors.Is(err, os.ErrNotExist):
		s.logger.Warn("model store metrics unreadable", "error", err)
	}
	return out, nil
}

// Requirements are what the current run needs from a stored bank.
type Requirements struct {
	Alpha    float64
	Params   model.Params
	Features FeatureSpec
	Site     domain.Site
}

// Compatible reports whether a stored manifest can serve a run with the
// given requirements. Errors wrap ErrIncompatible.
func Compatible(m Manifest, want Requirements) error {
	switch {
	case m.Alpha != want.Alpha:
		return fmt.Errorf("%w: alpha %v, want %v", ErrIncompatible, m.Alpha, want.Alpha)
	case m.Params != want.Params:
		return fmt.Errorf("%w: model params %+v, want %+v", ErrIncompatible, m.Params, want.Params)
	case m.Site != want.Site:
		return fmt.Errorf("%w: trained for site %+v, want %+v", ErrIncompatible, m.Site, want.Site)
	case !slices.Equal(m.Features.Names, want.Features.Names):
		return fmt.Errorf("%w: feature layout differs", ErrIncompatible)
	case !slices.Equal(m.Features.Lags, want.Features.Lags),
		m.Features.LagTolerance != want.Features.LagTolerance,
		m.Features.RollingWindow != want.Features.RollingWindow,
		m.Features.Baseline != want.Features.Baseline,
		m.Features.BaselineWindowDays != want.Features.BaselineWindowDays:
		return fmt.Errorf("%w: feature settings differ", ErrIncompatible)
	case want.Features.Baseline && m.Baseline == nil:
		return fmt.Errorf("%w: baseline missing", ErrIncompatible)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &domain.IOError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return &domain.IOError{Op: "read", Path: path, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &domain.IOError{Op: "decode", Path: path, Err: err}
	}
	return nil
}
