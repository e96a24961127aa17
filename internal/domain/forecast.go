package domain

import "time"

// FeatureVector is a fixed-width numeric record built for one timestamp.
// Values follow the column layout of the builder that produced it.
type FeatureVector struct {
	Timestamp time.Time
	Values    []float64
}

// Interval is a point estimate with its confidence bounds.
type Interval struct {
	Pred float64 `json:"pred"`
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Ordered reports whether Low <= Pred <= High.
func (iv Interval) Ordered() bool {
	return iv.Low <= iv.Pred && iv.Pred <= iv.High
}

// ForecastRow is the forecast for every target at one future hour.
type ForecastRow struct {
	TargetDate time.Time
	Intervals  [NumTargets]Interval
}

// Interval returns the interval for target t.
func (r ForecastRow) Interval(t Target) Interval {
	return r.Intervals[t]
}

// Preds returns the point estimates in Targets order.
func (r ForecastRow) Preds() [NumTargets]float64 {
	var out [NumTargets]float64
	for i, iv := range r.Intervals {
		out[i] = iv.Pred
	}
	return out
}

// Forecast is the complete output of one run.
type Forecast struct {
	RunID    string
	IssuedAt time.Time
	Site     Site
	Label    SiteLabel
	Alpha    float64
	Rows     []ForecastRow
}
