package features

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/couchcryptid/weather-forecast/internal/domain"
)

const baselineDays = 366

// MaxBaselineWindowDays is the widest half-width that visits each day of
// the year at most once.
const MaxBaselineWindowDays = (baselineDays - 1) / 2

// Baseline is a frozen hour-of-day climatology computed from training
// history. For a timestamp it returns the mean value observed at the same
// UTC hour within WindowDays days (circularly) of the same day of year,
// falling back to the mean for that hour, then to the overall mean.
type Baseline struct {
	WindowDays int

	count [baselineDays][24]int
	sum   [domain.NumTargets][baselineDays][24]float64

	hourCount [24]int
	hourSum   [domain.NumTargets][24]float64
	total     int
	totalSum  [domain.NumTargets]float64
}

// NewBaseline accumulates the climatology of history.
func NewBaseline(history Series, windowDays int) *Baseline {
	b := &Baseline{WindowDays: windowDays}
	for _, p := range history.points {
		day, hour := baselineCell(p.Timestamp)
		b.add(day, hour, 1, p.Values)
	}
	return b
}

func (b *Baseline) add(day, hour, count int, sums [domain.NumTargets]float64) {
	b.count[day][hour] += count
	b.hourCount[hour] += count
	b.total += count
	for t := range sums {
		b.sum[t][day][hour] += sums[t]
		b.hourSum[t][hour] += sums[t]
		b.totalSum[t] += sums[t]
	}
}

// Value returns the baseline of target at ts.
func (b *Baseline) Value(target domain.Target, ts time.Time) float64 {
	day, hour := baselineCell(ts)

	var n int
	var s float64
	for d := -b.WindowDays; d <= b.WindowDays; d++ {
		k := ((day+d)%baselineDays + baselineDays) % baselineDays
		n += b.count[k][hour]
		s += b.sum[target][k][hour]
	}
	switch {
	case n > 0:
		return s / float64(n)
	case b.hourCount[hour] > 0:
		return b.hourSum[target][hour] / float64(b.hourCount[hour])
	case b.total > 0:
		return b.totalSum[target] / float64(b.total)
	default:
		return 0
	}
}

// Samples returns the number of observations the baseline was built from.
func (b *Baseline) Samples() int { return b.total }

func baselineCell(ts time.Time) (day, hour int) {
	ts = ts.UTC()
	return ts.YearDay() - 1, ts.Hour()
}

type baselineJSON struct {
	WindowDays int                `json:"window_days"`
	Cells      []baselineCellJSON `json:"cells"`
}

type baselineCellJSON struct {
	Day   int                        `json:"day"`
	Hour  int                        `json:"hour"`
	Count int                        `json:"count"`
	Sum   [domain.NumTargets]float64 `json:"sum"`
}

// MarshalJSON stores only the populated (day, hour) cells.
func (b *Baseline) MarshalJSON() ([]byte, error) {
	out := baselineJSON{WindowDays: b.WindowDays, Cells: []baselineCellJSON{}}
	for day := range baselineDays {
		for hour := range 24 {
			if b.count[day][hour] == 0 {
				continue
			}
			c := baselineCellJSON{Day: day, Hour: hour, Count: b.count[day][hour]}
			for t := range c.Sum {
				c.Sum[t] = b.sum[t][day][hour]
			}
			out.Cells = append(out.Cells, c)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON rebuilds the baseline, including its fallbacks, from stored cells.
func (b *Baseline) UnmarshalJSON(data []byte) error {
	var in baselineJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.WindowDays < 0 || in.WindowDays > MaxBaselineWindowDays {
		return fmt.Errorf("baseline window %d days out of range [0, %d]", in.WindowDays, MaxBaselineWindowDays)
	}
	*b = Baseline{WindowDays: in.WindowDays}
	for _, c := range in.Cells {
		if c.Day < 0 || c.Day >= baselineDays || c.Hour < 0 || c.Hour >= 24 || c.Count <= 0 {
			return fmt.Errorf("baseline cell day=%d hour=%d count=%d out of range", c.Day, c.Hour, c.Count)
		}
		b.add(c.Day, c.Hour, c.Count, c.Sum)
	}
	return nil
}
