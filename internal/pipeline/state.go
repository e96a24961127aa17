package pipeline

import "fmt"

// State is a stage of a forecast run.
type State int

const (
	Idle State = iota
	Validating
	BuildingFeatures
	Training
	Forecasting
	Writing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Validating:
		return "validating"
	case BuildingFeatures:
		return "building_features"
	case Training:
		return "training"
	case Forecasting:
		return "forecasting"
	case Writing:
		return "writing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == Done || s == Failed }
