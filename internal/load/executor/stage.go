package executor

import (
	"errors"
	"time"

	"github.com/wesleyorama2/storeload/internal/load/metrics"
)

// Stage is one timed step of a ramping profile. A zero Duration jumps
// straight to Target.
type Stage struct {
	Duration time.Duration `json:"duration" yaml:"duration"`
	Target   int           `json:"target" yaml:"target"`
	Name     string        `json:"name,omitempty" yaml:"name,omitempty"`
}

// Validate checks the stage invariants.
func (s Stage) Validate() error {
	if s.Duration < 0 {
		return errors.New("duration must be >= 0")
	}
	if s.Target < 0 {
		return errors.New("target must be >= 0")
	}
	return nil
}

// TargetAt returns the interpolated VU target at elapsed and the index of
// the stage in effect. The ramp starts from zero; each stage moves
// linearly from the previous stage's target to its own, rounded to the
// nearest integer. Past the last stage its target holds.
func TargetAt(stages []Stage, elapsed time.Duration) (target, stage int) {
	if len(stages) == 0 {
		return 0, 0
	}

	var start time.Duration
	prev := 0
	for i, s := range stages {
		end := start + s.Duration
		if elapsed < end {
			progress := float64(elapsed-start) / float64(s.Duration)
			if progress < 0 {
				progress = 0
			}
			value := float64(prev) + float64(s.Target-prev)*progress
			return int(value + 0.5), i
		}
		prev = s.Target
		start = end
	}

	return stages[len(stages)-1].Target, len(stages) - 1
}

// phaseOf classifies stage i by the direction of its ramp.
func phaseOf(stages []Stage, i int) metrics.Phase {
	if i < 0 || i >= len(stages) {
		return metrics.PhaseDrain
	}
	prev := 0
	if i > 0 {
		prev = stages[i-1].Target
	}
	switch target := stages[i].Target; {
	case target > prev:
		return metrics.PhaseRampUp
	case target < prev:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}
