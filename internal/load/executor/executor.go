// Package executor drives the VU pool through a profile's concurrency
// stages.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/wesleyorama2/storeload/internal/load"
	"github.com/wesleyorama2/storeload/internal/load/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"
)

// DefaultTickInterval is how often the ramping executor re-evaluates its
// target.
const DefaultTickInterval = 100 * time.Millisecond

// DefaultGracePeriod bounds graceful retirement when none is configured.
const DefaultGracePeriod = 30 * time.Second

// Observer receives the VU gauge and phase transitions.
type Observer interface {
	SetActiveVUs(count int)
	SetPhase(phase metrics.Phase)
}

// Executor defines the interface for load generation strategies.
//
// Executors control how many VU loops run at each instant; the pool owns
// the loops themselves.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init initializes the executor with configuration.
	// Called once before Run().
	Init(ctx context.Context, config *Config) error

	// Run blocks until the stages are over and every VU has exited.
	// Cancelling ctx force-stops all VUs.
	Run(ctx context.Context, pool *load.Pool, observer Observer) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats

	// Stop ends the stages early; VUs still retire gracefully.
	Stop(ctx context.Context) error
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the profile this executor runs
	Name string `json:"name" yaml:"name"`

	// Type is the executor type
	Type Type `json:"type" yaml:"type"`

	// Constant-VU executors
	VUs      int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Stages (for ramping executors)
	Stages []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// GracefulRampDown bounds the retirement of VUs removed mid-run
	GracefulRampDown time.Duration `json:"gracefulRampDown,omitempty" yaml:"gracefulRampDown,omitempty"`

	// GracefulStop bounds the retirement of VUs still running at the end
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// TickInterval is the ramping re-evaluation period (default 100ms)
	TickInterval time.Duration `json:"tickInterval,omitempty" yaml:"tickInterval,omitempty"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	ActiveVUs  int   `json:"activeVUs"`
	TargetVUs  int   `json:"targetVUs"`
	MaxVUs     int   `json:"maxVUs"`
	Iterations int64 `json:"iterations"`

	// ForcedStops counts VUs cancelled by their grace deadline
	ForcedStops int64 `json:"forcedStops"`

	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}
	if c.GracefulRampDown < 0 {
		return &ValidationError{Field: "gracefulRampDown", Message: "gracefulRampDown must be >= 0"}
	}
	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}

	switch c.Type {
	case TypeConstantVUs:
		if c.VUs < 0 {
			return &ValidationError{Field: "vus", Message: "vus must be >= 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeRampingVUs:
		if len(c.Stages) == 0 {
			return &ValidationError{Field: "stages", Message: "at least one stage is required"}
		}
		for i, stage := range c.Stages {
			if err := stage.Validate(); err != nil {
				return &ValidationError{Field: fmt.Sprintf("stages[%d]", i), Message: err.Error()}
			}
		}
		if c.TotalDuration() <= 0 {
			return &ValidationError{Field: "stages", Message: "total stage duration must be > 0"}
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	return nil
}

// TotalDuration calculates the total duration for this executor.
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeConstantVUs:
		return c.Duration

	case TypeRampingVUs:
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total

	default:
		return 0
	}
}

// MaxVUs returns the highest concurrency the configuration asks for.
func (c *Config) MaxVUs() int {
	if c.Type == TypeConstantVUs {
		return c.VUs
	}
	maxVUs := 0
	for _, stage := range c.Stages {
		if stage.Target > maxVUs {
			maxVUs = stage.Target
		}
	}
	return maxVUs
}

func (c *Config) gracefulRampDown() time.Duration {
	if c.GracefulRampDown > 0 {
		return c.GracefulRampDown
	}
	return DefaultGracePeriod
}

func (c *Config) gracefulStop() time.Duration {
	if c.GracefulStop > 0 {
		return c.GracefulStop
	}
	return DefaultGracePeriod
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// NewExecutor creates an uninitialized executor of the given type.
func NewExecutor(executorType Type) (Executor, error) {
	switch executorType {
	case TypeConstantVUs:
		return NewConstantVUs(), nil
	case TypeRampingVUs:
		return NewRampingVUs(), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// CreateAndInitExecutor combines NewExecutor and Init.
func CreateAndInitExecutor(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	return exec, nil
}
