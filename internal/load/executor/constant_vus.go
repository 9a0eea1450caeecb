package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/storeload/internal/load"
	"github.com/wesleyorama2/storeload/internal/load/metrics"
)

// ConstantVUs runs a fixed number of VUs for a specified duration.
//
// All VUs start at once and run iterations back to back (closed model).
// When the duration expires they retire gracefully within GracefulStop.
type ConstantVUs struct {
	config *Config
	pool   *load.Pool

	startTime time.Time
	activeVUs atomic.Int32
	running   atomic.Bool
	done      atomic.Bool

	cancelMu   sync.Mutex
	cancelFunc context.CancelFunc
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run spawns every VU, waits for the duration and drains them.
func (e *ConstantVUs) Run(ctx context.Context, pool *load.Pool, observer Observer) error {
	if e.config == nil {
		return fmt.Errorf("executor not initialized")
	}
	e.pool = pool
	e.startTime = time.Now()
	e.running.Store(true)
	defer e.running.Store(false)

	log := pool.Logger().WithField("executor", TypeConstantVUs)

	runCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	e.cancelMu.Lock()
	e.cancelFunc = cancel
	e.cancelMu.Unlock()
	defer cancel()

	observer.SetPhase(metrics.PhaseSteady)
	log.WithField("vus", e.config.VUs).WithField("duration", e.config.Duration).Info("Stage started")

	for i := 0; i < e.config.VUs; i++ {
		pool.Spawn(ctx)
	}
	e.activeVUs.Store(int32(e.config.VUs))
	observer.SetActiveVUs(e.config.VUs)

	<-runCtx.Done()

	e.activeVUs.Store(0)
	observer.SetPhase(metrics.PhaseDrain)
	observer.SetActiveVUs(0)
	if forced := pool.Drain(e.config.gracefulStop()); forced > 0 {
		log.WithField("forced", forced).Warn("VUs force-stopped after graceful stop period")
	}

	observer.SetPhase(metrics.PhaseDone)
	e.done.Store(true)
	return nil
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantVUs) GetProgress() float64 {
	if e.done.Load() {
		return 1.0
	}
	if !e.running.Load() {
		return 0.0
	}

	progress := float64(time.Since(e.startTime)) / float64(e.config.Duration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns current active VU count.
func (e *ConstantVUs) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	stats := &Stats{
		StartTime:     e.startTime,
		CurrentTime:   time.Now(),
		TotalDuration: e.config.Duration,
		ActiveVUs:     e.GetActiveVUs(),
		TargetVUs:     e.config.VUs,
		TotalStages:   1,
	}
	if !e.startTime.IsZero() {
		stats.Elapsed = time.Since(e.startTime)
	}
	if e.pool != nil {
		stats.Iterations = e.pool.Iterations()
		stats.MaxVUs = e.pool.MaxVUs()
		stats.ForcedStops = e.pool.ForcedStops()
	}
	return stats
}

// Stop ends the run early. Run still drains VUs gracefully.
func (e *ConstantVUs) Stop(ctx context.Context) error {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	return nil
}

var _ Executor = (*ConstantVUs)(nil)
