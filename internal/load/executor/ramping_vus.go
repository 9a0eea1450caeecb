package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/storeload/internal/load"
	"github.com/wesleyorama2/storeload/internal/load/metrics"
)

// RampingVUs ramps VU count up and down according to stages.
//
// Every tick the target is interpolated from the stage list and VU loops
// are spawned or retired to match it. Retired VUs finish their in-flight
// iteration unless GracefulRampDown elapses first.
//
// Example stages:
//
//	stages:
//	  - duration: 2m
//	    target: 25     # Ramp from 0 to 25 VUs over 2m
//	  - duration: 3m
//	    target: 25     # Hold 25 VUs for 3 minutes
//	  - duration: 1m
//	    target: 0      # Ramp down to 0 VUs over 1m
type RampingVUs struct {
	config   *Config
	pool     *load.Pool
	observer Observer
	log      logrus.FieldLogger

	startTime    time.Time
	targetVUs    atomic.Int32
	currentStage atomic.Int32
	running      atomic.Bool
	done         atomic.Bool

	cancelMu   sync.Mutex
	cancelFunc context.CancelFunc

	// Live, non-retiring VUs in spawn order
	vus   []*load.VirtualUser
	vusMu sync.Mutex
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	e.currentStage.Store(-1)
	return nil
}

// Run drives the stages and blocks until every VU has exited.
func (e *RampingVUs) Run(ctx context.Context, pool *load.Pool, observer Observer) error {
	if e.config == nil {
		return fmt.Errorf("executor not initialized")
	}
	e.pool = pool
	e.observer = observer
	e.log = pool.Logger().WithField("executor", TypeRampingVUs)
	e.startTime = time.Now()
	e.running.Store(true)
	defer e.running.Store(false)

	// VU contexts hang off ctx, not the stage timer, so the end of the
	// stages retires VUs instead of cancelling them.
	stagesCtx, cancel := context.WithTimeout(ctx, e.config.TotalDuration())
	e.setCancel(cancel)
	defer cancel()

	tickInterval := e.config.TickInterval
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	e.tick(ctx)
	for running := true; running; {
		select {
		case <-stagesCtx.Done():
			running = false
		case <-ticker.C:
			e.tick(ctx)
		}
	}

	e.drain()
	return nil
}

// tick re-evaluates the target and adjusts the pool.
func (e *RampingVUs) tick(ctx context.Context) {
	elapsed := time.Since(e.startTime)
	target, stage := TargetAt(e.config.Stages, elapsed)
	e.targetVUs.Store(int32(target))

	if prev := int(e.currentStage.Swap(int32(stage))); prev != stage {
		s := e.config.Stages[stage]
		e.log.WithFields(logrus.Fields{
			"stage":    stage + 1,
			"name":     s.Name,
			"target":   s.Target,
			"duration": s.Duration,
		}).Info("Stage started")
		e.observer.SetPhase(phaseOf(e.config.Stages, stage))
	}

	e.adjustVUs(ctx, target)
}

// adjustVUs spawns or retires VUs until the live count equals target.
// Newest VUs are retired first.
func (e *RampingVUs) adjustVUs(ctx context.Context, target int) {
	e.vusMu.Lock()
	defer e.vusMu.Unlock()

	current := len(e.vus)
	switch {
	case target > current:
		for i := current; i < target; i++ {
			e.vus = append(e.vus, e.pool.Spawn(ctx))
		}
	case target < current:
		grace := e.config.gracefulRampDown()
		for i := current - 1; i >= target; i-- {
			e.pool.Retire(e.vus[i], grace)
		}
		e.vus = e.vus[:target]
	}

	e.observer.SetActiveVUs(len(e.vus))
}

// drain retires every remaining VU under GracefulStop.
func (e *RampingVUs) drain() {
	e.vusMu.Lock()
	e.vus = nil
	e.vusMu.Unlock()
	e.targetVUs.Store(0)

	e.observer.SetPhase(metrics.PhaseDrain)
	e.observer.SetActiveVUs(0)

	if forced := e.pool.Drain(e.config.gracefulStop()); forced > 0 {
		e.log.WithField("forced", forced).Warn("VUs force-stopped after graceful stop period")
	}

	e.observer.SetPhase(metrics.PhaseDone)
	e.done.Store(true)
}

func (e *RampingVUs) setCancel(cancel context.CancelFunc) {
	e.cancelMu.Lock()
	e.cancelFunc = cancel
	e.cancelMu.Unlock()
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	if e.done.Load() {
		return 1.0
	}
	if !e.running.Load() {
		return 0.0
	}

	total := e.config.TotalDuration()
	progress := float64(time.Since(e.startTime)) / float64(total)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveVUs returns the number of live, non-retiring VUs.
func (e *RampingVUs) GetActiveVUs() int {
	e.vusMu.Lock()
	defer e.vusMu.Unlock()
	return len(e.vus)
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	stats := &Stats{
		StartTime:     e.startTime,
		CurrentTime:   time.Now(),
		TotalDuration: e.config.TotalDuration(),
		ActiveVUs:     e.GetActiveVUs(),
		TargetVUs:     int(e.targetVUs.Load()),
		CurrentStage:  int(e.currentStage.Load()),
		TotalStages:   len(e.config.Stages),
	}
	if !e.startTime.IsZero() {
		stats.Elapsed = time.Since(e.startTime)
	}
	if i := stats.CurrentStage; i >= 0 && i < len(e.config.Stages) {
		stats.CurrentStageName = e.config.Stages[i].Name
	}
	if e.pool != nil {
		stats.Iterations = e.pool.Iterations()
		stats.MaxVUs = e.pool.MaxVUs()
		stats.ForcedStops = e.pool.ForcedStops()
	}
	return stats
}

// Stop ends the stages early. Run still drains VUs gracefully.
func (e *RampingVUs) Stop(ctx context.Context) error {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	return nil
}

var _ Executor = (*RampingVUs)(nil)
