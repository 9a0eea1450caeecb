// Package runner orchestrates one load run: it resolves the profile,
// wires the HTTP target, token sources and metrics sinks, drives the
// executor to completion and evaluates the profile's thresholds.
package runner

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/storeload/internal/config"
	"github.com/wesleyorama2/storeload/internal/load"
	"github.com/wesleyorama2/storeload/internal/load/executor"
	"github.com/wesleyorama2/storeload/internal/load/metrics"
	"github.com/wesleyorama2/storeload/internal/logging"
)

// DefaultProgressInterval is how often Options.Progress is called.
const DefaultProgressInterval = time.Second

// Options inject the collaborators of a run. The zero value is usable.
type Options struct {
	// Client executes every request; nil builds one from the HTTP settings
	Client load.Doer

	// Sinks receive outcomes, the VU gauge and phases alongside the
	// built-in metrics engine
	Sinks []metrics.Recorder

	Logger logrus.FieldLogger

	// Rand drives jitter and random selection; nil seeds from RunConfig.Seed
	Rand load.Rand

	// RunID labels logs, metrics and the stored result; empty generates one
	RunID string

	// Progress, when set, is called every ProgressInterval while VUs run
	Progress         func(Progress)
	ProgressInterval time.Duration

	// TickInterval overrides the ramping executor's re-evaluation period
	TickInterval time.Duration
}

// Progress is a live view of a running profile.
type Progress struct {
	RunID    string
	Profile  config.ProfileName
	Fraction float64
	Stats    *executor.Stats
	Metrics  *metrics.Snapshot
}

// Result contains the complete run results.
type Result struct {
	RunID       string             `json:"runId"`
	Profile     config.ProfileName `json:"profile"`
	Executor    executor.Type      `json:"executor"`
	BaseURL     string             `json:"baseUrl"`
	AuthEnabled bool               `json:"authEnabled"`
	Login       config.LoginMode   `json:"login"`
	Seed        int64              `json:"seed,omitempty"`

	StartTime       time.Time     `json:"startTime"`
	EndTime         time.Time     `json:"endTime"`
	Duration        time.Duration `json:"duration"`
	PlannedDuration time.Duration `json:"plannedDuration"`

	Iterations  int64 `json:"iterations"`
	MaxVUs      int   `json:"maxVUs"`
	ForcedStops int64 `json:"forcedStops"`

	Metrics    *metrics.Snapshot     `json:"metrics"`
	Calls      []metrics.CallStats   `json:"calls"`
	TimeSeries []*metrics.TimeBucket `json:"timeSeries,omitempty"`
	Phases     []metrics.PhaseChange `json:"phases,omitempty"`

	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`

	// Interrupted is true when the run was stopped or cancelled before
	// its stages were over.
	Interrupted bool `json:"interrupted,omitempty"`

	Error string `json:"error,omitempty"`
}

// Runner executes one profile of a RunConfig.
//
// Example usage:
//
//	cfg, _ := config.Load(config.DefaultEnvFiles)
//	r, _ := runner.New(cfg, "smoke", runner.Options{})
//	result, _ := r.Run(ctx)
//	fmt.Printf("passed: %v\n", result.Passed)
type Runner struct {
	cfg     *config.RunConfig
	profile *config.Profile
	opts    Options
	runID   string
	log     logrus.FieldLogger

	exec executor.Executor

	started atomic.Bool
	stopped atomic.Bool
}

// New validates cfg and prepares the named profile. Configuration errors
// are returned here, before any request is made.
func New(cfg *config.RunConfig, profile string, opts Options) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	p, err := cfg.Profile(profile)
	if err != nil {
		return nil, err
	}

	execCfg := p.ExecutorConfig()
	execCfg.TickInterval = opts.TickInterval

	exec, err := executor.CreateAndInitExecutor(context.Background(), execCfg)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", p.Name, err)
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	var log logrus.FieldLogger = logging.Discard()
	if opts.Logger != nil {
		log = opts.Logger
	}

	return &Runner{
		cfg:     cfg,
		profile: p,
		opts:    opts,
		runID:   runID,
		log:     log.WithFields(logrus.Fields{"run_id": runID, "profile": p.Name}),
		exec:    exec,
	}, nil
}

// RunID returns the identifier of this run.
func (r *Runner) RunID() string {
	return r.runID
}

// Profile returns the resolved profile.
func (r *Runner) Profile() *config.Profile {
	return r.profile
}

// Stop ends the stages early. VUs still finish their iterations within
// the graceful stop period.
func (r *Runner) Stop(ctx context.Context) error {
	r.stopped.Store(true)
	return r.exec.Stop(ctx)
}

// Run executes the profile and returns its result. A cancelled ctx
// force-stops every VU; the partial result is still returned.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.started.Swap(true) {
		return nil, fmt.Errorf("run %s has already been started", r.runID)
	}

	client := r.opts.Client
	if client == nil {
		client = load.NewHTTPClient(r.cfg.HTTP)
	}

	if r.cfg.ReadyTimeout > 0 {
		readyURL := r.cfg.BaseURL + r.cfg.ReadyPath
		r.log.WithField("url", readyURL).Info("Waiting for target to become ready")
		if err := WaitForReady(ctx, client, readyURL, r.cfg.ReadyTimeout); err != nil {
			return nil, fmt.Errorf("readiness check failed: %w", err)
		}
	}

	rnd, seed := r.random()

	engine := metrics.NewEngine()
	defer engine.Stop()
	engine.SetPhase(metrics.PhaseInit)

	recorder := metrics.Fanout{engine}
	var prom *metrics.PrometheusSink
	if r.cfg.Prometheus.Enabled {
		prom = metrics.NewPrometheusSink(prometheus.Labels{
			"run_id":  r.runID,
			"profile": string(r.profile.Name),
		})
		recorder = append(recorder, prom)
	}
	recorder = append(recorder, r.opts.Sinks...)
	recorder.SetPhase(metrics.PhaseInit)

	target := load.NewTarget(r.cfg.BaseURL, client, recorder)
	workflow := &load.Workflow{
		Target:      target,
		Pacing:      r.profile.Pacing,
		Selector:    load.NewSelector(r.profile.Selection, rnd),
		Pacer:       load.NewPacer(rnd),
		AuthEnabled: r.cfg.AuthEnabled,
	}

	r.log.WithFields(logrus.Fields{
		"executor": r.profile.Executor,
		"max_vus":  r.profile.MaxVUs(),
		"duration": r.profile.TotalDuration(),
		"base_url": r.cfg.BaseURL,
		"auth":     r.cfg.AuthEnabled,
	}).Info("Starting run")

	startTime := time.Now()
	pool := load.NewPool(workflow, r.tokenSources(ctx, target), r.log)

	g, gctx := errgroup.WithContext(ctx)
	auxCtx, stopAux := context.WithCancel(gctx)
	defer stopAux()

	if prom != nil {
		g.Go(func() error {
			r.log.WithField("listen", r.cfg.Prometheus.Listen).Info("Serving Prometheus metrics")
			if err := prom.Serve(auxCtx, r.cfg.Prometheus.Listen, r.cfg.Prometheus.Path); err != nil {
				return fmt.Errorf("prometheus listener: %w", err)
			}
			return nil
		})
	}
	if r.opts.Progress != nil {
		g.Go(func() error {
			r.reportProgress(auxCtx, engine)
			return nil
		})
	}
	g.Go(func() error {
		defer stopAux()
		return r.exec.Run(gctx, pool, recorder)
	})

	runErr := g.Wait()
	endTime := time.Now()
	engine.Stop()

	snapshot := engine.GetSnapshot()
	thresholds := EvaluateThresholds(r.profile.Thresholds, snapshot)

	result := &Result{
		RunID:           r.runID,
		Profile:         r.profile.Name,
		Executor:        r.profile.Executor,
		BaseURL:         r.cfg.BaseURL,
		AuthEnabled:     r.cfg.AuthEnabled,
		Login:           r.profile.Login,
		Seed:            seed,
		StartTime:       startTime,
		EndTime:         endTime,
		Duration:        endTime.Sub(startTime),
		PlannedDuration: r.profile.TotalDuration(),
		Iterations:      pool.Iterations(),
		MaxVUs:          pool.MaxVUs(),
		ForcedStops:     pool.ForcedStops(),
		Metrics:         snapshot,
		Calls:           engine.GetCallStats(),
		TimeSeries:      engine.GetTimeSeries(),
		Phases:          engine.GetPhaseHistory(),
		Thresholds:      thresholds,
		Passed:          AllPassed(thresholds) && runErr == nil,
		Interrupted:     ctx.Err() != nil || r.stopped.Load(),
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	fields := logrus.Fields{
		"iterations":   result.Iterations,
		"requests":     snapshot.TotalRequests,
		"failed":       snapshot.FailedRequests,
		"duration":     result.Duration.Round(time.Millisecond),
		"passed":       result.Passed,
		"interrupted":  result.Interrupted,
		"forced_stops": result.ForcedStops,
	}
	if result.ForcedStops > 0 {
		r.log.WithFields(fields).Warn("Run finished with force-stopped VUs")
	} else {
		r.log.WithFields(fields).Info("Run finished")
	}

	return result, runErr
}

// tokenSources picks where VUs get their bearer token from. Shared mode
// logs in once here, before any VU exists.
func (r *Runner) tokenSources(ctx context.Context, target *load.Target) load.TokenSourceFactory {
	if !r.cfg.AuthEnabled {
		return nil
	}

	creds := r.cfg.Credentials
	if r.profile.Login == config.LoginShared {
		token := target.SharedLogin(ctx, creds)
		if token == "" {
			r.log.Warn("Shared login failed; the auth step will be skipped")
		} else {
			r.log.Info("Shared login succeeded")
		}
		return func(int) load.TokenSource { return token }
	}

	return func(vuID int) load.TokenSource {
		return load.NewTokenCache(target, creds, vuID)
	}
}

// random returns the injected Rand or one seeded from the configuration.
func (r *Runner) random() (load.Rand, int64) {
	if r.opts.Rand != nil {
		return r.opts.Rand, 0
	}
	seed := r.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return load.NewLockedRand(rand.NewSource(seed)), seed
}

func (r *Runner) reportProgress(ctx context.Context, engine *metrics.Engine) {
	interval := r.opts.ProgressInterval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.opts.Progress(Progress{
				RunID:    r.runID,
				Profile:  r.profile.Name,
				Fraction: r.exec.GetProgress(),
				Stats:    r.exec.GetStats(),
				Metrics:  engine.GetSnapshot(),
			})
		}
	}
}
