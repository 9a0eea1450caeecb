package metrics

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/storeload/internal/load"
)

// Engine is the run's metrics sink. It keeps an overall HDR histogram, one
// histogram and counter set per logical call name, and a time series
// emitted by a background goroutine.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters are atomic; histograms are
// mutex-protected because hdrhistogram.Histogram is not.
type Engine struct {
	config EngineConfig

	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	calls   map[string]*callMetrics
	callsMu sync.RWMutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64

	activeVUs atomic.Int32

	buckets *TimeBucketStore

	currentPhase Phase
	phaseMu      sync.RWMutex
	phaseHistory []PhaseChange

	startTime time.Time

	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	stopOnce      sync.Once
}

type callMetrics struct {
	mu        sync.Mutex
	hist      *hdrhistogram.Histogram
	successes int64
	failures  int64
	bytes     int64
}

// NewEngine creates a metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a metrics engine and starts its emitter.
func NewEngineWithConfig(config EngineConfig) *Engine {
	if config.BucketInterval <= 0 {
		config.BucketInterval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		config:        config,
		latencyHist:   hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		calls:         make(map[string]*callMetrics),
		buckets:       NewTimeBucketStore(config.MaxBuckets),
		currentPhase:  PhaseInit,
		startTime:     time.Now(),
		emitterCancel: cancel,
	}

	e.emitterWg.Add(1)
	go e.runEmitter(ctx)

	return e
}

// Record implements load.Sink.
func (e *Engine) Record(o load.RequestOutcome) {
	e.RecordLatency(o.Latency, o.Name, o.Success, o.BytesReceived)
}

// RecordLatency records one request. An empty name skips the per-call
// breakdown.
func (e *Engine) RecordLatency(duration time.Duration, name string, success bool, bytes int64) {
	micros := e.clamp(duration.Microseconds())

	e.latencyHistMu.Lock()
	_ = e.latencyHist.RecordValue(micros)
	e.latencyHistMu.Unlock()

	if name != "" {
		cm := e.call(name)
		cm.mu.Lock()
		_ = cm.hist.RecordValue(micros)
		if success {
			cm.successes++
		} else {
			cm.failures++
		}
		cm.bytes += bytes
		cm.mu.Unlock()
	}

	e.totalRequests.Add(1)
	e.totalBytes.Add(bytes)
	if success {
		e.successRequests.Add(1)
	} else {
		e.failedRequests.Add(1)
	}

	e.buckets.RecordRequest(success)
}

func (e *Engine) clamp(micros int64) int64 {
	if micros < e.config.HistogramMin {
		return e.config.HistogramMin
	}
	if micros > e.config.HistogramMax {
		return e.config.HistogramMax
	}
	return micros
}

func (e *Engine) call(name string) *callMetrics {
	e.callsMu.RLock()
	cm, ok := e.calls[name]
	e.callsMu.RUnlock()
	if ok {
		return cm
	}

	e.callsMu.Lock()
	defer e.callsMu.Unlock()
	if cm, ok = e.calls[name]; !ok {
		cm = &callMetrics{
			hist: hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs),
		}
		e.calls[name] = cm
	}
	return cm
}

// SetPhase records a phase transition. Repeating the current phase is a
// no-op.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}
	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// GetPhase returns the current phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// SetActiveVUs updates the active VU gauge.
func (e *Engine) SetActiveVUs(count int) {
	e.activeVUs.Store(int32(count))
}

// GetActiveVUs returns the active VU gauge.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

func (e *Engine) runEmitter(ctx context.Context) {
	defer e.emitterWg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) emitBucket() {
	e.latencyHistMu.Lock()
	p50 := e.quantile(e.latencyHist, 50)
	p95 := e.quantile(e.latencyHist, 95)
	p99 := e.quantile(e.latencyHist, 99)
	e.latencyHistMu.Unlock()

	e.buckets.closeBucket(bucketState{
		totalRequests: e.totalRequests.Load(),
		totalFailures: e.failedRequests.Load(),
		p50:           p50,
		p95:           p95,
		p99:           p99,
		activeVUs:     e.GetActiveVUs(),
		phase:         e.GetPhase(),
	})
}

func (e *Engine) quantile(h *hdrhistogram.Histogram, q float64) time.Duration {
	return time.Duration(h.ValueAtQuantile(q)) * time.Microsecond
}

func latencyStats(h *hdrhistogram.Histogram) LatencyStats {
	if h.TotalCount() == 0 {
		return LatencyStats{}
	}
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return LatencyStats{
		Min:    us(h.Min()),
		Max:    us(h.Max()),
		Mean:   time.Duration(h.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(h.StdDev() * float64(time.Microsecond)),
		P50:    us(h.ValueAtQuantile(50)),
		P90:    us(h.ValueAtQuantile(90)),
		P95:    us(h.ValueAtQuantile(95)),
		P99:    us(h.ValueAtQuantile(99)),
		Count:  h.TotalCount(),
	}
}

// GetSnapshot returns a point-in-time snapshot of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := latencyStats(e.latencyHist)
	e.latencyHistMu.Unlock()

	elapsed := time.Since(e.startTime)
	total := e.totalRequests.Load()
	failed := e.failedRequests.Load()

	rps := 0.0
	if elapsed > 0 {
		rps = float64(total) / elapsed.Seconds()
	}
	steadyRPS, steadyBuckets := e.buckets.SteadyStateRPS()
	if steadyBuckets > 0 {
		rps = steadyRPS
	}

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	return &Snapshot{
		TotalRequests:   total,
		SuccessRequests: e.successRequests.Load(),
		FailedRequests:  failed,
		TotalBytes:      e.totalBytes.Load(),
		Latency:         latency,
		RPS:             rps,
		SteadyStateRPS:  steadyRPS,
		ErrorRate:       errorRate,
		ActiveVUs:       e.GetActiveVUs(),
		CurrentPhase:    e.GetPhase(),
		Elapsed:         elapsed,
		StartTime:       e.startTime,
		Timestamp:       time.Now(),
	}
}

// GetCallStats returns the per-call breakdown sorted by name.
func (e *Engine) GetCallStats() []CallStats {
	e.callsMu.RLock()
	names := make([]string, 0, len(e.calls))
	for name := range e.calls {
		names = append(names, name)
	}
	e.callsMu.RUnlock()
	sort.Strings(names)

	result := make([]CallStats, 0, len(names))
	for _, name := range names {
		cm := e.call(name)
		cm.mu.Lock()
		stats := CallStats{
			Name:      name,
			Requests:  cm.successes + cm.failures,
			Successes: cm.successes,
			Failures:  cm.failures,
			Bytes:     cm.bytes,
			Latency:   latencyStats(cm.hist),
		}
		cm.mu.Unlock()
		if stats.Requests > 0 {
			stats.SuccessRate = float64(stats.Successes) / float64(stats.Requests)
		}
		result = append(result, stats)
	}
	return result
}

// GetTimeSeries returns all retained time-series buckets.
func (e *Engine) GetTimeSeries() []*TimeBucket {
	return e.buckets.Buckets()
}

// GetPhaseHistory returns the history of phase changes.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]PhaseChange, len(e.phaseHistory))
	copy(result, e.phaseHistory)
	return result
}

// Stop stops the emitter and closes a final bucket. It is safe to call
// more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.emitterCancel()
		e.emitterWg.Wait()
		e.emitBucket()
	})
}

var _ load.Sink = (*Engine)(nil)
