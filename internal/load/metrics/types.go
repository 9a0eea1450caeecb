// Package metrics aggregates request outcomes into HDR latency histograms,
// per-call breakdowns and a one-second time series.
package metrics

import "time"

// Phase represents a phase of the run, derived from the stage shape.
type Phase string

const (
	// PhaseInit is before the first VU starts.
	PhaseInit Phase = "init"

	// PhaseRampUp is while the target VU count is increasing.
	PhaseRampUp Phase = "ramp-up"

	// PhaseSteady is while the target VU count is held.
	PhaseSteady Phase = "steady"

	// PhaseRampDown is while the target VU count is decreasing.
	PhaseRampDown Phase = "ramp-down"

	// PhaseDrain is while remaining VUs finish after the last stage.
	PhaseDrain Phase = "drain"

	// PhaseDone indicates the run has completed.
	PhaseDone Phase = "done"
)

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	TotalRequests   int64         `json:"totalRequests"`
	SuccessRequests int64         `json:"successRequests"`
	FailedRequests  int64         `json:"failedRequests"`
	TotalBytes      int64         `json:"totalBytes"`
	Latency         LatencyStats  `json:"latency"`
	RPS             float64       `json:"rps"`
	SteadyStateRPS  float64       `json:"steadyStateRps"`
	ErrorRate       float64       `json:"errorRate"`
	ActiveVUs       int           `json:"activeVUs"`
	CurrentPhase    Phase         `json:"currentPhase"`
	Elapsed         time.Duration `json:"elapsed"`
	StartTime       time.Time     `json:"startTime"`
	Timestamp       time.Time     `json:"timestamp"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// CallStats is the breakdown for one logical call name.
type CallStats struct {
	Name        string       `json:"name"`
	Requests    int64        `json:"requests"`
	Successes   int64        `json:"successes"`
	Failures    int64        `json:"failures"`
	Bytes       int64        `json:"bytes"`
	SuccessRate float64      `json:"successRate"`
	Latency     LatencyStats `json:"latency"`
}

// TimeBucket is one interval of the time series.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`

	// Cumulative totals since the start of the run
	TotalRequests int64 `json:"totalRequests"`
	TotalFailures int64 `json:"totalFailures"`

	// This interval only
	IntervalRequests  int64   `json:"intervalRequests"`
	IntervalRPS       float64 `json:"intervalRps"`
	IntervalErrorRate float64 `json:"intervalErrorRate"`

	// Cumulative percentiles at bucket time
	LatencyP50 time.Duration `json:"latencyP50"`
	LatencyP95 time.Duration `json:"latencyP95"`
	LatencyP99 time.Duration `json:"latencyP99"`

	ActiveVUs int   `json:"activeVus"`
	Phase     Phase `json:"phase"`
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// BucketInterval is the interval for time-series buckets (default: 1s)
	BucketInterval time.Duration

	// MaxBuckets is the maximum number of buckets to retain (default: 7200)
	MaxBuckets int

	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration. Two hours of
// one-second buckets cover the longest soak profile with headroom.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:   time.Second,
		MaxBuckets:       7200,
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}
