package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// TimeBucketStore keeps the time series in a ring buffer. Recording is
// lock-free; closing a bucket takes the store lock.
type TimeBucketStore struct {
	mu         sync.RWMutex
	buckets    []*TimeBucket
	head       int
	count      int
	maxBuckets int
	lastClose  time.Time

	intervalRequests atomic.Int64
	intervalFailures atomic.Int64
}

// NewTimeBucketStore creates a store retaining at most maxBuckets.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = DefaultEngineConfig().MaxBuckets
	}
	return &TimeBucketStore{
		buckets:    make([]*TimeBucket, maxBuckets),
		maxBuckets: maxBuckets,
		lastClose:  time.Now(),
	}
}

// RecordRequest counts a request in the open interval.
func (s *TimeBucketStore) RecordRequest(success bool) {
	s.intervalRequests.Add(1)
	if !success {
		s.intervalFailures.Add(1)
	}
}

// bucketState is the engine state captured when a bucket closes.
type bucketState struct {
	totalRequests int64
	totalFailures int64
	p50, p95, p99 time.Duration
	activeVUs     int
	phase         Phase
}

// closeBucket closes the open interval and appends it.
func (s *TimeBucketStore) closeBucket(state bucketState) *TimeBucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	requests := s.intervalRequests.Swap(0)
	failures := s.intervalFailures.Swap(0)

	seconds := now.Sub(s.lastClose).Seconds()
	if seconds <= 0 {
		seconds = 1
	}
	errorRate := 0.0
	if requests > 0 {
		errorRate = float64(failures) / float64(requests)
	}

	bucket := &TimeBucket{
		Timestamp:         now,
		TotalRequests:     state.totalRequests,
		TotalFailures:     state.totalFailures,
		IntervalRequests:  requests,
		IntervalRPS:       float64(requests) / seconds,
		IntervalErrorRate: errorRate,
		LatencyP50:        state.p50,
		LatencyP95:        state.p95,
		LatencyP99:        state.p99,
		ActiveVUs:         state.activeVUs,
		Phase:             state.phase,
	}

	s.buckets[s.head] = bucket
	s.head = (s.head + 1) % s.maxBuckets
	if s.count < s.maxBuckets {
		s.count++
	}
	s.lastClose = now

	return bucket
}

// Buckets returns all retained buckets in chronological order.
func (s *TimeBucketStore) Buckets() []*TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}

	result := make([]*TimeBucket, s.count)
	start := 0
	if s.count == s.maxBuckets {
		start = s.head
	}
	for i := 0; i < s.count; i++ {
		result[i] = s.buckets[(start+i)%s.maxBuckets]
	}
	return result
}

// Latest returns the most recent bucket, or nil if none.
func (s *TimeBucketStore) Latest() *TimeBucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}
	return s.buckets[(s.head-1+s.maxBuckets)%s.maxBuckets]
}

// SteadyStateRPS averages interval throughput over steady-phase buckets.
// It returns the number of buckets used; zero means no steady phase yet.
func (s *TimeBucketStore) SteadyStateRPS() (float64, int) {
	var total float64
	n := 0
	for _, b := range s.Buckets() {
		if b.Phase == PhaseSteady {
			total += b.IntervalRPS
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return total / float64(n), n
}
