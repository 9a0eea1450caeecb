package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wesleyorama2/storeload/internal/load"
)

func TestNewEngine(t *testing.T) {
	engine := NewEngine()
	if engine == nil {
		t.Fatal("NewEngine() returned nil")
	}
	defer engine.Stop()

	snapshot := engine.GetSnapshot()
	if snapshot.TotalRequests != 0 {
		t.Errorf("Initial TotalRequests = %d, want 0", snapshot.TotalRequests)
	}
	if snapshot.CurrentPhase != PhaseInit {
		t.Errorf("Initial phase = %v, want %v", snapshot.CurrentPhase, PhaseInit)
	}
	if snapshot.Latency.Count != 0 || snapshot.Latency.Min != 0 {
		t.Errorf("Initial latency = %+v, want zero", snapshot.Latency)
	}
}

func TestEngine_Record(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.Record(load.RequestOutcome{Name: load.CallProducts, Latency: 10 * time.Millisecond, Success: true, BytesReceived: 1000, StatusCode: 200})
	engine.Record(load.RequestOutcome{Name: load.CallProducts, Latency: 20 * time.Millisecond, Success: true, BytesReceived: 2000, StatusCode: 200})
	engine.Record(load.RequestOutcome{Name: load.CallBrands, Latency: 30 * time.Millisecond, Success: false, BytesReceived: 500, StatusCode: 500})
	engine.Record(load.RequestOutcome{Name: load.CallMe, Latency: 5 * time.Millisecond, Error: errors.New("connection refused")})

	snapshot := engine.GetSnapshot()

	if snapshot.TotalRequests != 4 {
		t.Errorf("TotalRequests = %d, want 4", snapshot.TotalRequests)
	}
	if snapshot.SuccessRequests != 2 {
		t.Errorf("SuccessRequests = %d, want 2", snapshot.SuccessRequests)
	}
	if snapshot.FailedRequests != 2 {
		t.Errorf("FailedRequests = %d, want 2", snapshot.FailedRequests)
	}
	if snapshot.TotalBytes != 3500 {
		t.Errorf("TotalBytes = %d, want 3500", snapshot.TotalBytes)
	}
	if snapshot.ErrorRate != 0.5 {
		t.Errorf("ErrorRate = %v, want 0.5", snapshot.ErrorRate)
	}
}

func TestEngine_CallStats(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	for i := 0; i < 8; i++ {
		engine.RecordLatency(time.Duration(i+1)*time.Millisecond, load.CallProductDetail, i%4 != 0, 100)
	}
	engine.RecordLatency(50*time.Millisecond, load.CallBrands, true, 10)
	engine.RecordLatency(time.Millisecond, "", true, 10)

	stats := engine.GetCallStats()
	if len(stats) != 2 {
		t.Fatalf("GetCallStats() returned %d entries, want 2", len(stats))
	}

	// Sorted by name.
	if stats[0].Name != load.CallBrands || stats[1].Name != load.CallProductDetail {
		t.Fatalf("unexpected order: %q, %q", stats[0].Name, stats[1].Name)
	}

	detail := stats[1]
	if detail.Requests != 8 || detail.Successes != 6 || detail.Failures != 2 {
		t.Errorf("detail counts = %d/%d/%d, want 8/6/2", detail.Requests, detail.Successes, detail.Failures)
	}
	if detail.SuccessRate != 0.75 {
		t.Errorf("detail SuccessRate = %v, want 0.75", detail.SuccessRate)
	}
	if detail.Bytes != 800 {
		t.Errorf("detail Bytes = %d, want 800", detail.Bytes)
	}
	if detail.Latency.Count != 8 {
		t.Errorf("detail latency count = %d, want 8", detail.Latency.Count)
	}
	if detail.Latency.Max < 7*time.Millisecond || detail.Latency.Max > 9*time.Millisecond {
		t.Errorf("detail latency max = %v, want ~8ms", detail.Latency.Max)
	}
}

func TestEngine_LatencyPercentiles(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	for i := 1; i <= 10; i++ {
		engine.RecordLatency(time.Duration(i*10)*time.Millisecond, "", true, 100)
	}

	latency := engine.GetSnapshot().Latency

	if latency.P50 < 40*time.Millisecond || latency.P50 > 60*time.Millisecond {
		t.Errorf("P50 = %v, want ~50ms (±10ms)", latency.P50)
	}
	if latency.P99 < 90*time.Millisecond || latency.P99 > 110*time.Millisecond {
		t.Errorf("P99 = %v, want ~100ms (±10ms)", latency.P99)
	}
	if latency.Min < 9*time.Millisecond || latency.Min > 11*time.Millisecond {
		t.Errorf("Min = %v, want ~10ms", latency.Min)
	}
}

func TestEngine_ClampsOutOfRangeLatency(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.RecordLatency(0, "zero", true, 0)
	engine.RecordLatency(2*time.Hour, "huge", true, 0)

	snapshot := engine.GetSnapshot()
	if snapshot.Latency.Count != 2 {
		t.Errorf("Count = %d, want 2", snapshot.Latency.Count)
	}
	if snapshot.Latency.Max > time.Hour+time.Minute {
		t.Errorf("Max = %v, want clamped to ~1h", snapshot.Latency.Max)
	}
}

func TestEngine_Phases(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	engine.SetPhase(PhaseRampUp)
	engine.SetPhase(PhaseRampUp)
	engine.RecordLatency(time.Millisecond, "x", true, 0)
	engine.SetPhase(PhaseSteady)
	engine.SetPhase(PhaseDone)

	history := engine.GetPhaseHistory()
	if len(history) != 3 {
		t.Fatalf("phase history length = %d, want 3", len(history))
	}
	want := []Phase{PhaseRampUp, PhaseSteady, PhaseDone}
	for i, change := range history {
		if change.Phase != want[i] {
			t.Errorf("history[%d] = %v, want %v", i, change.Phase, want[i])
		}
	}
	if history[1].Requests != 1 {
		t.Errorf("requests at steady = %d, want 1", history[1].Requests)
	}
	if engine.GetPhase() != PhaseDone {
		t.Errorf("GetPhase() = %v, want %v", engine.GetPhase(), PhaseDone)
	}
}

func TestEngine_TimeSeries(t *testing.T) {
	config := DefaultEngineConfig()
	config.BucketInterval = 20 * time.Millisecond
	engine := NewEngineWithConfig(config)

	engine.SetActiveVUs(3)
	engine.SetPhase(PhaseSteady)
	for i := 0; i < 10; i++ {
		engine.RecordLatency(time.Millisecond, "x", i != 0, 0)
	}
	time.Sleep(70 * time.Millisecond)
	engine.Stop()
	engine.Stop()

	buckets := engine.GetTimeSeries()
	if len(buckets) < 2 {
		t.Fatalf("got %d buckets, want at least 2", len(buckets))
	}

	var total int64
	for i, b := range buckets {
		total += b.IntervalRequests
		if b.ActiveVUs != 3 {
			t.Errorf("bucket %d ActiveVUs = %d, want 3", i, b.ActiveVUs)
		}
		if b.Phase != PhaseSteady {
			t.Errorf("bucket %d Phase = %v, want %v", i, b.Phase, PhaseSteady)
		}
		if i > 0 && b.Timestamp.Before(buckets[i-1].Timestamp) {
			t.Errorf("bucket %d is out of order", i)
		}
	}
	if total != 10 {
		t.Errorf("sum of interval requests = %d, want 10", total)
	}
	if last := buckets[len(buckets)-1]; last.TotalRequests != 10 || last.TotalFailures != 1 {
		t.Errorf("last bucket totals = %d/%d, want 10/1", last.TotalRequests, last.TotalFailures)
	}
}

func TestEngine_ConcurrentRecord(t *testing.T) {
	engine := NewEngine()
	defer engine.Stop()

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				engine.Record(load.RequestOutcome{
					Name:    []string{load.CallProducts, load.CallBrands}[g%2],
					Latency: time.Duration(i) * time.Microsecond,
					Success: true,
				})
			}
		}(g)
	}
	wg.Wait()

	if got := engine.GetSnapshot().TotalRequests; got != 8000 {
		t.Errorf("TotalRequests = %d, want 8000", got)
	}
	var perCall int64
	for _, s := range engine.GetCallStats() {
		perCall += s.Requests
	}
	if perCall != 8000 {
		t.Errorf("sum of per-call requests = %d, want 8000", perCall)
	}
}

func TestTimeBucketStore_RingBuffer(t *testing.T) {
	store := NewTimeBucketStore(3)

	for i := 1; i <= 5; i++ {
		store.RecordRequest(true)
		store.closeBucket(bucketState{totalRequests: int64(i)})
	}

	buckets := store.Buckets()
	if len(buckets) != 3 {
		t.Fatalf("Buckets() length = %d, want 3", len(buckets))
	}
	for i, want := range []int64{3, 4, 5} {
		if buckets[i].TotalRequests != want {
			t.Errorf("bucket %d TotalRequests = %d, want %d", i, buckets[i].TotalRequests, want)
		}
	}
	if latest := store.Latest(); latest == nil || latest.TotalRequests != 5 {
		t.Errorf("Latest() = %+v, want TotalRequests 5", latest)
	}
}

func TestTimeBucketStore_SteadyStateRPS(t *testing.T) {
	store := NewTimeBucketStore(10)
	if _, n := store.SteadyStateRPS(); n != 0 {
		t.Errorf("empty store steady buckets = %d, want 0", n)
	}

	store.closeBucket(bucketState{phase: PhaseRampUp})
	store.RecordRequest(true)
	store.closeBucket(bucketState{phase: PhaseSteady})

	rps, n := store.SteadyStateRPS()
	if n != 1 {
		t.Fatalf("steady buckets = %d, want 1", n)
	}
	if rps <= 0 {
		t.Errorf("steady RPS = %v, want > 0", rps)
	}
}
