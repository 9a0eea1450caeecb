package load_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/storeload/internal/load"
	"github.com/wesleyorama2/storeload/internal/mockshop"
)

func TestVUState_String(t *testing.T) {
	tests := []struct {
		state load.VUState
		want  string
	}{
		{load.VUStateIdle, "idle"},
		{load.VUStateRunning, "running"},
		{load.VUStateStopping, "stopping"},
		{load.VUStateStopped, "stopped"},
		{load.VUState(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("VUState.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVirtualUser_StateTransitions(t *testing.T) {
	_, server := newShop(t, mockshop.DefaultOptions())
	wf := newWorkflow(server.URL, nil, load.NewSelector(load.SelectRoundRobin, nil))
	vu := load.NewVirtualUser(context.Background(), 1, wf, nil)

	if vu.GetState() != load.VUStateIdle {
		t.Errorf("Initial state = %v, want %v", vu.GetState(), load.VUStateIdle)
	}

	if err := vu.RunIteration(context.Background()); err != nil {
		t.Errorf("RunIteration() error = %v", err)
	}
	if vu.GetState() != load.VUStateIdle {
		t.Errorf("After iteration state = %v, want %v", vu.GetState(), load.VUStateIdle)
	}

	if !vu.RequestStop() {
		t.Error("RequestStop() = false on an idle VU")
	}
	if vu.RequestStop() {
		t.Error("second RequestStop() = true")
	}
	if vu.GetState() != load.VUStateStopping {
		t.Errorf("After RequestStop state = %v, want %v", vu.GetState(), load.VUStateStopping)
	}
	if err := vu.RunIteration(context.Background()); err == nil {
		t.Error("RunIteration() on a stopping VU should fail")
	}

	vu.MarkStopped()
	if vu.GetState() != load.VUStateStopped {
		t.Errorf("After MarkStopped state = %v, want %v", vu.GetState(), load.VUStateStopped)
	}
	if !vu.WaitForStop(10 * time.Millisecond) {
		t.Error("WaitForStop() = false after MarkStopped")
	}
	if vu.Context().Err() == nil {
		t.Error("VU context should be released after MarkStopped")
	}
}

func TestPool_SpawnAssignsIncreasingIDs(t *testing.T) {
	_, server := newShop(t, mockshop.DefaultOptions())
	wf := newWorkflow(server.URL, nil, load.NewSelector(load.SelectRoundRobin, nil))
	wf.Pacing.Final = load.Seconds(0.01, 0.01)

	var built []int
	var mu sync.Mutex
	pool := load.NewPool(wf, func(vuID int) load.TokenSource {
		mu.Lock()
		built = append(built, vuID)
		mu.Unlock()
		return load.StaticToken("")
	}, nil)

	for i := 1; i <= 5; i++ {
		vu := pool.Spawn(context.Background())
		assert.Equal(t, i, vu.ID)
	}
	assert.Equal(t, 5, pool.ActiveCount())
	assert.Equal(t, 5, pool.MaxVUs())

	assert.Eventually(t, func() bool { return pool.Iterations() >= 5 }, 5*time.Second, 10*time.Millisecond)
	forced := pool.Drain(5 * time.Second)

	assert.Zero(t, forced)
	assert.Zero(t, pool.RunningCount())
	assert.Positive(t, pool.Iterations())
	mu.Lock()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, built)
	mu.Unlock()

	// Ids are never reused.
	vu := pool.Spawn(context.Background())
	assert.Equal(t, 6, vu.ID)
	pool.Drain(5 * time.Second)
}

// gatedServer blocks GET /brands until release is closed and reports each
// blocked request on entered.
func gatedServer(t *testing.T) (server *httptest.Server, entered chan struct{}, release chan struct{}, products *atomic.Int64) {
	t.Helper()
	entered = make(chan struct{}, 16)
	release = make(chan struct{})
	products = &atomic.Int64{}
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/products":
			products.Add(1)
			w.Write([]byte(`{"data":[]}`))
		case "/brands":
			entered <- struct{}{}
			select {
			case <-release:
			case <-r.Context().Done():
				return
			}
			w.Write([]byte(`[]`))
		default:
			w.Write([]byte(`[]`))
		}
	}))
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
		server.Close()
	})
	return server, entered, release, products
}

func TestPool_RetireCompletesInFlightIteration(t *testing.T) {
	server, entered, release, products := gatedServer(t)
	rec := &recorder{}
	wf := newWorkflow(server.URL, rec, load.NewSelector(load.SelectRoundRobin, nil))
	wf.AuthEnabled = false
	pool := load.NewPool(wf, nil, nil)

	vu := pool.Spawn(context.Background())
	<-entered

	pool.Retire(vu, 10*time.Second)
	assert.Zero(t, pool.ActiveCount())
	assert.Equal(t, 1, pool.RunningCount())

	select {
	case <-vu.Done():
		t.Fatal("VU exited before its in-flight call completed")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.True(t, vu.WaitForStop(5*time.Second))

	assert.False(t, vu.Forced())
	assert.EqualValues(t, 1, products.Load())
	assert.Equal(t, 1, rec.count(load.CallBrands))
	assert.Equal(t, 1, rec.count(load.CallCategories))
	assert.EqualValues(t, 1, pool.Iterations())
	assert.Zero(t, pool.ForcedStops())
}

func TestPool_RetireForcesAfterGrace(t *testing.T) {
	server, entered, _, _ := gatedServer(t)
	rec := &recorder{}
	wf := newWorkflow(server.URL, rec, load.NewSelector(load.SelectRoundRobin, nil))
	wf.AuthEnabled = false
	pool := load.NewPool(wf, nil, nil)

	vu := pool.Spawn(context.Background())
	<-entered

	start := time.Now()
	pool.Retire(vu, 100*time.Millisecond)
	require.True(t, vu.WaitForStop(5*time.Second))

	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.True(t, vu.Forced())
	assert.Eventually(t, func() bool { return pool.ForcedStops() == 1 }, time.Second, 10*time.Millisecond)

	// The abandoned call is not reported; the completed one is.
	assert.Equal(t, 1, rec.count(load.CallProducts))
	assert.Zero(t, rec.count(load.CallBrands))
	assert.Zero(t, rec.count(load.CallCategories))
	assert.Zero(t, pool.Iterations())
}

func TestPool_DrainForcesStuckVUs(t *testing.T) {
	server, entered, _, _ := gatedServer(t)
	wf := newWorkflow(server.URL, nil, load.NewSelector(load.SelectRoundRobin, nil))
	wf.AuthEnabled = false
	pool := load.NewPool(wf, nil, nil)

	for i := 0; i < 3; i++ {
		pool.Spawn(context.Background())
	}
	for i := 0; i < 3; i++ {
		<-entered
	}

	forced := pool.Drain(50 * time.Millisecond)

	assert.Equal(t, 3, forced)
	assert.Zero(t, pool.RunningCount())
}

func TestPool_ParentCancellationStopsVUs(t *testing.T) {
	_, server := newShop(t, mockshop.DefaultOptions())
	wf := newWorkflow(server.URL, nil, load.NewSelector(load.SelectRoundRobin, nil))
	wf.Pacing.Final = load.Seconds(10, 10)
	pool := load.NewPool(wf, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	vus := []*load.VirtualUser{pool.Spawn(ctx), pool.Spawn(ctx)}
	time.Sleep(50 * time.Millisecond)
	cancel()

	for _, vu := range vus {
		assert.True(t, vu.WaitForStop(2*time.Second), "vu %d", vu.ID)
	}
	assert.Zero(t, pool.RunningCount())
}
