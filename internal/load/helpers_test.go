package load_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/wesleyorama2/storeload/internal/load"
	"github.com/wesleyorama2/storeload/internal/mockshop"
)

// recorder is a thread-safe Sink that keeps every outcome.
type recorder struct {
	mu       sync.Mutex
	outcomes []load.RequestOutcome
}

func (r *recorder) Record(o load.RequestOutcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
}

func (r *recorder) all() []load.RequestOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]load.RequestOutcome(nil), r.outcomes...)
}

func (r *recorder) count(name string) int {
	n := 0
	for _, o := range r.all() {
		if o.Name == name {
			n++
		}
	}
	return n
}

// seqRand replays fixed values.
type seqRand struct {
	mu     sync.Mutex
	floats []float64
	ints   []int
	fi, ii int
}

func (s *seqRand) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.floats) == 0 {
		return 0
	}
	v := s.floats[s.fi%len(s.floats)]
	s.fi++
	return v
}

func (s *seqRand) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ints) == 0 {
		return 0
	}
	v := s.ints[s.ii%len(s.ints)] % n
	s.ii++
	return v
}

// newShop starts a mock storefront.
func newShop(t *testing.T, opts mockshop.Options) (*mockshop.Shop, *httptest.Server) {
	t.Helper()
	shop := mockshop.New(opts)
	server := httptest.NewServer(shop)
	t.Cleanup(server.Close)
	return shop, server
}

// newWorkflow builds a workflow without pacing against baseURL.
func newWorkflow(baseURL string, sink load.Sink, selector load.Selector) *load.Workflow {
	return &load.Workflow{
		Target:      load.NewTarget(baseURL, http.DefaultClient, sink),
		Selector:    selector,
		Pacer:       load.NewPacer(&seqRand{}),
		AuthEnabled: true,
	}
}

// runIterations drives a standalone VU for n iterations.
func runIterations(t *testing.T, vu *load.VirtualUser, n int) []load.IterationResult {
	t.Helper()
	results := make([]load.IterationResult, 0, n)
	for i := 0; i < n; i++ {
		if err := vu.RunIteration(context.Background()); err != nil {
			t.Fatalf("RunIteration() error = %v", err)
		}
		r, ok := vu.LastIteration()
		if !ok {
			t.Fatal("LastIteration() returned nothing after an iteration")
		}
		results = append(results, r)
	}
	return results
}
