package load

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// TokenSourceFactory builds the token source of a newly spawned VU.
type TokenSourceFactory func(vuID int) TokenSource

// Pool manages the lifecycle of Virtual Users.
//
// It provides:
// - VU spawning with fresh 1-based ids
// - Graceful retirement bounded by a grace period
// - Drain coordination at the end of a run
//
// Executors use the Pool to control VU counts.
type Pool struct {
	workflow *Workflow
	tokens   TokenSourceFactory
	log      logrus.FieldLogger

	vus   map[int]*VirtualUser
	vusMu sync.RWMutex

	nextVUID   atomic.Int32
	iterations atomic.Int64
	forced     atomic.Int64
	maxVUs     atomic.Int32

	wg sync.WaitGroup
}

// NewPool creates a pool whose VUs run workflow. tokens may be nil when
// the auth step is disabled.
func NewPool(workflow *Workflow, tokens TokenSourceFactory, log logrus.FieldLogger) *Pool {
	if log == nil {
		discard := logrus.New()
		discard.SetLevel(logrus.PanicLevel)
		log = discard
	}
	return &Pool{
		workflow: workflow,
		tokens:   tokens,
		log:      log,
		vus:      make(map[int]*VirtualUser),
	}
}

// Logger returns the pool's logger.
func (p *Pool) Logger() logrus.FieldLogger {
	return p.log
}

// Spawn creates a VU and starts its loop. The VU's context is a child of
// ctx, so cancelling ctx force-stops it.
func (p *Pool) Spawn(ctx context.Context) *VirtualUser {
	id := int(p.nextVUID.Add(1))

	var tokens TokenSource
	if p.tokens != nil {
		tokens = p.tokens(id)
	}
	vu := NewVirtualUser(ctx, id, p.workflow, tokens)

	p.vusMu.Lock()
	p.vus[id] = vu
	if n := int32(len(p.vus)); n > p.maxVUs.Load() {
		p.maxVUs.Store(n)
	}
	p.vusMu.Unlock()

	p.wg.Add(1)
	go p.run(vu)

	return vu
}

// run loops iterations back to back until the VU is retired or cancelled.
func (p *Pool) run(vu *VirtualUser) {
	defer p.wg.Done()
	defer p.remove(vu)
	defer vu.MarkStopped()

	for {
		if vu.ctx.Err() != nil || vu.StopRequested() {
			return
		}
		if err := vu.RunIteration(vu.ctx); err != nil {
			return
		}
		p.iterations.Add(1)
	}
}

func (p *Pool) remove(vu *VirtualUser) {
	if vu.Forced() {
		p.forced.Add(1)
		p.log.WithField("vu", vu.ID).Debug("VU force-stopped after grace period")
	}
	p.vusMu.Lock()
	delete(p.vus, vu.ID)
	p.vusMu.Unlock()
}

// Retire asks vu to stop after its in-flight iteration and force-stops it
// once grace has elapsed.
func (p *Pool) Retire(vu *VirtualUser, grace time.Duration) {
	if vu.RequestStop() {
		vu.forceAfter(grace)
	}
}

// Active returns the VUs that have not been asked to retire, oldest first.
func (p *Pool) Active() []*VirtualUser {
	p.vusMu.RLock()
	result := make([]*VirtualUser, 0, len(p.vus))
	for _, vu := range p.vus {
		if s := vu.GetState(); s == VUStateIdle || s == VUStateRunning {
			result = append(result, vu)
		}
	}
	p.vusMu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// ActiveCount returns the number of VUs not retiring.
func (p *Pool) ActiveCount() int {
	return len(p.Active())
}

// RunningCount returns the number of VU loops still alive, retiring ones
// included.
func (p *Pool) RunningCount() int {
	p.vusMu.RLock()
	defer p.vusMu.RUnlock()
	return len(p.vus)
}

// Iterations returns the number of completed iterations.
func (p *Pool) Iterations() int64 {
	return p.iterations.Load()
}

// ForcedStops returns how many VUs were cancelled by their grace deadline.
func (p *Pool) ForcedStops() int64 {
	return p.forced.Load()
}

// MaxVUs returns the highest number of simultaneously live VU loops.
func (p *Pool) MaxVUs() int {
	return int(p.maxVUs.Load())
}

// Drain retires every VU with the given grace and waits for all loops to
// exit. It returns the number of VUs that had to be force-stopped.
func (p *Pool) Drain(grace time.Duration) int {
	before := p.forced.Load()

	p.vusMu.RLock()
	vus := make([]*VirtualUser, 0, len(p.vus))
	for _, vu := range p.vus {
		vus = append(vus, vu)
	}
	p.vusMu.RUnlock()

	// VUs already retiring keep their own deadline.
	for _, vu := range vus {
		p.Retire(vu, grace)
	}

	p.wg.Wait()
	return int(p.forced.Load() - before)
}
