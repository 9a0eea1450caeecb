package load

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Rand is the randomness the engine draws on for jitter and product
// selection. Implementations must be safe for concurrent use.
type Rand interface {
	// Float64 returns a number in [0.0,1.0).
	Float64() float64
	// Intn returns a number in [0,n). It panics if n <= 0.
	Intn(n int) int
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewLockedRand wraps src so that every VU can share it.
func NewLockedRand(src rand.Source) Rand {
	return &lockedRand{r: rand.New(src)} //nolint:gosec // load jitter, not crypto
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// Range is an inclusive pause range. The zero Range means no pause.
type Range struct {
	Min time.Duration `json:"min" yaml:"min"`
	Max time.Duration `json:"max" yaml:"max"`
}

// Seconds builds a Range from fractional seconds.
func Seconds(min, max float64) Range {
	return Range{
		Min: time.Duration(min * float64(time.Second)),
		Max: time.Duration(max * float64(time.Second)),
	}
}

// IsZero reports whether r disables its pacing slot.
func (r Range) IsZero() bool {
	return r.Min <= 0 && r.Max <= 0
}

func (r Range) String() string {
	if r.IsZero() {
		return "-"
	}
	return r.Min.String() + "-" + r.Max.String()
}

// PacingPlan holds the pause ranges of every pacing slot in the workflow.
type PacingPlan struct {
	AfterCatalog            Range `json:"afterCatalog" yaml:"afterCatalog"`
	AfterLists              Range `json:"afterLists" yaml:"afterLists"`
	BeforeDetail            Range `json:"beforeDetail" yaml:"beforeDetail"`
	BetweenDetailAndRelated Range `json:"betweenDetailAndRelated" yaml:"betweenDetailAndRelated"`
	BeforeAuth              Range `json:"beforeAuth" yaml:"beforeAuth"`
	Final                   Range `json:"final" yaml:"final"`
}

// Pacer produces jittered pauses between workflow steps.
type Pacer struct {
	rnd Rand
}

// NewPacer creates a Pacer drawing from rnd.
func NewPacer(rnd Rand) *Pacer {
	return &Pacer{rnd: rnd}
}

// Duration draws a pause uniformly from r.
func (p *Pacer) Duration(r Range) time.Duration {
	if r.IsZero() {
		return 0
	}
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(p.rnd.Float64()*float64(r.Max-r.Min))
}

// Pace blocks the caller for a jittered duration drawn from r. It returns
// false when the pause was cut short by ctx or by a close of stop.
func (p *Pacer) Pace(ctx context.Context, stop <-chan struct{}, r Range) bool {
	d := p.Duration(r)
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}
