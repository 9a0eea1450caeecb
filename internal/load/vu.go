package load

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is between iterations.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is inside an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU has been asked to retire.
	VUStateStopping
	// VUStateStopped indicates the VU loop has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser is one simulated shopper. Its token source, context and
// iteration counter belong to its own loop.
type VirtualUser struct {
	// ID is 1-based and never reused within a run.
	ID int

	// Workflow run on every iteration
	Workflow *Workflow

	// Tokens supplies the bearer token for the auth step
	Tokens TokenSource

	state atomic.Int32

	stopCh   chan struct{}
	doneCh   chan struct{}
	doneOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	forceMu    sync.Mutex
	forceTimer *time.Timer
	forced     atomic.Bool

	iteration atomic.Int64
	last      atomic.Pointer[IterationResult]
}

// NewVirtualUser creates a VU whose loop runs under a child of parent.
func NewVirtualUser(parent context.Context, id int, workflow *Workflow, tokens TokenSource) *VirtualUser {
	ctx, cancel := context.WithCancel(parent)
	return &VirtualUser{
		ID:       id,
		Workflow: workflow,
		Tokens:   tokens,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// LastIteration returns the result of the most recent completed iteration.
func (vu *VirtualUser) LastIteration() (IterationResult, bool) {
	if r := vu.last.Load(); r != nil {
		return *r, true
	}
	return IterationResult{}, false
}

// Context returns the VU's own context. It is cancelled on forced stop.
func (vu *VirtualUser) Context() context.Context {
	return vu.ctx
}

// RunIteration executes a single workflow iteration. It returns an error
// when the VU is retiring or its context was cancelled during the
// iteration.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		return fmt.Errorf("VU %d is stopping or stopped", vu.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	vu.iteration.Add(1)
	result := vu.Workflow.Run(ctx, vu)
	vu.last.Store(&result)

	vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))
	return ctx.Err()
}

// RequestStop asks the VU to retire after its in-flight iteration. It
// returns false if the VU was already retiring or stopped.
func (vu *VirtualUser) RequestStop() bool {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
		return true
	}
	return false
}

// StopRequested reports whether RequestStop has been called.
func (vu *VirtualUser) StopRequested() bool {
	select {
	case <-vu.stopCh:
		return true
	default:
		return false
	}
}

// ForceStop cancels the VU's context, abandoning any in-flight call.
func (vu *VirtualUser) ForceStop() {
	select {
	case <-vu.doneCh:
		return
	default:
	}
	vu.forced.Store(true)
	vu.cancel()
}

// Forced reports whether the VU was force-stopped before exiting.
func (vu *VirtualUser) Forced() bool {
	return vu.forced.Load()
}

// forceAfter arms the graceful-retirement deadline.
func (vu *VirtualUser) forceAfter(grace time.Duration) {
	if grace <= 0 {
		vu.ForceStop()
		return
	}
	vu.forceMu.Lock()
	defer vu.forceMu.Unlock()
	if vu.forceTimer == nil {
		vu.forceTimer = time.AfterFunc(grace, vu.ForceStop)
	}
}

// Done is closed once the VU loop has exited.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

// MarkStopped marks the VU as fully stopped and releases its context.
// Should be called when the VU goroutine exits.
func (vu *VirtualUser) MarkStopped() {
	vu.state.Store(int32(VUStateStopped))

	vu.forceMu.Lock()
	if vu.forceTimer != nil {
		vu.forceTimer.Stop()
	}
	vu.forceMu.Unlock()

	vu.doneOnce.Do(func() {
		vu.cancel()
		close(vu.doneCh)
	})
}
