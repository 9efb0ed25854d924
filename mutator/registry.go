// ABOUTME: Arena-style registry of mutator threads and the suspension barrier
// ABOUTME: Implements trap/park/resume with a bounded safe-point retry budget

package mutator

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrSuspendTimeout indicates a thread failed to reach a safe point
	// within the retry budget. This is a missed safe point, a correctness
	// bug, not a recoverable condition.
	ErrSuspendTimeout = errors.New("mutator: thread failed to reach a safe point within budget")

	// ErrOverlappingSuspension indicates a second suspension was requested
	// while one was already in flight
	ErrOverlappingSuspension = errors.New("mutator: overlapping suspension request")

	// ErrUnpairedResume indicates Resume was called with no suspension in flight
	ErrUnpairedResume = errors.New("mutator: resume without matching suspension")

	// ErrUnbalancedDisable indicates EnablePreemptive was called more times
	// than DisablePreemptive
	ErrUnbalancedDisable = errors.New("mutator: unbalanced preemptive enable")
)

// SuspendReason records why the world is being stopped
type SuspendReason int

const (
	// SuspendForGC is a suspension for a collection cycle
	SuspendForGC SuspendReason = iota
	// SuspendForGCPrep is a suspension preparing heap structures before a cycle
	SuspendForGCPrep
	// SuspendForShutdown is a suspension for process teardown
	SuspendForShutdown
)

// FatalFunc handles an unrecoverable protocol failure. It must not return;
// the registry panics with the error if it does.
type FatalFunc func(err error)

// FlushFunc receives a departing thread's allocation context so the heap
// manager can return its unused space
type FlushFunc func(t *Thread, ac AllocContext)

// Config bounds the suspension barrier's wait for stragglers
type Config struct {
	// SpinBudget is the number of polling rounds before a straggler is
	// treated as a fatal protocol violation
	SpinBudget int
	// PollInterval is the sleep between polling rounds
	PollInterval time.Duration
}

// DefaultConfig is the barrier budget used when none is supplied
var DefaultConfig = Config{SpinBudget: 4000, PollInterval: 250 * time.Microsecond}

// Registry tracks every mutator thread in a stable table indexed by thread
// identity. All suspension-state mutation goes through this API; there is
// no ambient global state outside it.
type Registry struct {
	// Fatal is invoked on unrecoverable protocol failures. Defaults to
	// panicking with the error.
	Fatal FatalFunc

	// Flush receives each departing thread's allocation context
	Flush FlushFunc

	cfg Config

	mu     sync.Mutex
	resume *sync.Cond // broadcast to release parked threads

	threads map[uint64]*Thread
	nextID  uint64

	trap           atomic.Bool // suspension pending, read on the safe-point fast path
	reason         SuspendReason
	suspendedCount int
}

// NewRegistry creates an empty thread registry with the given barrier budget.
// A zero Config selects DefaultConfig.
func NewRegistry(cfg Config) *Registry {
	if cfg.SpinBudget == 0 {
		cfg.SpinBudget = DefaultConfig.SpinBudget
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	r := &Registry{
		cfg:     cfg,
		threads: make(map[uint64]*Thread),
	}
	r.resume = sync.NewCond(&r.mu)
	return r
}

// Register creates a mutator thread record and returns its handle. The
// handle is the thread's identity for every subsequent protocol call;
// collector-internal workers are simply never registered. If a suspension
// is in flight, registration blocks until the world resumes, so the
// barrier's view of the thread set is stable for the whole pause.
func (r *Registry) Register(name string) *Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.trap.Load() {
		r.resume.Wait()
	}
	r.nextID++
	t := &Thread{reg: r, id: r.nextID, name: name}
	r.threads[t.id] = t
	return t
}

// Unregister removes the thread from the registry, flushing its allocation
// context to the heap manager. Must be called on thread exit, outside any
// GC-disabled region. If a suspension is in flight the call blocks until
// the world resumes.
func (r *Registry) Unregister(t *Thread) {
	if t.GCDisabled() {
		r.fatal(fmt.Errorf("%w: thread %q exited inside a GC-disabled region", ErrUnbalancedDisable, t.name))
	}
	r.mu.Lock()
	// Thread exit is itself a safe point: while a suspension is in
	// flight the departing thread parks here so the barrier still counts it
	for r.trap.Load() {
		t.state.Store(int32(Suspended))
		r.suspendedCount++
		r.resume.Wait()
		r.suspendedCount--
	}
	t.state.Store(int32(Running))
	delete(r.threads, t.id)
	ac := t.alloc
	t.alloc = AllocContext{}
	r.mu.Unlock()
	if r.Flush != nil {
		r.Flush(t, ac)
	}
}

// RequestSuspension marks every registered thread's trap flag and returns
// only after every one of them is confirmed Suspended. Threads outside
// GC-disabled regions stop at their next safe point; threads inside one
// continue until they exit it, then stop immediately. A thread that fails
// to park within the retry budget is a fatal protocol violation, as is a
// request that overlaps an in-flight suspension. The caller must pair each
// successful return with exactly one Resume.
func (r *Registry) RequestSuspension(reason SuspendReason) {
	r.mu.Lock()
	if r.trap.Load() {
		r.mu.Unlock()
		r.fatal(ErrOverlappingSuspension)
	}
	r.reason = reason
	r.trap.Store(true)
	for _, t := range r.threads {
		t.state.CompareAndSwap(int32(Running), int32(SuspendRequested))
	}
	r.mu.Unlock()

	for round := 0; ; round++ {
		r.mu.Lock()
		if r.suspendedCount == len(r.threads) {
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()
		if round >= r.cfg.SpinBudget {
			r.fatal(fmt.Errorf("%w: %s", ErrSuspendTimeout, r.describeStragglers()))
		}
		time.Sleep(r.cfg.PollInterval)
	}
}

// Resume clears the trap and releases every parked thread. It must be
// called exactly once per successful RequestSuspension. cycleCompleted
// records whether the world is restarting because a collection finished,
// as opposed to an aborted preparatory pause.
func (r *Registry) Resume(cycleCompleted bool) {
	_ = cycleCompleted
	r.mu.Lock()
	if !r.trap.Load() {
		r.mu.Unlock()
		r.fatal(ErrUnpairedResume)
	}
	r.trap.Store(false)
	r.resume.Broadcast()
	r.mu.Unlock()
}

// TrapPending reports whether a suspension is pending. This is the
// safe-point fast-path check.
func (r *Registry) TrapPending() bool {
	return r.trap.Load()
}

// Reason returns the reason of the in-flight or most recent suspension
func (r *Registry) Reason() SuspendReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

// IsGCDisabled reports whether the given thread is inside a GC-disabled region
func (r *Registry) IsGCDisabled(t *Thread) bool {
	return t.GCDisabled()
}

// AllSuspended reports whether every registered thread is parked. Root
// scanning uses this as its precondition.
func (r *Registry) AllSuspended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trap.Load() && r.suspendedCount == len(r.threads)
}

// SuspendedCount returns the number of currently parked threads
func (r *Registry) SuspendedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suspendedCount
}

// NumThreads returns the number of registered threads
func (r *Registry) NumThreads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.threads)
}

// ForEachThread iterates over all registered threads. The snapshot is
// taken under the registry lock; fn runs without it.
func (r *Registry) ForEachThread(fn func(*Thread)) {
	r.mu.Lock()
	snapshot := make([]*Thread, 0, len(r.threads))
	for _, t := range r.threads {
		snapshot = append(snapshot, t)
	}
	r.mu.Unlock()
	for _, t := range snapshot {
		fn(t)
	}
}

// describeStragglers names the threads not yet parked, for the fatal report
func (r *Registry) describeStragglers() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := ""
	for _, t := range r.threads {
		if t.State() != Suspended {
			if s != "" {
				s += ", "
			}
			s += fmt.Sprintf("%s(#%d %s gcDisable=%d)", t.name, t.id, t.State(), t.gcDisable.Load())
		}
	}
	if s == "" {
		return "no straggler identified"
	}
	return s
}

// fatal dispatches to the configured handler and panics if it returns
func (r *Registry) fatal(err error) {
	if r.Fatal != nil {
		r.Fatal(err)
	}
	panic(err)
}
