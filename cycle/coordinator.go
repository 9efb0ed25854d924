// ABOUTME: Collection cycle coordinator: the suspension/scan/sweep state machine
// ABOUTME: Enforces single-flight cycles, phase-legal transitions, and the fatal path

package cycle

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jsportaro/coreclr/barrier"
	"github.com/jsportaro/coreclr/diag"
	"github.com/jsportaro/coreclr/heap"
	"github.com/jsportaro/coreclr/mutator"
	"github.com/jsportaro/coreclr/scan"
)

// Phase is a state of the collection cycle state machine
type Phase int32

const (
	// PhaseIdle means no cycle is in flight
	PhaseIdle Phase = iota
	// PhaseSuspendRequested means the trap is set and the barrier is waiting
	PhaseSuspendRequested
	// PhaseSuspended means every mutator is parked
	PhaseSuspended
	// PhaseScanning means roots are being enumerated
	PhaseScanning
	// PhaseConcurrentMark means mutators run while the collector marks
	PhaseConcurrentMark
	// PhaseMutating means the heap manager's algorithm is running
	PhaseMutating
	// PhasePreSweepNotify means survivor notifications and relocation are firing
	PhasePreSweepNotify
	// PhaseSweeping means sweep-side notifications have been delivered
	PhaseSweeping
	// PhaseResuming means the world is being released
	PhaseResuming
)

// String returns a readable name for the phase
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseSuspendRequested:
		return "SuspendRequested"
	case PhaseSuspended:
		return "Suspended"
	case PhaseScanning:
		return "Scanning"
	case PhaseConcurrentMark:
		return "ConcurrentMark"
	case PhaseMutating:
		return "Mutating"
	case PhasePreSweepNotify:
		return "PreSweepNotify"
	case PhaseSweeping:
		return "Sweeping"
	case PhaseResuming:
		return "Resuming"
	}
	return "Unknown"
}

// validNext encodes the legal phase transitions of the cycle state
// machine; anything else is a protocol violation
func validNext(from, to Phase) bool {
	switch from {
	case PhaseIdle:
		return to == PhaseSuspendRequested
	case PhaseSuspendRequested:
		return to == PhaseSuspended
	case PhaseSuspended:
		return to == PhaseScanning || to == PhaseConcurrentMark
	case PhaseConcurrentMark:
		return to == PhaseSuspendRequested
	case PhaseScanning:
		return to == PhaseMutating
	case PhaseMutating:
		return to == PhasePreSweepNotify
	case PhasePreSweepNotify:
		return to == PhaseSweeping
	case PhaseSweeping:
		return to == PhaseResuming
	case PhaseResuming:
		return to == PhaseIdle
	}
	return false
}

// Cycle identifies one collection cycle. It exists only for the cycle's
// duration; the record is discarded on return to Idle.
type Cycle struct {
	Index      uint64 // monotonic cycle index
	Condemned  heap.Generation
	Induced    bool
	Concurrent bool
}

// Options wires a Coordinator to its collaborators
type Options struct {
	Host        Host               // required
	HeapManager HeapManager        // required
	Registry    *mutator.Registry  // required
	Scanner     *scan.Scanner      // required
	Barrier     *barrier.Coordinator // required
	Notifier    *diag.Notifier     // optional; a fresh silent notifier is used when nil
	SyncCache   scan.SyncCache     // optional
}

// Coordinator orchestrates suspension, scanning, the heap manager's
// mutating phase, sweeping notifications, and resumption. Exactly one
// cycle is in flight system-wide; concurrent triggers coalesce onto it.
type Coordinator struct {
	host      Host
	heapMgr   HeapManager
	registry  *mutator.Registry
	scanner   *scan.Scanner
	barrier   *barrier.Coordinator
	notifier  *diag.Notifier
	syncCache scan.SyncCache

	name  string
	phase atomic.Int32

	mu        sync.Mutex
	done      *sync.Cond
	inFlight  bool
	nextIndex uint64
	completed uint64
}

// New validates the wiring and creates a coordinator. The registry's
// fatal hook is routed into the coordinator's fatal path so suspension
// failures terminate with the right exit code; a hook already installed
// on the registry still runs first, before the host is terminated.
func New(opts Options) (*Coordinator, error) {
	switch {
	case opts.Host == nil:
		return nil, errors.New("cycle: Options.Host is required")
	case opts.HeapManager == nil:
		return nil, errors.New("cycle: Options.HeapManager is required")
	case opts.Registry == nil:
		return nil, errors.New("cycle: Options.Registry is required")
	case opts.Scanner == nil:
		return nil, errors.New("cycle: Options.Scanner is required")
	case opts.Barrier == nil:
		return nil, errors.New("cycle: Options.Barrier is required")
	}
	if opts.Notifier == nil {
		opts.Notifier = &diag.Notifier{}
	}
	c := &Coordinator{
		host:      opts.Host,
		heapMgr:   opts.HeapManager,
		registry:  opts.Registry,
		scanner:   opts.Scanner,
		barrier:   opts.Barrier,
		notifier:  opts.Notifier,
		syncCache: opts.SyncCache,
	}
	c.done = sync.NewCond(&c.mu)
	prevFatal := c.registry.Fatal
	c.registry.Fatal = func(err error) {
		if prevFatal != nil {
			prevFatal(err)
		}
		code := ExitProtocolViolation
		if errors.Is(err, mutator.ErrSuspendTimeout) {
			code = ExitSuspensionTimeout
		}
		c.fatal(code, err)
	}
	if v, ok := c.host.StringConfig(NameConfigKey); ok {
		c.name = v.Value()
		v.Release()
	}
	return c, nil
}

// Name returns the host-configured collector name, if any
func (c *Coordinator) Name() string { return c.name }

// Phase returns the state machine's current phase
func (c *Coordinator) Phase() Phase {
	return Phase(c.phase.Load())
}

// CompletedCycles returns the index of the most recently completed cycle
func (c *Coordinator) CompletedCycles() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// TriggerCollection starts a collection of the given condemned generation,
// running the full cycle on the calling thread before returning its index.
// The caller must not be a registered mutator thread: the suspension
// barrier waits for every registered thread, including one blocked in this
// call. A trigger arriving while a cycle is in flight starts no new cycle;
// it blocks until the in-flight cycle completes and returns that cycle's
// index. Cycles are not cancellable once suspension is requested.
func (c *Coordinator) TriggerCollection(gen heap.Generation, induced bool) uint64 {
	if gen < heap.Gen0 {
		gen = heap.Gen0
	}
	if gen > heap.MaxGeneration {
		gen = heap.MaxGeneration
	}

	c.mu.Lock()
	if c.inFlight {
		for c.inFlight {
			c.done.Wait()
		}
		index := c.completed
		c.mu.Unlock()
		return index
	}
	c.inFlight = true
	c.nextIndex++
	cyc := Cycle{
		Index:      c.nextIndex,
		Condemned:  gen,
		Induced:    induced,
		Concurrent: c.backgroundEligible(gen),
	}
	c.mu.Unlock()

	c.run(cyc)

	c.mu.Lock()
	c.completed = cyc.Index
	c.inFlight = false
	c.done.Broadcast()
	c.mu.Unlock()
	return cyc.Index
}

// backgroundEligible decides whether a cycle runs in background mode: only
// full collections, only when the heap manager can mark concurrently, and
// only unless configuration or the host forces a blocking collection
func (c *Coordinator) backgroundEligible(gen heap.Generation) bool {
	if gen != heap.MaxGeneration {
		return false
	}
	if _, ok := c.heapMgr.(ConcurrentMarker); !ok {
		return false
	}
	if !boolConfigDefault(c.host, ConcurrentConfigKey, true) {
		return false
	}
	return !c.host.ForceBlockingFullGC()
}

// run drives one cycle through the state machine. Any failure inside is
// fatal; there is no recoverable-error channel once suspension begins.
func (c *Coordinator) run(cyc Cycle) {
	w := &World{c: c, cyc: cyc}

	c.transition(PhaseSuspendRequested)
	c.registry.RequestSuspension(mutator.SuspendForGC)
	c.transition(PhaseSuspended)
	c.notifier.CycleStart(cyc.Condemned, cyc.Induced)

	pass := scan.InitialMark
	if cyc.Concurrent {
		// Initial mark under the short pause, then release the world and
		// let the marker run behind the write barrier.
		c.scanPass(cyc, scan.BackgroundMark)
		c.transition(PhaseConcurrentMark)
		c.registry.Resume(false)
		c.heapMgr.(ConcurrentMarker).ConcurrentMark(cyc, w)
		c.transition(PhaseSuspendRequested)
		c.registry.RequestSuspension(mutator.SuspendForGC)
		c.transition(PhaseSuspended)
		pass = scan.Rescan
	}

	c.transition(PhaseScanning)
	c.scanPass(cyc, pass)

	c.transition(PhaseMutating)
	outcome := c.heapMgr.Collect(cyc, w)

	c.transition(PhasePreSweepNotify)
	for _, kind := range outcome.Survivors {
		c.notifier.SurvivorsWalked(kind)
	}
	if outcome.FReachableWalked {
		c.notifier.FReachableWalked()
	}
	if c.syncCache != nil {
		if outcome.Demoted {
			c.syncCache.Demote(heap.MaxGeneration)
		} else {
			c.syncCache.PromotionsGranted(heap.MaxGeneration)
		}
	}
	// Card table relocation must land before any mutator resumes; a stale
	// descriptor observed after resume is a correctness hole, not a bug to
	// retry around.
	if outcome.Relocation != nil {
		if err := c.barrier.Relocate(outcome.Relocation); err != nil {
			c.fatal(ExitProtocolViolation, fmt.Errorf("cycle %d: relocating card table: %w", cyc.Index, err))
		}
	}

	c.transition(PhaseSweeping)
	c.transition(PhaseResuming)
	c.registry.Resume(true)
	c.notifier.CycleEnd(cyc.Index, cyc.Condemned, outcome.Reason, cyc.Concurrent)
	c.host.SignalFinalization(outcome.FoundFinalizers)
	c.transition(PhaseIdle)
}

// scanPass runs one coordinator-driven root scan and fires the
// generation-bounds notification once static scanning completes
func (c *Coordinator) scanPass(cyc Cycle, pass scan.PassKind) {
	ctx := &scan.Context{
		Condemned: cyc.Condemned,
		MaxGen:    heap.MaxGeneration,
		Promote:   c.heapMgr.Promote,
		Pass:      pass,
	}
	if err := c.scanner.ScanRoots(ctx); err != nil {
		c.fatal(ExitProtocolViolation, fmt.Errorf("cycle %d: %w", cyc.Index, err))
	}
	c.notifier.GenerationBoundsChanged()
}

// transition moves the state machine to the next phase, terminating on an
// illegal move
func (c *Coordinator) transition(to Phase) {
	from := c.Phase()
	if !validNext(from, to) {
		c.fatal(ExitProtocolViolation, fmt.Errorf("cycle: illegal phase transition %s -> %s", from, to))
	}
	c.phase.Store(int32(to))
}

// fatal routes to the host's terminate path and panics if it returns
func (c *Coordinator) fatal(code int, err error) {
	c.host.Terminate(code)
	panic(err)
}
