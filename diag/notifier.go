// ABOUTME: Ordered best-effort fan-out of collection cycle phase events
// ABOUTME: Swallows consumer panics and flags consumers exceeding the callback budget

package diag

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jsportaro/coreclr/heap"
)

// ErrBudgetExceeded flags a consumer whose callback overran the notifier's
// budget and was abandoned. Reported through OnConsumerError; never aborts
// the cycle.
var ErrBudgetExceeded = errors.New("diag: consumer exceeded callback budget")

// Reason codes why a collection cycle ran
type Reason int

const (
	// ReasonInduced means the host explicitly requested the cycle
	ReasonInduced Reason = iota
	// ReasonAllocThreshold means an allocation budget was exhausted
	ReasonAllocThreshold
	// ReasonLowMemory means the cycle was triggered by memory pressure
	ReasonLowMemory
)

// SurvivorKind identifies which survivor set a walk notification covers
type SurvivorKind int

const (
	// SurvivorsYoung covers survivors of the condemned young generations
	SurvivorsYoung SurvivorKind = iota
	// SurvivorsOld covers survivors of a full, old-generation collection
	SurvivorsOld
	// SurvivorsBackground covers survivors found by a background cycle
	SurvivorsBackground
)

// Listener receives cycle-phase events. Implementations run on the
// collector's thread inside the pause; they must be quick and must not
// assume a failure aborts anything.
type Listener interface {
	CycleStart(gen heap.Generation, induced bool)
	GenerationBoundsChanged()
	CycleEnd(index uint64, gen heap.Generation, reason Reason, concurrent bool)
	SurvivorsWalked(kind SurvivorKind)
	FReachableWalked()
}

// Notifier fans cycle events out to registered listeners in registration
// order. Dispatch is best-effort: a listener that panics or overruns
// CallbackBudget is reported through OnConsumerError and the cycle
// proceeds; errors never propagate into the collection state machine.
type Notifier struct {
	// CallbackBudget bounds how long a dispatch waits on each listener
	// callback. A listener still running when the budget expires is
	// abandoned on its own goroutine and reported; dispatch moves to the
	// next listener so a stuck consumer cannot stall the pause. Zero
	// waits without bound.
	CallbackBudget time.Duration

	// OnConsumerError receives swallowed consumer failures. Nil drops
	// them. With a budget set, a panic in an abandoned listener is
	// reported from that listener's goroutine, so the hook must be safe
	// to call concurrently.
	OnConsumerError func(event string, err error)

	mu        sync.RWMutex
	listeners []Listener
}

// Register adds a listener to the fan-out
func (n *Notifier) Register(l Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, l)
}

// CycleStart announces a cycle beginning for the given condemned generation
func (n *Notifier) CycleStart(gen heap.Generation, induced bool) {
	n.dispatch("CycleStart", func(l Listener) { l.CycleStart(gen, induced) })
}

// GenerationBoundsChanged announces that static generation bounds moved
func (n *Notifier) GenerationBoundsChanged() {
	n.dispatch("GenerationBoundsChanged", func(l Listener) { l.GenerationBoundsChanged() })
}

// CycleEnd announces cycle completion
func (n *Notifier) CycleEnd(index uint64, gen heap.Generation, reason Reason, concurrent bool) {
	n.dispatch("CycleEnd", func(l Listener) { l.CycleEnd(index, gen, reason, concurrent) })
}

// SurvivorsWalked announces that a survivor set walk completed
func (n *Notifier) SurvivorsWalked(kind SurvivorKind) {
	n.dispatch("SurvivorsWalked", func(l Listener) { l.SurvivorsWalked(kind) })
}

// FReachableWalked announces that finalizer-reachable objects were walked
func (n *Notifier) FReachableWalked() {
	n.dispatch("FReachableWalked", func(l Listener) { l.FReachableWalked() })
}

func (n *Notifier) dispatch(event string, call func(Listener)) {
	n.mu.RLock()
	listeners := n.listeners
	n.mu.RUnlock()
	for _, l := range listeners {
		n.dispatchOne(event, l, call)
	}
}

// dispatchOne invokes one listener, waiting at most CallbackBudget for it
// to return. The abandoned goroutine of an overrunner keeps running; it
// holds no notifier state, so the worst case is a leaked consumer.
func (n *Notifier) dispatchOne(event string, l Listener, call func(Listener)) {
	if n.CallbackBudget <= 0 {
		n.invoke(event, l, call)
		return
	}
	returned := make(chan struct{})
	go func() {
		defer close(returned)
		n.invoke(event, l, call)
	}()
	timer := time.NewTimer(n.CallbackBudget)
	defer timer.Stop()
	select {
	case <-returned:
	case <-timer.C:
		n.report(event, fmt.Errorf("%w: %s still running after %v", ErrBudgetExceeded, event, n.CallbackBudget))
	}
}

func (n *Notifier) invoke(event string, l Listener, call func(Listener)) {
	defer func() {
		if r := recover(); r != nil {
			n.report(event, fmt.Errorf("diag: consumer panic in %s: %v", event, r))
		}
	}()
	call(l)
}

func (n *Notifier) report(event string, err error) {
	if n.OnConsumerError != nil {
		n.OnConsumerError(event, err)
	}
}
