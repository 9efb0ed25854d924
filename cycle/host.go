// ABOUTME: Host-facing capability interface: config queries, finalization, fatal path
// ABOUTME: Defines exit codes and the explicitly released string config value

package cycle

// Exit codes for the fatal-error path. Partial collection state is never
// resumed; every code routes through Host.Terminate.
const (
	// ExitProtocolViolation is a phase-restricted operation invoked
	// outside its valid state, a collector/host contract bug
	ExitProtocolViolation = 2
	// ExitSuspensionTimeout is a thread that failed to reach a safe point
	// within the barrier's retry budget
	ExitSuspensionTimeout = 3
	// ExitHeapCorruption is a detected configuration or heap corruption
	ExitHeapCorruption = 4
)

// Config keys the coordinator queries from the host
const (
	// ConcurrentConfigKey enables the background/concurrent cycle mode
	ConcurrentConfigKey = "gcConcurrent"
	// NameConfigKey optionally names the collector instance for diagnostics
	NameConfigKey = "gcName"
)

// StringValue is a string configuration result that must be explicitly
// released by the caller once consumed. Hosts backing values with pooled
// or foreign storage reclaim it in the release hook.
type StringValue struct {
	s    string
	free func()
}

// NewStringValue wraps a config string with its release hook. free may be nil.
func NewStringValue(s string, free func()) StringValue {
	return StringValue{s: s, free: free}
}

// Value returns the string. Invalid after Release.
func (v StringValue) Value() string { return v.s }

// Release returns the value's storage to the host. Safe to call once.
func (v StringValue) Release() {
	if v.free != nil {
		v.free()
	}
}

// Host is the collector-facing capability set of the execution engine:
// configuration, the finalization signal, and the fatal-error path. The
// host and any test double both implement it; no deeper hierarchy exists.
type Host interface {
	// BoolConfig returns the value of a boolean config key, or ok=false
	// if the key is unset. Unset is an expected outcome, not an error;
	// callers fall back to defaults.
	BoolConfig(key string) (value bool, ok bool)

	// IntConfig returns the value of an integer config key, or ok=false if unset
	IntConfig(key string) (value int64, ok bool)

	// StringConfig returns the value of a string config key, or ok=false
	// if unset. The caller must Release the returned value.
	StringConfig(key string) (value StringValue, ok bool)

	// ForceBlockingFullGC lets the host elevate a would-be background
	// full collection to a blocking one
	ForceBlockingFullGC() bool

	// SignalFinalization tells the finalization subsystem whether the
	// completed cycle found finalizable survivors
	SignalFinalization(found bool)

	// Terminate is the fatal-error path. It must not return; the
	// coordinator panics with the triggering error if it does.
	Terminate(code int)
}

// boolConfigDefault queries key and falls back to def when unset
func boolConfigDefault(h Host, key string, def bool) bool {
	if v, ok := h.BoolConfig(key); ok {
		return v
	}
	return def
}
