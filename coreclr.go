// ABOUTME: Root package providing version information and package documentation
// ABOUTME: This is the coordination boundary between a tracing GC and its host

// Package coreclr implements the coordination protocol between a tracing
// garbage collector and the execution engine hosting mutator threads. It
// covers thread suspension and resumption, root scanning, write-barrier
// relocation, and the collection cycle state machine. The mark/sweep
// algorithms themselves and machine-level stack walking are external
// collaborators, specified only at their interface to this core.
package coreclr

// Version is the semantic version of the coordination core
const Version = "0.1.0-dev"
