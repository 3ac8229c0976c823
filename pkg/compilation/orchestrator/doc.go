// Package orchestrator coordinates compilation.
//
// A BuildManager answers GetOrBuild from the result cache and, on a miss,
// takes the compilation lock, compiles the top-level files once, batches
// the unit's directory and falls back to compiling the unit alone. Batches
// of one dependency level are generated serially and compiled in parallel;
// every level is cached before the next one starts.
//
// Locking: the compilation lock is re-entrant per guard.Session. Worker
// goroutines compiling batches never take it.
package orchestrator
