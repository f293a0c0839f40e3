package engine

import "sync/atomic"

// verbosity is a process-wide verbosity level, set once during startup
// (cmd/kmerctl) and read by every worker thereafter. A small package-local
// singleton rather than a second logging facade.
var verbosity int32

// SetVerbosity configures the global verbosity level. Must be called
// before any worker goroutines are spawned; it is never mutated
// afterwards.
func SetVerbosity(level int) {
	atomic.StoreInt32(&verbosity, int32(level))
}

// V reports whether logging at the given level is enabled.
func V(level int) bool {
	return atomic.LoadInt32(&verbosity) >= int32(level)
}
