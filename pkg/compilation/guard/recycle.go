package guard

import (
	"sync"
	"sync/atomic"

	"github.com/platinummonkey/webcompile/pkg/compilation/config"
)

// Recycler counts recompilations that leave unloadable assemblies behind.
// Crossing the threshold requests a process recycle once.
type Recycler struct {
	threshold int64
	count     atomic.Int64

	once      sync.Once
	requested chan struct{}
	reason    atomic.Value // string
}

// NewRecycler creates a recycler, threshold <= 0 uses the default
func NewRecycler(threshold int) *Recycler {
	if threshold <= 0 {
		threshold = config.DefaultMaxRecompilations
	}
	return &Recycler{
		threshold: int64(threshold),
		requested: make(chan struct{}),
	}
}

// RecordRecompilation counts one recompilation and reports whether a
// recycle is now requested
func (r *Recycler) RecordRecompilation() bool {
	if r.count.Add(1) >= r.threshold {
		r.Request("recompilation limit reached")
		return true
	}
	return false
}

// Request forces a recycle. Only the first reason is kept.
func (r *Recycler) Request(reason string) {
	r.once.Do(func() {
		r.reason.Store(reason)
		close(r.requested)
	})
}

// Requested is closed when a recycle has been requested
func (r *Recycler) Requested() <-chan struct{} {
	return r.requested
}

// IsRequested reports whether a recycle has been requested
func (r *Recycler) IsRequested() bool {
	select {
	case <-r.requested:
		return true
	default:
		return false
	}
}

// Reason returns why the recycle was requested
func (r *Recycler) Reason() string {
	if v, ok := r.reason.Load().(string); ok {
		return v
	}
	return ""
}

// Count returns the number of recorded recompilations
func (r *Recycler) Count() int64 {
	return r.count.Load()
}
