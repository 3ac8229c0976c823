package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/platinummonkey/webcompile/pkg/compilation"
	"github.com/platinummonkey/webcompile/pkg/compilation/buildresult"
	"github.com/platinummonkey/webcompile/pkg/compilation/guard"
	"github.com/sirupsen/logrus"
)

// InvalidateAssembly removes every result built into or against the named
// assembly, cascading to assemblies compiled against it. Loaded assemblies
// cannot be unloaded, so a non-empty invalidation counts toward the
// recycle threshold.
func (m *BuildManager) InvalidateAssembly(ctx context.Context, name string) []string {
	sess := guard.NewSession()
	m.lock.Acquire(sess)
	defer m.lock.Release(sess)

	keys := m.deps.Cache.RemoveAssembly(ctx, name)
	if len(keys) > 0 {
		m.recordRecompilation(fmt.Sprintf("assembly %s invalidated", name))
	}

	m.logger.WithFields(logrus.Fields{
		"assembly": name,
		"removed":  len(keys),
	}).Info("Assembly invalidated")
	return keys
}

// InvalidateDependency evicts the memory entries depending on vpath. A
// removed entry flagged shutdown-on-change requests a recycle.
func (m *BuildManager) InvalidateDependency(ctx context.Context, vpath string) []string {
	vpath = compilation.CleanPath(vpath)
	removed := m.deps.Cache.RemoveDependency(vpath)

	keys := make([]string, 0, len(removed))
	for key, r := range removed {
		keys = append(keys, key)
		if r.HasFlag(buildresult.FlagShutdownOnChange) {
			m.RequestRecycle(fmt.Sprintf("%s changed", vpath))
		}
	}
	sort.Strings(keys)

	if len(keys) > 0 {
		m.logger.WithFields(logrus.Fields{
			"path":    vpath,
			"removed": len(keys),
		}).Debug("Dependency changed")
	}
	return keys
}

// Recycle is closed once a process recycle has been requested
func (m *BuildManager) Recycle() <-chan struct{} {
	return m.recycler.Requested()
}

// RecycleReason returns why a recycle was requested
func (m *BuildManager) RecycleReason() string {
	return m.recycler.Reason()
}

// Recompilations returns how many loaded assemblies were superseded
func (m *BuildManager) Recompilations() int64 {
	return m.recycler.Count()
}

// RequestRecycle requests a process recycle
func (m *BuildManager) RequestRecycle(reason string) {
	if m.recycler.IsRequested() {
		return
	}
	m.recycler.Request(reason)
	m.deps.Observer.RecycleRequested(reason)
	m.logger.WithField("reason", reason).Warn("Process recycle requested")
}

// recordRecompilation counts a recompilation that leaves an assembly loaded
func (m *BuildManager) recordRecompilation(reason string) {
	wasRequested := m.recycler.IsRequested()
	if m.recycler.RecordRecompilation() && !wasRequested {
		m.deps.Observer.RecycleRequested(reason)
		m.logger.WithFields(logrus.Fields{
			"reason":         reason,
			"recompilations": m.recycler.Count(),
		}).Warn("Recompilation limit reached, process recycle requested")
	}
}
