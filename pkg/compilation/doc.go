// Package compilation holds the shared vocabulary of the dynamic compilation
// subsystem: build units, diagnostics, the error taxonomy and the collaborator
// interfaces consumed by the orchestrator.
//
// The subsystem is organized as follows:
//
//   - fingerprint: dependency state hashing used as cache validity signature
//   - buildresult: the tagged union produced by compiling a unit
//   - cache: tiered build result cache (memory, codegen disk, precompiled, redis)
//   - batch: dependency levels and capacity bounded batch grouping
//   - assembly: one compiler invocation over a batch of units
//   - guard: compilation lock, build sessions and recycle signalling
//   - orchestrator: the BuildManager tying everything together
//
// Example usage:
//
//	mgr, err := orchestrator.New(cfg, orchestrator.Deps{
//		Resolver:  host,
//		Dirs:      host,
//		Source:    host,
//		Compilers: compilers,
//	})
//	if err != nil {
//		return err
//	}
//	if err := mgr.Initialize(ctx); err != nil {
//		return err
//	}
//	result, err := mgr.GetOrBuild(ctx, nil, "~/default.aspx")
package compilation
