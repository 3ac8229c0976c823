// Package watch invalidates cached build results when the files they depend
// on change.
//
// The build manager hands every result placed in the memory tier to Watch.
// Run delivers change events back to the manager:
//
//	w, err := watch.New(site, logger)
//	manager, err := orchestrator.New(cfg, orchestrator.Deps{Watcher: w, ...})
//	go w.Run(ctx, manager)
package watch
