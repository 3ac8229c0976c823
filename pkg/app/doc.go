// Package app assembles a compilation host from configuration: the site,
// compiler backend, cache tiers, build history, dependency watcher and
// build manager. Both the server and the precompiler use it.
//
//	a, err := app.New(ctx, cfg, app.Options{Logger: logger, Metrics: metrics})
//	if err != nil {
//		return err
//	}
//	defer a.Close()
//	if err := a.Start(ctx); err != nil {
//		return err
//	}
//	result, err := a.Manager.GetOrBuild(ctx, nil, "~/default.aspx")
package app
