// Package history records every compiler invocation in a SQL database.
//
// Store implements orchestrator.Recorder. PostgreSQL is used in production
// deployments and SQLite for single-host installs:
//
//	store, err := history.Open(ctx, history.Postgres, dsn)
//	manager, err := orchestrator.New(cfg, orchestrator.Deps{History: store, ...})
//
//	failed := false
//	recent, err := store.Search(ctx, history.Filter{Success: &failed, Limit: 20})
package history
