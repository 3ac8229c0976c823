// Package config loads application configuration.
//
// Settings come from an optional YAML file, then WEBCOMPILE_* environment
// variables, and are validated last.
//
//	server:
//	  port: "8080"
//	  rate_limit:
//	    requests: 60
//	    window: 1m
//	    distributed: true
//	site:
//	  root: /srv/www
//	  codegen_dir: /var/lib/webcompile
//	compilation:
//	  batch: true
//	  max_batch_size: 1000
//	compiler:
//	  backend: docker
//	cache:
//	  redis_url: redis://localhost:6379/0
//	history:
//	  driver: postgres
//	  dsn: postgres://localhost/webcompile?sslmode=disable
//
// Environment overrides:
//
//	WEBCOMPILE_SITE_ROOT="/srv/www"
//	WEBCOMPILE_CODEGEN_DIR="/var/lib/webcompile"
//	WEBCOMPILE_COMPILER_BACKEND="docker"
//	WEBCOMPILE_UP_TO_DATE_CHECK_INTERVAL="2s"
//	WEBCOMPILE_REDIS_URL="redis://localhost:6379"
//	WEBCOMPILE_HISTORY_DRIVER="sqlite3"
//	WEBCOMPILE_LOG_LEVEL="debug"
//
// Usage:
//
//	cfg, err := config.Load("webcompile.yaml")
//	manager, err := orchestrator.New(cfg.Orchestrator(), deps)
package config
