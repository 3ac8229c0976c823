// Package cli implements the webcompile command-line tool for precompiling
// sites and maintaining codegen directories.
//
// # Commands
//
// precompile: compile every unit of a site into a deployable directory. All
// errors are reported and the command fails when any unit failed; the target
// is removed in that case.
//
//	webcompile-cli precompile \
//		-site ./site \
//		-target ./dist \
//		-publish-bucket releases
//
// compile: build individual paths through the cache, or whole directories
// with -batch
//
//	webcompile-cli compile -site ./site ~/default.aspx ~/admin/users.aspx
//	webcompile-cli compile -site ./site -batch ~/admin
//
// clean: remove stale temporary files, or with -all every generated file
//
//	webcompile-cli clean -codegen /var/cache/webcompile -all
//
// history: list recent compilations
//
//	webcompile-cli history -config webcompile.yaml -failed -limit 10
//
// Every command reads the YAML configuration named by -config (default
// webcompile.yaml, a missing file means defaults) and the WEBCOMPILE_*
// environment variables.
package cli
