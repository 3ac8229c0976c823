// Package guard serializes compilation.
//
// Lock protects cache population after a miss, directory batching and
// assembly invalidation. It is re-entrant per Session so that building a
// unit can recursively build what it depends on. Recycler signals when the
// process should restart because too many assemblies were superseded.
package guard
