package batch

import (
	"github.com/platinummonkey/webcompile/pkg/compilation"
)

// Skippable reports whether a unit can be left out of a directory batch:
// pass-through code or resource files are only compiled when another unit
// needs them. dependents counts the units depending on it.
func Skippable(unit *compilation.BuildUnit, dependents int) bool {
	if !unit.PassThrough || dependents > 0 {
		return false
	}
	return unit.Kind == compilation.KindCode || unit.Kind == compilation.KindResource
}

// ApplySkipPolicy drops skippable units and returns the rest in input order
func ApplySkipPolicy(units []*compilation.BuildUnit) []*compilation.BuildUnit {
	dependents := make(map[string]int, len(units))
	for _, u := range units {
		self := compilation.CleanPath(u.VirtualPath)
		for _, dep := range u.DependsOn {
			if dep = compilation.CleanPath(dep); dep != self {
				dependents[dep]++
			}
		}
	}

	kept := make([]*compilation.BuildUnit, 0, len(units))
	for _, u := range units {
		if Skippable(u, dependents[compilation.CleanPath(u.VirtualPath)]) {
			continue
		}
		kept = append(kept, u)
	}
	return kept
}
