package batch

import (
	"github.com/platinummonkey/webcompile/pkg/compilation"
)

// Levels partitions units by dependency depth. Level 0 holds units with no
// dependency inside the set; a unit's level is one more than the deepest of
// its dependencies. Dependencies on units outside the set are ignored.
// Paths on both ends of an edge are compared in clean form.
// Within a level units keep their input order.
//
// The walk uses an explicit stack so deep dependency chains cannot exhaust
// the goroutine stack. A cycle yields a *compilation.CircularReferenceError
// naming the unit that closed it.
func Levels(units []*compilation.BuildUnit) ([][]*compilation.BuildUnit, error) {
	if len(units) == 0 {
		return nil, nil
	}

	index := make(map[string]int, len(units))
	for i, u := range units {
		index[compilation.CleanPath(u.VirtualPath)] = i
	}

	edges := make([][]int, len(units))
	for i, u := range units {
		for _, dep := range u.DependsOn {
			if j, ok := index[compilation.CleanPath(dep)]; ok && j != i {
				edges[i] = append(edges[i], j)
			}
		}
	}

	depth := make([]int, len(units))
	visited := make([]bool, len(units))
	onStack := make([]bool, len(units))

	type frame struct {
		node int
		next int // next edge to follow
	}

	for root := range units {
		if visited[root] {
			continue
		}

		stack := []frame{{node: root}}
		visited[root] = true
		onStack[root] = true

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(edges[top.node]) {
				dep := edges[top.node][top.next]
				top.next++

				if onStack[dep] {
					return nil, &compilation.CircularReferenceError{VirtualPath: units[dep].VirtualPath}
				}
				if !visited[dep] {
					visited[dep] = true
					onStack[dep] = true
					stack = append(stack, frame{node: dep})
				}
				continue
			}

			// All dependencies are placed
			node := top.node
			for _, dep := range edges[node] {
				if depth[dep]+1 > depth[node] {
					depth[node] = depth[dep] + 1
				}
			}
			onStack[node] = false
			stack = stack[:len(stack)-1]
		}
	}

	maxDepth := 0
	for _, d := range depth {
		if d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([][]*compilation.BuildUnit, maxDepth+1)
	for i, u := range units {
		levels[depth[i]] = append(levels[depth[i]], u)
	}
	return levels, nil
}
