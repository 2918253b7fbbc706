// Package graph builds the read-only dependency view over a merged task
// set: acyclicity validation with full cycle reporting, and resolution
// order as dependency-first groups honoring each task's parallel flag.
package graph

import (
	"sort"

	"github.com/stride-run/stride/internal/config"
)

// Group is one scheduling unit in a resolution order: either a single task
// or a set of sibling dependencies to be started concurrently.
type Group struct {
	Tasks    []string
	Parallel bool
}

// Graph is a validated, immutable dependency view. Tasks are stored in a
// flat name-indexed map; edges are name references resolved through it.
type Graph struct {
	tasks map[string]config.Task
}

// Build validates the task set and returns a Graph. Unknown dependency
// names yield UnknownTaskError and cycles yield CycleError; both are
// detected here, before any task runs.
func Build(tasks map[string]config.Task) (*Graph, error) {
	names := sortedNames(tasks)

	for _, name := range names {
		for _, dep := range tasks[name].Deps {
			if _, ok := tasks[dep]; !ok {
				return nil, &UnknownTaskError{Task: dep, ReferencedBy: name}
			}
		}
	}

	g := &Graph{tasks: tasks}
	if err := g.checkAcyclic(names); err != nil {
		return nil, err
	}
	return g, nil
}

// Task returns the task definition for a name.
func (g *Graph) Task(name string) (config.Task, bool) {
	t, ok := g.tasks[name]
	return t, ok
}

// Names returns all task names sorted lexically.
func (g *Graph) Names() []string {
	return sortedNames(g.tasks)
}

// checkAcyclic runs a DFS from every node, tracking an in-current-path
// marker set and a fully-resolved set. Encountering a node already on the
// current path yields a CycleError carrying the ordered cycle.
func (g *Graph) checkAcyclic(names []string) error {
	const (
		unvisited = 0
		onPath    = 1
		resolved  = 2
	)
	state := make(map[string]int, len(g.tasks))
	var path []string

	var dfs func(name string) *CycleError
	dfs = func(name string) *CycleError {
		state[name] = onPath
		path = append(path, name)

		for _, dep := range g.tasks[name].Deps {
			switch state[dep] {
			case resolved:
				continue
			case onPath:
				// Slice the current path from the first occurrence of dep
				// and close the loop for reporting.
				start := 0
				for i, n := range path {
					if n == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, path[start:]...), dep)
				return &CycleError{Path: cycle}
			default:
				if err := dfs(dep); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		state[name] = resolved
		return nil
	}

	for _, name := range names {
		if state[name] == unvisited {
			if err := dfs(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// ResolutionOrder returns the ordered groups required to run root: every
// dependency appears in some group before its dependent, each task appears
// exactly once, and the root is the final group. A group is parallel when
// the dependent task declared parallel = true for its dependency set.
func (g *Graph) ResolutionOrder(root string) ([]Group, error) {
	if _, ok := g.tasks[root]; !ok {
		return nil, &UnknownTaskError{Task: root}
	}

	visited := make(map[string]bool, len(g.tasks))
	var order []Group
	g.visit(root, true, visited, &order)
	return order, nil
}

// visit schedules everything name depends on, then (when emitSelf) name
// itself. Tasks already scheduled are skipped, so shared dependencies run
// once per invocation.
func (g *Graph) visit(name string, emitSelf bool, visited map[string]bool, order *[]Group) {
	if visited[name] {
		return
	}
	t := g.tasks[name]

	if t.Parallel && len(t.Deps) > 1 {
		// Satisfy each sibling's own dependency chain first, then start the
		// remaining siblings as one concurrent group. A sibling consumed by
		// another sibling's chain has already been emitted sequentially.
		for _, dep := range t.Deps {
			g.visit(dep, false, visited, order)
		}
		var members []string
		for _, dep := range t.Deps {
			if !visited[dep] {
				visited[dep] = true
				members = append(members, dep)
			}
		}
		if len(members) == 1 {
			*order = append(*order, Group{Tasks: members})
		} else if len(members) > 1 {
			*order = append(*order, Group{Tasks: members, Parallel: true})
		}
	} else {
		// Sequential dependencies preserve declared order.
		for _, dep := range t.Deps {
			g.visit(dep, true, visited, order)
		}
	}

	if emitSelf {
		visited[name] = true
		*order = append(*order, Group{Tasks: []string{name}})
	}
}

func sortedNames(tasks map[string]config.Task) []string {
	names := make([]string, 0, len(tasks))
	for name := range tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
