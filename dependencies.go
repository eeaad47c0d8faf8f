package kernel

import (
	"slices"

	"github.com/GoCodeAlone/kernel/descriptor"
)

// Dependencies returns the sorted names of the beans b depends on: every
// injection in its constructor parameters and property values (including
// collection entries), its factory bean and its explicit depends entries.
func Dependencies(b *descriptor.Bean) []string {
	set := make(map[string]struct{})
	for _, d := range b.Depends {
		set[d] = struct{}{}
	}
	if c := b.Constructor; c != nil {
		if c.Factory != nil && c.Factory.Bean != "" {
			set[c.Factory.Bean] = struct{}{}
		}
		for _, p := range c.Parameters {
			collectInjections(p, set)
		}
	}
	for _, p := range b.Properties {
		collectInjections(p.Value, set)
	}

	deps := make([]string, 0, len(set))
	for d := range set {
		deps = append(deps, d)
	}
	slices.Sort(deps)
	return deps
}

func collectInjections(v descriptor.Value, set map[string]struct{}) {
	switch v.Kind() {
	case descriptor.KindInject:
		set[v.Inject.Bean] = struct{}{}
	case descriptor.KindMap:
		for _, e := range v.Map.Entries {
			collectInjections(e.Key, set)
			collectInjections(e.Value, set)
		}
	case descriptor.KindList:
		for _, e := range v.List.Values {
			collectInjections(e, set)
		}
	case descriptor.KindSet:
		for _, e := range v.Set.Values {
			collectInjections(e, set)
		}
	}
}

// dependencyGraph maps each bean of a submission to its dependencies.
type dependencyGraph map[string][]string

func buildGraph(d *descriptor.Deployment) dependencyGraph {
	g := make(dependencyGraph, len(d.Beans))
	for i := range d.Beans {
		g[d.Beans[i].Name] = Dependencies(&d.Beans[i])
	}
	return g
}

// FindCycle returns a dependency cycle among the beans of d, starting and
// ending with the same bean, or nil.
func FindCycle(d *descriptor.Deployment) []string {
	return buildGraph(d).findCycle(d.Names())
}

// findCycle returns a dependency cycle among the beans of the submission,
// starting and ending with the same bean, or nil. Edges to beans outside the
// submission are ignored: those beans are already live or unknown, and
// neither can wait on this submission.
func (g dependencyGraph) findCycle(order []string) []string {
	visited := make(map[string]bool, len(g))
	onPath := make(map[string]bool, len(g))
	var path []string

	var visit func(string) []string
	visit = func(node string) []string {
		if onPath[node] {
			start := slices.Index(path, node)
			return append(slices.Clone(path[start:]), node)
		}
		if visited[node] {
			return nil
		}
		onPath[node] = true
		path = append(path, node)

		for _, dep := range g[node] {
			if _, inSubmission := g[dep]; !inSubmission {
				continue
			}
			if cycle := visit(dep); cycle != nil {
				return cycle
			}
		}

		path = path[:len(path)-1]
		onPath[node] = false
		visited[node] = true
		return nil
	}

	for _, node := range order {
		if cycle := visit(node); cycle != nil {
			return cycle
		}
	}
	return nil
}
