package lineage

import "sort"

// ReverseIndex maps a source reference to the set of column identifiers
// that declare it as a source. Derived entirely from the graph; rebuild it
// whenever the graph changes.
type ReverseIndex map[string]map[string]struct{}

// BuildReverseIndex inverts the dependency graph.
func BuildReverseIndex(g *Graph) ReverseIndex {
	index := make(ReverseIndex)
	for colID, node := range g.Nodes {
		for _, source := range node.Sources {
			deps, ok := index[source]
			if !ok {
				deps = make(map[string]struct{})
				index[source] = deps
			}
			deps[colID] = struct{}{}
		}
	}
	return index
}

// Sources returns every source reference in the index, sorted.
func (ri ReverseIndex) Sources() []string {
	sources := make([]string, 0, len(ri))
	for source := range ri {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	return sources
}

// Dependents returns the columns that directly depend on a source, sorted.
func (ri ReverseIndex) Dependents(source string) []string {
	deps := make([]string, 0, len(ri[source]))
	for dep := range ri[source] {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}
