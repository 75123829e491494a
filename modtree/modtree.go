// Package modtree arranges dotted module paths into their package hierarchy.
package modtree

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	graphlib "github.com/dominikbraun/graph"
)

// Tree is a forest of modules. Each module is a vertex with an edge from its
// parent package. Parents implied by a module path are added even when the
// module list does not name them.
type Tree struct {
	graph  graphlib.Graph[string, string]
	listed map[string]bool
}

// Build returns the Tree of modules. Empty module paths are ignored.
func Build(modules []string) (*Tree, error) {
	t := &Tree{
		graph:  graphlib.New(graphlib.StringHash, graphlib.Directed(), graphlib.Acyclic()),
		listed: make(map[string]bool, len(modules)),
	}

	for _, module := range modules {
		if module == "" {
			continue
		}
		t.listed[module] = true
		if err := t.add(module); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Tree) add(module string) error {
	parts := strings.Split(module, ".")
	parent := ""
	for i := range parts {
		name := strings.Join(parts[:i+1], ".")
		if err := t.graph.AddVertex(name); err != nil && !errors.Is(err, graphlib.ErrVertexAlreadyExists) {
			return fmt.Errorf("failed to add module %s: %w", name, err)
		}
		if parent != "" {
			if err := t.graph.AddEdge(parent, name); err != nil && !errors.Is(err, graphlib.ErrEdgeAlreadyExists) {
				return fmt.Errorf("failed to link %s to %s: %w", parent, name, err)
			}
		}
		parent = name
	}
	return nil
}

// Listed reports whether module was in the list the Tree was built from,
// rather than implied by a descendant.
func (t *Tree) Listed(module string) bool {
	return t.listed[module]
}

// Roots returns the top-level modules in name order.
func (t *Tree) Roots() ([]string, error) {
	predecessors, err := t.graph.PredecessorMap()
	if err != nil {
		return nil, err
	}

	var roots []string
	for module, parents := range predecessors {
		if len(parents) == 0 {
			roots = append(roots, module)
		}
	}
	slices.Sort(roots)
	return roots, nil
}

// Children returns the direct submodules of module in name order.
func (t *Tree) Children(module string) ([]string, error) {
	adjacency, err := t.graph.AdjacencyMap()
	if err != nil {
		return nil, err
	}

	edges, ok := adjacency[module]
	if !ok {
		return nil, fmt.Errorf("unknown module %s: %w", module, graphlib.ErrVertexNotFound)
	}

	children := make([]string, 0, len(edges))
	for child := range edges {
		children = append(children, child)
	}
	slices.Sort(children)
	return children, nil
}

// Modules returns every module with parents before their children. Ties are
// broken by name so the order is stable.
func (t *Tree) Modules() ([]string, error) {
	return graphlib.StableTopologicalSort(t.graph, func(a, b string) bool {
		return a < b
	})
}

// Render writes the tree to w, one module per line, indented two spaces per
// level and labelled with its last path segment. Implied parents are marked
// with a trailing slash.
func (t *Tree) Render(w io.Writer) error {
	roots, err := t.Roots()
	if err != nil {
		return err
	}

	adjacency, err := t.graph.AdjacencyMap()
	if err != nil {
		return err
	}

	var render func(module string, depth int) error
	render = func(module string, depth int) error {
		label := module[strings.LastIndex(module, ".")+1:]
		if !t.listed[module] {
			label += "/"
		}
		if _, err := fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), label); err != nil {
			return err
		}

		children := make([]string, 0, len(adjacency[module]))
		for child := range adjacency[module] {
			children = append(children, child)
		}
		slices.Sort(children)
		for _, child := range children {
			if err := render(child, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range roots {
		if err := render(root, 0); err != nil {
			return err
		}
	}
	return nil
}
