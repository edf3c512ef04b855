// Package plugins resolves the plugin set of a project and checks that the
// plugins can legally be packaged together.
//
// The resolver only reads the dependency graph through GraphProvider; it
// keeps no reference to graph nodes once Resolve returns.
package plugins

import (
	"context"

	"github.com/artpar/deployer/internal/core/domain"
)

// GraphProvider exposes the project's resolved dependency graph.
// The provider guarantees the graph is acyclic.
type GraphProvider interface {
	// DirectDependencies returns the project's own dependencies.
	DirectDependencies(ctx context.Context) ([]domain.Dependency, error)

	// DependenciesOf returns the direct dependencies of dep.
	DependenciesOf(ctx context.Context, dep domain.Dependency) ([]domain.Dependency, error)
}

// Resolver collects the plugins a project needs at runtime.
//
// A node is collected when it is classified as a plugin and every node on
// its path from the project root is classified as a plugin or a domain.
// Traversal only descends into plugin and domain nodes, so a plugin that is
// reachable only through an ordinary library is not collected:
//
//	project → domain D → plugin P            P collected
//	project → plugin P1 → plugin P2          P1, P2 collected
//	project → domain D → library Q → plugin P   P not collected
//	project → library Q → plugin P           P not collected
//
// Test-scoped dependencies are ignored.
type Resolver struct {
	graph GraphProvider
}

// NewResolver creates a resolver over a graph provider.
func NewResolver(graph GraphProvider) *Resolver {
	return &Resolver{graph: graph}
}

// Resolve walks the graph depth first and returns the collected plugin
// coordinates in discovery order. Diamond dependencies are visited once.
// Any provider error fails the whole resolution; no partial result is returned.
func (r *Resolver) Resolve(ctx context.Context) ([]domain.ArtifactCoordinate, error) {
	roots, err := r.graph.DirectDependencies(ctx)
	if err != nil {
		return nil, domain.NewFailure(domain.ErrResolution, "resolve", "project", "cannot resolve direct dependencies", err)
	}

	w := &walker{
		graph:   r.graph,
		visited: make(map[string]bool),
	}
	for _, dep := range roots {
		if err := w.visit(ctx, dep); err != nil {
			return nil, err
		}
	}
	return w.collected, nil
}

// walker holds the per-call traversal state.
type walker struct {
	graph     GraphProvider
	visited   map[string]bool
	collected []domain.ArtifactCoordinate
}

func (w *walker) visit(ctx context.Context, dep domain.Dependency) error {
	if dep.Scope == domain.ScopeTest {
		return nil
	}
	c := dep.Coordinate
	if !c.IsPlugin() && !c.IsDomain() {
		return nil
	}
	id := c.ID()
	if w.visited[id] {
		return nil
	}
	w.visited[id] = true

	if c.IsPlugin() {
		w.collected = append(w.collected, c)
	}

	if err := ctx.Err(); err != nil {
		return domain.NewFailure(domain.ErrResolution, "resolve", id, "resolution cancelled", err)
	}
	children, err := w.graph.DependenciesOf(ctx, dep)
	if err != nil {
		return domain.NewFailure(domain.ErrResolution, "resolve", id, "cannot resolve transitive dependencies", err)
	}
	for _, child := range children {
		if err := w.visit(ctx, child); err != nil {
			return err
		}
	}
	return nil
}
