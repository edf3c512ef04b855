// Package graph loads a project's resolved dependency graph from a YAML
// export and serves it to the plugin resolver.
// This is part of the Imperative Shell - it reads files.
//
// File format:
//
//	project: com.acme:orders:1.0.0
//	dependencies:
//	  - coordinate: com.acme:orders-domain:2.0.0:jar:domain
//	    dependencies:
//	      - coordinate: com.acme:http-connector:1.2.0:jar:plugin
//	  - coordinate: junit:junit:4.13.2
//	    scope: test
//
// A node may appear in several places; its children are merged by node id.
package graph

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/artpar/deployer/internal/core/domain"
)

var (
	ErrUnknownNode = errors.New("dependency is not part of the graph")
	ErrCycle       = errors.New("dependency graph contains a cycle")
)

// Node is one entry of the YAML file.
type Node struct {
	Coordinate   string `yaml:"coordinate"`
	Scope        string `yaml:"scope,omitempty"`
	Optional     bool   `yaml:"optional,omitempty"`
	Dependencies []Node `yaml:"dependencies,omitempty"`
}

// File is the top-level YAML document.
type File struct {
	Project      string `yaml:"project"`
	Dependencies []Node `yaml:"dependencies"`
}

// Provider serves a graph loaded into memory. It is safe for concurrent reads.
type Provider struct {
	project  string
	roots    []domain.Dependency
	children map[string][]domain.Dependency
}

// Load reads and indexes a graph file.
func Load(path string) (*Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	return Parse(data)
}

// Parse indexes a graph document.
func Parse(data []byte) (*Provider, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse graph: %w", err)
	}

	p := &Provider{
		project:  f.Project,
		children: make(map[string][]domain.Dependency),
	}
	roots, err := p.index(f.Dependencies)
	if err != nil {
		return nil, err
	}
	p.roots = roots

	if err := p.checkAcyclic(); err != nil {
		return nil, err
	}
	return p, nil
}

// Project returns the coordinate string of the project the graph belongs to.
func (p *Provider) Project() string {
	return p.project
}

// DirectDependencies returns the project's own dependencies.
func (p *Provider) DirectDependencies(ctx context.Context) ([]domain.Dependency, error) {
	return append([]domain.Dependency(nil), p.roots...), nil
}

// DependenciesOf returns the direct dependencies of dep.
func (p *Provider) DependenciesOf(ctx context.Context, dep domain.Dependency) ([]domain.Dependency, error) {
	children, ok := p.children[dep.Coordinate.ID()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", dep.Coordinate, ErrUnknownNode)
	}
	return append([]domain.Dependency(nil), children...), nil
}

// index converts nodes to dependencies and records every node's children.
func (p *Provider) index(nodes []Node) ([]domain.Dependency, error) {
	deps := make([]domain.Dependency, 0, len(nodes))
	for _, n := range nodes {
		coord, err := domain.ParseCoordinate(n.Coordinate)
		if err != nil {
			return nil, err
		}
		scope := domain.Scope(n.Scope)
		if scope == "" {
			scope = domain.ScopeCompile
		}
		dep := domain.Dependency{Coordinate: coord, Scope: scope, Optional: n.Optional}

		kids, err := p.index(n.Dependencies)
		if err != nil {
			return nil, err
		}
		p.merge(coord.ID(), kids)
		deps = append(deps, dep)
	}
	return deps, nil
}

func (p *Provider) merge(id string, kids []domain.Dependency) {
	existing, ok := p.children[id]
	if !ok {
		p.children[id] = kids
		return
	}
	seen := make(map[string]bool, len(existing))
	for _, d := range existing {
		seen[d.Coordinate.ID()] = true
	}
	for _, d := range kids {
		if !seen[d.Coordinate.ID()] {
			existing = append(existing, d)
			seen[d.Coordinate.ID()] = true
		}
	}
	p.children[id] = existing
}

// checkAcyclic rejects graphs that merged into a cycle.
func (p *Provider) checkAcyclic() error {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(p.children))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case inProgress:
			return fmt.Errorf("%s: %w", id, ErrCycle)
		case done:
			return nil
		}
		state[id] = inProgress
		for _, d := range p.children[id] {
			if err := visit(d.Coordinate.ID()); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for id := range p.children {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}
