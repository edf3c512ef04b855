package domain

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Artifact Errors
// =============================================================================

var (
	ErrInvalidCoordinate   = errors.New("coordinate must be group:artifact:version[:type[:classifier]]")
	ErrArtifactPathMissing = errors.New("artifact path is required")
	ErrInvalidArtifactKind = errors.New("artifact kind must be application or domain")
)

// =============================================================================
// Classifiers and Scopes
// =============================================================================

// Classifiers recognised by the plugin resolver and the deployers.
const (
	ClassifierPlugin      = "plugin"
	ClassifierDomain      = "domain"
	ClassifierApplication = "application"
)

// DefaultPackaging is used when a coordinate omits its type.
const DefaultPackaging = "jar"

// Scope is the dependency scope reported by the graph provider.
type Scope string

const (
	ScopeCompile  Scope = "compile"
	ScopeRuntime  Scope = "runtime"
	ScopeProvided Scope = "provided"
	ScopeTest     Scope = "test"
	ScopeSystem   Scope = "system"
)

// =============================================================================
// Artifact Coordinate
// =============================================================================

// ArtifactCoordinate identifies an artifact in a repository.
type ArtifactCoordinate struct {
	GroupID    string `json:"group_id" yaml:"groupId"`
	ArtifactID string `json:"artifact_id" yaml:"artifactId"`
	Version    string `json:"version" yaml:"version"`
	Type       string `json:"type,omitempty" yaml:"type,omitempty"`
	Classifier string `json:"classifier,omitempty" yaml:"classifier,omitempty"`
}

// ParseCoordinate parses "group:artifact:version[:type[:classifier]]".
//
// Example:
//
//	c, _ := ParseCoordinate("com.acme:http-connector:1.2.0:jar:plugin")
//	c.IsPlugin() // true
func ParseCoordinate(s string) (ArtifactCoordinate, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 3 || len(parts) > 5 {
		return ArtifactCoordinate{}, fmt.Errorf("%q: %w", s, ErrInvalidCoordinate)
	}
	for _, p := range parts[:3] {
		if p == "" {
			return ArtifactCoordinate{}, fmt.Errorf("%q: %w", s, ErrInvalidCoordinate)
		}
	}

	c := ArtifactCoordinate{
		GroupID:    parts[0],
		ArtifactID: parts[1],
		Version:    parts[2],
		Type:       DefaultPackaging,
	}
	if len(parts) > 3 && parts[3] != "" {
		c.Type = parts[3]
	}
	if len(parts) > 4 {
		c.Classifier = parts[4]
	}
	return c, nil
}

// String renders the coordinate in the form accepted by ParseCoordinate.
func (c ArtifactCoordinate) String() string {
	s := c.GroupID + ":" + c.ArtifactID + ":" + c.Version + ":" + c.packaging()
	if c.Classifier != "" {
		s += ":" + c.Classifier
	}
	return s
}

// Key identifies the artifact without its version.
// Two coordinates with the same Key are the same artifact at different versions.
func (c ArtifactCoordinate) Key() string {
	return c.GroupID + ":" + c.ArtifactID + ":" + c.packaging() + ":" + c.Classifier
}

// ID identifies one node of a dependency graph (group+artifact+version+classifier).
func (c ArtifactCoordinate) ID() string {
	return c.GroupID + ":" + c.ArtifactID + ":" + c.Version + ":" + c.Classifier
}

// PluginKey is the plugin identity used for compatibility grouping.
func (c ArtifactCoordinate) PluginKey() string {
	return c.GroupID + ":" + c.ArtifactID
}

// Equal compares all fields except Version.
func (c ArtifactCoordinate) Equal(other ArtifactCoordinate) bool {
	return c.Key() == other.Key()
}

// IsPlugin reports whether the coordinate is classified as a plugin.
func (c ArtifactCoordinate) IsPlugin() bool {
	return c.Classifier == ClassifierPlugin
}

// IsDomain reports whether the coordinate is classified as a domain.
func (c ArtifactCoordinate) IsDomain() bool {
	return c.Classifier == ClassifierDomain
}

func (c ArtifactCoordinate) packaging() string {
	if c.Type == "" {
		return DefaultPackaging
	}
	return c.Type
}

// =============================================================================
// Dependency
// =============================================================================

// Dependency is a node of the project's dependency graph as reported by the
// graph provider.
type Dependency struct {
	Coordinate ArtifactCoordinate
	Scope      Scope
	Optional   bool
}

// =============================================================================
// Artifact
// =============================================================================

// ArtifactKind distinguishes deployable application and domain artifacts.
type ArtifactKind string

const (
	ArtifactApplication ArtifactKind = "application"
	ArtifactDomain      ArtifactKind = "domain"
)

// IsValid checks if the artifact kind is supported.
func (k ArtifactKind) IsValid() bool {
	return k == ArtifactApplication || k == ArtifactDomain
}

// Artifact is the packaged binary being deployed.
type Artifact struct {
	Path       string
	Coordinate ArtifactCoordinate
	Kind       ArtifactKind

	// RequiredRuntimeVersion is the runtime version the artifact was built for.
	// Empty means the configuration's requested runtime version applies.
	RequiredRuntimeVersion string
}

// FileName returns the name the artifact is stored under on a target.
func (a Artifact) FileName(name string) string {
	return name + "." + a.Coordinate.packaging()
}
