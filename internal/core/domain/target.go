// Package domain contains the core deployment types and validation logic.
// This is part of the Functional Core - all functions are pure with no I/O.
package domain

import (
	"errors"
	"sort"
)

// =============================================================================
// Target Errors
// =============================================================================

var (
	ErrInvalidTargetType  = errors.New("invalid target type: must be agent, fleet-management, managed-cloud, fabric or standalone-cluster")
	ErrNoSupportedVersion = errors.New("target reported no supported runtime versions")
)

// =============================================================================
// Target Type
// =============================================================================

// TargetType selects the runtime platform a deployment goes to.
type TargetType string

const (
	TargetAgent             TargetType = "agent"
	TargetFleetManagement   TargetType = "fleet-management"
	TargetManagedCloud      TargetType = "managed-cloud"
	TargetFabric            TargetType = "fabric"
	TargetStandaloneCluster TargetType = "standalone-cluster"
)

// TargetTypes lists every supported target type.
func TargetTypes() []TargetType {
	return []TargetType{
		TargetAgent,
		TargetFleetManagement,
		TargetManagedCloud,
		TargetFabric,
		TargetStandaloneCluster,
	}
}

// IsValid checks if the target type is supported.
func (t TargetType) IsValid() bool {
	switch t {
	case TargetAgent, TargetFleetManagement, TargetManagedCloud, TargetFabric, TargetStandaloneCluster:
		return true
	default:
		return false
	}
}

// SupportsDomains reports whether domain artifacts can be deployed to the target.
func (t TargetType) SupportsDomains() bool {
	return t == TargetAgent || t == TargetStandaloneCluster
}

// DisplayName returns a human-readable name for the target type.
func (t TargetType) DisplayName() string {
	switch t {
	case TargetAgent:
		return "Agent"
	case TargetFleetManagement:
		return "Fleet Management"
	case TargetManagedCloud:
		return "Managed Cloud"
	case TargetFabric:
		return "Fabric"
	case TargetStandaloneCluster:
		return "Standalone Cluster"
	default:
		return string(t)
	}
}

// =============================================================================
// Target Descriptor
// =============================================================================

// DescriptorKind is the kind of remote instance a descriptor points to.
type DescriptorKind string

const (
	DescriptorServer      DescriptorKind = "server"
	DescriptorServerGroup DescriptorKind = "server-group"
	DescriptorCluster     DescriptorKind = "cluster"
)

// IsFleetKind reports whether the kind can be targeted on the fleet-management plane.
func (k DescriptorKind) IsFleetKind() bool {
	return k == DescriptorServer || k == DescriptorServerGroup || k == DescriptorCluster
}

// TargetDescriptor identifies a concrete remote instance resolved from configuration.
type TargetDescriptor struct {
	Kind DescriptorKind
	ID   string
	Name string
}

// =============================================================================
// Supported Versions
// =============================================================================

// SupportedVersions is the set of runtime versions a target can run.
type SupportedVersions struct {
	versions map[string]struct{}
}

// NewSupportedVersions builds a set, ignoring empty strings.
// The result is never empty on success.
func NewSupportedVersions(versions ...string) (SupportedVersions, error) {
	set := make(map[string]struct{}, len(versions))
	for _, v := range versions {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	if len(set) == 0 {
		return SupportedVersions{}, ErrNoSupportedVersion
	}
	return SupportedVersions{versions: set}, nil
}

// Contains reports whether v is in the set.
func (s SupportedVersions) Contains(v string) bool {
	_, ok := s.versions[v]
	return ok
}

// List returns the versions in sorted order.
func (s SupportedVersions) List() []string {
	out := make([]string, 0, len(s.versions))
	for v := range s.versions {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// Deployment State
// =============================================================================

// DeploymentState is derived on each verification poll and never persisted.
type DeploymentState string

const (
	StateNotPresent      DeploymentState = "not-present"
	StateDeployedRunning DeploymentState = "deployed-running"
	StateDeployedFailed  DeploymentState = "deployed-failed"
	StateUnknown         DeploymentState = "unknown"
)
