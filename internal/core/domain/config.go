package domain

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// =============================================================================
// Configuration Errors
// =============================================================================

var (
	ErrApplicationNameRequired = errors.New("application name is required")
	ErrBaseURIRequired         = errors.New("target base URI is required")
	ErrBaseURIInvalid          = errors.New("target base URI must be an absolute http(s) URL")
	ErrCredentialsRequired     = errors.New("credentials are required: token or username and password")
	ErrTimeoutInvalid          = errors.New("deployment timeout must be positive")
	ErrPollIntervalInvalid     = errors.New("poll interval must be positive and shorter than the timeout")
	ErrEnvironmentRequired     = errors.New("environment ID is required")
	ErrOrganizationRequired    = errors.New("organization ID is required")
	ErrFleetTargetRequired     = errors.New("fleet target name is required")
	ErrFleetTargetKindInvalid  = errors.New("fleet target kind must be server, server-group or cluster")
	ErrFabricTargetRequired    = errors.New("fabric target ID is required")
	ErrWorkersInvalid          = errors.New("worker count must be at least 1")
	ErrReplicasInvalid         = errors.New("replica count must be at least 1")
	ErrNodesRequired           = errors.New("at least one standalone node path is required")
	ErrDuplicateNode           = errors.New("standalone node paths must be unique")
	ErrDomainNotSupported      = errors.New("target does not support domain artifacts")
	ErrInvalidClassifier       = errors.New("artifact classifier must be empty, application or domain")
	ErrClassifierKindMismatch  = errors.New("artifact classifier contradicts the artifact kind")
)

// Defaults applied by callers that build configurations programmatically.
const (
	DefaultTimeout      = 10 * time.Minute
	DefaultPollInterval = 5 * time.Second
)

// =============================================================================
// Credentials
// =============================================================================

// Credentials authenticate against a remote target.
// Either Token or Username and Password must be set for control-plane targets.
type Credentials struct {
	Username string
	Password string
	Token    string
}

// IsEmpty reports whether no usable credentials are present.
func (c Credentials) IsEmpty() bool {
	return c.Token == "" && (c.Username == "" || c.Password == "")
}

// =============================================================================
// Per-Target Settings
// =============================================================================

// AgentSettings configures the embedded management agent target.
type AgentSettings struct {
	BaseURI string
}

// FleetSettings configures the fleet-management control plane target.
type FleetSettings struct {
	BaseURI        string
	OrganizationID string
	EnvironmentID  string
	TargetKind     DescriptorKind
	TargetName     string
}

// CloudSettings configures the managed cloud platform target.
type CloudSettings struct {
	BaseURI       string
	EnvironmentID string
	Region        string
	Workers       int
	WorkerType    string
	Properties    map[string]string
}

// FabricSettings configures the fabric target.
type FabricSettings struct {
	BaseURI        string
	OrganizationID string
	EnvironmentID  string
	TargetID       string
	Provider       string
	Replicas       int
	Properties     map[string]string
}

// StandaloneSettings configures a local standalone cluster.
type StandaloneSettings struct {
	// Nodes are runtime install locations in cluster order.
	Nodes []string
	// Script is the control script path relative to each install location.
	Script string
}

// =============================================================================
// Deployment Configuration
// =============================================================================

// VersionMatch selects how the required runtime version is compared.
type VersionMatch string

const (
	VersionMatchExact      VersionMatch = "exact"
	VersionMatchSemverLine VersionMatch = "semver-line"
)

// DeploymentConfiguration is built once per invocation and treated as
// immutable once validation begins. It always names exactly one target.
type DeploymentConfiguration struct {
	Target          TargetType
	ApplicationName string
	Artifact        Artifact
	Credentials     Credentials
	RuntimeVersion  string
	VersionMatch    VersionMatch

	Timeout          time.Duration
	PollInterval     time.Duration
	SkipVerification bool

	Agent      AgentSettings
	Fleet      FleetSettings
	Cloud      CloudSettings
	Fabric     FabricSettings
	Standalone StandaloneSettings
}

// Subject names the deployment in failure messages.
func (c DeploymentConfiguration) Subject() string {
	return fmt.Sprintf("%s on %s", c.ApplicationName, c.Target)
}

// RequiredRuntimeVersion returns the version the artifact must run on.
// The artifact's own requirement wins over the requested version.
func (c DeploymentConfiguration) RequiredRuntimeVersion() string {
	if c.Artifact.RequiredRuntimeVersion != "" {
		return c.Artifact.RequiredRuntimeVersion
	}
	return c.RuntimeVersion
}

// BaseURI returns the base URI of the selected remote target.
func (c DeploymentConfiguration) BaseURI() string {
	switch c.Target {
	case TargetAgent:
		return c.Agent.BaseURI
	case TargetFleetManagement:
		return c.Fleet.BaseURI
	case TargetManagedCloud:
		return c.Cloud.BaseURI
	case TargetFabric:
		return c.Fabric.BaseURI
	default:
		return ""
	}
}

// Validate checks the configuration for the selected target.
// Settings of targets that are not selected are ignored.
// Operations that do not push an artifact (undeploy, verify) pass
// requireArtifact=false.
func (c DeploymentConfiguration) Validate(requireArtifact bool) error {
	if err := c.validate(requireArtifact); err != nil {
		return ValidationFailure("validate", c.Subject(), "invalid deployment configuration", err)
	}
	return nil
}

func (c DeploymentConfiguration) validate(requireArtifact bool) error {
	if !c.Target.IsValid() {
		return ErrInvalidTargetType
	}
	if c.ApplicationName == "" {
		return ErrApplicationNameRequired
	}
	if c.Timeout <= 0 {
		return ErrTimeoutInvalid
	}
	if c.PollInterval <= 0 || c.PollInterval >= c.Timeout {
		return ErrPollIntervalInvalid
	}
	if requireArtifact {
		if c.Artifact.Path == "" {
			return ErrArtifactPathMissing
		}
	}
	if c.Artifact.Kind != "" && !c.Artifact.Kind.IsValid() {
		return ErrInvalidArtifactKind
	}
	if err := c.Artifact.validateClassifier(); err != nil {
		return err
	}
	if c.Artifact.Kind == ArtifactDomain && !c.Target.SupportsDomains() {
		return ErrDomainNotSupported
	}

	if c.Target != TargetStandaloneCluster {
		if err := validateBaseURI(c.BaseURI()); err != nil {
			return err
		}
		// The agent listens on a local management port without authentication.
		if c.Target != TargetAgent && c.Credentials.IsEmpty() {
			return ErrCredentialsRequired
		}
	}

	switch c.Target {
	case TargetAgent:
		return nil
	case TargetFleetManagement:
		return c.Fleet.validate()
	case TargetManagedCloud:
		return c.Cloud.validate()
	case TargetFabric:
		return c.Fabric.validate()
	case TargetStandaloneCluster:
		return c.Standalone.validate()
	}
	return ErrInvalidTargetType
}

// validateClassifier rejects coordinates that are not deployable on their own,
// such as plugins. An empty Kind deploys as an application.
func (a Artifact) validateClassifier() error {
	switch a.Coordinate.Classifier {
	case "":
		return nil
	case ClassifierApplication:
		if a.Kind == ArtifactDomain {
			return ErrClassifierKindMismatch
		}
	case ClassifierDomain:
		if a.Kind != ArtifactDomain {
			return ErrClassifierKindMismatch
		}
	default:
		return ErrInvalidClassifier
	}
	return nil
}

func (s FleetSettings) validate() error {
	if s.EnvironmentID == "" {
		return ErrEnvironmentRequired
	}
	if !s.TargetKind.IsFleetKind() {
		return ErrFleetTargetKindInvalid
	}
	if s.TargetName == "" {
		return ErrFleetTargetRequired
	}
	return nil
}

func (s CloudSettings) validate() error {
	if s.EnvironmentID == "" {
		return ErrEnvironmentRequired
	}
	if s.Workers < 1 {
		return ErrWorkersInvalid
	}
	return nil
}

func (s FabricSettings) validate() error {
	if s.OrganizationID == "" {
		return ErrOrganizationRequired
	}
	if s.EnvironmentID == "" {
		return ErrEnvironmentRequired
	}
	if s.TargetID == "" {
		return ErrFabricTargetRequired
	}
	if s.Replicas < 1 {
		return ErrReplicasInvalid
	}
	return nil
}

func (s StandaloneSettings) validate() error {
	if len(s.Nodes) == 0 {
		return ErrNodesRequired
	}
	seen := make(map[string]bool, len(s.Nodes))
	for _, n := range s.Nodes {
		if n == "" {
			return ErrNodesRequired
		}
		if seen[n] {
			return ErrDuplicateNode
		}
		seen[n] = true
	}
	return nil
}

func validateBaseURI(raw string) error {
	if raw == "" {
		return ErrBaseURIRequired
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrBaseURIInvalid
	}
	return nil
}
