// Package targets implements deployment, runtime version resolution and
// verification for every supported runtime platform.
// This is part of the Imperative Shell - it performs network and file I/O.
//
// The set of targets is closed: New switches over domain.TargetType and
// returns the one implementation that serves it.
package targets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/shell/remote"
	"github.com/artpar/deployer/internal/shell/verifier"
)

// =============================================================================
// Interfaces
// =============================================================================

// Deployer pushes artifacts to a target and removes them again.
// A successful return means the target accepted the request, not that the
// artifact is running.
type Deployer interface {
	DeployApplication(ctx context.Context, artifact domain.Artifact) error
	UndeployApplication(ctx context.Context) error
	DeployDomain(ctx context.Context, artifact domain.Artifact) error
	UndeployDomain(ctx context.Context) error
}

// Validator asks a target which runtime versions it can run.
type Validator interface {
	ResolveSupportedVersions(ctx context.Context) (domain.SupportedVersions, error)
}

// Target bundles the three concerns every platform implements.
type Target interface {
	Deployer
	Validator
	verifier.Strategy

	// Type returns the platform this target talks to.
	Type() domain.TargetType
}

// Controller starts and inspects a standalone runtime installation.
type Controller interface {
	// EnsureRunning starts the runtime at home unless it already runs.
	EnsureRunning(ctx context.Context, home string) error
	// IsRunning reports whether the runtime at home is up.
	IsRunning(ctx context.Context, home string) (bool, error)
	// Stop stops the runtime at home.
	Stop(ctx context.Context, home string) error
}

// ClusterConfigurator writes the shared cluster configuration into every
// node of a multi-node standalone cluster.
type ClusterConfigurator interface {
	Configure(paths []string) ([]domain.ClusterNodeConfig, error)
}

// =============================================================================
// Factory
// =============================================================================

// Errors returned while talking to a target.
var (
	ErrTargetNotFound      = errors.New("target not found")
	ErrDomainUnavailable   = errors.New("application domain is not available")
	ErrControllerRequired  = errors.New("standalone cluster requires a runtime controller")
	ErrNoRuntimeVersion    = errors.New("target did not report a runtime version")
	ErrDeploymentIDMissing = errors.New("target did not return a deployment id")
)

// Options tune target construction.
type Options struct {
	// HTTPTimeout bounds a single request to a remote target.
	HTTPTimeout time.Duration

	// Controller manages standalone runtimes. Required for standalone-cluster.
	Controller Controller

	// Cluster configures multi-node standalone clusters before deploy.
	// Optional; single-node installs never need it.
	Cluster ClusterConfigurator

	// MaxConcurrent bounds per-node fan-out on standalone clusters.
	// Default: 4.
	MaxConcurrent int
}

// New creates the target selected by cfg.Target.
// cfg is expected to have been validated already.
func New(cfg domain.DeploymentConfiguration, opts Options, logger *slog.Logger) (Target, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("target", string(cfg.Target), "application", cfg.ApplicationName)

	clientCfg := remote.Config{
		BaseURL:     cfg.BaseURI(),
		Credentials: cfg.Credentials,
		Timeout:     opts.HTTPTimeout,
	}

	switch cfg.Target {
	case domain.TargetAgent:
		return NewAgent(cfg, remote.NewClient(clientCfg, logger), logger), nil

	case domain.TargetFleetManagement:
		clientCfg.Headers = map[string]string{
			"X-Organization-ID": cfg.Fleet.OrganizationID,
			"X-Environment-ID":  cfg.Fleet.EnvironmentID,
		}
		return NewFleet(cfg, remote.NewClient(clientCfg, logger), logger), nil

	case domain.TargetManagedCloud:
		clientCfg.Headers = map[string]string{
			"X-Environment-ID": cfg.Cloud.EnvironmentID,
		}
		return NewCloud(cfg, remote.NewClient(clientCfg, logger), logger), nil

	case domain.TargetFabric:
		return NewFabric(cfg, remote.NewClient(clientCfg, logger), logger), nil

	case domain.TargetStandaloneCluster:
		if opts.Controller == nil {
			return nil, ErrControllerRequired
		}
		return NewStandalone(cfg, opts.Controller, opts.MaxConcurrent, logger).WithCluster(opts.Cluster), nil

	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidTargetType, cfg.Target)
	}
}

// =============================================================================
// Helpers
// =============================================================================

// send completes a request and rejects unexpected statuses.
// With no codes given any 2xx status is accepted.
func send(resp *remote.Response, err error, method, path string, codes ...int) (*remote.Response, error) {
	if err != nil {
		return nil, err
	}
	if err := remote.Expect(method, path, resp, codes...); err != nil {
		return nil, err
	}
	return resp, nil
}

// fail wraps err into a domain.Failure of the given kind. Failures that
// already carry a kind pass through, and transport faults keep theirs.
func fail(kind error, op, subject string, err error) error {
	if err == nil {
		return nil
	}
	var f *domain.Failure
	if errors.As(err, &f) {
		return err
	}
	var te *remote.TransportError
	if errors.As(err, &te) {
		kind = domain.ErrTransport
	}
	return domain.NewFailure(kind, op, subject, "", err)
}

// echoVersions is used by targets that cannot report their runtime version:
// the declared version is trusted as-is.
func echoVersions(cfg domain.DeploymentConfiguration) (domain.SupportedVersions, error) {
	sv, err := domain.NewSupportedVersions(cfg.RequiredRuntimeVersion())
	if err != nil {
		return sv, domain.ValidationFailure("resolve-versions", cfg.Subject(), "no runtime version declared", err)
	}
	return sv, nil
}

// readArtifact loads the artifact bytes so a request body can be replayed.
func readArtifact(a domain.Artifact) (*bytes.Reader, error) {
	if a.Path == "" {
		return nil, domain.ErrArtifactPathMissing
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return bytes.NewReader(data), nil
}

// resourceID accepts both string and numeric JSON identifiers.
type resourceID string

func (id *resourceID) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	if s == "null" {
		*id = ""
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	*id = resourceID(s)
	return nil
}
