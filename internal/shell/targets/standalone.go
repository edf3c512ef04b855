package targets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/core/verification"
)

// Directories of a runtime installation the deployer writes into.
const (
	AppsDir    = "apps"
	DomainsDir = "domains"

	// AnchorSuffix names the file the runtime writes next to an artifact
	// once it has started it.
	AnchorSuffix = "-anchor.txt"
)

// Status values reported by Standalone.Observe.
const (
	StandaloneStarted    = "STARTED"
	StandaloneDeploying  = "DEPLOYING"
	StandaloneNotRunning = "NOT_RUNNING"
)

// Standalone deploys by copying the artifact into the hot-deploy directory
// of every runtime installation that forms the cluster.
type Standalone struct {
	cfg           domain.DeploymentConfiguration
	controller    Controller
	cluster       ClusterConfigurator
	maxConcurrent int
	logger        *slog.Logger
}

// NewStandalone creates a standalone-cluster target.
func NewStandalone(cfg domain.DeploymentConfiguration, controller Controller, maxConcurrent int, logger *slog.Logger) *Standalone {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Standalone{
		cfg:           cfg,
		controller:    controller,
		maxConcurrent: maxConcurrent,
		logger:        logger,
	}
}

// WithCluster sets the configurator run before deploying to more than one node.
func (s *Standalone) WithCluster(c ClusterConfigurator) *Standalone {
	s.cluster = c
	return s
}

// Type returns domain.TargetStandaloneCluster.
func (s *Standalone) Type() domain.TargetType { return domain.TargetStandaloneCluster }

// =============================================================================
// Deployer
// =============================================================================

// DeployApplication starts every node that is down and copies the artifact
// into its apps directory.
func (s *Standalone) DeployApplication(ctx context.Context, artifact domain.Artifact) error {
	return s.deploy(ctx, AppsDir, artifact)
}

// UndeployApplication removes the artifact and its anchor from every node.
func (s *Standalone) UndeployApplication(ctx context.Context) error {
	return s.undeploy(ctx, AppsDir)
}

// DeployDomain copies a domain artifact into every node's domains directory.
func (s *Standalone) DeployDomain(ctx context.Context, artifact domain.Artifact) error {
	return s.deploy(ctx, DomainsDir, artifact)
}

// UndeployDomain removes the domain from every node.
func (s *Standalone) UndeployDomain(ctx context.Context) error {
	return s.undeploy(ctx, DomainsDir)
}

func (s *Standalone) deploy(ctx context.Context, dir string, artifact domain.Artifact) error {
	if artifact.Path == "" {
		return domain.DeploymentFailure("deploy", s.cfg.Subject(), "", domain.ErrArtifactPathMissing)
	}
	name := artifact.FileName(s.cfg.ApplicationName)

	if err := s.configureCluster(ctx); err != nil {
		return fail(domain.ErrDeployment, "configure-cluster", s.cfg.Subject(), err)
	}

	err := s.forEachNode(ctx, func(ctx context.Context, node string) error {
		if err := s.controller.EnsureRunning(ctx, node); err != nil {
			return fmt.Errorf("node %s: start runtime: %w", node, err)
		}
		dst := filepath.Join(node, dir, name)
		if err := copyFile(artifact.Path, dst); err != nil {
			return fmt.Errorf("node %s: %w", node, err)
		}
		s.logger.Info("artifact copied", "node", node, "path", dst)
		return nil
	})
	return fail(domain.ErrDeployment, "deploy", s.cfg.Subject(), err)
}

// configureCluster writes a fresh cluster configuration to every node of a
// multi-node cluster. Nodes read it only on start, so runtimes that are up
// are stopped first; otherwise a node that stayed up would keep the previous
// cluster id while restarted nodes join the new one.
func (s *Standalone) configureCluster(ctx context.Context) error {
	nodes := s.cfg.Standalone.Nodes
	if len(nodes) < 2 || s.cluster == nil {
		return nil
	}

	err := s.forEachNode(ctx, func(ctx context.Context, node string) error {
		running, err := s.controller.IsRunning(ctx, node)
		if err != nil {
			return fmt.Errorf("node %s: %w", node, err)
		}
		if !running {
			return nil
		}
		if err := s.controller.Stop(ctx, node); err != nil {
			return fmt.Errorf("node %s: stop runtime: %w", node, err)
		}
		s.logger.Info("runtime stopped for cluster reconfiguration", "node", node)
		return nil
	})
	if err != nil {
		return err
	}

	_, err = s.cluster.Configure(nodes)
	return err
}

func (s *Standalone) undeploy(ctx context.Context, dir string) error {
	name := s.cfg.Artifact.FileName(s.cfg.ApplicationName)

	err := s.forEachNode(ctx, func(ctx context.Context, node string) error {
		for _, p := range []string{
			filepath.Join(node, dir, s.cfg.ApplicationName+AnchorSuffix),
			filepath.Join(node, dir, name),
		} {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("node %s: %w", node, err)
			}
		}
		return nil
	})
	return fail(domain.ErrDeployment, "undeploy", s.cfg.Subject(), err)
}

// =============================================================================
// Validator
// =============================================================================

// ResolveSupportedVersions trusts the declared version; a local install
// runs whatever version was unpacked.
func (s *Standalone) ResolveSupportedVersions(ctx context.Context) (domain.SupportedVersions, error) {
	return echoVersions(s.cfg)
}

// =============================================================================
// Verification
// =============================================================================

// Observe checks every node. A node whose runtime is down is reported as
// NOT_RUNNING with the node in Detail; otherwise the application counts as
// started only once every node has written its anchor file.
func (s *Standalone) Observe(ctx context.Context) (verification.Observation, error) {
	dir := AppsDir
	if s.cfg.Artifact.Kind == domain.ArtifactDomain {
		dir = DomainsDir
	}
	name := s.cfg.Artifact.FileName(s.cfg.ApplicationName)

	anchored, present := 0, 0
	for _, node := range s.cfg.Standalone.Nodes {
		running, err := s.controller.IsRunning(ctx, node)
		if err != nil {
			return verification.Observation{}, fmt.Errorf("node %s: %w", node, err)
		}
		if !running {
			return verification.Observation{Present: true, Status: StandaloneNotRunning, Detail: "runtime at " + node + " is not running"}, nil
		}
		if exists(filepath.Join(node, dir, s.cfg.ApplicationName+AnchorSuffix)) {
			anchored++
			present++
			continue
		}
		if exists(filepath.Join(node, dir, name)) {
			present++
		}
	}

	switch {
	case anchored == len(s.cfg.Standalone.Nodes):
		return verification.Observation{Present: true, Status: StandaloneStarted}, nil
	case present > 0:
		return verification.Observation{
			Present: true,
			Status:  StandaloneDeploying,
			Detail:  fmt.Sprintf("%d of %d nodes started", anchored, len(s.cfg.Standalone.Nodes)),
		}, nil
	default:
		return verification.Observation{}, nil
	}
}

// Predicates: STARTED on every node is running, any node down is terminal.
func (s *Standalone) Predicates() verification.Predicates {
	return verification.StatusPredicates([]string{StandaloneStarted}, []string{StandaloneNotRunning})
}

// Remediate removes the artifact from every node.
func (s *Standalone) Remediate(ctx context.Context) error {
	if s.cfg.Artifact.Kind == domain.ArtifactDomain {
		return s.UndeployDomain(ctx)
	}
	return s.UndeployApplication(ctx)
}

// =============================================================================
// Helpers
// =============================================================================

// forEachNode runs fn on every node with bounded concurrency and joins the errors.
func (s *Standalone) forEachNode(ctx context.Context, fn func(ctx context.Context, node string) error) error {
	sem := make(chan struct{}, s.maxConcurrent)
	var wg sync.WaitGroup
	errs := make([]error, len(s.cfg.Standalone.Nodes))

	for i, node := range s.cfg.Standalone.Nodes {
		wg.Add(1)
		go func(i int, node string) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}

			errs[i] = fn(ctx, node)
		}(i, node)
	}

	wg.Wait()
	return errors.Join(errs...)
}

// copyFile writes src to dst through a temporary file so the runtime never
// picks up a partially written artifact.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".deploy-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("copy artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("install artifact: %w", err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
