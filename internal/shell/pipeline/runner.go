// Package pipeline orchestrates validate → deploy → verify for one or more
// deployment configurations and records each finished run.
// This is part of the Imperative Shell - it coordinates I/O performed by
// the targets, the verifier and the history store.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/core/versions"
	"github.com/artpar/deployer/internal/shell/store"
	"github.com/artpar/deployer/internal/shell/targets"
	"github.com/artpar/deployer/internal/shell/verifier"
)

// TargetFactory builds the target a configuration selects.
type TargetFactory func(cfg domain.DeploymentConfiguration) (targets.Target, error)

// Config configures a Runner.
type Config struct {
	// MaxConcurrent bounds DeployAll fan-out.
	// Default: 4.
	MaxConcurrent int

	// RemediationTimeout bounds the verification timeout hook.
	// Default: 30 seconds.
	RemediationTimeout time.Duration
}

// DefaultConfig returns default runner configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:      4,
		RemediationTimeout: 30 * time.Second,
	}
}

// Result describes one finished run.
type Result struct {
	RunID        string
	Subject      string
	Supported    []string
	Verification verifier.Result
	Verified     bool
	Err          error
}

// Runner executes deployment runs. Every run is a single sequential unit;
// only DeployAll runs several of them side by side.
type Runner struct {
	newTarget TargetFactory
	history   store.Store
	config    Config
	logger    *slog.Logger
}

// NewRunner creates a runner. history may be nil to skip recording.
func NewRunner(newTarget TargetFactory, history store.Store, config Config, logger *slog.Logger) *Runner {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.RemediationTimeout <= 0 {
		config.RemediationTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		newTarget: newTarget,
		history:   history,
		config:    config,
		logger:    logger.With("component", "pipeline"),
	}
}

// =============================================================================
// Single Steps
// =============================================================================

// Validate checks the configuration, asks the target for its supported
// runtime versions and matches the required version against them.
// No deployment request is made.
func (r *Runner) Validate(ctx context.Context, cfg domain.DeploymentConfiguration) (domain.SupportedVersions, error) {
	if err := cfg.Validate(false); err != nil {
		return domain.SupportedVersions{}, err
	}
	target, err := r.target(cfg)
	if err != nil {
		return domain.SupportedVersions{}, err
	}
	return r.validate(ctx, cfg, target)
}

// Deploy pushes the artifact without validating or verifying.
func (r *Runner) Deploy(ctx context.Context, cfg domain.DeploymentConfiguration) error {
	if err := cfg.Validate(true); err != nil {
		return err
	}
	target, err := r.target(cfg)
	if err != nil {
		return err
	}
	return r.deploy(ctx, cfg, target)
}

// Verify polls the target until the deployment is confirmed, fails or the
// configured timeout elapses.
func (r *Runner) Verify(ctx context.Context, cfg domain.DeploymentConfiguration) (verifier.Result, error) {
	if err := cfg.Validate(false); err != nil {
		return verifier.Result{}, err
	}
	target, err := r.target(cfg)
	if err != nil {
		return verifier.Result{}, err
	}
	return r.verify(ctx, cfg, target)
}

// Undeploy removes the application (or domain) from the target and records the run.
func (r *Runner) Undeploy(ctx context.Context, cfg domain.DeploymentConfiguration) error {
	started := time.Now()
	runID := uuid.NewString()

	err := func() error {
		if err := cfg.Validate(false); err != nil {
			return err
		}
		target, err := r.target(cfg)
		if err != nil {
			return err
		}
		if cfg.Artifact.Kind == domain.ArtifactDomain {
			return target.UndeployDomain(ctx)
		}
		return target.UndeployApplication(ctx)
	}()

	r.record(ctx, runID, domain.OperationUndeploy, cfg, started, err)
	return err
}

// =============================================================================
// Full Run
// =============================================================================

// Run validates, deploys and verifies. A step only runs when the previous
// one succeeded, so a version mismatch never reaches the target's deploy
// endpoint. The run is recorded whatever its outcome.
func (r *Runner) Run(ctx context.Context, cfg domain.DeploymentConfiguration) Result {
	started := time.Now()
	res := Result{RunID: uuid.NewString(), Subject: cfg.Subject()}
	logger := r.logger.With("run_id", res.RunID, "subject", res.Subject)

	res.Err = func() error {
		if err := cfg.Validate(true); err != nil {
			return err
		}
		target, err := r.target(cfg)
		if err != nil {
			return err
		}

		supported, err := r.validate(ctx, cfg, target)
		if err != nil {
			return err
		}
		res.Supported = supported.List()
		logger.Info("runtime version validated", "required", cfg.RequiredRuntimeVersion(), "supported", res.Supported)

		if err := r.deploy(ctx, cfg, target); err != nil {
			return err
		}
		logger.Info("artifact deployed")

		if cfg.SkipVerification {
			logger.Info("verification skipped")
			return nil
		}

		res.Verified = true
		res.Verification, err = r.verify(ctx, cfg, target)
		return err
	}()

	if res.Err != nil {
		logger.Error("deployment run failed", "error", res.Err, "outcome", domain.OutcomeOf(res.Err))
	} else {
		logger.Info("deployment run succeeded", "duration", time.Since(started))
	}
	r.record(ctx, res.RunID, domain.OperationDeploy, cfg, started, res.Err)
	return res
}

// DeployAll runs several independent configurations concurrently, bounded
// by MaxConcurrent. Results are returned in input order.
func (r *Runner) DeployAll(ctx context.Context, cfgs []domain.DeploymentConfiguration) []Result {
	results := make([]Result, len(cfgs))

	// Use a semaphore to limit concurrent runs
	sem := make(chan struct{}, r.config.MaxConcurrent)
	var wg sync.WaitGroup

	for i, cfg := range cfgs {
		wg.Add(1)
		go func(i int, cfg domain.DeploymentConfiguration) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				results[i] = Result{Subject: cfg.Subject(), Err: ctx.Err()}
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}

			results[i] = r.Run(ctx, cfg)
		}(i, cfg)
	}

	wg.Wait()
	r.logger.Info("completed deployment batch", "count", len(cfgs))
	return results
}

// =============================================================================
// Helpers
// =============================================================================

func (r *Runner) target(cfg domain.DeploymentConfiguration) (targets.Target, error) {
	t, err := r.newTarget(cfg)
	if err != nil {
		return nil, domain.ValidationFailure("configure", cfg.Subject(), "cannot create target", err)
	}
	return t, nil
}

func (r *Runner) validate(ctx context.Context, cfg domain.DeploymentConfiguration, target targets.Validator) (domain.SupportedVersions, error) {
	matcher, err := versions.ForPolicy(cfg.VersionMatch)
	if err != nil {
		return domain.SupportedVersions{}, domain.ValidationFailure("validate", cfg.Subject(), "", err)
	}
	supported, err := target.ResolveSupportedVersions(ctx)
	if err != nil {
		return supported, err
	}
	if err := versions.Check(matcher, cfg.Subject(), cfg.RequiredRuntimeVersion(), supported); err != nil {
		return supported, err
	}
	return supported, nil
}

func (r *Runner) deploy(ctx context.Context, cfg domain.DeploymentConfiguration, target targets.Deployer) error {
	if cfg.Artifact.Kind == domain.ArtifactDomain {
		return target.DeployDomain(ctx, cfg.Artifact)
	}
	return target.DeployApplication(ctx, cfg.Artifact)
}

func (r *Runner) verify(ctx context.Context, cfg domain.DeploymentConfiguration, target verifier.Strategy) (verifier.Result, error) {
	poller := verifier.NewPoller(verifier.Config{
		Interval:           cfg.PollInterval,
		Timeout:            cfg.Timeout,
		RemediationTimeout: r.config.RemediationTimeout,
	}, r.logger)
	return poller.Verify(ctx, cfg.Subject(), target)
}

// record writes the run to history. Failures are logged and never change
// the run's outcome.
func (r *Runner) record(ctx context.Context, runID string, op domain.Operation, cfg domain.DeploymentConfiguration, started time.Time, runErr error) {
	if r.history == nil {
		return
	}

	rec := &domain.DeploymentRecord{
		ID:              runID,
		Operation:       op,
		Target:          cfg.Target,
		ApplicationName: cfg.ApplicationName,
		Artifact:        artifactLabel(cfg.Artifact),
		RuntimeVersion:  cfg.RequiredRuntimeVersion(),
		Outcome:         domain.OutcomeOf(runErr),
		StartedAt:       started,
		FinishedAt:      time.Now(),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}

	if err := r.history.RecordDeployment(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Warn("failed to record deployment run", "run_id", runID, "error", err)
	}
}

func artifactLabel(a domain.Artifact) string {
	if a.Coordinate.GroupID != "" {
		return a.Coordinate.String()
	}
	return a.Path
}
