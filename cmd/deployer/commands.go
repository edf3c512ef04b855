package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/artpar/deployer/internal/core/plugins"
	"github.com/artpar/deployer/internal/shell/cluster"
	"github.com/artpar/deployer/internal/shell/graph"
	"github.com/artpar/deployer/internal/shell/pipeline"
	"github.com/artpar/deployer/internal/shell/store"
	"github.com/artpar/deployer/internal/shell/targets"
)

// =============================================================================
// Flag Overrides
// =============================================================================

// overrides are per-invocation flags that win over file and environment
// configuration.
type overrides struct {
	target           string
	application      string
	artifact         string
	coordinate       string
	kind             string
	runtimeVersion   string
	timeout          time.Duration
	skipVerification bool
}

func (o *overrides) bind(cmd *cobra.Command, withArtifact bool) {
	f := cmd.Flags()
	f.StringVarP(&o.target, "target", "t", "", "Target type (agent, fleet-management, managed-cloud, fabric, standalone-cluster)")
	f.StringVarP(&o.application, "name", "n", "", "Application name")
	f.DurationVar(&o.timeout, "timeout", 0, "Verification timeout")
	if withArtifact {
		f.StringVarP(&o.artifact, "artifact", "a", "", "Path to the packaged artifact")
		f.StringVar(&o.coordinate, "coordinate", "", "Artifact coordinate group:artifact:version[:type[:classifier]]")
		f.StringVar(&o.kind, "kind", "", "Artifact kind (application or domain)")
		f.StringVar(&o.runtimeVersion, "runtime-version", "", "Requested runtime version")
		f.BoolVar(&o.skipVerification, "skip-verification", false, "Return after the deploy call without polling")
	}
}

func (o *overrides) apply(cmd *cobra.Command, d *DeploymentConfig) {
	f := cmd.Flags()
	if f.Changed("target") {
		d.Target = o.target
	}
	if f.Changed("name") {
		d.Application = o.application
	}
	if f.Changed("timeout") {
		d.Timeout = o.timeout
	}
	if f.Changed("artifact") {
		d.Artifact = o.artifact
	}
	if f.Changed("coordinate") {
		d.Coordinate = o.coordinate
	}
	if f.Changed("kind") {
		d.Kind = o.kind
	}
	if f.Changed("runtime-version") {
		d.RuntimeVersion = o.runtimeVersion
	}
	if f.Changed("skip-verification") {
		d.SkipVerification = o.skipVerification
	}
}

// deployment applies flag overrides and builds the configuration for one run.
func (a *app) deployment(cmd *cobra.Command, o *overrides) (domain.DeploymentConfiguration, error) {
	o.apply(cmd, &a.cfg.Deployment)
	return a.cfg.DeploymentConfiguration()
}

// =============================================================================
// Wiring
// =============================================================================

// openHistory opens the history store, or returns nil when history is disabled.
func (a *app) openHistory() (store.Store, error) {
	if !a.cfg.History.Enabled {
		return nil, nil
	}
	dsn := a.cfg.History.DSN
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	s, err := store.NewSQLiteStore(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return s, nil
}

// newRunner wires the pipeline. The caller must invoke the returned close
// function.
func (a *app) newRunner() (*pipeline.Runner, func(), error) {
	history, err := a.openHistory()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if history != nil {
			if err := history.Close(); err != nil {
				a.logger.Warn("failed to close history", "error", err)
			}
		}
	}

	runnerCfg := pipeline.Config{
		MaxConcurrent:      a.cfg.Runner.MaxConcurrent,
		RemediationTimeout: a.cfg.Runner.RemediationTimeout,
	}
	factory := func(cfg domain.DeploymentConfiguration) (targets.Target, error) {
		return targets.New(cfg, targets.Options{
			HTTPTimeout:   a.cfg.Runner.HTTPTimeout,
			Controller:    cluster.NewExecController(cfg.Standalone.Script, a.logger),
			Cluster:       cluster.NewConfigurator(a.logger),
			MaxConcurrent: a.cfg.Runner.MaxConcurrent,
		}, a.logger)
	}
	return pipeline.NewRunner(factory, history, runnerCfg, a.logger), closeFn, nil
}

// =============================================================================
// Deployment Commands
// =============================================================================

func (a *app) deployCommand() *cobra.Command {
	o := &overrides{}
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Validate, deploy and verify an artifact",
		Long: `Validate the required runtime version against the target, push the
artifact and poll the target until it reports the artifact running, failed,
or the timeout elapses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.deployment(cmd, o)
			if err != nil {
				return err
			}
			runner, closeFn, err := a.newRunner()
			if err != nil {
				return err
			}
			defer closeFn()

			res := runner.Run(cmd.Context(), cfg)
			printResult(cmd.OutOrStdout(), res)
			return res.Err
		},
	}
	o.bind(cmd, true)
	return cmd
}

func (a *app) deployBatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy-batch CONFIG...",
		Short: "Run several independent deployments concurrently",
		Long: `Each argument is a config file describing one deployment. Runs are
independent and bounded by runner.max_concurrent; one failing run does not
stop the others.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgs := make([]domain.DeploymentConfiguration, 0, len(args))
			for _, path := range args {
				c, err := LoadConfig(path)
				if err != nil {
					return fmt.Errorf("configuration error: %s: %w", path, err)
				}
				d, err := c.DeploymentConfiguration()
				if err != nil {
					return err
				}
				cfgs = append(cfgs, d)
			}

			runner, closeFn, err := a.newRunner()
			if err != nil {
				return err
			}
			defer closeFn()

			var errs []error
			for _, res := range runner.DeployAll(cmd.Context(), cfgs) {
				printResult(cmd.OutOrStdout(), res)
				if res.Err != nil {
					errs = append(errs, res.Err)
				}
			}
			return errors.Join(errs...)
		},
	}
}

func (a *app) undeployCommand() *cobra.Command {
	o := &overrides{}
	cmd := &cobra.Command{
		Use:   "undeploy",
		Short: "Remove an application or domain from the target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.deployment(cmd, o)
			if err != nil {
				return err
			}
			runner, closeFn, err := a.newRunner()
			if err != nil {
				return err
			}
			defer closeFn()

			if err := runner.Undeploy(cmd.Context(), cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: undeployed\n", cfg.Subject())
			return nil
		},
	}
	o.bind(cmd, false)
	cmd.Flags().StringVar(&o.kind, "kind", "", "Artifact kind (application or domain)")
	return cmd
}

func (a *app) validateCommand() *cobra.Command {
	o := &overrides{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the required runtime version against the target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.deployment(cmd, o)
			if err != nil {
				return err
			}
			runner, closeFn, err := a.newRunner()
			if err != nil {
				return err
			}
			defer closeFn()

			supported, err := runner.Validate(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: runtime %s is supported (%s offers %v)\n",
				cfg.Subject(), cfg.RequiredRuntimeVersion(), cfg.Target.DisplayName(), supported.List())
			return nil
		},
	}
	o.bind(cmd, true)
	return cmd
}

func (a *app) verifyCommand() *cobra.Command {
	o := &overrides{}
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Poll the target until the application is running, failed or timed out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.deployment(cmd, o)
			if err != nil {
				return err
			}
			runner, closeFn, err := a.newRunner()
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := runner.Verify(cmd.Context(), cfg)
			if res.Polls == 0 {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s after %d polls (%s)\n",
				cfg.Subject(), res.Phase, res.Polls, res.Elapsed.Round(time.Millisecond))
			return err
		},
	}
	o.bind(cmd, false)
	return cmd
}

func printResult(w io.Writer, res pipeline.Result) {
	switch {
	case res.Err != nil:
		fmt.Fprintf(w, "%s: failed (%s): %v\n", res.Subject, domain.OutcomeOf(res.Err), res.Err)
	case res.Verified:
		fmt.Fprintf(w, "%s: deployed and verified in %d polls [run %s]\n", res.Subject, res.Verification.Polls, res.RunID)
	default:
		fmt.Fprintf(w, "%s: deployed, verification skipped [run %s]\n", res.Subject, res.RunID)
	}
}

// =============================================================================
// Plugin Commands
// =============================================================================

func (a *app) resolvePluginsCommand() *cobra.Command {
	var (
		graphPath string
		check     bool
	)
	cmd := &cobra.Command{
		Use:   "resolve-plugins",
		Short: "List the plugins an application depends on",
		Long: `Walk the dependency graph file and print every plugin the project
depends on, directly or transitively. Test-scoped dependencies are skipped.
Plugin and domain dependencies are walked, so a plugin pulled in by another
plugin is listed too. Ordinary libraries end the walk. With --check, conflicting plugin versions
are reported as an error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			provider, err := graph.Load(graphPath)
			if err != nil {
				return domain.NewFailure(domain.ErrResolution, "resolve-plugins", graphPath, "failed to load dependency graph", err)
			}

			found, err := plugins.NewResolver(provider).Resolve(cmd.Context())
			if err != nil {
				return err
			}
			a.logger.Info("resolved plugins", "project", provider.Project(), "count", len(found))
			for _, c := range found {
				fmt.Fprintln(cmd.OutOrStdout(), c.String())
			}

			if check {
				return plugins.CheckCompatibility(found)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&graphPath, "graph", "g", "dependency-graph.yaml", "Path to the dependency graph file")
	cmd.Flags().BoolVar(&check, "check", true, "Fail when the same plugin appears at conflicting versions")
	return cmd
}

func (a *app) checkPluginsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-plugins COORDINATE...",
		Short: "Check that plugin coordinates do not conflict",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coords := make([]domain.ArtifactCoordinate, 0, len(args))
			for _, arg := range args {
				c, err := domain.ParseCoordinate(arg)
				if err != nil {
					return domain.ValidationFailure("check-plugins", arg, "", err)
				}
				coords = append(coords, c)
			}
			if err := plugins.CheckCompatibility(coords); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d plugins are compatible\n", len(coords))
			return nil
		},
	}
}

// =============================================================================
// Cluster Commands
// =============================================================================

func (a *app) configureClusterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "configure-cluster [NODE...]",
		Short: "Write cluster configuration into each standalone node",
		Long: `Generate a fresh cluster id and write one configuration file per node.
Nodes default to targets.standalone.nodes; their order defines node indexes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes := args
			if len(nodes) == 0 {
				nodes = a.cfg.Targets.Standalone.Nodes
			}
			configs, err := cluster.NewConfigurator(a.logger).Configure(nodes)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NODE\tINDEX\tCLUSTER ID\tFILE")
			for _, c := range configs {
				fmt.Fprintf(w, "%s\t%d/%d\t%d\t%s\n", c.Path, c.NodeIndex, c.ClusterSize, c.ClusterID, cluster.FilePath(c.Path))
			}
			return w.Flush()
		},
	}
}

// =============================================================================
// History Commands
// =============================================================================

func (a *app) historyCommand() *cobra.Command {
	var (
		opts store.ListOptions
		id   string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded deployment runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			history, err := a.openHistory()
			if err != nil {
				return err
			}
			if history == nil {
				return errors.New("deployment history is disabled (history.enabled=false)")
			}
			defer history.Close()

			records, err := a.listHistory(cmd.Context(), history, id, opts)
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), records)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.Limit, "limit", store.DefaultListOptions().Limit, "Maximum number of runs to list")
	f.IntVar(&opts.Offset, "offset", 0, "Number of runs to skip")
	f.StringVar(&opts.ApplicationName, "name", "", "Only runs of this application")
	f.StringVar((*string)(&opts.Target), "target", "", "Only runs against this target type")
	f.StringVar(&id, "id", "", "Show a single run")
	return cmd
}

func (a *app) listHistory(ctx context.Context, history store.Store, id string, opts store.ListOptions) ([]domain.DeploymentRecord, error) {
	if id != "" {
		rec, err := history.GetDeployment(ctx, id)
		if err != nil {
			return nil, err
		}
		return []domain.DeploymentRecord{*rec}, nil
	}
	return history.ListDeployments(ctx, opts)
}

func printRecords(w io.Writer, records []domain.DeploymentRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tOPERATION\tTARGET\tAPPLICATION\tOUTCOME\tDURATION\tERROR")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Operation,
			r.Target,
			r.ApplicationName,
			r.Outcome,
			r.Duration().Round(time.Millisecond),
			r.Error,
		)
	}
	return tw.Flush()
}
