package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/artpar/deployer/internal/core/domain"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess             = 0
	ExitConfigError         = 1
	ExitValidationError     = 2
	ExitDeploymentError     = 3
	ExitVerificationTimeout = 4
	ExitTransportError      = 5
	ExitPackagingError      = 6
	ExitResolutionError     = 7
)

// exitCode maps a failure kind to the process exit code.
func exitCode(err error) int {
	switch domain.KindOf(err) {
	case nil:
		if err == nil {
			return ExitSuccess
		}
		return ExitConfigError
	case domain.ErrValidation:
		return ExitValidationError
	case domain.ErrDeployment:
		return ExitDeploymentError
	case domain.ErrVerificationTimeout:
		return ExitVerificationTimeout
	case domain.ErrTransport:
		return ExitTransportError
	case domain.ErrPackaging:
		return ExitPackagingError
	case domain.ErrResolution:
		return ExitResolutionError
	default:
		return ExitConfigError
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		if a.logger != nil {
			a.logger.Error("command failed", "error", err, "outcome", domain.OutcomeOf(err))
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitCode(err)
	}
	return ExitSuccess
}

// =============================================================================
// Application
// =============================================================================

// app carries state shared by every subcommand once the root's
// PersistentPreRunE has loaded configuration.
type app struct {
	configPath string
	envFile    string

	cfg    *Config
	logger *slog.Logger
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "deployer",
		Short: "Deploy runtime artifacts to agent, fleet, cloud, fabric and standalone targets",
		Long: `deployer validates, deploys and verifies packaged runtime artifacts.

Configuration is read from an optional file (--config) and DEPLOYER_*
environment variables. --env-file loads variables from a dotenv file first,
which is the recommended place for credentials.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "Path to a dotenv file loaded before configuration")

	root.AddCommand(
		a.deployCommand(),
		a.deployBatchCommand(),
		a.undeployCommand(),
		a.validateCommand(),
		a.verifyCommand(),
		a.resolvePluginsCommand(),
		a.checkPluginsCommand(),
		a.configureClusterCommand(),
		a.historyCommand(),
		versionCommand(),
	)
	return root
}

func (a *app) load(cmd *cobra.Command, _ []string) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}

	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	a.cfg = cfg
	a.logger = SetupLogger(cfg)
	a.logger.Debug("configuration loaded",
		"version", Version,
		"config", a.configPath,
		"command", cmd.Name(),
	)
	return nil
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		// Skip configuration loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "deployer %s (built %s)\n", Version, BuildTime)
		},
	}
}
