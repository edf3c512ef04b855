package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/artpar/deployer/internal/core/domain"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	History    HistoryConfig    `mapstructure:"history"`
	Runner     RunnerConfig     `mapstructure:"runner"`
	Deployment DeploymentConfig `mapstructure:"deployment"`
	Targets    TargetsConfig    `mapstructure:"targets"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HistoryConfig holds the deployment history database configuration.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// RunnerConfig tunes how runs are executed.
type RunnerConfig struct {
	// MaxConcurrent bounds deploy-batch and per-node standalone fan-out.
	MaxConcurrent int `mapstructure:"max_concurrent"`

	// HTTPTimeout bounds a single request to a remote target.
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`

	// RemediationTimeout bounds the hook run after a verification timeout.
	RemediationTimeout time.Duration `mapstructure:"remediation_timeout"`
}

// DeploymentConfig describes what to deploy and where.
type DeploymentConfig struct {
	Target      string `mapstructure:"target"`
	Application string `mapstructure:"application"`

	// Artifact is the path of the packaged artifact on disk.
	Artifact string `mapstructure:"artifact"`
	// Coordinate is group:artifact:version[:type[:classifier]].
	Coordinate string `mapstructure:"coordinate"`
	// Kind is "application" or "domain".
	Kind string `mapstructure:"kind"`

	// RequiredRuntimeVersion is what the artifact was built for; it wins
	// over RuntimeVersion when set.
	RequiredRuntimeVersion string `mapstructure:"required_runtime_version"`
	RuntimeVersion         string `mapstructure:"runtime_version"`
	VersionMatch           string `mapstructure:"version_match"`

	Timeout          time.Duration `mapstructure:"timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	SkipVerification bool          `mapstructure:"skip_verification"`

	// Credentials. Prefer DEPLOYER_DEPLOYMENT_TOKEN or an --env-file over
	// putting them in a config file.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Token    string `mapstructure:"token"`
}

// TargetsConfig holds per-target settings. Only the selected target's
// block is used.
type TargetsConfig struct {
	// ControlPlaneURI is the default base URI for fleet, cloud and fabric
	// targets that do not set their own.
	ControlPlaneURI string `mapstructure:"control_plane_uri"`

	Agent      AgentConfig      `mapstructure:"agent"`
	Fleet      FleetConfig      `mapstructure:"fleet"`
	Cloud      CloudConfig      `mapstructure:"cloud"`
	Fabric     FabricConfig     `mapstructure:"fabric"`
	Standalone StandaloneConfig `mapstructure:"standalone"`
}

// AgentConfig configures the agent target.
type AgentConfig struct {
	BaseURI string `mapstructure:"base_uri"`
}

// FleetConfig configures the fleet-management target.
type FleetConfig struct {
	BaseURI        string `mapstructure:"base_uri"`
	OrganizationID string `mapstructure:"organization_id"`
	EnvironmentID  string `mapstructure:"environment_id"`
	TargetKind     string `mapstructure:"target_kind"`
	TargetName     string `mapstructure:"target_name"`
}

// CloudConfig configures the managed-cloud target.
type CloudConfig struct {
	BaseURI       string            `mapstructure:"base_uri"`
	EnvironmentID string            `mapstructure:"environment_id"`
	Region        string            `mapstructure:"region"`
	Workers       int               `mapstructure:"workers"`
	WorkerType    string            `mapstructure:"worker_type"`
	Properties    map[string]string `mapstructure:"properties"`
}

// FabricConfig configures the fabric target.
type FabricConfig struct {
	BaseURI        string            `mapstructure:"base_uri"`
	OrganizationID string            `mapstructure:"organization_id"`
	EnvironmentID  string            `mapstructure:"environment_id"`
	TargetID       string            `mapstructure:"target_id"`
	Provider       string            `mapstructure:"provider"`
	Replicas       int               `mapstructure:"replicas"`
	Properties     map[string]string `mapstructure:"properties"`
}

// StandaloneConfig configures the standalone-cluster target.
type StandaloneConfig struct {
	Nodes  []string `mapstructure:"nodes"`
	Script string   `mapstructure:"script"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.dsn", "./.deployer/history.db")

	v.SetDefault("runner.max_concurrent", 4)
	v.SetDefault("runner.http_timeout", "60s")
	v.SetDefault("runner.remediation_timeout", "30s")

	v.SetDefault("deployment.target", string(domain.TargetAgent))
	v.SetDefault("deployment.application", "")
	v.SetDefault("deployment.artifact", "")
	v.SetDefault("deployment.coordinate", "")
	v.SetDefault("deployment.kind", string(domain.ArtifactApplication))
	v.SetDefault("deployment.required_runtime_version", "")
	v.SetDefault("deployment.runtime_version", "")
	v.SetDefault("deployment.version_match", string(domain.VersionMatchExact))
	v.SetDefault("deployment.timeout", domain.DefaultTimeout.String())
	v.SetDefault("deployment.poll_interval", domain.DefaultPollInterval.String())
	v.SetDefault("deployment.skip_verification", false)
	v.SetDefault("deployment.username", "")
	v.SetDefault("deployment.password", "")
	v.SetDefault("deployment.token", "")

	// Target defaults
	v.SetDefault("targets.control_plane_uri", "https://localhost:8443")
	v.SetDefault("targets.agent.base_uri", "http://localhost:9999")
	v.SetDefault("targets.fleet.base_uri", "")
	v.SetDefault("targets.fleet.organization_id", "")
	v.SetDefault("targets.fleet.environment_id", "")
	v.SetDefault("targets.fleet.target_kind", string(domain.DescriptorServer))
	v.SetDefault("targets.fleet.target_name", "")
	v.SetDefault("targets.cloud.base_uri", "")
	v.SetDefault("targets.cloud.environment_id", "")
	v.SetDefault("targets.cloud.region", "")
	v.SetDefault("targets.cloud.workers", 1)
	v.SetDefault("targets.cloud.worker_type", "")
	v.SetDefault("targets.cloud.properties", map[string]string{})
	v.SetDefault("targets.fabric.base_uri", "")
	v.SetDefault("targets.fabric.organization_id", "")
	v.SetDefault("targets.fabric.environment_id", "")
	v.SetDefault("targets.fabric.target_id", "")
	v.SetDefault("targets.fabric.provider", "MC")
	v.SetDefault("targets.fabric.replicas", 1)
	v.SetDefault("targets.fabric.properties", map[string]string{})
	v.SetDefault("targets.standalone.nodes", []string{})
	v.SetDefault("targets.standalone.script", "bin/runtime")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A deployment must never fall back to defaults because its
			// file went missing, so both cases are errors.
			var parseErr viper.ConfigParseError
			if errors.As(err, &parseErr) {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("DEPLOYER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// DeploymentConfiguration builds the immutable configuration handed to the
// pipeline. It fills in the shared control-plane URI for remote targets that
// leave their own base URI empty.
func (c *Config) DeploymentConfiguration() (domain.DeploymentConfiguration, error) {
	d := c.Deployment
	t := c.Targets

	out := domain.DeploymentConfiguration{
		Target:          domain.TargetType(d.Target),
		ApplicationName: d.Application,
		Artifact: domain.Artifact{
			Path:                   d.Artifact,
			Kind:                   domain.ArtifactKind(d.Kind),
			RequiredRuntimeVersion: d.RequiredRuntimeVersion,
		},
		Credentials: domain.Credentials{
			Username: d.Username,
			Password: d.Password,
			Token:    d.Token,
		},
		RuntimeVersion:   d.RuntimeVersion,
		VersionMatch:     domain.VersionMatch(d.VersionMatch),
		Timeout:          d.Timeout,
		PollInterval:     d.PollInterval,
		SkipVerification: d.SkipVerification,

		Agent: domain.AgentSettings{BaseURI: t.Agent.BaseURI},
		Fleet: domain.FleetSettings{
			BaseURI:        orDefault(t.Fleet.BaseURI, t.ControlPlaneURI),
			OrganizationID: t.Fleet.OrganizationID,
			EnvironmentID:  t.Fleet.EnvironmentID,
			TargetKind:     domain.DescriptorKind(t.Fleet.TargetKind),
			TargetName:     t.Fleet.TargetName,
		},
		Cloud: domain.CloudSettings{
			BaseURI:       orDefault(t.Cloud.BaseURI, t.ControlPlaneURI),
			EnvironmentID: t.Cloud.EnvironmentID,
			Region:        t.Cloud.Region,
			Workers:       t.Cloud.Workers,
			WorkerType:    t.Cloud.WorkerType,
			Properties:    t.Cloud.Properties,
		},
		Fabric: domain.FabricSettings{
			BaseURI:        orDefault(t.Fabric.BaseURI, t.ControlPlaneURI),
			OrganizationID: t.Fabric.OrganizationID,
			EnvironmentID:  t.Fabric.EnvironmentID,
			TargetID:       t.Fabric.TargetID,
			Provider:       t.Fabric.Provider,
			Replicas:       t.Fabric.Replicas,
			Properties:     t.Fabric.Properties,
		},
		Standalone: domain.StandaloneSettings{
			Nodes:  t.Standalone.Nodes,
			Script: t.Standalone.Script,
		},
	}

	if d.Coordinate != "" {
		coord, err := domain.ParseCoordinate(d.Coordinate)
		if err != nil {
			return out, domain.ValidationFailure("configure", out.Subject(), "", err)
		}
		out.Artifact.Coordinate = coord
	}
	return out, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
// Logs go to stderr so command output on stdout stays machine-readable.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
