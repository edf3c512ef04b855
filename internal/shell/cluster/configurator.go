// Package cluster writes standalone cluster configuration to runtime
// installations and controls the runtime processes.
// This is part of the Imperative Shell - it performs file and process I/O.
package cluster

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	corecluster "github.com/artpar/deployer/internal/core/cluster"
	"github.com/artpar/deployer/internal/core/domain"
)

// Configurator turns a list of install locations into a cluster.
type Configurator struct {
	newID  func() uint32
	logger *slog.Logger
}

// NewConfigurator creates a configurator that draws cluster ids from a random UUID.
func NewConfigurator(logger *slog.Logger) *Configurator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Configurator{
		newID:  func() uint32 { return uuid.New().ID() },
		logger: logger.With("component", "cluster_configurator"),
	}
}

// Configure writes <node>/.runtime/cluster.properties for every node. All
// nodes share one freshly generated cluster id and get their 1-based
// position in paths as node id. The first I/O error aborts the run.
func (c *Configurator) Configure(paths []string) ([]domain.ClusterNodeConfig, error) {
	configs, err := corecluster.Plan(paths, c.newID())
	if err != nil {
		return nil, domain.ValidationFailure("configure-cluster", "", "", err)
	}

	for _, cfg := range configs {
		if err := write(cfg); err != nil {
			return nil, domain.DeploymentFailure("configure-cluster", cfg.Path, "", err)
		}
		c.logger.Info("cluster node configured",
			"path", cfg.Path,
			"cluster_id", cfg.ClusterID,
			"node_id", cfg.NodeIndex,
			"cluster_size", cfg.ClusterSize,
		)
	}
	return configs, nil
}

// Read loads the configuration previously written to a node.
func Read(path string) (domain.ClusterNodeConfig, error) {
	data, err := os.ReadFile(FilePath(path))
	if err != nil {
		return domain.ClusterNodeConfig{}, err
	}
	cfg, err := corecluster.Parse(data)
	if err != nil {
		return cfg, err
	}
	cfg.Path = path
	return cfg, nil
}

// FilePath returns the location of the cluster file inside a node install.
func FilePath(node string) string {
	return filepath.Join(node, corecluster.ConfigDir, corecluster.ConfigFile)
}

func write(cfg domain.ClusterNodeConfig) error {
	dir := filepath.Join(cfg.Path, corecluster.ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(FilePath(cfg.Path), corecluster.Render(cfg), 0o644)
}
