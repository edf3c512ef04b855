// Package cluster contains pure functions for standalone cluster configuration.
// This is part of the Functional Core - all functions are pure with no I/O.
package cluster

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/artpar/deployer/internal/core/domain"
)

// Property keys written to every node configuration file.
const (
	KeyClusterSize   = "cluster.size"
	KeyClusterSchema = "cluster.schema"
	KeyClusterID     = "cluster.id"
	KeyNodeID        = "cluster.nodeId"
)

// ConfigDir and ConfigFile locate the configuration inside a node install.
const (
	ConfigDir  = ".runtime"
	ConfigFile = "cluster.properties"
)

// Plan assigns every node its 1-based position in list order and the
// shared cluster id. Positions are contiguous and never repeat.
//
// Example:
//
//	configs, _ := Plan([]string{"/opt/a", "/opt/b"}, 4711)
//	// configs[1] = {Path: "/opt/b", ClusterSize: 2, ClusterID: 4711, NodeIndex: 2}
func Plan(paths []string, clusterID uint32) ([]domain.ClusterNodeConfig, error) {
	if len(paths) == 0 {
		return nil, domain.ErrEmptyCluster
	}
	configs := make([]domain.ClusterNodeConfig, 0, len(paths))
	for i, p := range paths {
		configs = append(configs, domain.ClusterNodeConfig{
			Path:        p,
			ClusterSize: len(paths),
			ClusterID:   clusterID,
			NodeIndex:   i + 1,
		})
	}
	return configs, nil
}

// Render produces the key=value file content for one node.
func Render(c domain.ClusterNodeConfig) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s=%d\n", KeyClusterSize, c.ClusterSize)
	fmt.Fprintf(&b, "%s=%s\n", KeyClusterSchema, domain.ClusterSchema)
	fmt.Fprintf(&b, "%s=%d\n", KeyClusterID, c.ClusterID)
	fmt.Fprintf(&b, "%s=%d\n", KeyNodeID, c.NodeIndex)
	return []byte(b.String())
}

// Parse reads a file produced by Render. Path is left empty.
func Parse(content []byte) (domain.ClusterNodeConfig, error) {
	var c domain.ClusterNodeConfig
	props := make(map[string]string)

	sc := bufio.NewScanner(strings.NewReader(string(content)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return c, fmt.Errorf("malformed line %q", line)
		}
		props[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	size, err := strconv.Atoi(props[KeyClusterSize])
	if err != nil {
		return c, fmt.Errorf("%s: %w", KeyClusterSize, err)
	}
	id, err := strconv.ParseUint(props[KeyClusterID], 10, 32)
	if err != nil {
		return c, fmt.Errorf("%s: %w", KeyClusterID, err)
	}
	node, err := strconv.Atoi(props[KeyNodeID])
	if err != nil {
		return c, fmt.Errorf("%s: %w", KeyNodeID, err)
	}

	c.ClusterSize = size
	c.ClusterID = uint32(id)
	c.NodeIndex = node
	return c, nil
}
