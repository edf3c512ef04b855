package domain

import "errors"

// =============================================================================
// Cluster Node Configuration
// =============================================================================

var ErrEmptyCluster = errors.New("cluster requires at least one node")

// ClusterSchema is the fixed schema identifier written into every node configuration.
const ClusterSchema = "partitioned-sync2db"

// ClusterNodeConfig is the generated configuration of one standalone cluster node.
// It is written once per deployment run and never mutated.
type ClusterNodeConfig struct {
	Path        string // Install location of the node
	ClusterSize int
	ClusterID   uint32
	NodeIndex   int // 1-based position in the node list
}
