// Package cluster partitions and replicates chunk writes across content
// nodes, gates write admission on node resource limits, and merges
// scatter-gather query results into a global ranking.
package cluster

import "fmt"

// NodeID identifies a cluster node.
type NodeID string

// Role is a node's duty in the topology.
type Role string

// Node roles.
const (
	// RoleContainer nodes serve queries.
	RoleContainer Role = "container"
	// RoleContent nodes store and index chunks.
	RoleContent Role = "content"
)

// NodeSpec declares one node in the topology.
type NodeSpec struct {
	ID   NodeID
	Role Role
}

// Thresholds are the per-node write admission limits as usage ratios.
type Thresholds struct {
	DiskRatio float64
	MemRatio  float64
}

// DefaultThresholds mirrors the source tuning: disk 0.99, memory 0.90.
func DefaultThresholds() Thresholds {
	return Thresholds{DiskRatio: 0.99, MemRatio: 0.90}
}

// Topology is the immutable cluster layout handed to the coordinator at
// startup. Updates go through Coordinator.Reconfigure, never mutation.
type Topology struct {
	Nodes      []NodeSpec
	Redundancy int
	Thresholds Thresholds
}

// Validate checks the topology can satisfy its own redundancy promise.
func (t Topology) Validate() error {
	if t.Redundancy < 1 {
		return fmt.Errorf("redundancy must be at least 1, got %d", t.Redundancy)
	}
	content := 0
	seen := make(map[NodeID]bool, len(t.Nodes))
	for _, n := range t.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node with empty id")
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
		switch n.Role {
		case RoleContainer, RoleContent:
		default:
			return fmt.Errorf("node %q has invalid role %q", n.ID, n.Role)
		}
		if n.Role == RoleContent {
			content++
		}
	}
	if content < t.Redundancy {
		return fmt.Errorf("%d content nodes cannot satisfy redundancy %d", content, t.Redundancy)
	}
	if t.Thresholds.DiskRatio <= 0 || t.Thresholds.DiskRatio > 1 {
		return fmt.Errorf("disk threshold %f out of (0,1]", t.Thresholds.DiskRatio)
	}
	if t.Thresholds.MemRatio <= 0 || t.Thresholds.MemRatio > 1 {
		return fmt.Errorf("memory threshold %f out of (0,1]", t.Thresholds.MemRatio)
	}
	return nil
}

// ContentNodes returns the ids of all content nodes.
func (t Topology) ContentNodes() []NodeID {
	out := make([]NodeID, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		if n.Role == RoleContent {
			out = append(out, n.ID)
		}
	}
	return out
}
