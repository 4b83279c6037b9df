package protocol

import "time"

// NodeStatus is the lifecycle state of a protocol node.
type NodeStatus string

const (
	NodeActive  NodeStatus = "active"
	NodeIdle    NodeStatus = "idle"
	NodeBusy    NodeStatus = "busy"
	NodeOffline NodeStatus = "offline"
	NodeError   NodeStatus = "error"
)

// Node is a protocol participant as seen by any other participant's local
// directory; each node keeps its own copy, updated by heartbeat/discovery
// traffic rather than a shared source of truth.
type Node struct {
	ID            string
	Capabilities  []string
	Status        NodeStatus
	LastHeartbeat time.Time
	Metadata      map[string]interface{}
}

// NewNode creates a Node with no capabilities, idle status.
func NewNode(id string) *Node {
	return &Node{
		ID:            id,
		Capabilities:  nil,
		Status:        NodeIdle,
		LastHeartbeat: time.Now(),
		Metadata:      make(map[string]interface{}),
	}
}

// IsActive reports whether the node is currently marked active.
func (n *Node) IsActive() bool {
	return n.Status == NodeActive
}

// HasCapability reports whether the node advertises capability.
func (n *Node) HasCapability(capability string) bool {
	for _, c := range n.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// AddCapability appends capability if not already present.
func (n *Node) AddCapability(capability string) {
	if !n.HasCapability(capability) {
		n.Capabilities = append(n.Capabilities, capability)
	}
}

// RemoveCapability removes capability if present.
func (n *Node) RemoveCapability(capability string) {
	for i, c := range n.Capabilities {
		if c == capability {
			n.Capabilities = append(n.Capabilities[:i], n.Capabilities[i+1:]...)
			return
		}
	}
}
