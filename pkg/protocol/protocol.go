package protocol

import "context"

// Handler processes one incoming Message. Handlers run on the protocol's
// single dispatch goroutine; a handler that blocks stalls all message
// processing for that node, so long-running work must be off-loaded to its
// own goroutine.
type Handler func(ctx context.Context, msg *Message) error

// NetworkStatus is a point-in-time summary of what a node sees of the
// network it participates in.
type NetworkStatus struct {
	NodeID       string
	TotalNodes   int
	ActiveNodes  int
	Capabilities []string
	Status       NodeStatus
}

// Protocol is the contract every coordination protocol (task router,
// consensus, mesh network) implements. A Protocol instance is bound to one
// node ID for its entire lifetime; coordinating across nodes means running
// one instance per node, wired together through a shared transport.Broker.
type Protocol interface {
	// Start begins background processing (dispatch loop, any periodic
	// loops the protocol needs). Start is idempotent-unsafe: calling it
	// twice returns coreerr.ErrAlreadyRunning.
	Start(ctx context.Context) error
	// Stop halts background processing and releases the node's transport
	// link. Calling Stop on a protocol that was never started returns
	// coreerr.ErrNotRunning.
	Stop() error

	// Send delivers msg to msg.Target and returns once the Send completes
	// (not once the recipient has processed it).
	Send(ctx context.Context, msg *Message) error
	// Broadcast delivers msg to every other known node.
	Broadcast(ctx context.Context, msg *Message) error

	// RegisterHandler installs handler for msgType, replacing any previous
	// handler for that type.
	RegisterHandler(msgType MessageType, handler Handler)

	// RegisterCapability advertises capability for this node to peers on
	// their next heartbeat/discovery exchange.
	RegisterCapability(capability string)
	// UnregisterCapability withdraws a previously registered capability.
	UnregisterCapability(capability string)
	// UpdateStatus changes this node's advertised status.
	UpdateStatus(status NodeStatus)

	// ActiveNodes returns the IDs of nodes this instance currently
	// considers active, excluding itself.
	ActiveNodes() []string
	// NodesWithCapability returns the IDs of active nodes advertising
	// capability.
	NodesWithCapability(capability string) []string
	// NetworkStatus summarizes what this node currently sees.
	NetworkStatus() NetworkStatus
}
