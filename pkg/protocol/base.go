package protocol

import (
	"context"
	"fmt"
	"sync"

	"github.com/agenticraft/a2a/pkg/corelog"
	"github.com/agenticraft/a2a/pkg/coreerr"
	"github.com/agenticraft/a2a/pkg/transport"
	"github.com/rs/zerolog"
)

// BaseProtocol is the shared dispatch engine every concrete protocol
// (task router, consensus, mesh network) embeds. It owns the node
// directory, the handler table, and a single dispatch goroutine draining
// the node's transport link; concrete protocols add their own background
// loops (scheduler tick, election timer, routing refresh) on top.
type BaseProtocol struct {
	NodeID string

	mu       sync.RWMutex
	nodes    map[string]*Node
	handlers map[MessageType]Handler

	broker *transport.Broker
	link   transport.Link

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	Log zerolog.Logger
}

// NewBaseProtocol constructs a BaseProtocol bound to nodeID, registers the
// default heartbeat/discovery/status handlers, and adds the node itself as
// an active participant in its own directory.
func NewBaseProtocol(protocolName, nodeID string, broker *transport.Broker) *BaseProtocol {
	b := &BaseProtocol{
		NodeID:   nodeID,
		nodes:    make(map[string]*Node),
		handlers: make(map[MessageType]Handler),
		broker:   broker,
		Log:      corelog.WithProtocol(protocolName),
	}
	self := NewNode(nodeID)
	self.Status = NodeActive
	b.nodes[nodeID] = self

	b.RegisterHandler(MessageHeartbeat, b.handleHeartbeat)
	b.RegisterHandler(MessageDiscovery, b.handleDiscovery)
	b.RegisterHandler(MessageStatus, b.handleStatus)
	return b
}

// Start registers the node's transport link and begins the dispatch loop.
func (b *BaseProtocol) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return coreerr.ErrAlreadyRunning
	}
	dispatchCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.link = b.broker.Register(b.NodeID)
	b.running = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.dispatchLoop(dispatchCtx)
	return nil
}

// Stop halts the dispatch loop and releases the transport link.
func (b *BaseProtocol) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return coreerr.ErrNotRunning
	}
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()

	cancel()
	b.broker.Unregister(b.NodeID)
	b.wg.Wait()
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (b *BaseProtocol) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

func (b *BaseProtocol) dispatchLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-b.link:
			if !ok {
				return
			}
			msg, ok := env.Data.(*Message)
			if !ok {
				continue
			}
			b.handleMessage(ctx, msg)
		}
	}
}

func (b *BaseProtocol) handleMessage(ctx context.Context, msg *Message) {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Type]
	b.mu.RUnlock()

	if !ok {
		b.Log.Warn().Str("event", "unhandled_message").Str("node", b.NodeID).Str("type", string(msg.Type)).Msg("no handler registered")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.Log.Error().Str("event", "handler_panic").Str("node", b.NodeID).Interface("panic", r).Msg("message handler panicked")
		}
	}()

	if err := handler(ctx, msg); err != nil {
		b.Log.Error().Err(err).Str("event", "handler_error").Str("node", b.NodeID).Str("type", string(msg.Type)).Msg("message handler failed")
	}
}

// Send delivers msg to msg.Target through the shared broker.
func (b *BaseProtocol) Send(ctx context.Context, msg *Message) error {
	if msg.Target == "" {
		return fmt.Errorf("send: message has no target")
	}
	if !b.broker.Send(b.NodeID, msg.Target, msg) {
		return fmt.Errorf("send to %s: %w", msg.Target, coreerr.ErrNoRoute)
	}
	return nil
}

// Broadcast delivers msg to every other node registered on the broker.
func (b *BaseProtocol) Broadcast(ctx context.Context, msg *Message) error {
	b.broker.Broadcast(b.NodeID, msg)
	return nil
}

// RegisterHandler installs handler for msgType.
func (b *BaseProtocol) RegisterHandler(msgType MessageType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[msgType] = handler
}

// RegisterCapability advertises capability for this node.
func (b *BaseProtocol) RegisterCapability(capability string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[b.NodeID].AddCapability(capability)
}

// UnregisterCapability withdraws capability for this node.
func (b *BaseProtocol) UnregisterCapability(capability string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[b.NodeID].RemoveCapability(capability)
}

// UpdateStatus changes this node's advertised status.
func (b *BaseProtocol) UpdateStatus(status NodeStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[b.NodeID].Status = status
}

// ActiveNodes returns active peer node IDs, excluding this node.
func (b *BaseProtocol) ActiveNodes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var active []string
	for id, node := range b.nodes {
		if id == b.NodeID {
			continue
		}
		if node.IsActive() {
			active = append(active, id)
		}
	}
	return active
}

// NodesWithCapability returns active node IDs (including self) advertising
// capability.
func (b *BaseProtocol) NodesWithCapability(capability string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var matches []string
	for id, node := range b.nodes {
		if node.IsActive() && node.HasCapability(capability) {
			matches = append(matches, id)
		}
	}
	return matches
}

// NetworkStatus summarizes what this node currently sees of the network.
func (b *BaseProtocol) NetworkStatus() NetworkStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	capSet := make(map[string]struct{})
	activeCount := 0
	for _, node := range b.nodes {
		if node.IsActive() {
			activeCount++
		}
		for _, c := range node.Capabilities {
			capSet[c] = struct{}{}
		}
	}
	caps := make([]string, 0, len(capSet))
	for c := range capSet {
		caps = append(caps, c)
	}

	return NetworkStatus{
		NodeID:       b.NodeID,
		TotalNodes:   len(b.nodes),
		ActiveNodes:  activeCount,
		Capabilities: caps,
		Status:       b.nodes[b.NodeID].Status,
	}
}

// UpsertNode adds or updates a peer node's directory entry. Concrete
// protocols use this to fold in discovery/heartbeat traffic carrying fields
// beyond what the default handlers manage.
func (b *BaseProtocol) UpsertNode(node *Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[node.ID] = node
}

// Node returns a copy of the directory entry for nodeID, if known.
func (b *BaseProtocol) Node(nodeID string) (*Node, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	node, ok := b.nodes[nodeID]
	if !ok {
		return nil, false
	}
	cp := *node
	cp.Capabilities = append([]string(nil), node.Capabilities...)
	cp.Metadata = make(map[string]interface{}, len(node.Metadata))
	for k, v := range node.Metadata {
		cp.Metadata[k] = v
	}
	return &cp, true
}

func (b *BaseProtocol) handleHeartbeat(ctx context.Context, msg *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := NodeActive
	if s, ok := msg.Content["status"].(string); ok {
		status = NodeStatus(s)
	}

	if node, ok := b.nodes[msg.Sender]; ok {
		if msg.Timestamp.Before(node.LastHeartbeat) {
			return nil
		}
		node.LastHeartbeat = msg.Timestamp
		node.Status = status
		return nil
	}

	var caps []string
	if raw, ok := msg.Content["capabilities"].([]string); ok {
		caps = raw
	}
	b.nodes[msg.Sender] = &Node{
		ID:            msg.Sender,
		Capabilities:  caps,
		Status:        status,
		LastHeartbeat: msg.Timestamp,
		Metadata:      make(map[string]interface{}),
	}
	return nil
}

// handleDiscovery answers a discovery request with this node's capabilities
// and status. A discovery *response* (marked via Content["is_response"])
// only updates the sender's directory entry — it never triggers a reply,
// since replying to a reply would have the two nodes trade discovery
// messages forever.
func (b *BaseProtocol) handleDiscovery(ctx context.Context, msg *Message) error {
	if isResponse, _ := msg.Content["is_response"].(bool); isResponse {
		b.applyDiscoveryResponse(msg)
		return nil
	}

	b.mu.RLock()
	self := b.nodes[b.NodeID]
	response := NewMessage(MessageDiscovery, b.NodeID)
	response.Target = msg.Sender
	response.Content["is_response"] = true
	response.Content["capabilities"] = append([]string(nil), self.Capabilities...)
	response.Content["status"] = string(self.Status)
	b.mu.RUnlock()

	return b.Send(ctx, response)
}

// applyDiscoveryResponse folds a discovery reply's advertised capabilities
// and status into the sender's directory entry.
func (b *BaseProtocol) applyDiscoveryResponse(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	node, ok := b.nodes[msg.Sender]
	if !ok {
		node = NewNode(msg.Sender)
		b.nodes[msg.Sender] = node
	}
	if caps, ok := msg.Content["capabilities"].([]string); ok {
		node.Capabilities = caps
	}
	if status, ok := msg.Content["status"].(string); ok {
		node.Status = NodeStatus(status)
	}
}

func (b *BaseProtocol) handleStatus(ctx context.Context, msg *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	node, ok := b.nodes[msg.Sender]
	if !ok {
		return nil
	}
	if s, ok := msg.Content["status"].(string); ok {
		node.Status = NodeStatus(s)
	}
	return nil
}
