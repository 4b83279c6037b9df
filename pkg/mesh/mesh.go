// Package mesh implements the decentralized mesh network protocol: nodes
// maintain a bounded set of direct connections, discover routes to the rest
// of the network via a distance-vector table, and execute tasks on whichever
// capable node a selection strategy picks rather than through any single
// coordinator.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/agenticraft/a2a/pkg/coreerr"
	"github.com/agenticraft/a2a/pkg/protocol"
	"github.com/agenticraft/a2a/pkg/transport"
	"github.com/google/uuid"
)

// Executor runs a distributed task locally and returns its result. Network
// falls back to a placeholder executor if none is set; pkg/workflow wires a
// real one in via SetExecutor once an agent is registered.
type Executor func(ctx context.Context, taskName string, metadata map[string]interface{}) (interface{}, error)

// Config tunes the mesh's connection and background-loop behavior.
type Config struct {
	MaxConnections    int
	DiscoveryInterval time.Duration
	HeartbeatInterval time.Duration
	RoutingInterval   time.Duration
	StaleThreshold    time.Duration
	BroadcastTTL      int
}

// DefaultConfig returns the mesh's out-of-the-box tuning.
func DefaultConfig() Config {
	return Config{
		MaxConnections:    5,
		DiscoveryInterval: 30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		RoutingInterval:   30 * time.Second,
		StaleThreshold:    60 * time.Second,
		BroadcastTTL:      3,
	}
}

// Metrics is a point-in-time snapshot of a Network node's traffic counters.
type Metrics struct {
	MessagesSent     int
	MessagesReceived int
	TasksExecuted    int
	RoutingUpdates   int
}

type taskOutcome struct {
	result interface{}
	err    error
}

// Network is the Protocol implementation for decentralized mesh coordination.
type Network struct {
	*protocol.BaseProtocol
	cfg Config

	mu          sync.Mutex
	connections map[string]struct{}
	routes      map[string]*Route
	pending     map[string]chan taskOutcome
	metrics     Metrics
	rrCursor    int
	executor    Executor

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a mesh Network node bound to nodeID.
func New(nodeID string, broker *transport.Broker, cfg Config) *Network {
	m := &Network{
		BaseProtocol: protocol.NewBaseProtocol("mesh_network", nodeID, broker),
		cfg:          cfg,
		connections:  make(map[string]struct{}),
		routes:       make(map[string]*Route),
		pending:      make(map[string]chan taskOutcome),
	}
	m.RegisterHandler(protocol.MessageTask, m.handleTask)
	m.RegisterHandler(protocol.MessageResult, m.handleResult)
	m.RegisterHandler(protocol.MessageDiscovery, m.handleDiscovery)
	return m
}

// SetExecutor installs the function used to satisfy tasks addressed to this
// node's capabilities. Until called, tasks execute against a placeholder
// that reports completion without doing any real work.
func (m *Network) SetExecutor(fn Executor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executor = fn
}

// Start begins dispatch and the heartbeat/discovery/routing background loops.
func (m *Network) Start(ctx context.Context) error {
	if err := m.BaseProtocol.Start(ctx); err != nil {
		return err
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(3)
	go m.heartbeatLoop(loopCtx)
	go m.discoveryLoop(loopCtx)
	go m.routingLoop(loopCtx)
	return nil
}

// Stop notifies peers this node is going offline, then halts the background
// loops and the base dispatch loop.
func (m *Network) Stop() error {
	offline := protocol.NewMessage(protocol.MessageStatus, m.NodeID)
	offline.Content["status"] = string(protocol.NodeOffline)
	_ = m.Broadcast(context.Background(), offline)

	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	return m.BaseProtocol.Stop()
}

// Broadcast stamps msg with a hop TTL and a seen-by list before delegating to
// the base protocol's broadcast. The in-process broker reaches every
// registered node directly, so TTL and seen-list exist here to carry the
// bookkeeping a real flooding transport would need, not to gate delivery.
func (m *Network) Broadcast(ctx context.Context, msg *protocol.Message) error {
	if _, ok := msg.Metadata["ttl"]; !ok {
		msg.Metadata["ttl"] = m.cfg.BroadcastTTL
	}
	seen, _ := msg.Metadata["seen"].([]string)
	msg.Metadata["seen"] = append(seen, m.NodeID)

	m.mu.Lock()
	m.metrics.MessagesSent++
	m.mu.Unlock()

	return m.BaseProtocol.Broadcast(ctx, msg)
}

// ExecuteDistributed finds a node advertising capability, selects one per
// strategy ("round_robin", "random", "least_busy", or anything else for
// first-available), and blocks until that node returns a result, the
// context is cancelled, or timeout elapses.
func (m *Network) ExecuteDistributed(ctx context.Context, taskName, capability, strategy string, timeout time.Duration) (interface{}, error) {
	candidates := m.NodesWithCapability(capability)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("execute distributed: capability %q: %w", capability, coreerr.ErrNoRoute)
	}

	target := m.selectNode(candidates, strategy)
	taskID := uuid.New().String()

	msg := protocol.NewMessage(protocol.MessageTask, m.NodeID)
	msg.Target = target
	msg.Content["task"] = taskName
	msg.Content["capability"] = capability
	msg.Content["task_id"] = taskID

	outcome := make(chan taskOutcome, 1)
	m.mu.Lock()
	m.pending[taskID] = outcome
	m.metrics.MessagesSent++
	m.mu.Unlock()

	if err := m.routeMessage(ctx, msg); err != nil {
		m.mu.Lock()
		delete(m.pending, taskID)
		m.mu.Unlock()
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-outcome:
		if result.err != nil {
			return nil, coreerr.NewTaskError(taskID, result.err)
		}
		return result.result, nil
	case <-timer.C:
		m.mu.Lock()
		delete(m.pending, taskID)
		m.mu.Unlock()
		return nil, coreerr.NewTaskError(taskID, coreerr.ErrTaskTimeout)
	case <-ctx.Done():
		m.mu.Lock()
		delete(m.pending, taskID)
		m.mu.Unlock()
		return nil, coreerr.NewTaskError(taskID, ctx.Err())
	}
}

func (m *Network) selectNode(candidates []string, strategy string) string {
	switch strategy {
	case "random":
		return candidates[rand.Intn(len(candidates))]
	case "least_busy":
		best := candidates[0]
		bestBusy := 2
		for _, id := range candidates {
			busy := 1
			if node, ok := m.Node(id); ok && node.Status == protocol.NodeIdle {
				busy = 0
			}
			if busy < bestBusy {
				bestBusy = busy
				best = id
			}
		}
		return best
	case "round_robin":
		m.mu.Lock()
		idx := m.rrCursor % len(candidates)
		m.rrCursor++
		m.mu.Unlock()
		return candidates[idx]
	default:
		return candidates[0]
	}
}

// routeMessage delivers msg to its target: directly if the target is a
// current connection or a known route, otherwise after one round of route
// discovery.
func (m *Network) routeMessage(ctx context.Context, msg *protocol.Message) error {
	if msg.Target == m.NodeID {
		return m.Send(ctx, msg)
	}

	m.mu.Lock()
	_, direct := m.connections[msg.Target]
	_, routed := m.routes[msg.Target]
	m.mu.Unlock()

	if direct || routed {
		return m.Send(ctx, msg)
	}

	m.Log.Warn().Str("event", "no_route").Str("peer", msg.Target).Msg("no route to target, discovering")
	if err := m.discoverRoute(ctx, msg.Target); err != nil {
		return err
	}

	m.mu.Lock()
	_, routed = m.routes[msg.Target]
	m.mu.Unlock()
	if !routed {
		return fmt.Errorf("route to %s: %w", msg.Target, coreerr.ErrNoRoute)
	}
	return m.Send(ctx, msg)
}

func (m *Network) discoverRoute(ctx context.Context, target string) error {
	discovery := protocol.NewMessage(protocol.MessageDiscovery, m.NodeID)
	discovery.Content["looking_for"] = target
	discovery.Content["route_discovery"] = true
	if err := m.Broadcast(ctx, discovery); err != nil {
		return err
	}

	timer := time.NewTimer(time.Second)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Network) handleTask(ctx context.Context, msg *protocol.Message) error {
	taskName, _ := msg.Content["task"].(string)
	capability, _ := msg.Content["capability"].(string)
	taskID, _ := msg.Content["task_id"].(string)

	if taskName == "" || capability == "" {
		return errors.New("mesh: task message missing task or capability")
	}

	self, _ := m.Node(m.NodeID)
	if self == nil || !self.HasCapability(capability) {
		candidates := m.NodesWithCapability(capability)
		for _, c := range candidates {
			if c == m.NodeID {
				continue
			}
			forward := *msg
			forward.Sender = m.NodeID
			forward.Target = c
			return m.routeMessage(ctx, &forward)
		}
		m.Log.Warn().Str("event", "capability_unavailable").Str("task_id", taskID).Str("capability", capability).Msg("no node can serve capability")
		return nil
	}

	m.UpdateStatus(protocol.NodeBusy)
	m.mu.Lock()
	m.metrics.TasksExecuted++
	exec := m.executor
	m.mu.Unlock()

	result, err := m.runTask(ctx, exec, taskName, msg.Content)
	m.UpdateStatus(protocol.NodeActive)

	reply := protocol.NewMessage(protocol.MessageResult, m.NodeID)
	reply.Target = msg.Sender
	reply.Content["task_id"] = taskID
	if err != nil {
		reply.Content["success"] = false
		reply.Content["error"] = err.Error()
	} else {
		reply.Content["success"] = true
		reply.Content["result"] = result
	}
	return m.Send(ctx, reply)
}

func (m *Network) runTask(ctx context.Context, exec Executor, taskName string, metadata map[string]interface{}) (interface{}, error) {
	if exec == nil {
		return fmt.Sprintf("task %q executed by %s", taskName, m.NodeID), nil
	}
	return exec(ctx, taskName, metadata)
}

func (m *Network) handleResult(ctx context.Context, msg *protocol.Message) error {
	taskID, _ := msg.Content["task_id"].(string)
	if taskID == "" {
		return nil
	}

	m.mu.Lock()
	outcome, ok := m.pending[taskID]
	if ok {
		delete(m.pending, taskID)
	}
	m.metrics.MessagesReceived++
	m.mu.Unlock()

	if !ok {
		return nil
	}

	success, _ := msg.Content["success"].(bool)
	if !success {
		errMsg, _ := msg.Content["error"].(string)
		if errMsg == "" {
			errMsg = "task failed"
		}
		outcome <- taskOutcome{err: errors.New(errMsg)}
		return nil
	}
	outcome <- taskOutcome{result: msg.Content["result"]}
	return nil
}

// handleDiscovery answers a discovery request with this node's capabilities
// and status, additionally noting a route hint when the request is a
// route-discovery probe for a target this node can already reach. A
// discovery *response* (marked via Content["is_response"]) never triggers
// another reply — it only learns the responder's capabilities and, if the
// response carries a route_to hint, a multi-hop route through it — since
// replying to a reply would have the two nodes trade discovery messages
// forever.
func (m *Network) handleDiscovery(ctx context.Context, msg *protocol.Message) error {
	m.mu.Lock()
	m.metrics.MessagesReceived++
	m.mu.Unlock()

	if isResponse, _ := msg.Content["is_response"].(bool); isResponse {
		m.applyDiscoveryResponse(msg)
		return nil
	}

	self, _ := m.Node(m.NodeID)
	response := protocol.NewMessage(protocol.MessageDiscovery, m.NodeID)
	response.Target = msg.Sender
	response.Content["is_response"] = true
	if self != nil {
		response.Content["capabilities"] = append([]string(nil), self.Capabilities...)
		response.Content["status"] = string(self.Status)
	}

	if lookingFor, _ := msg.Content["looking_for"].(string); lookingFor != "" {
		switch {
		case lookingFor == m.NodeID:
			response.Content["route_to"] = lookingFor
			response.Content["route_distance"] = 0
		default:
			if distance, ok := m.routeDistance(lookingFor); ok {
				response.Content["route_to"] = lookingFor
				response.Content["route_distance"] = distance
			}
		}
	}

	if msg.Sender == m.NodeID {
		return nil
	}
	return m.Send(ctx, response)
}

// routeDistance reports this node's current hop distance to target, if
// known: 1 for a direct connection, or the routing table's recorded
// distance.
func (m *Network) routeDistance(target string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, direct := m.connections[target]; direct {
		return 1, true
	}
	if route, ok := m.routes[target]; ok {
		return route.Distance, true
	}
	return 0, false
}

// applyDiscoveryResponse records the responder's advertised capabilities and
// status, and — if the response carries a route_to hint — learns a route to
// that target one hop further than the responder's own distance to it,
// through the responder as next hop. An existing route is kept unless the
// new one is strictly shorter.
func (m *Network) applyDiscoveryResponse(msg *protocol.Message) {
	node, ok := m.Node(msg.Sender)
	if !ok {
		node = protocol.NewNode(msg.Sender)
	}
	if caps, ok := msg.Content["capabilities"].([]string); ok {
		node.Capabilities = caps
	}
	if status, ok := msg.Content["status"].(string); ok {
		node.Status = protocol.NodeStatus(status)
	}
	m.UpsertNode(node)

	target, _ := msg.Content["route_to"].(string)
	if target == "" || target == m.NodeID {
		return
	}
	responderDistance, ok := msg.Content["route_distance"].(int)
	if !ok || responderDistance < 0 {
		responderDistance = 1
	}
	newDistance := responderDistance + 1

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.routes[target]; ok && existing.Distance <= newDistance {
		return
	}
	m.routes[target] = &Route{Target: target, NextHop: msg.Sender, Distance: newDistance, LastUpdated: time.Now()}
}

func (m *Network) heartbeatLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sendHeartbeat(ctx)
			m.pruneStaleNodes()
		}
	}
}

func (m *Network) sendHeartbeat(ctx context.Context) {
	self, _ := m.Node(m.NodeID)
	if self == nil {
		return
	}
	m.mu.Lock()
	snapshot := m.metrics
	connCount := len(m.connections)
	m.mu.Unlock()

	hb := protocol.NewMessage(protocol.MessageHeartbeat, m.NodeID)
	hb.Content["status"] = string(self.Status)
	hb.Content["capabilities"] = append([]string(nil), self.Capabilities...)
	hb.Content["connections"] = connCount
	hb.Content["messages_sent"] = snapshot.MessagesSent
	hb.Content["tasks_executed"] = snapshot.TasksExecuted

	if err := m.Broadcast(ctx, hb); err != nil {
		m.Log.Error().Err(err).Msg("heartbeat broadcast failed")
	}
}

func (m *Network) pruneStaleNodes() {
	cutoff := time.Now().Add(-m.cfg.StaleThreshold)
	for _, peer := range m.ActiveNodes() {
		node, ok := m.Node(peer)
		if !ok || node.LastHeartbeat.After(cutoff) {
			continue
		}
		m.Log.Warn().Str("event", "node_stale").Str("peer", peer).Msg("peer stale, marking offline")
		node.Status = protocol.NodeOffline
		m.UpsertNode(node)

		m.mu.Lock()
		delete(m.connections, peer)
		m.mu.Unlock()
	}
}

func (m *Network) discoveryLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.DiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runDiscovery(ctx)
		}
	}
}

func (m *Network) runDiscovery(ctx context.Context) {
	self, _ := m.Node(m.NodeID)
	discovery := protocol.NewMessage(protocol.MessageDiscovery, m.NodeID)
	if self != nil {
		discovery.Content["capabilities"] = append([]string(nil), self.Capabilities...)
	}
	discovery.Content["looking_for"] = "peers"
	if err := m.Broadcast(ctx, discovery); err != nil {
		m.Log.Error().Err(err).Msg("discovery broadcast failed")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.connections) >= m.cfg.MaxConnections {
		return
	}
	for _, peer := range m.ActiveNodes() {
		if _, ok := m.connections[peer]; ok {
			continue
		}
		m.connections[peer] = struct{}{}
		m.Log.Info().Str("event", "connected").Str("peer", peer).Msg("established mesh connection")
		if len(m.connections) >= m.cfg.MaxConnections {
			break
		}
	}
}

func (m *Network) routingLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.RoutingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.updateRoutingTable()
		}
	}
}

// updateRoutingTable rebuilds direct-distance routes from current
// connections and drops routes to nodes that have gone offline.
func (m *Network) updateRoutingTable() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for peer := range m.connections {
		existing, ok := m.routes[peer]
		if !ok || existing.Distance > 1 {
			m.routes[peer] = &Route{Target: peer, NextHop: peer, Distance: 1, LastUpdated: time.Now()}
		}
	}
	for target := range m.routes {
		node, ok := m.Node(target)
		if ok && node.Status == protocol.NodeOffline {
			delete(m.routes, target)
		}
	}
	m.metrics.RoutingUpdates++
}

// Stats returns a snapshot of this node's mesh-specific state.
func (m *Network) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Connections: len(m.connections),
		Routes:      len(m.routes),
		Metrics:     m.metrics,
	}
}

// Stats is a point-in-time snapshot of a mesh node's topology and traffic.
type Stats struct {
	Connections int
	Routes      int
	Metrics     Metrics
}

var _ protocol.Protocol = (*Network)(nil)
