// Package workflow coordinates a set of Agents over whichever protocol
// (centralized router, decentralized consensus, or hybrid mesh) the
// workflow was configured with, dispatching a task per required capability
// and aggregating the outcomes: a single outcome is returned as is, two or
// more are combined into one WorkflowResult.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agenticraft/a2a/pkg/consensus"
	"github.com/agenticraft/a2a/pkg/corelog"
	"github.com/agenticraft/a2a/pkg/mesh"
	"github.com/agenticraft/a2a/pkg/protocol"
	"github.com/agenticraft/a2a/pkg/registry"
	"github.com/agenticraft/a2a/pkg/router"
	"github.com/agenticraft/a2a/pkg/selector"
	"github.com/agenticraft/a2a/pkg/transport"
	"github.com/rs/zerolog"
)

// WorkflowResult aggregates the outcomes of one ExecuteWithCoordination call
// across however many capability-scoped sub-executions it required.
type WorkflowResult struct {
	Results      []interface{}
	SuccessCount int
	TotalCount   int
}

// StatusReport is a point-in-time summary of a workflow's coordination
// state, combining protocol network status with selector mode statistics.
type StatusReport struct {
	Status           string
	Protocol         string
	CoordinationMode string
	Network          protocol.NetworkStatus
	ModeStats        map[selector.Mode]selector.Stats
}

// Workflow coordinates a fixed set of Agents over one Protocol instance for
// its entire lifetime — consistent with Protocol's own "one instance per
// node for its whole life" contract, this workflow never swaps protocols
// mid-run even when strategy == "auto" picks a different coordination mode
// for a single call; "auto" only chooses the per-call dispatch strategy.
type Workflow struct {
	Name             string
	CoordinationMode string // "centralized", "decentralized", or "hybrid"
	ProtocolName     string // set explicitly, or left empty for registry.SelectProtocol

	registry *registry.Registry
	selector *selector.Selector
	broker   *transport.Broker

	mu      sync.Mutex
	agents  map[string]Agent
	proto   protocol.Protocol
	workers []*agentWorker

	Log zerolog.Logger
}

// New constructs a Workflow named name, coordinating over coordinationMode
// once Initialize selects and starts a concrete protocol.
func New(name, coordinationMode string, reg *registry.Registry, broker *transport.Broker, sel *selector.Selector) *Workflow {
	return &Workflow{
		Name:             name,
		CoordinationMode: coordinationMode,
		registry:         reg,
		selector:         sel,
		broker:           broker,
		agents:           make(map[string]Agent),
		Log:              corelog.Logger.With().Str("workflow", name).Logger(),
	}
}

// AddAgent registers agent with the workflow. Call before Initialize so its
// capabilities are wired into the selected protocol.
func (w *Workflow) AddAgent(agent Agent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.agents[agent.Name()] = agent
}

// Initialize selects a protocol (if ProtocolName was left empty), creates
// and starts an instance of it, and wires every registered agent's
// capabilities into it.
func (w *Workflow) Initialize(ctx context.Context) error {
	if w.ProtocolName == "" {
		w.ProtocolName = w.registry.SelectProtocol(w.CoordinationMode, nil)
	}

	nodeID := w.Name + "-coordinator"
	proto, err := w.registry.CreateInstance(w.ProtocolName, nodeID, w.broker)
	if err != nil {
		return fmt.Errorf("workflow %s: %w", w.Name, err)
	}
	if err := proto.Start(ctx); err != nil {
		return fmt.Errorf("workflow %s: starting %s: %w", w.Name, w.ProtocolName, err)
	}
	w.proto = proto

	w.mu.Lock()
	agents := make([]Agent, 0, len(w.agents))
	for _, a := range w.agents {
		agents = append(agents, a)
	}
	w.mu.Unlock()

	switch p := proto.(type) {
	case *mesh.Network:
		for _, agent := range agents {
			for _, cap := range agent.Capabilities() {
				p.RegisterCapability(cap)
			}
		}
		p.SetExecutor(w.dispatchToAgent)
	case *router.TaskRouter:
		for _, agent := range agents {
			aw := newAgentWorker(agent, w.broker)
			if err := aw.Start(ctx); err != nil {
				return fmt.Errorf("workflow %s: starting worker for agent %s: %w", w.Name, agent.Name(), err)
			}
			w.mu.Lock()
			w.workers = append(w.workers, aw)
			w.mu.Unlock()
			p.RegisterWorker(aw.NodeID, agent.Capabilities(), 1)
		}
	case *consensus.Protocol:
		// Consensus only agrees that a task should run; the agreeing nodes
		// execute it locally afterward, so no protocol-side wiring is needed
		// beyond having agents registered for capability lookup.
	default:
		for _, agent := range agents {
			for _, cap := range agent.Capabilities() {
				proto.RegisterCapability(cap)
			}
		}
	}

	w.Log.Info().Str("event", "workflow_initialized").Str("protocol", w.ProtocolName).Int("agents", len(agents)).Msg("workflow initialized")
	return nil
}

func (w *Workflow) dispatchToAgent(ctx context.Context, taskName string, metadata map[string]interface{}) (interface{}, error) {
	capability, _ := metadata["capability"].(string)
	agent := w.agentForCapability(capability)
	if agent == nil {
		return nil, fmt.Errorf("workflow %s: no agent registered for capability %q", w.Name, capability)
	}
	return agent.Execute(ctx, taskName, metadata)
}

func (w *Workflow) agentForCapability(capability string) Agent {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, agent := range w.agents {
		for _, c := range agent.Capabilities() {
			if c == capability {
				return agent
			}
		}
	}
	return nil
}

// ExecuteWithCoordination runs task once per entry in requiredCapabilities,
// dispatched through whichever protocol this workflow was initialized with,
// and aggregates the results: a single required capability returns its raw
// result, two or more return a WorkflowResult (see aggregateResults).
// strategy == "auto" asks the selector for a coordination mode given task
// and the current agent count, then maps it to a dispatch strategy string.
// Only the mesh branch reads strategy: it honors
// "round_robin"/"random"/"least_busy" and treats anything else, including a
// mode name that doesn't apply to it, as first-available. The router and
// consensus branches ignore strategy.
func (w *Workflow) ExecuteWithCoordination(ctx context.Context, task string, requiredCapabilities []string, strategy string, timeout time.Duration) (interface{}, error) {
	if w.proto == nil {
		if err := w.Initialize(ctx); err != nil {
			return nil, err
		}
	}
	if strategy == "auto" {
		strategy = w.selectStrategy(task)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	switch w.ProtocolName {
	case "mesh_network":
		return w.executeMesh(ctx, task, requiredCapabilities, strategy, timeout)
	case "task_router":
		return w.executeCentralized(ctx, task, requiredCapabilities, timeout)
	case "consensus":
		return w.executeConsensus(ctx, task, requiredCapabilities, timeout)
	default:
		return nil, fmt.Errorf("workflow %s: unsupported protocol %q", w.Name, w.ProtocolName)
	}
}

// selectStrategy estimates task complexity from its word count, asks the
// selector for a coordination mode, and maps that mode to a dispatch
// strategy name: centralized -> task_router, decentralized -> consensus,
// anything else -> round_robin.
func (w *Workflow) selectStrategy(task string) string {
	complexity := float64(len(strings.Fields(task))) / 100.0
	if complexity > 1 {
		complexity = 1
	}

	w.mu.Lock()
	agentCount := len(w.agents)
	w.mu.Unlock()

	mode := w.selector.Select(selector.Context{
		TaskComplexity:         complexity,
		AgentCount:             agentCount,
		LatencyRequirementMS:   1000,
		ReliabilityRequirement: 0.95,
	})

	switch mode {
	case selector.ModeCentralized:
		return "task_router"
	case selector.ModeDecentralized:
		return "consensus"
	default:
		return "round_robin"
	}
}

func (w *Workflow) executeMesh(ctx context.Context, task string, capabilities []string, strategy string, timeout time.Duration) (interface{}, error) {
	mnet := w.proto.(*mesh.Network)

	var results []interface{}
	for _, capability := range capabilities {
		result, err := mnet.ExecuteDistributed(ctx, task, capability, strategy, timeout)
		if err != nil {
			w.Log.Error().Err(err).Str("capability", capability).Msg("mesh execution failed")
			results = append(results, errorResult(err))
			continue
		}
		results = append(results, result)
	}
	return aggregateResults(results), nil
}

func (w *Workflow) executeCentralized(ctx context.Context, task string, capabilities []string, timeout time.Duration) (interface{}, error) {
	tr := w.proto.(*router.TaskRouter)

	var results []interface{}
	for i, capability := range capabilities {
		subTask := fmt.Sprintf("%s (part %d: %s)", task, i+1, capability)
		result, err := tr.RouteTask(ctx, subTask, capability, 0, timeout, map[string]interface{}{"capability": capability})
		if err != nil {
			w.Log.Error().Err(err).Str("capability", capability).Msg("centralized execution failed")
			results = append(results, errorResult(err))
			continue
		}
		results = append(results, result)
	}
	return aggregateResults(results), nil
}

func (w *Workflow) executeConsensus(ctx context.Context, task string, capabilities []string, timeout time.Duration) (interface{}, error) {
	cp := w.proto.(*consensus.Protocol)

	content := map[string]interface{}{
		"task":         task,
		"capabilities": capabilities,
		"proposer":     w.Name,
	}
	accepted, err := cp.Propose(ctx, content, timeout)
	if err != nil {
		w.Log.Error().Err(err).Msg("consensus execution failed")
		return nil, err
	}
	if !accepted {
		return aggregateResults([]interface{}{errorResult(fmt.Errorf("consensus rejected task execution"))}), nil
	}

	var results []interface{}
	for _, capability := range capabilities {
		agent := w.agentForCapability(capability)
		if agent == nil {
			results = append(results, errorResult(fmt.Errorf("no agent registered for capability %q", capability)))
			continue
		}
		result, err := agent.Execute(ctx, task, map[string]interface{}{"capability": capability})
		if err != nil {
			results = append(results, errorResult(err))
			continue
		}
		results = append(results, result)
	}
	return aggregateResults(results), nil
}

func errorResult(err error) map[string]interface{} {
	return map[string]interface{}{"error": err.Error()}
}

// aggregateResults mirrors the original's own aggregation: zero results
// yields nil, exactly one is returned bare rather than wrapped, and two or
// more are combined into a WorkflowResult.
func aggregateResults(results []interface{}) interface{} {
	if len(results) == 0 {
		return nil
	}
	if len(results) == 1 {
		return results[0]
	}

	success := 0
	for _, r := range results {
		if m, ok := r.(map[string]interface{}); ok {
			if _, hasErr := m["error"]; hasErr {
				continue
			}
		}
		success++
	}
	return WorkflowResult{Results: results, SuccessCount: success, TotalCount: len(results)}
}

// CoordinationStatus summarizes the workflow's current protocol network view
// and the selector's accumulated per-mode statistics.
func (w *Workflow) CoordinationStatus() StatusReport {
	if w.proto == nil {
		return StatusReport{Status: "not_initialized"}
	}
	return StatusReport{
		Status:           "running",
		Protocol:         w.ProtocolName,
		CoordinationMode: w.CoordinationMode,
		Network:          w.proto.NetworkStatus(),
		ModeStats:        w.selector.ModeStats(),
	}
}

// Cleanup stops every per-agent worker and the underlying protocol.
func (w *Workflow) Cleanup() error {
	w.mu.Lock()
	workers := w.workers
	w.workers = nil
	w.mu.Unlock()

	var firstErr error
	for _, worker := range workers {
		if err := worker.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if w.proto != nil {
		if err := w.proto.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
