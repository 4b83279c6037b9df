// Package selector picks a coordination mode (centralized, decentralized,
// hybrid) from a task's shape, and tracks how well each mode has actually
// performed so that choice can be revisited as real outcomes come in.
package selector

import (
	"sync"
	"time"
)

// Mode identifies a coordination strategy a Workflow can run under.
type Mode string

const (
	ModeCentralized   Mode = "centralized"
	ModeDecentralized Mode = "decentralized"
	ModeHybrid        Mode = "hybrid"
)

// Context describes the task shape a Select call chooses a mode for.
type Context struct {
	TaskComplexity         float64 // 0-1
	AgentCount             int
	LatencyRequirementMS   float64
	ReliabilityRequirement float64 // 0-1, defaults to 0.9 if zero
}

// Decision records the mode chosen for a Context, kept for later analysis.
type Decision struct {
	Mode    Mode
	Context Context
	At      time.Time
}

// modeStats accumulates the outcome history for one Mode.
type modeStats struct {
	successCount int
	failureCount int
	totalLatency float64
	count        int
}

// Stats is a point-in-time snapshot of one mode's recorded performance.
type Stats struct {
	SuccessRate float64
	AvgLatency  float64
	TotalTasks  int
}

// Selector chooses a coordination Mode from task context using fixed
// heuristics, and separately tracks per-mode outcome statistics reported via
// RecordOutcome. It holds no background loop and is safe for concurrent use.
type Selector struct {
	mu      sync.Mutex
	history []Decision
	stats   map[Mode]*modeStats
	now     func() time.Time
}

// New constructs an empty Selector.
func New() *Selector {
	return &Selector{
		stats: make(map[Mode]*modeStats),
		now:   time.Now,
	}
}

// Select picks a coordination mode for ctx and records the decision.
//
//   - fewer than 5 agents and complexity under 0.5: centralized is cheap
//     enough to be worth its single point of coordination.
//   - more than 20 agents, or a reliability floor above 0.95: decentralized,
//     since no single coordinator should be a required participant.
//   - a tight latency budget paired with high complexity: hybrid, trading
//     mesh fault-tolerance for router-like low-latency dispatch.
//   - anything else: hybrid, as the flexible default.
func (s *Selector) Select(ctx Context) Mode {
	if ctx.ReliabilityRequirement == 0 {
		ctx.ReliabilityRequirement = 0.9
	}

	var mode Mode
	switch {
	case ctx.AgentCount < 5 && ctx.TaskComplexity < 0.5:
		mode = ModeCentralized
	case ctx.AgentCount > 20 || ctx.ReliabilityRequirement > 0.95:
		mode = ModeDecentralized
	case ctx.LatencyRequirementMS < 100 && ctx.TaskComplexity > 0.7:
		mode = ModeHybrid
	default:
		mode = ModeHybrid
	}

	s.mu.Lock()
	s.history = append(s.history, Decision{Mode: mode, Context: ctx, At: s.now()})
	s.mu.Unlock()

	return mode
}

// RecordOutcome folds one task's result into mode's running statistics.
func (s *Selector) RecordOutcome(mode Mode, success bool, latencyMS float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.stats[mode]
	if !ok {
		m = &modeStats{}
		s.stats[mode] = m
	}
	if success {
		m.successCount++
	} else {
		m.failureCount++
	}
	m.totalLatency += latencyMS
	m.count++
}

// ModeStats returns a snapshot of every mode with at least one recorded
// outcome.
func (s *Selector) ModeStats() map[Mode]Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[Mode]Stats, len(s.stats))
	for mode, m := range s.stats {
		if m.count == 0 {
			continue
		}
		out[mode] = Stats{
			SuccessRate: float64(m.successCount) / float64(m.count),
			AvgLatency:  m.totalLatency / float64(m.count),
			TotalTasks:  m.count,
		}
	}
	return out
}

// History returns every decision made so far, oldest first.
func (s *Selector) History() []Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Decision, len(s.history))
	copy(out, s.history)
	return out
}
