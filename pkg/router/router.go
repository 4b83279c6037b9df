// Package router implements the centralized coordination protocol: a single
// node accepts tasks tagged with a required capability, queues them by
// priority, and assigns each to the best-scoring available worker.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agenticraft/a2a/pkg/coreerr"
	"github.com/agenticraft/a2a/pkg/protocol"
	"github.com/agenticraft/a2a/pkg/transport"
	"github.com/google/uuid"
)

// Config tunes the router's scheduling and retention behavior.
type Config struct {
	MaxRetries                int
	TaskTimeout                time.Duration
	SchedulerInterval          time.Duration
	MonitorInterval            time.Duration
	TaskRetention              time.Duration
	DefaultMaxConcurrentTasks  int
}

// DefaultConfig returns the router's out-of-the-box tuning.
func DefaultConfig() Config {
	return Config{
		MaxRetries:                3,
		TaskTimeout:               5 * time.Minute,
		SchedulerInterval:         500 * time.Millisecond,
		MonitorInterval:           10 * time.Second,
		TaskRetention:             time.Hour,
		DefaultMaxConcurrentTasks: 3,
	}
}

type taskOutcome struct {
	result interface{}
	err    error
}

// TaskRouter is the Protocol implementation for centralized coordination.
type TaskRouter struct {
	*protocol.BaseProtocol
	cfg Config

	mu            sync.Mutex
	tasks         map[string]*Task
	queues        map[string]*priorityQueue
	capabilityMap map[string]map[string]struct{}
	workerStats   map[string]*WorkerStats
	pending       map[string]chan taskOutcome
	seqCounter    uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a TaskRouter bound to nodeID, sharing broker with every
// other protocol instance that needs to reach it.
func New(nodeID string, broker *transport.Broker, cfg Config) *TaskRouter {
	r := &TaskRouter{
		BaseProtocol:  protocol.NewBaseProtocol("task_router", nodeID, broker),
		cfg:           cfg,
		tasks:         make(map[string]*Task),
		queues:        make(map[string]*priorityQueue),
		capabilityMap: make(map[string]map[string]struct{}),
		workerStats:   make(map[string]*WorkerStats),
		pending:       make(map[string]chan taskOutcome),
	}
	r.RegisterHandler(protocol.MessageResult, r.handleTaskResult)
	r.RegisterHandler(protocol.MessageStatus, r.handleWorkerStatus)
	return r
}

// Start begins dispatch and the scheduler/monitor background loops.
func (r *TaskRouter) Start(ctx context.Context) error {
	if err := r.BaseProtocol.Start(ctx); err != nil {
		return err
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(2)
	go r.schedulerLoop(loopCtx)
	go r.monitorLoop(loopCtx)
	return nil
}

// Stop halts the background loops, then the base dispatch loop.
func (r *TaskRouter) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	return r.BaseProtocol.Stop()
}

// RegisterWorker adds or updates a worker's capabilities and resets its
// stats bookkeeping if it is new.
func (r *TaskRouter) RegisterWorker(nodeID string, capabilities []string, maxConcurrentTasks int) {
	if maxConcurrentTasks <= 0 {
		maxConcurrentTasks = r.cfg.DefaultMaxConcurrentTasks
	}

	r.mu.Lock()
	if _, ok := r.workerStats[nodeID]; !ok {
		r.workerStats[nodeID] = &WorkerStats{NodeID: nodeID, MaxConcurrentTasks: maxConcurrentTasks}
	}
	for _, cap := range capabilities {
		if r.capabilityMap[cap] == nil {
			r.capabilityMap[cap] = make(map[string]struct{})
		}
		r.capabilityMap[cap][nodeID] = struct{}{}
	}
	r.mu.Unlock()

	node, ok := r.Node(nodeID)
	if !ok {
		node = protocol.NewNode(nodeID)
		node.Status = protocol.NodeIdle
	}
	node.Capabilities = capabilities
	r.UpsertNode(node)

	r.Log.Info().Str("event", "worker_registered").Str("peer", nodeID).Strs("capabilities", capabilities).Msg("worker registered")
}

// UnregisterWorker removes a worker from routing consideration and
// reassigns any task it was executing back to its capability queue.
func (r *TaskRouter) UnregisterWorker(nodeID string) {
	r.mu.Lock()
	for _, workers := range r.capabilityMap {
		delete(workers, nodeID)
	}
	var requeued []*Task
	for _, task := range r.tasks {
		if task.AssignedTo == nodeID && task.Status == TaskExecuting {
			task.Status = TaskPending
			task.AssignedTo = ""
			requeued = append(requeued, task)
		}
	}
	for _, task := range requeued {
		r.pushLocked(task)
	}
	r.mu.Unlock()

	if node, ok := r.Node(nodeID); ok {
		node.Status = protocol.NodeOffline
		r.UpsertNode(node)
	}
	r.Log.Info().Str("event", "worker_unregistered").Str("peer", nodeID).Msg("worker unregistered")
}

// RouteTask queues a task requiring capability and blocks until it
// completes, fails, the context is cancelled, or it times out.
func (r *TaskRouter) RouteTask(ctx context.Context, name, capability string, priority int, timeout time.Duration, metadata map[string]interface{}) (interface{}, error) {
	if timeout <= 0 {
		timeout = r.cfg.TaskTimeout
	}

	task := &Task{
		ID:         uuid.New().String(),
		Name:       name,
		Capability: capability,
		Priority:   priority,
		CreatedAt:  time.Now(),
		Status:     TaskPending,
		Metadata:   metadata,
	}

	outcome := make(chan taskOutcome, 1)

	r.mu.Lock()
	r.tasks[task.ID] = task
	r.pending[task.ID] = outcome
	r.pushLocked(task)
	r.mu.Unlock()

	r.Log.Info().Str("event", "task_queued").Str("task_id", task.ID).Str("protocol", "task_router").Msg("queued task")

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-outcome:
		if result.err != nil {
			return nil, coreerr.NewTaskError(task.ID, result.err)
		}
		return result.result, nil
	case <-timer.C:
		r.mu.Lock()
		task.Status = TaskFailed
		task.Error = "task timed out"
		delete(r.pending, task.ID)
		r.mu.Unlock()
		return nil, coreerr.NewTaskError(task.ID, coreerr.ErrTaskTimeout)
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pending, task.ID)
		r.mu.Unlock()
		return nil, coreerr.NewTaskError(task.ID, ctx.Err())
	}
}

// pushLocked enqueues task onto its capability's priority queue. Caller
// holds r.mu.
func (r *TaskRouter) pushLocked(task *Task) {
	q, ok := r.queues[task.Capability]
	if !ok {
		q = &priorityQueue{}
		r.queues[task.Capability] = q
	}
	r.seqCounter++
	task.seq = r.seqCounter
	pushItem(q, &queueItem{taskID: task.ID, priority: task.Priority, seq: task.seq})
}

func (r *TaskRouter) schedulerLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.SchedulerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.scheduleOnce(ctx)
		}
	}
}

func (r *TaskRouter) scheduleOnce(ctx context.Context) {
	r.mu.Lock()
	capabilities := make([]string, 0, len(r.queues))
	for cap := range r.queues {
		capabilities = append(capabilities, cap)
	}
	r.mu.Unlock()

	for _, cap := range capabilities {
		for {
			r.mu.Lock()
			q := r.queues[cap]
			if q == nil || q.Len() == 0 {
				r.mu.Unlock()
				break
			}
			workers := r.availableWorkersLocked(cap)
			if len(workers) == 0 {
				r.mu.Unlock()
				break
			}

			item := popItem(q)
			task := r.tasks[item.taskID]
			if task == nil || task.Status != TaskPending {
				r.mu.Unlock()
				continue
			}

			workerID := r.selectWorkerLocked(workers, task)
			stats := r.workerStats[workerID]
			task.AssignedTo = workerID
			task.Status = TaskAssigned
			stats.CurrentLoad++
			r.mu.Unlock()

			r.sendTask(ctx, task, workerID)

			r.mu.Lock()
			task.Status = TaskExecuting
			r.mu.Unlock()
		}
	}
}

// availableWorkersLocked returns workers registered for capability that are
// not offline and have spare concurrency. Caller holds r.mu.
func (r *TaskRouter) availableWorkersLocked(capability string) []string {
	var available []string
	for workerID := range r.capabilityMap[capability] {
		node, ok := r.Node(workerID)
		if !ok || node.Status == protocol.NodeOffline {
			continue
		}
		stats, ok := r.workerStats[workerID]
		if ok && stats.CanAcceptTask() {
			available = append(available, workerID)
		}
	}
	return available
}

// selectWorkerLocked scores each candidate and returns the highest-scoring
// worker, breaking ties by the lexicographically smallest worker ID. Caller
// holds r.mu.
func (r *TaskRouter) selectWorkerLocked(workers []string, task *Task) string {
	best := workers[0]
	bestScore := -1.0
	for _, workerID := range workers {
		stats := r.workerStats[workerID]
		score := workerScore(stats)
		if score > bestScore || (score == bestScore && workerID < best) {
			bestScore = score
			best = workerID
		}
	}
	return best
}

// workerScore weighs success rate (40%), spare load (30%), and execution
// speed (30%) into a single comparable figure in [0, 1].
func workerScore(stats *WorkerStats) float64 {
	if stats == nil {
		return 0
	}
	successScore := stats.SuccessRate() * 0.4

	load := 0.0
	if stats.MaxConcurrentTasks > 0 {
		load = float64(stats.CurrentLoad) / float64(stats.MaxConcurrentTasks)
	}
	loadScore := (1 - load) * 0.3

	timeScore := 0.3
	if avg := stats.AvgExecutionTime(); avg > 0 {
		avgMinutes := avg.Minutes()
		if avgMinutes > 0 {
			timeScore = 0.3 / avgMinutes
			if timeScore > 0.3 {
				timeScore = 0.3
			}
		}
	}

	return successScore + loadScore + timeScore
}

func (r *TaskRouter) sendTask(ctx context.Context, task *Task, workerID string) {
	msg := protocol.NewMessage(protocol.MessageTask, r.NodeID)
	msg.Target = workerID
	msg.Content["task_id"] = task.ID
	msg.Content["task_name"] = task.Name
	msg.Content["capability"] = task.Capability
	for k, v := range task.Metadata {
		msg.Content[k] = v
	}

	if err := r.Send(ctx, msg); err != nil {
		r.Log.Error().Err(err).Str("task_id", task.ID).Str("peer", workerID).Msg("failed to dispatch task")
		return
	}
	r.Log.Info().Str("event", "task_assigned").Str("task_id", task.ID).Str("peer", workerID).Msg("assigned task")
}

func (r *TaskRouter) monitorLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkTimeouts()
			r.cleanupOldTasks()
		}
	}
}

func (r *TaskRouter) checkTimeouts() {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, task := range r.tasks {
		if task.Status != TaskExecuting {
			continue
		}
		if now.Sub(task.CreatedAt) <= r.cfg.TaskTimeout {
			continue
		}

		task.Status = TaskFailed
		task.Error = "execution timeout"

		if outcome, ok := r.pending[task.ID]; ok {
			select {
			case outcome <- taskOutcome{err: coreerr.ErrTaskTimeout}:
			default:
			}
			delete(r.pending, task.ID)
		}

		if stats, ok := r.workerStats[task.AssignedTo]; ok {
			stats.TasksFailed++
			stats.CurrentLoad--
		}
	}
}

func (r *TaskRouter) cleanupOldTasks() {
	cutoff := time.Now().Add(-r.cfg.TaskRetention)

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, task := range r.tasks {
		if (task.Status == TaskCompleted || task.Status == TaskFailed) && task.CreatedAt.Before(cutoff) {
			delete(r.tasks, id)
			delete(r.pending, id)
		}
	}
}

func (r *TaskRouter) handleTaskResult(ctx context.Context, msg *protocol.Message) error {
	taskID, _ := msg.Content["task_id"].(string)
	if taskID == "" {
		return fmt.Errorf("task result missing task_id")
	}

	r.mu.Lock()
	task, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		r.Log.Warn().Str("event", "unknown_task_result").Str("task_id", taskID).Msg("result for unknown task")
		return nil
	}

	success := true
	if s, ok := msg.Content["success"].(bool); ok {
		success = s
	}

	task.Result = msg.Content["result"]
	if errMsg, ok := msg.Content["error"].(string); ok {
		task.Error = errMsg
	}

	if success {
		task.Status = TaskCompleted
	} else {
		task.Status = TaskFailed
	}

	if stats, ok := r.workerStats[task.AssignedTo]; ok {
		stats.CurrentLoad--
		if success {
			stats.TasksCompleted++
		} else {
			stats.TasksFailed++
		}
		stats.TotalExecutionTime += time.Since(task.CreatedAt)
	}

	outcome, hasOutcome := r.pending[taskID]
	if hasOutcome {
		delete(r.pending, taskID)
	}
	r.mu.Unlock()

	if hasOutcome {
		if success {
			outcome <- taskOutcome{result: task.Result}
		} else {
			errMsg := task.Error
			if errMsg == "" {
				errMsg = coreerr.ErrTaskFailed.Error()
			}
			outcome <- taskOutcome{err: fmt.Errorf("%s", errMsg)}
		}
	}
	return nil
}

func (r *TaskRouter) handleWorkerStatus(ctx context.Context, msg *protocol.Message) error {
	status := protocol.NodeIdle
	if s, ok := msg.Content["status"].(string); ok {
		status = protocol.NodeStatus(s)
	}

	if node, ok := r.Node(msg.Sender); ok {
		node.Status = status
		r.UpsertNode(node)
	}

	if status == protocol.NodeOffline {
		r.UnregisterWorker(msg.Sender)
	}
	return nil
}

// Stats summarizes current task and worker state for observability.
type Stats struct {
	TotalTasks     int
	PendingTasks   int
	ExecutingTasks int
	CompletedTasks int
	FailedTasks    int
	QueueDepths    map[string]int
}

// Stats returns a snapshot of the router's task and queue state.
func (r *TaskRouter) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{QueueDepths: make(map[string]int)}
	for _, task := range r.tasks {
		stats.TotalTasks++
		switch task.Status {
		case TaskPending:
			stats.PendingTasks++
		case TaskExecuting, TaskAssigned:
			stats.ExecutingTasks++
		case TaskCompleted:
			stats.CompletedTasks++
		case TaskFailed:
			stats.FailedTasks++
		}
	}
	for cap, q := range r.queues {
		stats.QueueDepths[cap] = q.Len()
	}
	return stats
}

var _ protocol.Protocol = (*TaskRouter)(nil)
