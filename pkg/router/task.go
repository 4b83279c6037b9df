package router

import (
	"time"
)

// TaskState is the lifecycle state of a routed task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskAssigned  TaskState = "assigned"
	TaskExecuting TaskState = "executing"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// Task is a unit of work routed to a worker by capability.
type Task struct {
	ID           string
	Name         string
	Capability   string
	Priority     int
	CreatedAt    time.Time
	AssignedTo   string
	Status       TaskState
	Result       interface{}
	Error        string
	Metadata     map[string]interface{}
	seq          uint64 // arrival order, used to break priority ties
}

// WorkerStats tracks a registered worker's throughput and current load.
// Every field that moves together (load, completion counters, execution
// time) is guarded by the router's mu, one mutex per router rather than per
// worker, since scheduling decisions read across all workers at once.
type WorkerStats struct {
	NodeID              string
	TasksCompleted      int
	TasksFailed         int
	TotalExecutionTime  time.Duration
	CurrentLoad         int
	MaxConcurrentTasks  int
}

// SuccessRate returns the fraction of finished tasks that completed
// successfully. A worker with no finished tasks is optimistically scored 1.0
// so new workers aren't starved of work while they build a track record.
func (w *WorkerStats) SuccessRate() float64 {
	total := w.TasksCompleted + w.TasksFailed
	if total == 0 {
		return 1.0
	}
	return float64(w.TasksCompleted) / float64(total)
}

// AvgExecutionTime returns the mean execution time of completed tasks.
func (w *WorkerStats) AvgExecutionTime() time.Duration {
	if w.TasksCompleted == 0 {
		return 0
	}
	return w.TotalExecutionTime / time.Duration(w.TasksCompleted)
}

// CanAcceptTask reports whether the worker has spare concurrency.
func (w *WorkerStats) CanAcceptTask() bool {
	return w.CurrentLoad < w.MaxConcurrentTasks
}
