package router

import (
	"context"
	"testing"
	"time"

	"github.com/agenticraft/a2a/pkg/coreerr"
	"github.com/agenticraft/a2a/pkg/protocol"
	"github.com/agenticraft/a2a/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerScore(t *testing.T) {
	tests := []struct {
		name  string
		stats *WorkerStats
		want  func(score float64) bool
	}{
		{
			name:  "nil stats scores zero",
			stats: nil,
			want:  func(s float64) bool { return s == 0 },
		},
		{
			name:  "fresh worker with no history scores high",
			stats: &WorkerStats{MaxConcurrentTasks: 3},
			want:  func(s float64) bool { return s > 0.9 },
		},
		{
			name:  "fully loaded worker scores lower than idle",
			stats: &WorkerStats{MaxConcurrentTasks: 3, CurrentLoad: 3},
			want:  func(s float64) bool { return s < 0.71 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want(workerScore(tt.stats)))
		})
	}
}

// runFakeWorker listens on a raw broker link for MessageTask envelopes and
// answers each with a MessageResult carrying the given outcome, simulating
// a real worker node without pulling in another protocol.
func runFakeWorker(t *testing.T, broker *transport.Broker, nodeID string, succeed bool, result interface{}) {
	t.Helper()
	link := broker.Register(nodeID)
	go func() {
		for env := range link {
			msg, ok := env.Data.(*protocol.Message)
			if !ok || msg.Type != protocol.MessageTask {
				continue
			}
			resp := protocol.NewMessage(protocol.MessageResult, nodeID)
			resp.Target = msg.Sender
			resp.Content["task_id"] = msg.Content["task_id"]
			resp.Content["success"] = succeed
			if succeed {
				resp.Content["result"] = result
			} else {
				resp.Content["error"] = "worker failed"
			}
			broker.Send(nodeID, msg.Sender, resp)
		}
	}()
}

func TestRouteTaskSucceeds(t *testing.T) {
	broker := transport.NewBroker()
	r := New("router-1", broker, DefaultConfig())
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	runFakeWorker(t, broker, "worker-1", true, "done")
	r.RegisterWorker("worker-1", []string{"summarize"}, 2)

	result, err := r.RouteTask(context.Background(), "summarize doc", "summarize", 0, 2*time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestRouteTaskFailure(t *testing.T) {
	broker := transport.NewBroker()
	r := New("router-1", broker, DefaultConfig())
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	runFakeWorker(t, broker, "worker-1", false, nil)
	r.RegisterWorker("worker-1", []string{"summarize"}, 2)

	_, err := r.RouteTask(context.Background(), "summarize doc", "summarize", 0, 2*time.Second, nil)
	assert.Error(t, err)
}

func TestRouteTaskNoWorkersTimesOut(t *testing.T) {
	broker := transport.NewBroker()
	cfg := DefaultConfig()
	cfg.SchedulerInterval = 10 * time.Millisecond
	r := New("router-1", broker, cfg)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	_, err := r.RouteTask(context.Background(), "summarize doc", "summarize", 0, 100*time.Millisecond, nil)
	assert.Error(t, err)
	assert.ErrorIs(t, err, coreerr.ErrTaskTimeout)
}

func TestRouteTaskCancelledContext(t *testing.T) {
	broker := transport.NewBroker()
	r := New("router-1", broker, DefaultConfig())
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.RouteTask(ctx, "summarize doc", "summarize", 0, time.Second, nil)
	assert.Error(t, err)
}

func TestHigherPriorityTaskScheduledFirst(t *testing.T) {
	broker := transport.NewBroker()
	cfg := DefaultConfig()
	cfg.SchedulerInterval = 10 * time.Millisecond
	r := New("router-1", broker, cfg)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	var order []string
	link := broker.Register("worker-1")
	go func() {
		for env := range link {
			msg := env.Data.(*protocol.Message)
			if msg.Type != protocol.MessageTask {
				continue
			}
			name, _ := msg.Content["task_name"].(string)
			order = append(order, name)
			resp := protocol.NewMessage(protocol.MessageResult, "worker-1")
			resp.Target = msg.Sender
			resp.Content["task_id"] = msg.Content["task_id"]
			resp.Content["success"] = true
			broker.Send("worker-1", msg.Sender, resp)
		}
	}()
	r.RegisterWorker("worker-1", []string{"summarize"}, 1)

	// Queue a low priority task first, then immediately a high priority one,
	// before the scheduler tick fires.
	go func() {
		_, _ = r.RouteTask(context.Background(), "low", "summarize", 1, time.Second, nil)
	}()
	time.Sleep(2 * time.Millisecond)
	_, err := r.RouteTask(context.Background(), "high", "summarize", 10, time.Second, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(order) >= 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "high", order[0])
}

func TestUnregisterWorkerRequeuesExecutingTask(t *testing.T) {
	broker := transport.NewBroker()
	cfg := DefaultConfig()
	cfg.SchedulerInterval = 10 * time.Millisecond
	r := New("router-1", broker, cfg)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	r.RegisterWorker("worker-1", []string{"summarize"}, 1)

	task := &Task{ID: "t1", Capability: "summarize", Status: TaskExecuting, AssignedTo: "worker-1", CreatedAt: time.Now()}
	r.mu.Lock()
	r.tasks[task.ID] = task
	r.mu.Unlock()

	r.UnregisterWorker("worker-1")

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, TaskPending, task.Status)
	assert.Empty(t, task.AssignedTo)
}
