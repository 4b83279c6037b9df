package workflow

import (
	"context"

	"github.com/agenticraft/a2a/pkg/protocol"
	"github.com/agenticraft/a2a/pkg/transport"
)

// agentWorker exposes one Agent as a task_router worker: it runs its own
// minimal protocol participant bound to the agent's name, executes any task
// message addressed to it, and reports the outcome back to the sender.
type agentWorker struct {
	*protocol.BaseProtocol
	agent Agent
}

func newAgentWorker(agent Agent, broker *transport.Broker) *agentWorker {
	w := &agentWorker{
		BaseProtocol: protocol.NewBaseProtocol("agent_worker", agent.Name(), broker),
		agent:        agent,
	}
	w.RegisterHandler(protocol.MessageTask, w.handleTask)
	return w
}

func (w *agentWorker) handleTask(ctx context.Context, msg *protocol.Message) error {
	taskName, _ := msg.Content["task_name"].(string)
	taskID, _ := msg.Content["task_id"].(string)

	result, err := w.agent.Execute(ctx, taskName, msg.Content)

	reply := protocol.NewMessage(protocol.MessageResult, w.NodeID)
	reply.Target = msg.Sender
	reply.Content["task_id"] = taskID
	if err != nil {
		reply.Content["success"] = false
		reply.Content["error"] = err.Error()
	} else {
		reply.Content["success"] = true
		reply.Content["result"] = result
	}
	return w.Send(ctx, reply)
}
