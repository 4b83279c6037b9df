package workflow

import "context"

// Agent is what an external unit of work looks like to the workflow layer:
// a named, capability-advertising thing that can execute a task. Workflow
// never inspects an Agent beyond this interface, so any executor — an LLM
// call, a tool invocation, a subprocess — can stand behind it.
type Agent interface {
	Name() string
	Capabilities() []string
	Execute(ctx context.Context, task string, taskCtx map[string]interface{}) (interface{}, error)
}
