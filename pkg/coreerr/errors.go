// Package coreerr defines the sentinel error values and wrapping error types
// shared by every protocol implementation in this module.
package coreerr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers compare against these with errors.Is, since
// concrete failures are always wrapped with additional context.
var (
	ErrUnknownProtocol   = errors.New("unknown protocol")
	ErrAlreadyRunning    = errors.New("protocol already running")
	ErrNotRunning        = errors.New("protocol not running")
	ErrNoRoute           = errors.New("no route to destination")
	ErrInsufficientNodes = errors.New("insufficient nodes available")
	ErrTaskTimeout       = errors.New("task timed out")
	ErrTaskFailed        = errors.New("task failed")
	ErrProposalRejected  = errors.New("proposal rejected")
	ErrShuttingDown      = errors.New("shutting down")
)

// ProtocolError wraps a failure that occurred within a named protocol
// instance, preserving the node and protocol the failure occurred on.
type ProtocolError struct {
	Protocol string
	Node     string
	Err      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s (node %s): %v", e.Protocol, e.Node, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// NewProtocolError wraps err with the protocol/node it failed on.
func NewProtocolError(protocol, node string, err error) *ProtocolError {
	return &ProtocolError{Protocol: protocol, Node: node, Err: err}
}

// TaskError wraps a task-level failure, preserving the task ID so callers
// can correlate a returned error with the task that produced it.
type TaskError struct {
	TaskID string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// NewTaskError wraps err as having occurred while processing taskID.
func NewTaskError(taskID string, err error) *TaskError {
	return &TaskError{TaskID: taskID, Err: err}
}
