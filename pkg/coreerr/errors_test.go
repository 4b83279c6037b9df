package coreerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProtocolErrorUnwrap(t *testing.T) {
	tests := []struct {
		name     string
		inner    error
		wantIs   error
	}{
		{name: "wraps unknown protocol", inner: ErrUnknownProtocol, wantIs: ErrUnknownProtocol},
		{name: "wraps already running", inner: ErrAlreadyRunning, wantIs: ErrAlreadyRunning},
		{name: "wraps not running", inner: ErrNotRunning, wantIs: ErrNotRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewProtocolError("task_router", "node-1", tt.inner)
			assert.True(t, errors.Is(err, tt.wantIs))
			assert.Contains(t, err.Error(), "task_router")
			assert.Contains(t, err.Error(), "node-1")
		})
	}
}

func TestTaskErrorUnwrap(t *testing.T) {
	err := NewTaskError("task-42", ErrTaskTimeout)
	assert.True(t, errors.Is(err, ErrTaskTimeout))
	assert.Contains(t, err.Error(), "task-42")

	wrapped := errors.Unwrap(err)
	assert.Equal(t, ErrTaskTimeout, wrapped)
}
