package registry

import (
	"context"
	"testing"

	"github.com/agenticraft/a2a/pkg/protocol"
	"github.com/agenticraft/a2a/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersBuiltins(t *testing.T) {
	r := New()
	assert.Equal(t, []string{"consensus", "mesh_network", "task_router"}, r.ListProtocols())
}

func TestRegisterProtocolRejectsDuplicate(t *testing.T) {
	r := New()
	err := r.RegisterProtocol("task_router", func(string, *transport.Broker) protocol.Protocol { return nil }, Metadata{})
	assert.Error(t, err)
}

func TestCreateAndGetInstance(t *testing.T) {
	r := New()
	broker := transport.NewBroker()

	instance, err := r.CreateInstance("task_router", "node-a", broker)
	require.NoError(t, err)
	require.NotNil(t, instance)

	got, ok := r.GetInstance("task_router", "node-a")
	assert.True(t, ok)
	assert.Same(t, instance, got)

	_, ok = r.GetInstance("task_router", "node-b")
	assert.False(t, ok)
}

func TestCreateInstanceUnknownProtocol(t *testing.T) {
	r := New()
	_, err := r.CreateInstance("not_a_protocol", "node-a", transport.NewBroker())
	assert.Error(t, err)
}

func TestSelectProtocol(t *testing.T) {
	r := New()

	assert.Equal(t, "task_router", r.SelectProtocol("centralized", nil))
	assert.Equal(t, "consensus", r.SelectProtocol("decentralized", []string{"leader_election"}))
	assert.Equal(t, "mesh_network", r.SelectProtocol("decentralized", []string{"nonexistent_feature"}))
	assert.Equal(t, "mesh_network", r.SelectProtocol("unknown_type", nil))
}

func TestStopAllInstances(t *testing.T) {
	r := New()
	broker := transport.NewBroker()

	a, err := r.CreateInstance("task_router", "node-a", broker)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	b, err := r.CreateInstance("mesh_network", "node-b", broker)
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))

	r.StopAllInstances()

	stats := r.Statistics()
	assert.Equal(t, 0, stats.TotalInstances)
	assert.Empty(t, r.ListInstances())
}

func TestStatistics(t *testing.T) {
	r := New()
	broker := transport.NewBroker()
	_, err := r.CreateInstance("task_router", "node-a", broker)
	require.NoError(t, err)
	_, err = r.CreateInstance("task_router", "node-b", broker)
	require.NoError(t, err)
	_, err = r.CreateInstance("mesh_network", "node-c", broker)
	require.NoError(t, err)

	stats := r.Statistics()
	assert.Equal(t, 3, stats.TotalProtocols)
	assert.Equal(t, 3, stats.TotalInstances)
	assert.Equal(t, 2, stats.InstancesByProtocol["task_router"])
	assert.Equal(t, 1, stats.InstancesByProtocol["mesh_network"])
}
