package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/agenticraft/a2a/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPair(t *testing.T, broker *transport.Broker) (*BaseProtocol, *BaseProtocol) {
	t.Helper()
	a := NewBaseProtocol("test", "node-a", broker)
	b := NewBaseProtocol("test", "node-b", broker)
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() {
		_ = a.Stop()
		_ = b.Stop()
	})
	return a, b
}

func TestStartTwiceFails(t *testing.T) {
	broker := transport.NewBroker()
	a := NewBaseProtocol("test", "node-a", broker)
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	err := a.Start(context.Background())
	assert.Error(t, err)
}

func TestStopWithoutStartFails(t *testing.T) {
	broker := transport.NewBroker()
	a := NewBaseProtocol("test", "node-a", broker)
	err := a.Stop()
	assert.Error(t, err)
}

func TestHeartbeatDiscoversNewNode(t *testing.T) {
	broker := transport.NewBroker()
	a, _ := newTestPair(t, broker)

	hb := NewMessage(MessageHeartbeat, "node-c")
	hb.Content["status"] = "active"
	broker.Send("node-c", "node-a", hb)

	assert.Eventually(t, func() bool {
		_, ok := a.Node("node-c")
		return ok
	}, time.Second, 10*time.Millisecond)

	node, _ := a.Node("node-c")
	assert.True(t, node.IsActive())
}

func TestHeartbeatIgnoresStaleTimestamp(t *testing.T) {
	broker := transport.NewBroker()
	a, _ := newTestPair(t, broker)

	fresh := NewMessage(MessageHeartbeat, "node-c")
	fresh.Timestamp = time.Now()
	fresh.Content["status"] = "active"
	require.True(t, broker.Send("node-c", "node-a", fresh))

	assert.Eventually(t, func() bool {
		_, ok := a.Node("node-c")
		return ok
	}, time.Second, 10*time.Millisecond)

	recorded, _ := a.Node("node-c")
	recordedAt := recorded.LastHeartbeat

	stale := NewMessage(MessageHeartbeat, "node-c")
	stale.Timestamp = recordedAt.Add(-time.Minute)
	stale.Content["status"] = "idle"
	require.True(t, broker.Send("node-c", "node-a", stale))

	time.Sleep(50 * time.Millisecond)

	node, ok := a.Node("node-c")
	require.True(t, ok)
	assert.True(t, node.LastHeartbeat.Equal(recordedAt), "stale heartbeat must not move LastHeartbeat backward")
	assert.Equal(t, NodeActive, node.Status, "stale heartbeat must not overwrite status")
}

func TestDiscoveryRespondsWithCapabilities(t *testing.T) {
	broker := transport.NewBroker()
	a, b := newTestPair(t, broker)
	a.RegisterCapability("summarize")

	req := NewMessage(MessageDiscovery, "node-b")
	req.Target = "node-a"
	require.NoError(t, b.Send(context.Background(), req))

	assert.Eventually(t, func() bool {
		caps := b.NodesWithCapability("summarize")
		for _, id := range caps {
			if id == "node-a" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestSendToUnknownTargetFails(t *testing.T) {
	broker := transport.NewBroker()
	a := NewBaseProtocol("test", "node-a", broker)
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	msg := NewMessage(MessageTask, "node-a")
	msg.Target = "ghost"
	err := a.Send(context.Background(), msg)
	assert.Error(t, err)
}

func TestActiveNodesExcludesSelf(t *testing.T) {
	broker := transport.NewBroker()
	a, _ := newTestPair(t, broker)

	hb := NewMessage(MessageHeartbeat, "node-b")
	hb.Content["status"] = "active"
	broker.Send("node-b", "node-a", hb)

	assert.Eventually(t, func() bool {
		return len(a.ActiveNodes()) == 1
	}, time.Second, 10*time.Millisecond)

	active := a.ActiveNodes()
	assert.NotContains(t, active, "node-a")
	assert.Contains(t, active, "node-b")
}

func TestNetworkStatusCountsSelf(t *testing.T) {
	broker := transport.NewBroker()
	a := NewBaseProtocol("test", "node-a", broker)
	status := a.NetworkStatus()
	assert.Equal(t, "node-a", status.NodeID)
	assert.Equal(t, 1, status.TotalNodes)
	assert.Equal(t, 1, status.ActiveNodes)
}
