package mesh

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

func markPeerActive(t *testing.T, m *Network, peerID string, caps ...string) {
	t.Helper()
	node := protocol.NewNode(peerID)
	node.Status = protocol.NodeActive
	node.Capabilities = caps
	m.UpsertNode(node)
}

func TestSelectNode(t *testing.T) {
	m := New("node-a", transport.NewBroker(), DefaultConfig())
	markPeerActive(t, m, "node-b")
	markPeerActive(t, m, "node-c")
	idleNode, _ := m.Node("node-b")
	idleNode.Status = protocol.NodeIdle
	m.UpsertNode(idleNode)

	candidates := []string{"node-b", "node-c"}

	assert.Equal(t, "node-b", m.selectNode(candidates, "least_busy"))
	assert.Equal(t, "node-b", m.selectNode(candidates, "round_robin"))
	assert.Equal(t, "node-c", m.selectNode(candidates, "round_robin"))
	assert.Contains(t, candidates, m.selectNode(candidates, "random"))
	assert.Equal(t, "node-b", m.selectNode(candidates, "first-available"))
}

func TestExecuteDistributedSucceeds(t *testing.T) {
	broker := transport.NewBroker()
	a := New("node-a", broker, DefaultConfig())
	b := New("node-b", broker, DefaultConfig())

	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { a.Stop() })
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { b.Stop() })

	b.RegisterCapability("compute")
	b.SetExecutor(func(ctx context.Context, taskName string, metadata map[string]interface{}) (interface{}, error) {
		return "computed:" + taskName, nil
	})

	markPeerActive(t, a, "node-b", "compute")
	a.mu.Lock()
	a.connections["node-b"] = struct{}{}
	a.mu.Unlock()

	result, err := a.ExecuteDistributed(context.Background(), "render-frame", "compute", "round_robin", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "computed:render-frame", result)
}

func TestExecuteDistributedNoCapability(t *testing.T) {
	m := New("node-a", transport.NewBroker(), DefaultConfig())
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	_, err := m.ExecuteDistributed(context.Background(), "task", "missing-capability", "random", time.Second)
	assert.ErrorIs(t, err, coreerr.ErrNoRoute)
}

func TestExecuteDistributedTimesOutWithoutResponse(t *testing.T) {
	broker := transport.NewBroker()
	a := New("node-a", broker, DefaultConfig())
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	// node-b is known, directly connected and has a link on the broker, but
	// no protocol drains that link, so it never replies.
	broker.Register("node-b")
	markPeerActive(t, a, "node-b", "compute")
	a.mu.Lock()
	a.connections["node-b"] = struct{}{}
	a.mu.Unlock()

	_, err := a.ExecuteDistributed(context.Background(), "task", "compute", "random", 100*time.Millisecond)
	assert.ErrorIs(t, err, coreerr.ErrTaskTimeout)
}

func TestUpdateRoutingTable(t *testing.T) {
	m := New("node-a", transport.NewBroker(), DefaultConfig())
	markPeerActive(t, m, "node-b")

	m.mu.Lock()
	m.connections["node-b"] = struct{}{}
	m.mu.Unlock()

	m.updateRoutingTable()

	m.mu.Lock()
	route, ok := m.routes["node-b"]
	m.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, 1, route.Distance)
	assert.Equal(t, "node-b", route.NextHop)

	node, _ := m.Node("node-b")
	node.Status = protocol.NodeOffline
	m.UpsertNode(node)
	m.updateRoutingTable()

	m.mu.Lock()
	_, ok = m.routes["node-b"]
	m.mu.Unlock()
	assert.False(t, ok)
}

func TestHandleDiscoveryResponseDoesNotTriggerReply(t *testing.T) {
	broker := transport.NewBroker()
	m := New("node-a", broker, DefaultConfig())
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	link := broker.Register("node-b")
	require.NotNil(t, link)

	response := protocol.NewMessage(protocol.MessageDiscovery, "node-c")
	response.Target = "node-a"
	response.Content["is_response"] = true
	response.Content["capabilities"] = []string{"compute"}
	response.Content["status"] = string(protocol.NodeActive)

	require.NoError(t, m.handleDiscovery(context.Background(), response))

	select {
	case msg := <-link:
		t.Fatalf("handling a discovery response must not trigger an outgoing reply, got %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}

	node, ok := m.Node("node-c")
	require.True(t, ok)
	assert.Contains(t, node.Capabilities, "compute")
}

func TestHandleDiscoveryResponseLearnsMultiHopRoute(t *testing.T) {
	m := New("node-a", transport.NewBroker(), DefaultConfig())

	response := protocol.NewMessage(protocol.MessageDiscovery, "node-b")
	response.Target = "node-a"
	response.Content["is_response"] = true
	response.Content["capabilities"] = []string{"compute"}
	response.Content["status"] = string(protocol.NodeActive)
	response.Content["route_to"] = "node-e"
	response.Content["route_distance"] = 3

	m.applyDiscoveryResponse(response)

	m.mu.Lock()
	route, ok := m.routes["node-e"]
	m.mu.Unlock()
	require.True(t, ok, "a discovery response carrying a route hint must populate the routing table")
	assert.Equal(t, "node-b", route.NextHop)
	assert.Equal(t, 4, route.Distance)
}

func TestHandleDiscoveryResponseKeepsShorterExistingRoute(t *testing.T) {
	m := New("node-a", transport.NewBroker(), DefaultConfig())
	m.mu.Lock()
	m.routes["node-e"] = &Route{Target: "node-e", NextHop: "node-c", Distance: 2, LastUpdated: time.Now()}
	m.mu.Unlock()

	response := protocol.NewMessage(protocol.MessageDiscovery, "node-b")
	response.Content["is_response"] = true
	response.Content["route_to"] = "node-e"
	response.Content["route_distance"] = 3

	m.applyDiscoveryResponse(response)

	m.mu.Lock()
	route := m.routes["node-e"]
	m.mu.Unlock()
	assert.Equal(t, "node-c", route.NextHop, "a longer discovered route must not replace a shorter existing one")
	assert.Equal(t, 2, route.Distance)
}

func TestHandleDiscoveryRequestAdvertisesRouteHint(t *testing.T) {
	broker := transport.NewBroker()
	m := New("node-a", broker, DefaultConfig())
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	link := broker.Register("node-b")
	require.NotNil(t, link)

	m.mu.Lock()
	m.connections["node-e"] = struct{}{}
	m.mu.Unlock()
	markPeerActive(t, m, "node-e", "compute")

	request := protocol.NewMessage(protocol.MessageDiscovery, "node-b")
	request.Target = "node-a"
	request.Content["looking_for"] = "node-e"

	require.NoError(t, m.handleDiscovery(context.Background(), request))

	select {
	case env := <-link:
		msg := env.Data.(*protocol.Message)
		isResponse, _ := msg.Content["is_response"].(bool)
		assert.True(t, isResponse)
		assert.Equal(t, "node-e", msg.Content["route_to"])
		assert.Equal(t, 1, msg.Content["route_distance"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for discovery response")
	}
}

func TestHandleTaskForwardsWhenCapabilityMissing(t *testing.T) {
	broker := transport.NewBroker()
	a := New("node-a", broker, DefaultConfig())
	b := New("node-b", broker, DefaultConfig())

	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { a.Stop() })
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { b.Stop() })

	b.RegisterCapability("compute")
	b.SetExecutor(func(ctx context.Context, taskName string, metadata map[string]interface{}) (interface{}, error) {
		return "forwarded-ok", nil
	})

	markPeerActive(t, a, "node-b", "compute")
	a.mu.Lock()
	a.connections["node-b"] = struct{}{}
	a.mu.Unlock()

	// a has no "compute" capability itself, but knows a peer that does, so a
	// task addressed to a should be forwarded to node-b and resolved there.
	taskID := "forward-test"
	outcome := make(chan taskOutcome, 1)
	a.mu.Lock()
	a.pending[taskID] = outcome
	a.mu.Unlock()

	msg := protocol.NewMessage(protocol.MessageTask, "node-a")
	msg.Sender = "node-a"
	msg.Content["task"] = "render"
	msg.Content["capability"] = "compute"
	msg.Content["task_id"] = taskID

	require.NoError(t, a.handleTask(context.Background(), msg))

	select {
	case result := <-outcome:
		require.NoError(t, result.err)
		assert.Equal(t, "forwarded-ok", result.result)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded task result")
	}
}
