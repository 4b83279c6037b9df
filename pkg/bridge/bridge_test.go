package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/agenticraft/a2a/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBridge struct {
	name     string
	received []*protocol.Message
	err      error
}

func (b *fakeBridge) Name() string { return b.name }

func (b *fakeBridge) Forward(ctx context.Context, msg *protocol.Message) error {
	if b.err != nil {
		return b.err
	}
	b.received = append(b.received, msg)
	return nil
}

func TestRegisterBridgeRejectsDuplicate(t *testing.T) {
	r := NewRouter()
	require.NoError(t, r.RegisterBridge(&fakeBridge{name: "slack"}))
	err := r.RegisterBridge(&fakeBridge{name: "slack"})
	assert.Error(t, err)
}

func TestRouteMessageDefaultsToAllOtherBridges(t *testing.T) {
	r := NewRouter()
	slack := &fakeBridge{name: "slack"}
	discord := &fakeBridge{name: "discord"}
	require.NoError(t, r.RegisterBridge(slack))
	require.NoError(t, r.RegisterBridge(discord))

	msg := protocol.NewMessage(protocol.MessageStatus, "node-a")
	err := r.RouteMessage(context.Background(), msg, "slack")
	require.NoError(t, err)

	assert.Empty(t, slack.received)
	require.Len(t, discord.received, 1)
	assert.Equal(t, msg.ID, discord.received[0].ID)

	stats := r.Stats()
	assert.Equal(t, 1, stats.MessagesRouted)
}

func TestRouteMessageHonorsRoutingRule(t *testing.T) {
	r := NewRouter()
	slack := &fakeBridge{name: "slack"}
	discord := &fakeBridge{name: "discord"}
	require.NoError(t, r.RegisterBridge(slack))
	require.NoError(t, r.RegisterBridge(discord))
	require.NoError(t, r.AddRoutingRule(protocol.MessageTask, []string{"slack"}))

	msg := protocol.NewMessage(protocol.MessageTask, "node-a")
	require.NoError(t, r.RouteMessage(context.Background(), msg, ""))

	assert.Len(t, slack.received, 1)
	assert.Empty(t, discord.received)
}

func TestRouteMessageBroadcastsToAll(t *testing.T) {
	r := NewRouter()
	slack := &fakeBridge{name: "slack"}
	discord := &fakeBridge{name: "discord"}
	require.NoError(t, r.RegisterBridge(slack))
	require.NoError(t, r.RegisterBridge(discord))

	msg := protocol.NewMessage(protocol.MessageBroadcast, "node-a")
	require.NoError(t, r.RouteMessage(context.Background(), msg, ""))

	assert.Len(t, slack.received, 1)
	assert.Len(t, discord.received, 1)
}

func TestAddRoutingRuleRejectsUnknownBridge(t *testing.T) {
	r := NewRouter()
	err := r.AddRoutingRule(protocol.MessageTask, []string{"does-not-exist"})
	assert.Error(t, err)
}

func TestRouteMessageAppliesTransform(t *testing.T) {
	r := NewRouter()
	slack := &fakeBridge{name: "slack"}
	discord := &fakeBridge{name: "discord"}
	require.NoError(t, r.RegisterBridge(slack))
	require.NoError(t, r.RegisterBridge(discord))
	require.NoError(t, r.AddRoutingRule(protocol.MessageTask, []string{"discord"}))

	r.AddTransform("slack", "discord", func(msg *protocol.Message) (*protocol.Message, error) {
		clone := *msg
		clone.Content = map[string]interface{}{"translated": true}
		return &clone, nil
	})

	msg := protocol.NewMessage(protocol.MessageTask, "node-a")
	require.NoError(t, r.RouteMessage(context.Background(), msg, "slack"))

	require.Len(t, discord.received, 1)
	assert.Equal(t, true, discord.received[0].Content["translated"])

	stats := r.Stats()
	assert.Equal(t, 1, stats.MessagesTransformed)
}

func TestRouteMessageRecordsForwardErrors(t *testing.T) {
	r := NewRouter()
	broken := &fakeBridge{name: "broken", err: errors.New("down")}
	require.NoError(t, r.RegisterBridge(broken))
	require.NoError(t, r.AddRoutingRule(protocol.MessageTask, []string{"broken"}))

	msg := protocol.NewMessage(protocol.MessageTask, "node-a")
	err := r.RouteMessage(context.Background(), msg, "")
	assert.Error(t, err)
	assert.Equal(t, 1, r.Stats().RoutingErrors)
}

func TestUnregisterBridgeDropsRoutingRuleEntry(t *testing.T) {
	r := NewRouter()
	slack := &fakeBridge{name: "slack"}
	discord := &fakeBridge{name: "discord"}
	require.NoError(t, r.RegisterBridge(slack))
	require.NoError(t, r.RegisterBridge(discord))
	require.NoError(t, r.AddRoutingRule(protocol.MessageTask, []string{"slack", "discord"}))

	r.UnregisterBridge("slack")

	msg := protocol.NewMessage(protocol.MessageTask, "node-a")
	require.NoError(t, r.RouteMessage(context.Background(), msg, ""))
	assert.Empty(t, slack.received)
	assert.Len(t, discord.received, 1)
	assert.ElementsMatch(t, []string{"discord"}, r.Bridges())
}
