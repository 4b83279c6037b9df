package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSendDeliversToRecipientOnly(t *testing.T) {
	b := NewBroker()
	a := b.Register("node-a")
	c := b.Register("node-b")

	ok := b.Send("node-a", "node-b", "hello")
	assert.True(t, ok)

	select {
	case env := <-c:
		assert.Equal(t, "node-a", env.From)
		assert.Equal(t, "hello", env.Data)
	case <-time.After(time.Second):
		t.Fatal("expected delivery to node-b")
	}

	select {
	case <-a:
		t.Fatal("node-a should not receive its own send")
	default:
	}
}

func TestSendUnknownRecipientReturnsFalse(t *testing.T) {
	b := NewBroker()
	ok := b.Send("node-a", "ghost", "hello")
	assert.False(t, ok)
}

func TestBroadcastExcludesSender(t *testing.T) {
	b := NewBroker()
	sender := b.Register("node-a")
	peer1 := b.Register("node-b")
	peer2 := b.Register("node-c")

	b.Broadcast("node-a", "ping")

	for _, link := range []Link{peer1, peer2} {
		select {
		case env := <-link:
			assert.Equal(t, "ping", env.Data)
		case <-time.After(time.Second):
			t.Fatal("expected broadcast delivery")
		}
	}

	select {
	case <-sender:
		t.Fatal("sender should not receive its own broadcast")
	default:
	}
}

func TestUnregisterClosesLink(t *testing.T) {
	b := NewBroker()
	link := b.Register("node-a")
	b.Unregister("node-a")

	_, ok := <-link
	assert.False(t, ok, "link should be closed")
	assert.False(t, b.Has("node-a"))
}

func TestNodeCount(t *testing.T) {
	b := NewBroker()
	assert.Equal(t, 0, b.NodeCount())
	b.Register("node-a")
	b.Register("node-b")
	assert.Equal(t, 2, b.NodeCount())
}
