package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the purpose of a Message.
type MessageType string

const (
	MessageHeartbeat    MessageType = "heartbeat"
	MessageDiscovery    MessageType = "discovery"
	MessageTask         MessageType = "task"
	MessageResult       MessageType = "result"
	MessageCoordination MessageType = "coordination"
	MessageConsensus    MessageType = "consensus"
	MessageError        MessageType = "error"
	MessageStatus       MessageType = "status"
	MessageRequest      MessageType = "request"
	MessageResponse     MessageType = "response"
	MessageBroadcast    MessageType = "broadcast"
)

// Message is the wire envelope exchanged between protocol nodes.
type Message struct {
	ID        string                 `json:"id"`
	Type      MessageType            `json:"type"`
	Sender    string                 `json:"sender"`
	Target    string                 `json:"target,omitempty"`
	Content   map[string]interface{} `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// NewMessage builds a Message with a generated ID and the current time,
// ready for Content/Metadata to be filled in by the caller.
func NewMessage(msgType MessageType, sender string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Sender:    sender,
		Content:   make(map[string]interface{}),
		Timestamp: time.Now(),
		Metadata:  make(map[string]interface{}),
	}
}

// MarshalJSON and UnmarshalJSON use the default json.Marshal/Unmarshal
// encoding of Message's exported fields; they are declared explicitly to
// document that the wire format is a stable contract other services may
// depend on. UnmarshalJSON additionally sets a missing or null content or
// metadata field to an empty map, so a decoded Message never has nil maps.
func (m *Message) MarshalJSON() ([]byte, error) {
	type alias Message
	return json.Marshal((*alias)(m))
}

func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	aux := (*alias)(m)
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if aux.Content == nil {
		aux.Content = make(map[string]interface{})
	}
	if aux.Metadata == nil {
		aux.Metadata = make(map[string]interface{})
	}
	return nil
}
