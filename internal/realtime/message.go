package realtime

import (
	"encoding/json"
	"fmt"
)

// Inbound message types.
const (
	TypePong            = "pong"
	TypeEmailSynced     = "email_synced"
	TypeCategoryUpdated = "category_updated"
	TypeSyncStatus      = "sync_status"
	TypeConnection      = "connection"
	TypeSubscribed      = "subscribed"
)

// Outbound message types.
const (
	TypePing          = "ping"
	TypeSubscribe     = "subscribe"
	TypeGetSyncStatus = "get_sync_status"
)

// Message is the envelope exchanged in both directions on the stream.
type Message struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Events  []string        `json:"events,omitempty"`
}

// DecodeData unmarshals the data field into v.
func (m Message) DecodeData(v interface{}) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("message %q has no data", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decoding %q data: %w", m.Type, err)
	}
	return nil
}

// HandlerFunc receives inbound messages of a registered type.
type HandlerFunc func(Message)

// PingMessage is the liveness ping sent after every successful open.
func PingMessage() Message {
	return Message{Type: TypePing}
}

// SubscribeMessage asks the backend to deliver the given event topics.
func SubscribeMessage(events []string) Message {
	return Message{Type: TypeSubscribe, Events: events}
}

// SyncStatusRequest asks the backend for the current mailbox sync state.
func SyncStatusRequest() Message {
	return Message{Type: TypeGetSyncStatus}
}
