package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MessageType names the payload carried by a Message.
type MessageType string

const (
	// MessageTypeSyncEvent carries one sync.Event.
	MessageTypeSyncEvent MessageType = "sync_event"
	// MessageTypeStats carries a StatsData.
	MessageTypeStats MessageType = "stats"
)

// Message is one frame sent to dashboard clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatsData is a point-in-time view of the graph and the sync bookkeeping.
type StatsData struct {
	Tables        map[string]int `json:"tables"`
	SyncLayer     int64          `json:"sync_layer"`
	LastSyncLayer int64          `json:"last_sync_layer"`
	LastSync      string         `json:"last_sync,omitempty"`
}

// StatsFunc computes the current statistics.
type StatsFunc func(ctx context.Context) (StatsData, error)

// newMessage encodes payload as the data of a typ message stamped at ts.
// A nil payload leaves Data empty.
func newMessage(typ MessageType, ts time.Time, payload any) (Message, error) {
	msg := Message{Type: typ, Timestamp: ts}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s message: %w", typ, err)
	}
	msg.Data = data
	return msg, nil
}
