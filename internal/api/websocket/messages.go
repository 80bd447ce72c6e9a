package websocket

import (
	"time"

	"github.com/KevinKickass/ModbusStation/internal/modbus"
	"github.com/KevinKickass/ModbusStation/internal/types"
	"github.com/google/uuid"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeRecord          MessageType = "record"
	MessageTypeConnectionState MessageType = "connection_state"
	MessageTypeSystemState     MessageType = "system_state"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// RecordData carries one poll cycle's record. ID lets clients drop
// duplicates after a reconnect.
type RecordData struct {
	ID     uuid.UUID    `json:"id"`
	Record types.Record `json:"record"`
}

type SystemStateData struct {
	State    string `json:"state"`
	Previous string `json:"previous_state"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewRecordMessage(rec types.Record) Message {
	return NewMessage(MessageTypeRecord, RecordData{
		ID:     uuid.New(),
		Record: rec,
	})
}

func NewConnectionStateMessage(state modbus.ConnectionState) Message {
	return NewMessage(MessageTypeConnectionState, state)
}

func NewSystemStateMessage(newState, previousState string) Message {
	return NewMessage(MessageTypeSystemState, SystemStateData{
		State:    newState,
		Previous: previousState,
	})
}
