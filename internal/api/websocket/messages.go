package websocket

import (
	"time"

	"github.com/KevinKickass/OpenHarnessCore/internal/boards"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeSnapshot      MessageType = "snapshot"
	MessageTypeBoardsUpdated MessageType = "boards_updated"
	MessageTypePinUpdated    MessageType = "pin_updated"
	MessageTypeDirectorState MessageType = "director_state"
	MessageTypeError         MessageType = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type BoardsUpdatedData struct {
	ControllerID string  `json:"controller_id,omitempty"`
	Boards       []uint8 `json:"boards"`
}

type ErrorData struct {
	Message string `json:"message"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewBoardsEventMessage converts an aggregator event.
func NewBoardsEventMessage(ev boards.Event) (Message, bool) {
	switch ev.Type {
	case boards.EventBoardsUpdated:
		return NewMessage(MessageTypeBoardsUpdated, BoardsUpdatedData{
			ControllerID: ev.ControllerID,
			Boards:       ev.Boards,
		}), true
	case boards.EventPinUpdated:
		if ev.Pin == nil {
			return Message{}, false
		}
		return NewMessage(MessageTypePinUpdated, ev.Pin), true
	default:
		return Message{}, false
	}
}

func NewErrorMessage(message string) Message {
	return NewMessage(MessageTypeError, ErrorData{Message: message})
}
