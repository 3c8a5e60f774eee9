package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type EventType string

const (
	EventMessage      EventType = "MESSAGE"
	EventStatusUpdate EventType = "STATUS_UPDATE"
	EventRecall       EventType = "RECALL"
	EventTyping       EventType = "TYPING"
	EventPresence     EventType = "PRESENCE"
)

var (
	ErrorUnknownEventType    = errors.New("unknown event type")
	ErrorMissingConversation = errors.New("missing conversation id")
	ErrorInvalidEvent        = errors.New("invalid event")
)

// Event is the canonical push-channel payload. Servers deliver it in one of
// three wrapper styles: the flat object, {"data": …} or {"message": …}.
// Parse accepts all three and always yields the flat shape.
type Event struct {
	Raw            []byte    `json:"-"`
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId"`
	ID             string    `json:"id,omitempty"`
	LocalKey       string    `json:"localKey,omitempty"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content,omitempty"`
	Kind           string    `json:"kind,omitempty"`
	Status         string    `json:"status,omitempty"`
	CreatedAt      int64     `json:"createdAt,omitempty"`
	UpdatedAt      int64     `json:"updatedAt,omitempty"`
}

type envelope struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Message json.RawMessage `json:"message"`
}

func Parse(data []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding event envelope: %w", err)
	}

	body := data
	switch {
	case isObject(env.Data):
		body = env.Data
	case isObject(env.Message):
		body = env.Message
	}

	e := &Event{Raw: data}
	if err := json.Unmarshal(body, e); err != nil {
		return nil, fmt.Errorf("decoding event body: %w", err)
	}

	// a wrapper may carry the type outside the body
	if e.Type == "" {
		e.Type = EventType(env.Type)
	}

	switch e.Type {
	case EventMessage, EventStatusUpdate, EventRecall:
		if e.ConversationID == "" {
			return nil, ErrorMissingConversation
		}
	case EventTyping, EventPresence:
		if e.SenderID == "" {
			return nil, ErrorInvalidEvent
		}
	default:
		return nil, ErrorUnknownEventType
	}

	return e, nil
}

// CreatedTime converts the epoch-millis timestamp, zero value when absent.
func (e *Event) CreatedTime() time.Time {
	if e.CreatedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(e.CreatedAt).UTC()
}

func (e *Event) UpdatedTime() time.Time {
	if e.UpdatedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(e.UpdatedAt).UTC()
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
