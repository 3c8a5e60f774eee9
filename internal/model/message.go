package model

import "time"

type MessageID string

// LocalKey correlates an optimistic send with the server acknowledgement
// that eventually confirms it. Unique per process, never reused.
type LocalKey string

type MessageKind int

const (
	MessageKindText MessageKind = iota
	MessageKindImage
	MessageKindFile
	MessageKindVoice
	MessageKindVideo
	MessageKindLocation
	MessageKindSystem
)

type MessageStatus int

const (
	MessageStatusSending MessageStatus = iota
	MessageStatusSent
	MessageStatusDelivered
	MessageStatusRead
	MessageStatusFailed
	MessageStatusRecalled
)

var messageKindNames = map[MessageKind]string{
	MessageKindText:     "TEXT",
	MessageKindImage:    "IMAGE",
	MessageKindFile:     "FILE",
	MessageKindVoice:    "VOICE",
	MessageKindVideo:    "VIDEO",
	MessageKindLocation: "LOCATION",
	MessageKindSystem:   "SYSTEM",
}

var messageStatusNames = map[MessageStatus]string{
	MessageStatusSending:   "SENDING",
	MessageStatusSent:      "SENT",
	MessageStatusDelivered: "DELIVERED",
	MessageStatusRead:      "READ",
	MessageStatusFailed:    "FAILED",
	MessageStatusRecalled:  "RECALLED",
}

var messageKindValues = map[string]MessageKind{}
var messageStatusValues = map[string]MessageStatus{}

func init() {
	for kind, name := range messageKindNames {
		messageKindValues[name] = kind
	}
	for status, name := range messageStatusNames {
		messageStatusValues[name] = status
	}
}

func (k MessageKind) String() string {
	return messageKindNames[k]
}

func (s MessageStatus) String() string {
	return messageStatusNames[s]
}

func ParseMessageKind(name string) (MessageKind, bool) {
	kind, ok := messageKindValues[name]
	return kind, ok
}

func ParseMessageStatus(name string) (MessageStatus, bool) {
	status, ok := messageStatusValues[name]
	return status, ok
}

type Message struct {
	ID             MessageID
	LocalKey       LocalKey
	ConversationID ConversationID
	SenderID       UserID
	Kind           MessageKind
	Content        string
	MediaRef       string
	Status         MessageStatus
	CreatedAt      time.Time
	EditedAt       *time.Time
}

// Confirmed reports whether the server has assigned this message an identity.
// An unconfirmed message is addressable only by its LocalKey.
func (m *Message) Confirmed() bool {
	return m.ID != ""
}

func (m *Message) IsOwn(currentUser UserID) bool {
	return m.SenderID == currentUser
}
