package model

import "time"

type ConversationID string

type ConversationKind int

const (
	ConversationKindPrivate ConversationKind = iota
	ConversationKindGroup
	ConversationKindSystem
)

var conversationKindNames = map[ConversationKind]string{
	ConversationKindPrivate: "PRIVATE",
	ConversationKindGroup:   "GROUP",
	ConversationKindSystem:  "SYSTEM",
}

var conversationKindValues = map[string]ConversationKind{}

func init() {
	for kind, name := range conversationKindNames {
		conversationKindValues[name] = kind
	}
}

func (k ConversationKind) String() string {
	return conversationKindNames[k]
}

func ParseConversationKind(name string) (ConversationKind, bool) {
	kind, ok := conversationKindValues[name]
	return kind, ok
}

type Participant struct {
	UserID UserID
	Handle string
}

type Conversation struct {
	ID           ConversationID
	Kind         ConversationKind
	Participants []Participant
	LastMessage  *Message
	UnreadCount  int
	LastActiveAt time.Time
	Pinned       bool
	Muted        bool
	Archived     bool
	ReadCursor   MessageID
}

func (c *Conversation) HasParticipant(userID UserID) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
