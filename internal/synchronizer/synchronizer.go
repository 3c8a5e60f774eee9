package synchronizer

import (
	"sort"

	"uk.co.dudmesh.parley/internal/model"
)

// Sequencer resolves timeline order between two confirmed messages of one
// conversation. The reconciler provides the canonical implementation.
type Sequencer interface {
	Before(conversationID model.ConversationID, a, b model.MessageID) bool
}

// Synchronizer owns the conversation index and its externally visible
// ordering: pinned conversations first, most recently active first within
// each pin-tier. It is not safe for concurrent use; the engine serializes
// access on its loop.
type Synchronizer struct {
	currentUser   model.UserID
	sequencer     Sequencer
	conversations map[model.ConversationID]*model.Conversation
	active        model.ConversationID
}

func New(currentUser model.UserID, sequencer Sequencer) *Synchronizer {
	return &Synchronizer{
		currentUser:   currentUser,
		sequencer:     sequencer,
		conversations: map[model.ConversationID]*model.Conversation{},
	}
}

func (s *Synchronizer) Active() model.ConversationID {
	return s.active
}

func (s *Synchronizer) Get(id model.ConversationID) (model.Conversation, bool) {
	conversation, ok := s.conversations[id]
	if !ok {
		return model.Conversation{}, false
	}
	return *conversation, true
}

// List returns an ordered snapshot of the index.
func (s *Synchronizer) List() []model.Conversation {
	list := make([]model.Conversation, 0, len(s.conversations))
	for _, conversation := range s.conversations {
		list = append(list, *conversation)
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Pinned != list[j].Pinned {
			return list[i].Pinned
		}
		return list[i].LastActiveAt.After(list[j].LastActiveAt)
	})
	return list
}

// Upsert merges a server-sourced conversation record. Forward-only fields
// (lastActiveAt, readCursor) never move backwards, and the unread count of
// the currently open conversation stays suppressed at zero regardless of
// what the server still believes.
func (s *Synchronizer) Upsert(incoming model.Conversation) {
	existing, ok := s.conversations[incoming.ID]
	if !ok {
		record := incoming
		if record.ID == s.active {
			record.UnreadCount = 0
		}
		s.conversations[record.ID] = &record
		return
	}

	existing.Kind = incoming.Kind
	if len(incoming.Participants) > 0 {
		existing.Participants = incoming.Participants
	}
	if incoming.LastMessage != nil {
		existing.LastMessage = incoming.LastMessage
	}
	if incoming.LastActiveAt.After(existing.LastActiveAt) {
		existing.LastActiveAt = incoming.LastActiveAt
	}
	if incoming.ReadCursor != "" {
		if existing.ReadCursor == "" || !s.sequencer.Before(existing.ID, incoming.ReadCursor, existing.ReadCursor) {
			existing.ReadCursor = incoming.ReadCursor
		}
	}
	// pinned/muted/archived are locally owned once the conversation is known;
	// server pages only seed them on first sight
	if existing.ID == s.active {
		existing.UnreadCount = 0
	} else {
		existing.UnreadCount = incoming.UnreadCount
	}
}

// ObserveMessage folds one reconciled message into the index. The returned
// flag tells the caller to issue a read-cursor advance: that happens exactly
// when the message lands in the currently open conversation.
func (s *Synchronizer) ObserveMessage(m model.Message, isNew bool) (model.Conversation, bool) {
	conversation, ok := s.conversations[m.ConversationID]
	if !ok {
		// first message exchange creates the conversation
		conversation = &model.Conversation{
			ID:   m.ConversationID,
			Kind: model.ConversationKindPrivate,
		}
		s.conversations[m.ConversationID] = conversation
	}

	if conversation.LastMessage == nil || !m.CreatedAt.Before(conversation.LastMessage.CreatedAt) {
		preview := m
		conversation.LastMessage = &preview
	}
	if m.CreatedAt.After(conversation.LastActiveAt) {
		conversation.LastActiveAt = m.CreatedAt
	}

	advanceCursor := false
	if m.ConversationID == s.active {
		// open conversation: unread stays zero, cursor follows immediately
		conversation.UnreadCount = 0
		advanceCursor = m.Confirmed()
	} else if isNew && !m.IsOwn(s.currentUser) {
		conversation.UnreadCount++
	}

	return *conversation, advanceCursor
}

// UpdatePreview refreshes the denormalized last-message pointer after an
// in-place mutation (promotion, status change, recall, edit).
func (s *Synchronizer) UpdatePreview(m model.Message) {
	conversation, ok := s.conversations[m.ConversationID]
	if !ok || conversation.LastMessage == nil {
		return
	}
	last := conversation.LastMessage
	if (m.ID != "" && last.ID == m.ID) || (m.LocalKey != "" && last.LocalKey == m.LocalKey) {
		preview := m
		conversation.LastMessage = &preview
	}
}

// Open makes id the active conversation and optimistically zeroes its
// unread count before any network confirmation. Opening an unseen id
// creates a placeholder; the follow-up fetch fills it in.
func (s *Synchronizer) Open(id model.ConversationID) model.Conversation {
	conversation, ok := s.conversations[id]
	if !ok {
		conversation = &model.Conversation{
			ID:   id,
			Kind: model.ConversationKindPrivate,
		}
		s.conversations[id] = conversation
	}
	s.active = id
	conversation.UnreadCount = 0
	return *conversation
}

// Remove drops a conversation from the index. Used when a provisional
// direct-send conversation migrates onto the server-assigned one.
func (s *Synchronizer) Remove(id model.ConversationID) {
	delete(s.conversations, id)
	if s.active == id {
		s.active = ""
	}
}

// Close clears the active conversation.
func (s *Synchronizer) Close() {
	s.active = ""
}

// MarkRead advances the read cursor, rejecting any attempt to move it
// backwards.
func (s *Synchronizer) MarkRead(id model.ConversationID, messageID model.MessageID) error {
	conversation, ok := s.conversations[id]
	if !ok {
		return model.ErrorConversationNotFound
	}
	if conversation.ReadCursor != "" && s.sequencer.Before(id, messageID, conversation.ReadCursor) {
		return model.ErrorInvalidCursor
	}
	conversation.ReadCursor = messageID
	return nil
}

func (s *Synchronizer) SetPinned(id model.ConversationID, pinned bool) error {
	conversation, ok := s.conversations[id]
	if !ok {
		return model.ErrorConversationNotFound
	}
	conversation.Pinned = pinned
	return nil
}

func (s *Synchronizer) SetMuted(id model.ConversationID, muted bool) error {
	conversation, ok := s.conversations[id]
	if !ok {
		return model.ErrorConversationNotFound
	}
	conversation.Muted = muted
	return nil
}

func (s *Synchronizer) SetArchived(id model.ConversationID, archived bool) error {
	conversation, ok := s.conversations[id]
	if !ok {
		return model.ErrorConversationNotFound
	}
	conversation.Archived = archived
	return nil
}
