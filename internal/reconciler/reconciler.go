package reconciler

import (
	"fmt"
	"sort"
	"time"

	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.parley/internal/model"
	"uk.co.dudmesh.parley/pkg/wire"
)

// Outcome is what reconciling one record did to the working set. Duplicate
// suppression and ignored updates are outcomes, not errors.
type Outcome int

const (
	OutcomeAppended Outcome = iota
	OutcomePromoted
	OutcomeDuplicateSuppressed
	OutcomeStatusChanged
	OutcomeRecalled
	OutcomeIgnored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAppended:
		return "appended"
	case OutcomePromoted:
		return "promoted"
	case OutcomeDuplicateSuppressed:
		return "duplicate-suppressed"
	case OutcomeStatusChanged:
		return "status-changed"
	case OutcomeRecalled:
		return "recalled"
	case OutcomeIgnored:
		return "ignored"
	}
	return "unknown"
}

// statusRank orders the forward-only part of the status lifecycle. Failed
// and Recalled sit outside the ranking: Failed may re-enter Sending via a
// retry, Recalled is terminal.
var statusRank = map[model.MessageStatus]int{
	model.MessageStatusSending:   0,
	model.MessageStatusSent:      1,
	model.MessageStatusDelivered: 2,
	model.MessageStatusRead:      3,
}

type timeline struct {
	messages   []*model.Message
	byID       map[model.MessageID]*model.Message
	byLocalKey map[model.LocalKey]*model.Message
}

func newTimeline() *timeline {
	return &timeline{
		byID:       map[model.MessageID]*model.Message{},
		byLocalKey: map[model.LocalKey]*model.Message{},
	}
}

// insert places m keeping CreatedAt ascending order; records with an equal
// timestamp keep their insertion order.
func (t *timeline) insert(m *model.Message) {
	at := sort.Search(len(t.messages), func(i int) bool {
		return t.messages[i].CreatedAt.After(m.CreatedAt)
	})
	t.messages = append(t.messages, nil)
	copy(t.messages[at+1:], t.messages[at:])
	t.messages[at] = m
}

func (t *timeline) remove(m *model.Message) {
	for i, existing := range t.messages {
		if existing == m {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			return
		}
	}
}

// Reconciler turns heterogeneous push events and REST page records into one
// canonical per-conversation timeline, deciding identity as it goes. It is
// not safe for concurrent use; the engine serializes access on its loop.
type Reconciler struct {
	currentUser model.UserID
	timelines   map[model.ConversationID]*timeline
}

func New(currentUser model.UserID) *Reconciler {
	return &Reconciler{
		currentUser: currentUser,
		timelines:   map[model.ConversationID]*timeline{},
	}
}

func (r *Reconciler) timeline(conversationID model.ConversationID) *timeline {
	t, ok := r.timelines[conversationID]
	if !ok {
		t = newTimeline()
		r.timelines[conversationID] = t
	}
	return t
}

// Timeline returns a snapshot copy of a conversation's ordered messages.
func (r *Reconciler) Timeline(conversationID model.ConversationID) []model.Message {
	t, ok := r.timelines[conversationID]
	if !ok {
		return nil
	}
	snapshot := make([]model.Message, len(t.messages))
	for i, m := range t.messages {
		snapshot[i] = *m
	}
	return snapshot
}

// Newest returns the newest confirmed message in the timeline, nil when the
// timeline holds none.
func (r *Reconciler) Newest(conversationID model.ConversationID) *model.Message {
	t, ok := r.timelines[conversationID]
	if !ok {
		return nil
	}
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].Confirmed() {
			copied := *t.messages[i]
			return &copied
		}
	}
	return nil
}

// InsertLocal registers an optimistic send. At most one in-flight record may
// exist per localKey; re-inserting an existing key is a no-op.
func (r *Reconciler) InsertLocal(m model.Message) Outcome {
	t := r.timeline(m.ConversationID)
	if _, ok := t.byLocalKey[m.LocalKey]; ok {
		return OutcomeDuplicateSuppressed
	}
	record := m
	t.insert(&record)
	t.byLocalKey[m.LocalKey] = &record
	return OutcomeAppended
}

// Merge reconciles one canonical record into the working set:
//  1. a known server id is an idempotent re-delivery and is suppressed;
//  2. a localKey matching an in-flight send is its acknowledgement: the
//     optimistic record is promoted in place, never appended twice;
//  3. anything else is a new message.
func (r *Reconciler) Merge(m model.Message) Outcome {
	t := r.timeline(m.ConversationID)

	if m.ID != "" {
		if _, ok := t.byID[m.ID]; ok {
			return OutcomeDuplicateSuppressed
		}
	}

	if m.LocalKey != "" {
		if pending, ok := t.byLocalKey[m.LocalKey]; ok {
			if m.ID != "" {
				// the localKey index is only released once a server id
				// takes over as the record's handle
				pending.ID = m.ID
				t.byID[m.ID] = pending
				delete(t.byLocalKey, m.LocalKey)
			}
			if !m.CreatedAt.IsZero() {
				// server clock wins; position follows
				t.remove(pending)
				pending.CreatedAt = m.CreatedAt
				t.insert(pending)
			}
			pending.Status = model.MessageStatusSent
			if rank, ok := statusRank[m.Status]; ok && rank > statusRank[pending.Status] {
				pending.Status = m.Status
			}
			return OutcomePromoted
		}
	}

	record := m
	if _, ok := statusRank[record.Status]; !ok && record.Status != model.MessageStatusRecalled {
		record.Status = model.MessageStatusSent
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	t.insert(&record)
	if record.ID != "" {
		t.byID[record.ID] = &record
	} else if record.LocalKey != "" {
		t.byLocalKey[record.LocalKey] = &record
	}
	return OutcomeAppended
}

// MergePage runs a REST page through the same canonicalization path as push
// events and reports how many records changed the working set.
func (r *Reconciler) MergePage(messages []model.Message) int {
	changed := 0
	for _, m := range messages {
		switch r.Merge(m) {
		case OutcomeAppended, OutcomePromoted:
			changed++
		}
	}
	return changed
}

// ApplyStatus advances a message's status by server id. Updates for unknown
// ids are ignored, assumed superseded or already gone from the working set;
// a status never moves backwards.
func (r *Reconciler) ApplyStatus(conversationID model.ConversationID, id model.MessageID, status model.MessageStatus) Outcome {
	t, ok := r.timelines[conversationID]
	if !ok {
		return OutcomeIgnored
	}
	m, ok := t.byID[id]
	if !ok {
		return OutcomeIgnored
	}
	if m.Status == model.MessageStatusRecalled {
		return OutcomeIgnored
	}
	rank, ok := statusRank[status]
	if !ok {
		return OutcomeIgnored
	}
	if current, ok := statusRank[m.Status]; ok && rank <= current {
		return OutcomeIgnored
	}
	m.Status = status
	return OutcomeStatusChanged
}

// Recall marks a message recalled and clears its content. Terminal.
func (r *Reconciler) Recall(conversationID model.ConversationID, id model.MessageID) Outcome {
	t, ok := r.timelines[conversationID]
	if !ok {
		return OutcomeIgnored
	}
	m, ok := t.byID[id]
	if !ok {
		return OutcomeIgnored
	}
	if m.Status == model.MessageStatusRecalled {
		return OutcomeDuplicateSuppressed
	}
	m.Status = model.MessageStatusRecalled
	m.Content = ""
	m.MediaRef = ""
	return OutcomeRecalled
}

// MarkFailed moves an in-flight send to Failed, keeping it addressable by
// localKey so a retry can re-enter Sending.
func (r *Reconciler) MarkFailed(conversationID model.ConversationID, localKey model.LocalKey) Outcome {
	t, ok := r.timelines[conversationID]
	if !ok {
		return OutcomeIgnored
	}
	m, ok := t.byLocalKey[localKey]
	if !ok {
		return OutcomeIgnored
	}
	m.Status = model.MessageStatusFailed
	return OutcomeStatusChanged
}

// MarkSending re-enters a failed send into Sending for a retry.
func (r *Reconciler) MarkSending(conversationID model.ConversationID, localKey model.LocalKey) Outcome {
	t, ok := r.timelines[conversationID]
	if !ok {
		return OutcomeIgnored
	}
	m, ok := t.byLocalKey[localKey]
	if !ok || m.Status != model.MessageStatusFailed {
		return OutcomeIgnored
	}
	m.Status = model.MessageStatusSending
	return OutcomeStatusChanged
}

// Pending returns the in-flight send registered under localKey, if any.
func (r *Reconciler) Pending(conversationID model.ConversationID, localKey model.LocalKey) *model.Message {
	t, ok := r.timelines[conversationID]
	if !ok {
		return nil
	}
	m, ok := t.byLocalKey[localKey]
	if !ok {
		return nil
	}
	copied := *m
	return &copied
}

// Get returns a copy of a confirmed message by server id.
func (r *Reconciler) Get(conversationID model.ConversationID, id model.MessageID) *model.Message {
	t, ok := r.timelines[conversationID]
	if !ok {
		return nil
	}
	m, ok := t.byID[id]
	if !ok {
		return nil
	}
	copied := *m
	return &copied
}

// ApplyEdit rewrites a message's content in place. Recalled and unknown
// messages are left alone.
func (r *Reconciler) ApplyEdit(conversationID model.ConversationID, id model.MessageID, content string, editedAt time.Time) Outcome {
	t, ok := r.timelines[conversationID]
	if !ok {
		return OutcomeIgnored
	}
	m, ok := t.byID[id]
	if !ok || m.Status == model.MessageStatusRecalled {
		return OutcomeIgnored
	}
	m.Content = content
	if !editedAt.IsZero() {
		at := editedAt
		m.EditedAt = &at
	}
	return OutcomeStatusChanged
}

// Migrate folds one conversation's working set into another. Used when a
// direct send was parked under a provisional conversation and the server
// acknowledgement names the real one.
func (r *Reconciler) Migrate(from, to model.ConversationID) {
	src, ok := r.timelines[from]
	if !ok || from == to {
		return
	}
	dst := r.timeline(to)
	for _, m := range src.messages {
		m.ConversationID = to
		dst.insert(m)
	}
	for id, m := range src.byID {
		dst.byID[id] = m
	}
	for key, m := range src.byLocalKey {
		dst.byLocalKey[key] = m
	}
	delete(r.timelines, from)
}

// Before reports whether message a sits strictly earlier than message b in
// a conversation's timeline. When either side is not in the working set the
// answer is false: an unknown record is never provably older.
func (r *Reconciler) Before(conversationID model.ConversationID, a, b model.MessageID) bool {
	if a == b {
		return false
	}
	t, ok := r.timelines[conversationID]
	if !ok {
		return false
	}
	ma, ok := t.byID[a]
	if !ok {
		return false
	}
	mb, ok := t.byID[b]
	if !ok {
		return false
	}
	for _, m := range t.messages {
		if m == ma {
			return true
		}
		if m == mb {
			return false
		}
	}
	return false
}

// Apply dispatches a parsed push event. TYPING and PRESENCE never touch the
// working set; the engine surfaces them as ephemeral notifications.
func (r *Reconciler) Apply(event *wire.Event) (Outcome, *model.Message) {
	switch event.Type {
	case wire.EventMessage:
		m, err := FromEvent(event)
		if err != nil {
			log.Warnf("dropping event: %v", err)
			return OutcomeIgnored, nil
		}
		return r.Merge(m), &m
	case wire.EventStatusUpdate:
		status, ok := model.ParseMessageStatus(event.Status)
		if !ok {
			log.Warnf("dropping status update with unknown status %q", event.Status)
			return OutcomeIgnored, nil
		}
		return r.ApplyStatus(model.ConversationID(event.ConversationID), model.MessageID(event.ID), status), nil
	case wire.EventRecall:
		return r.Recall(model.ConversationID(event.ConversationID), model.MessageID(event.ID)), nil
	}
	return OutcomeIgnored, nil
}

// FromEvent canonicalizes a MESSAGE push event.
func FromEvent(event *wire.Event) (model.Message, error) {
	kind := model.MessageKindText
	if event.Kind != "" {
		parsed, ok := model.ParseMessageKind(event.Kind)
		if !ok {
			return model.Message{}, fmt.Errorf("%w: unknown kind %q", model.ErrorMalformedEvent, event.Kind)
		}
		kind = parsed
	}

	status := model.MessageStatusSent
	if event.Status != "" {
		if parsed, ok := model.ParseMessageStatus(event.Status); ok {
			status = parsed
		}
	}

	return model.Message{
		ID:             model.MessageID(event.ID),
		LocalKey:       model.LocalKey(event.LocalKey),
		ConversationID: model.ConversationID(event.ConversationID),
		SenderID:       model.UserID(event.SenderID),
		Kind:           kind,
		Content:        event.Content,
		Status:         status,
		CreatedAt:      event.CreatedTime(),
	}, nil
}
