package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.parley/internal/apiclient"
	"uk.co.dudmesh.parley/internal/boot"
	"uk.co.dudmesh.parley/internal/model"
	"uk.co.dudmesh.parley/internal/reconciler"
	"uk.co.dudmesh.parley/internal/synchronizer"
	"uk.co.dudmesh.parley/internal/transport"
	"uk.co.dudmesh.parley/pkg/wire"
)

// a direct send without a conversation is parked under a provisional id
// until the acknowledgement names the real one
const provisionalPrefix = "direct:"

type Transport interface {
	Connect() error
	Disconnect()
	Send(v interface{}) bool
	Subscribe(handler transport.Handler)
	SubscribeState(handler transport.StateHandler)
	State() transport.State
}

type API interface {
	Conversations(ctx context.Context, page, size int) ([]apiclient.ConversationRecord, error)
	Messages(ctx context.Context, conversationID model.ConversationID, page, size int) ([]apiclient.MessageRecord, error)
	Send(ctx context.Context, request apiclient.SendRequest) (*apiclient.MessageRecord, error)
	Recall(ctx context.Context, id model.MessageID) error
	Edit(ctx context.Context, id model.MessageID, content string) (*apiclient.MessageRecord, error)
	AdvanceReadCursor(ctx context.Context, conversationID model.ConversationID, lastRead model.MessageID) error
}

type Store interface {
	SaveConversation(conversation model.Conversation) error
	Conversations() ([]model.Conversation, error)
	PutOutbox(m model.Message) error
	DeleteOutbox(localKey model.LocalKey) error
	Outbox() ([]model.Message, error)
	Close() error
}

type ChangeKind int

const (
	ChangeConversations ChangeKind = iota
	ChangeMessages
	ChangeTyping
	ChangePresence
	ChangeConnectivity
)

// Change describes one committed mutation (or ephemeral signal) for
// observers. Observers receive changes asynchronously on a dedicated
// goroutine, never from inside the reconciliation that produced them.
type Change struct {
	Kind           ChangeKind
	ConversationID model.ConversationID
	UserID         model.UserID
	Presence       string
	Degraded       bool
}

type Listener func(change Change)

// SendTarget names where a message goes: an existing conversation, or a
// recipient when no conversation exists yet.
type SendTarget struct {
	ConversationID model.ConversationID
	RecipientID    model.UserID
}

// Engine is the only surface callers touch. It coordinates the transport
// channel, the reconciler and the synchronizer behind one lock; every
// mutation commits in full before observers hear about it.
type Engine struct {
	config      boot.Config
	currentUser model.UserID
	transport   Transport
	api         API
	store       Store

	mu           sync.Mutex
	reconciler   *reconciler.Reconciler
	synchronizer *synchronizer.Synchronizer
	pages        map[model.ConversationID]int
	listeners    []Listener
	degraded     bool
	pollStop     chan struct{}
	closing      bool

	notifications chan Change
	quit          chan struct{}
	closeOnce     sync.Once
}

func New(config boot.Config, currentUser model.UserID, channel Transport, api API, store Store) *Engine {
	r := reconciler.New(currentUser)
	e := &Engine{
		config:        config,
		currentUser:   currentUser,
		transport:     channel,
		api:           api,
		store:         store,
		reconciler:    r,
		synchronizer:  synchronizer.New(currentUser, r),
		pages:         map[model.ConversationID]int{},
		notifications: make(chan Change, 256),
		quit:          make(chan struct{}),
	}

	channel.Subscribe(e.handleFrame)
	channel.SubscribeState(e.handleTransportState)
	go e.notifyLoop()

	return e
}

// Start warm-starts from the local snapshot, opens the push channel and
// pulls the first conversation pages. A failed channel dial is survivable
// (the pull channel still works); a failed initial refresh is not.
func (e *Engine) Start(ctx context.Context) error {
	if e.store != nil {
		conversations, err := e.store.Conversations()
		if err != nil {
			return fmt.Errorf("loading snapshot: %w", err)
		}
		pending, err := e.store.Outbox()
		if err != nil {
			return fmt.Errorf("loading outbox: %w", err)
		}

		e.mu.Lock()
		for _, conversation := range conversations {
			e.synchronizer.Upsert(conversation)
		}
		for _, m := range pending {
			e.reconciler.InsertLocal(m)
		}
		e.mu.Unlock()
		e.emit(Change{Kind: ChangeConversations})
	}

	if err := e.transport.Connect(); err != nil {
		log.Warnf("opening push channel: %v", err)
	}

	if err := e.Refresh(ctx); err != nil {
		return fmt.Errorf("initial refresh: %w", err)
	}
	return nil
}

// Close disconnects, stops the poller and releases the snapshot store.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closing = true
		stop := e.pollStop
		e.pollStop = nil
		e.mu.Unlock()

		if stop != nil {
			close(stop)
		}
		close(e.quit)
		e.transport.Disconnect()
		if e.store != nil {
			e.store.Close()
		}
	})
}

// Listen registers an observer for committed mutations.
func (e *Engine) Listen(listener Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, listener)
}

// Conversations returns the ordered conversation list snapshot.
func (e *Engine) Conversations() []model.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.synchronizer.List()
}

// Messages returns a conversation's timeline snapshot, oldest first.
func (e *Engine) Messages(conversationID model.ConversationID) []model.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reconciler.Timeline(conversationID)
}

func (e *Engine) ActiveConversation() model.ConversationID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.synchronizer.Active()
}

// Degraded reports whether the push channel has given up reconnecting and
// the engine has fallen back to polling.
func (e *Engine) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}

// Refresh pulls the full conversation list through the reconciliation
// path. Runs at startup, on reconnect, and on the degraded-mode poll.
func (e *Engine) Refresh(ctx context.Context) error {
	page := 0
	for {
		records, err := e.api.Conversations(ctx, page, e.config.PageSize)
		if err != nil {
			return fmt.Errorf("fetching conversations: %w", err)
		}

		e.mu.Lock()
		for _, record := range records {
			conversation := fromConversationRecord(record)
			e.synchronizer.Upsert(conversation)
			if merged, ok := e.synchronizer.Get(conversation.ID); ok {
				e.persistLocked(merged)
			}
		}
		e.mu.Unlock()

		if len(records) < e.config.PageSize {
			break
		}
		page++
	}
	e.emit(Change{Kind: ChangeConversations})
	return nil
}

// SendMessage inserts an optimistic SENDING record immediately and issues
// the REST send in the background. Delivery failure surfaces as a FAILED
// status on the returned message's localKey, retryable via RetryMessage.
func (e *Engine) SendMessage(content string, kind model.MessageKind, target SendTarget) (model.Message, error) {
	if target.ConversationID == "" && target.RecipientID == "" {
		return model.Message{}, model.ErrorConversationNotFound
	}

	conversationID := target.ConversationID
	if conversationID == "" {
		conversationID = model.ConversationID(provisionalPrefix + string(target.RecipientID))
	}

	m := model.Message{
		LocalKey:       model.NewLocalKey(),
		ConversationID: conversationID,
		SenderID:       e.currentUser,
		Kind:           kind,
		Content:        content,
		Status:         model.MessageStatusSending,
		CreatedAt:      time.Now().UTC(), // client clock estimate until confirmed
	}

	e.mu.Lock()
	e.reconciler.InsertLocal(m)
	conversation, _ := e.synchronizer.ObserveMessage(m, false)
	e.persistLocked(conversation)
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.PutOutbox(m); err != nil {
			log.Warnf("writing outbox: %v", err)
		}
	}
	e.emit(Change{Kind: ChangeMessages, ConversationID: conversationID})
	e.emit(Change{Kind: ChangeConversations})

	go e.deliver(m)
	return m, nil
}

// RetryMessage re-enters a failed send into SENDING and delivers again
// under the same localKey.
func (e *Engine) RetryMessage(conversationID model.ConversationID, localKey model.LocalKey) error {
	e.mu.Lock()
	outcome := e.reconciler.MarkSending(conversationID, localKey)
	var pending *model.Message
	if outcome != reconciler.OutcomeIgnored {
		pending = e.reconciler.Pending(conversationID, localKey)
	}
	e.mu.Unlock()

	if pending == nil {
		return model.ErrorMessageNotFound
	}

	e.emit(Change{Kind: ChangeMessages, ConversationID: conversationID})
	go e.deliver(*pending)
	return nil
}

func (e *Engine) deliver(m model.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), e.config.RequestTimeout)
	defer cancel()

	request := apiclient.SendRequest{
		Kind:     m.Kind.String(),
		Content:  m.Content,
		LocalKey: string(m.LocalKey),
	}
	if recipient, ok := provisionalRecipient(m.ConversationID); ok {
		request.RecipientID = recipient
	} else {
		request.ConversationID = string(m.ConversationID)
	}

	record, err := e.api.Send(ctx, request)
	if err != nil {
		log.Warnf("sending message %s: %v", m.LocalKey, err)
		e.mu.Lock()
		e.reconciler.MarkFailed(m.ConversationID, m.LocalKey)
		if failed := e.reconciler.Pending(m.ConversationID, m.LocalKey); failed != nil {
			e.synchronizer.UpdatePreview(*failed)
		}
		e.mu.Unlock()
		e.emit(Change{Kind: ChangeMessages, ConversationID: m.ConversationID})
		return
	}

	ack := fromMessageRecord(*record)

	e.mu.Lock()
	if ack.ConversationID != m.ConversationID {
		e.reconciler.Migrate(m.ConversationID, ack.ConversationID)
		e.synchronizer.Remove(m.ConversationID)
	}
	e.reconciler.Merge(ack)
	conversation, _ := e.synchronizer.ObserveMessage(ack, false)
	if confirmed := e.reconciler.Get(ack.ConversationID, ack.ID); confirmed != nil {
		e.synchronizer.UpdatePreview(*confirmed)
	}
	e.persistLocked(conversation)
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.DeleteOutbox(m.LocalKey); err != nil {
			log.Warnf("clearing outbox: %v", err)
		}
	}
	if ack.ConversationID != m.ConversationID {
		e.emit(Change{Kind: ChangeMessages, ConversationID: m.ConversationID})
	}
	e.emit(Change{Kind: ChangeMessages, ConversationID: ack.ConversationID})
	e.emit(Change{Kind: ChangeConversations})
}

// OpenConversation makes id the active conversation, optimistically zeroes
// its unread count, fetches the first timeline page and acknowledges the
// newest loaded message. The unread count is not rolled back when the
// fetch fails. A fetch that completes after another conversation was
// opened is discarded silently.
func (e *Engine) OpenConversation(ctx context.Context, id model.ConversationID) error {
	e.mu.Lock()
	conversation := e.synchronizer.Open(id)
	e.pages[id] = 0
	e.persistLocked(conversation)
	e.mu.Unlock()
	e.emit(Change{Kind: ChangeConversations})

	records, err := e.api.Messages(ctx, id, 0, e.config.PageSize)
	if err != nil {
		return fmt.Errorf("fetching messages: %w", err)
	}

	e.mu.Lock()
	if e.synchronizer.Active() != id {
		e.mu.Unlock()
		log.Infof("discarding stale fetch for conversation %s", id)
		return nil
	}
	e.reconciler.MergePage(fromMessageRecords(records))
	e.pages[id] = 1
	var ack model.MessageID
	if newest := e.reconciler.Newest(id); newest != nil {
		e.synchronizer.ObserveMessage(*newest, false)
		// a cursor already at or past the newest message stays put
		if err := e.synchronizer.MarkRead(id, newest.ID); err == nil {
			ack = newest.ID
		}
	}
	merged, _ := e.synchronizer.Get(id)
	e.persistLocked(merged)
	e.mu.Unlock()

	e.emit(Change{Kind: ChangeMessages, ConversationID: id})
	e.emit(Change{Kind: ChangeConversations})

	if ack != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), e.config.RequestTimeout)
			defer cancel()
			if err := e.api.AdvanceReadCursor(ctx, id, ack); err != nil {
				log.Warnf("advancing read cursor: %v", err)
			}
		}()
	}
	return nil
}

// CloseConversation clears the active conversation; unread counting for it
// resumes.
func (e *Engine) CloseConversation() {
	e.mu.Lock()
	e.synchronizer.Close()
	e.mu.Unlock()
}

// LoadOlder fetches the next older timeline page and returns the merged
// timeline.
func (e *Engine) LoadOlder(ctx context.Context, id model.ConversationID) ([]model.Message, error) {
	e.mu.Lock()
	page := e.pages[id]
	e.mu.Unlock()

	records, err := e.api.Messages(ctx, id, page, e.config.PageSize)
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}

	e.mu.Lock()
	changed := e.reconciler.MergePage(fromMessageRecords(records))
	if len(records) > 0 {
		e.pages[id] = page + 1
	}
	timeline := e.reconciler.Timeline(id)
	e.mu.Unlock()

	if changed > 0 {
		e.emit(Change{Kind: ChangeMessages, ConversationID: id})
	}
	return timeline, nil
}

// MarkRead advances the read cursor and persists it server-side. An
// attempt to move the cursor backwards fails with ErrorInvalidCursor and
// changes nothing.
func (e *Engine) MarkRead(ctx context.Context, id model.ConversationID, messageID model.MessageID) error {
	e.mu.Lock()
	err := e.synchronizer.MarkRead(id, messageID)
	var conversation model.Conversation
	if err == nil {
		conversation, _ = e.synchronizer.Get(id)
		e.persistLocked(conversation)
	}
	e.mu.Unlock()
	if err != nil {
		return err
	}

	e.emit(Change{Kind: ChangeConversations})
	if err := e.api.AdvanceReadCursor(ctx, id, messageID); err != nil {
		return fmt.Errorf("persisting read cursor: %w", err)
	}
	return nil
}

// RecallMessage recalls server-side first, then clears the local record.
func (e *Engine) RecallMessage(ctx context.Context, conversationID model.ConversationID, id model.MessageID) error {
	if err := e.api.Recall(ctx, id); err != nil {
		return fmt.Errorf("recalling message: %w", err)
	}

	e.mu.Lock()
	outcome := e.reconciler.Recall(conversationID, id)
	if updated := e.reconciler.Get(conversationID, id); updated != nil {
		e.synchronizer.UpdatePreview(*updated)
	}
	e.mu.Unlock()

	if outcome == reconciler.OutcomeRecalled {
		e.emit(Change{Kind: ChangeMessages, ConversationID: conversationID})
	}
	return nil
}

// EditMessage edits server-side first, then rewrites the local record.
func (e *Engine) EditMessage(ctx context.Context, conversationID model.ConversationID, id model.MessageID, content string) error {
	record, err := e.api.Edit(ctx, id, content)
	if err != nil {
		return fmt.Errorf("editing message: %w", err)
	}

	editedAt := time.Now().UTC()
	if record != nil && record.EditedAt != 0 {
		editedAt = time.UnixMilli(record.EditedAt).UTC()
	}

	e.mu.Lock()
	outcome := e.reconciler.ApplyEdit(conversationID, id, content, editedAt)
	if updated := e.reconciler.Get(conversationID, id); updated != nil {
		e.synchronizer.UpdatePreview(*updated)
	}
	e.mu.Unlock()

	if outcome != reconciler.OutcomeIgnored {
		e.emit(Change{Kind: ChangeMessages, ConversationID: conversationID})
	}
	return nil
}

func (e *Engine) SetPinned(id model.ConversationID, pinned bool) error {
	return e.setFlag(id, func() error { return e.synchronizer.SetPinned(id, pinned) })
}

func (e *Engine) SetMuted(id model.ConversationID, muted bool) error {
	return e.setFlag(id, func() error { return e.synchronizer.SetMuted(id, muted) })
}

func (e *Engine) SetArchived(id model.ConversationID, archived bool) error {
	return e.setFlag(id, func() error { return e.synchronizer.SetArchived(id, archived) })
}

func (e *Engine) setFlag(id model.ConversationID, apply func() error) error {
	e.mu.Lock()
	err := apply()
	var conversation model.Conversation
	if err == nil {
		conversation, _ = e.synchronizer.Get(id)
		e.persistLocked(conversation)
	}
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.emit(Change{Kind: ChangeConversations})
	return nil
}

// SendTyping is fire-and-forget over the push channel. When the channel is
// not open the signal is dropped, never queued.
func (e *Engine) SendTyping(conversationID model.ConversationID) error {
	ok := e.transport.Send(map[string]string{
		"type":           string(wire.EventTyping),
		"conversationId": string(conversationID),
		"senderId":       string(e.currentUser),
	})
	if !ok {
		return model.ErrorTransportUnavailable
	}
	return nil
}

func (e *Engine) handleFrame(data []byte) {
	event, err := wire.Parse(data)
	if err != nil {
		log.Warnf("dropping inbound frame: %v", err)
		return
	}

	switch event.Type {
	case wire.EventTyping:
		e.emit(Change{
			Kind:           ChangeTyping,
			ConversationID: model.ConversationID(event.ConversationID),
			UserID:         model.UserID(event.SenderID),
		})
		return
	case wire.EventPresence:
		e.emit(Change{
			Kind:     ChangePresence,
			UserID:   model.UserID(event.SenderID),
			Presence: event.Status,
		})
		return
	}

	conversationID := model.ConversationID(event.ConversationID)

	e.mu.Lock()
	outcome, m := e.reconciler.Apply(event)

	var conversation model.Conversation
	persist := false
	advanceTo := model.MessageID("")
	switch outcome {
	case reconciler.OutcomeAppended, reconciler.OutcomePromoted:
		merged, advance := e.synchronizer.ObserveMessage(*m, outcome == reconciler.OutcomeAppended)
		if confirmed := e.reconciler.Get(conversationID, m.ID); confirmed != nil {
			e.synchronizer.UpdatePreview(*confirmed)
		}
		conversation = merged
		persist = true
		if advance {
			advanceTo = m.ID
		}
	case reconciler.OutcomeStatusChanged, reconciler.OutcomeRecalled:
		if updated := e.reconciler.Get(conversationID, model.MessageID(event.ID)); updated != nil {
			e.synchronizer.UpdatePreview(*updated)
		}
		conversation, persist = e.synchronizer.Get(conversationID)
	}
	if persist {
		e.persistLocked(conversation)
	}
	e.mu.Unlock()

	switch outcome {
	case reconciler.OutcomeAppended, reconciler.OutcomePromoted, reconciler.OutcomeStatusChanged, reconciler.OutcomeRecalled:
		if outcome == reconciler.OutcomePromoted && e.store != nil && m.LocalKey != "" {
			if err := e.store.DeleteOutbox(m.LocalKey); err != nil {
				log.Warnf("clearing outbox: %v", err)
			}
		}
		e.emit(Change{Kind: ChangeMessages, ConversationID: conversationID})
		e.emit(Change{Kind: ChangeConversations})
	}

	if advanceTo != "" {
		e.pushCursor(conversationID, advanceTo)
	}
}

// pushCursor advances the local cursor (already validated or about to be)
// and persists it server-side in the background.
func (e *Engine) pushCursor(conversationID model.ConversationID, id model.MessageID) {
	e.mu.Lock()
	err := e.synchronizer.MarkRead(conversationID, id)
	if err == nil {
		if conversation, ok := e.synchronizer.Get(conversationID); ok {
			e.persistLocked(conversation)
		}
	}
	e.mu.Unlock()
	if err != nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.config.RequestTimeout)
		defer cancel()
		if err := e.api.AdvanceReadCursor(ctx, conversationID, id); err != nil {
			log.Warnf("advancing read cursor: %v", err)
		}
	}()
}

func (e *Engine) handleTransportState(state transport.State) {
	switch state {
	case transport.StateOpen:
		e.setDegraded(false)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), e.config.RequestTimeout)
			defer cancel()
			if err := e.Refresh(ctx); err != nil {
				log.Warnf("post-reconnect refresh: %v", err)
			}
		}()
	case transport.StateClosed:
		e.mu.Lock()
		closing := e.closing
		e.mu.Unlock()
		if !closing {
			e.setDegraded(true)
		}
	}
}

// setDegraded gates the polling fallback on channel state: it runs only
// while the push channel is down for good, so polled pages never race a
// healthy socket.
func (e *Engine) setDegraded(degraded bool) {
	e.mu.Lock()
	if e.degraded == degraded {
		e.mu.Unlock()
		return
	}
	e.degraded = degraded
	if degraded {
		stop := make(chan struct{})
		e.pollStop = stop
		go e.pollLoop(stop)
	} else if e.pollStop != nil {
		close(e.pollStop)
		e.pollStop = nil
	}
	e.mu.Unlock()

	e.emit(Change{Kind: ChangeConnectivity, Degraded: degraded})
}

func (e *Engine) pollLoop(stop chan struct{}) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-e.quit:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), e.config.RequestTimeout)
			err := e.Refresh(ctx)
			cancel()
			if err != nil {
				log.Warnf("degraded poll: %v", err)
			}
		}
	}
}

func (e *Engine) notifyLoop() {
	for {
		select {
		case <-e.quit:
			return
		case change := <-e.notifications:
			e.mu.Lock()
			listeners := append([]Listener(nil), e.listeners...)
			e.mu.Unlock()
			for _, listener := range listeners {
				listener(change)
			}
		}
	}
}

func (e *Engine) emit(change Change) {
	select {
	case e.notifications <- change:
	case <-e.quit:
	default:
		log.Warnf("dropping notification, observer queue full")
	}
}

// persistLocked snapshots one conversation to the local store. Called with
// e.mu held; sqlite failures degrade to a warning, never to a sync error.
func (e *Engine) persistLocked(conversation model.Conversation) {
	if e.store == nil || conversation.ID == "" {
		return
	}
	if strings.HasPrefix(string(conversation.ID), provisionalPrefix) {
		return
	}
	if err := e.store.SaveConversation(conversation); err != nil {
		log.Warnf("saving conversation snapshot: %v", err)
	}
}

func provisionalRecipient(id model.ConversationID) (string, bool) {
	if strings.HasPrefix(string(id), provisionalPrefix) {
		return strings.TrimPrefix(string(id), provisionalPrefix), true
	}
	return "", false
}

func fromMessageRecord(record apiclient.MessageRecord) model.Message {
	kind, ok := model.ParseMessageKind(record.Kind)
	if !ok {
		kind = model.MessageKindText
	}
	status := model.MessageStatusSent
	if parsed, ok := model.ParseMessageStatus(record.Status); ok {
		status = parsed
	}

	m := model.Message{
		ID:             model.MessageID(record.ID),
		LocalKey:       model.LocalKey(record.LocalKey),
		ConversationID: model.ConversationID(record.ConversationID),
		SenderID:       model.UserID(record.SenderID),
		Kind:           kind,
		Content:        record.Content,
		MediaRef:       record.MediaRef,
		Status:         status,
	}
	if record.CreatedAt != 0 {
		m.CreatedAt = time.UnixMilli(record.CreatedAt).UTC()
	}
	if record.EditedAt != 0 {
		at := time.UnixMilli(record.EditedAt).UTC()
		m.EditedAt = &at
	}
	return m
}

func fromMessageRecords(records []apiclient.MessageRecord) []model.Message {
	messages := make([]model.Message, len(records))
	for i, record := range records {
		messages[i] = fromMessageRecord(record)
	}
	return messages
}

func fromConversationRecord(record apiclient.ConversationRecord) model.Conversation {
	kind, ok := model.ParseConversationKind(record.Kind)
	if !ok {
		kind = model.ConversationKindPrivate
	}

	conversation := model.Conversation{
		ID:          model.ConversationID(record.ID),
		Kind:        kind,
		UnreadCount: record.UnreadCount,
		Pinned:      record.Pinned,
		Muted:       record.Muted,
		Archived:    record.Archived,
		ReadCursor:  model.MessageID(record.ReadCursor),
	}
	if record.LastActiveAt != 0 {
		conversation.LastActiveAt = time.UnixMilli(record.LastActiveAt).UTC()
	}
	for _, participant := range record.Participants {
		conversation.Participants = append(conversation.Participants, model.Participant{
			UserID: model.UserID(participant.UserID),
			Handle: participant.Handle,
		})
	}
	if record.LastMessage != nil {
		preview := fromMessageRecord(*record.LastMessage)
		conversation.LastMessage = &preview
	}
	return conversation
}
