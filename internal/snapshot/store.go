package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"uk.co.dudmesh.parley/internal/boot"
	"uk.co.dudmesh.parley/internal/model"
)

// store persists the per-user view of the conversation index plus the
// outbox of unconfirmed sends, so the engine can warm-start and failed
// sends survive a restart as retryable rows.
type store struct {
	userID string
	db     *sqlx.DB
}

type conversationRow struct {
	ID             string     `db:"ID"`
	Kind           int        `db:"Kind"`
	LastActiveAt   *time.Time `db:"LastActiveAt"`
	UnreadCount    int        `db:"UnreadCount"`
	Pinned         bool       `db:"Pinned"`
	Muted          bool       `db:"Muted"`
	Archived       bool       `db:"Archived"`
	ReadCursor     string     `db:"ReadCursor"`
	PreviewID      string     `db:"PreviewID"`
	PreviewSender  string     `db:"PreviewSender"`
	PreviewKind    int        `db:"PreviewKind"`
	PreviewContent string     `db:"PreviewContent"`
	PreviewStatus  int        `db:"PreviewStatus"`
	PreviewAt      *time.Time `db:"PreviewAt"`
}

type outboxRow struct {
	LocalKey       string    `db:"LocalKey"`
	CreatedAt      time.Time `db:"CreatedAt"`
	ConversationID string    `db:"ConversationID"`
	Kind           int       `db:"Kind"`
	Content        string    `db:"Content"`
}

func New(userID model.UserID, config boot.Config) (*store, error) {
	dbName := path.Join(config.DataDirectory, string(userID)+".db")

	isCreating := false
	_, err := os.Stat(dbName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			isCreating = true
		}
	}

	db, err := sqlx.Connect("sqlite3", "file:"+dbName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	datastore := &store{string(userID), db}
	if isCreating {
		if err := datastore.createTables(); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating tables: %w", err)
		}
	}

	return datastore, nil
}

func (s *store) Close() error {
	return s.db.Close()
}

func (s *store) createTables() error {
	_, err := s.db.Exec(`create table conversation(
		ID             text not null primary key,
		Kind           tinyint not null default 0,
		LastActiveAt   DATETIME null,
		UnreadCount    int not null default 0,
		Pinned         boolean not null default 0,
		Muted          boolean not null default 0,
		Archived       boolean not null default 0,
		ReadCursor     text not null default '',
		PreviewID      text not null default '',
		PreviewSender  text not null default '',
		PreviewKind    tinyint not null default 0,
		PreviewContent text not null default '',
		PreviewStatus  tinyint not null default 0,
		PreviewAt      DATETIME null
	)`)
	if err != nil {
		return fmt.Errorf("creating conversation table: %w", err)
	}

	_, err = s.db.Exec(`create table outbox(
		LocalKey       text not null primary key,
		CreatedAt      DATETIME not null,
		ConversationID text not null,
		Kind           tinyint not null default 0,
		Content        text not null
	)`)
	if err != nil {
		return fmt.Errorf("creating outbox table: %w", err)
	}

	return nil
}

func (s *store) SaveConversation(conversation model.Conversation) error {
	row := conversationRow{
		ID:          string(conversation.ID),
		Kind:        int(conversation.Kind),
		UnreadCount: conversation.UnreadCount,
		Pinned:      conversation.Pinned,
		Muted:       conversation.Muted,
		Archived:    conversation.Archived,
		ReadCursor:  string(conversation.ReadCursor),
	}
	if !conversation.LastActiveAt.IsZero() {
		at := conversation.LastActiveAt
		row.LastActiveAt = &at
	}
	if last := conversation.LastMessage; last != nil {
		row.PreviewID = string(last.ID)
		row.PreviewSender = string(last.SenderID)
		row.PreviewKind = int(last.Kind)
		row.PreviewContent = last.Content
		row.PreviewStatus = int(last.Status)
		if !last.CreatedAt.IsZero() {
			at := last.CreatedAt
			row.PreviewAt = &at
		}
	}

	_, err := s.db.NamedExec(`insert or replace into conversation
		(ID, Kind, LastActiveAt, UnreadCount, Pinned, Muted, Archived, ReadCursor,
		 PreviewID, PreviewSender, PreviewKind, PreviewContent, PreviewStatus, PreviewAt)
		values(:ID, :Kind, :LastActiveAt, :UnreadCount, :Pinned, :Muted, :Archived, :ReadCursor,
		 :PreviewID, :PreviewSender, :PreviewKind, :PreviewContent, :PreviewStatus, :PreviewAt)`, row)
	if err != nil {
		return fmt.Errorf("saving conversation: %w", err)
	}
	return nil
}

func (s *store) Conversations() ([]model.Conversation, error) {
	rows := []conversationRow{}
	if err := s.db.Select(&rows, `select * from conversation`); err != nil {
		return nil, fmt.Errorf("loading conversations: %w", err)
	}

	conversations := make([]model.Conversation, 0, len(rows))
	for _, row := range rows {
		conversation := model.Conversation{
			ID:          model.ConversationID(row.ID),
			Kind:        model.ConversationKind(row.Kind),
			UnreadCount: row.UnreadCount,
			Pinned:      row.Pinned,
			Muted:       row.Muted,
			Archived:    row.Archived,
			ReadCursor:  model.MessageID(row.ReadCursor),
		}
		if row.LastActiveAt != nil {
			conversation.LastActiveAt = row.LastActiveAt.UTC()
		}
		if row.PreviewID != "" || row.PreviewContent != "" {
			preview := model.Message{
				ID:             model.MessageID(row.PreviewID),
				ConversationID: conversation.ID,
				SenderID:       model.UserID(row.PreviewSender),
				Kind:           model.MessageKind(row.PreviewKind),
				Content:        row.PreviewContent,
				Status:         model.MessageStatus(row.PreviewStatus),
			}
			if row.PreviewAt != nil {
				preview.CreatedAt = row.PreviewAt.UTC()
			}
			conversation.LastMessage = &preview
		}
		conversations = append(conversations, conversation)
	}
	return conversations, nil
}

// PutOutbox records an unconfirmed send keyed by its localKey.
func (s *store) PutOutbox(m model.Message) error {
	row := outboxRow{
		LocalKey:       string(m.LocalKey),
		CreatedAt:      m.CreatedAt,
		ConversationID: string(m.ConversationID),
		Kind:           int(m.Kind),
		Content:        m.Content,
	}
	res, err := s.db.NamedExec(`insert or replace into outbox
		(LocalKey, CreatedAt, ConversationID, Kind, Content)
		values(:LocalKey, :CreatedAt, :ConversationID, :Kind, :Content)`, row)
	if err != nil {
		return fmt.Errorf("inserting outbox entry: %w", err)
	}
	if rows, err := res.RowsAffected(); rows != 1 {
		return fmt.Errorf("expected 1 row to be affected, got %d", rows)
	} else if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	return nil
}

// DeleteOutbox drops a send once the server has confirmed it.
func (s *store) DeleteOutbox(localKey model.LocalKey) error {
	_, err := s.db.Exec(`delete from outbox where LocalKey = ?`, string(localKey))
	if err != nil {
		return fmt.Errorf("deleting outbox entry: %w", err)
	}
	return nil
}

// Outbox returns unconfirmed sends from previous sessions. They load as
// Failed: the process that owned their in-flight state is gone, so retry
// is caller-initiated.
func (s *store) Outbox() ([]model.Message, error) {
	rows := []outboxRow{}
	if err := s.db.Select(&rows, `select * from outbox order by CreatedAt`); err != nil {
		return nil, fmt.Errorf("loading outbox: %w", err)
	}

	messages := make([]model.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, model.Message{
			LocalKey:       model.LocalKey(row.LocalKey),
			ConversationID: model.ConversationID(row.ConversationID),
			SenderID:       model.UserID(s.userID),
			Kind:           model.MessageKind(row.Kind),
			Content:        row.Content,
			Status:         model.MessageStatusFailed,
			CreatedAt:      row.CreatedAt.UTC(),
		})
	}
	return messages, nil
}
