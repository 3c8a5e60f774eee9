package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"uk.co.dudmesh.parley/internal/model"
)

// TokenFn supplies the bearer credential for each request. Supplying one is
// a caller precondition; the client attaches whatever it is given.
type TokenFn func() string

type MessageRecord struct {
	ID             string `json:"id"`
	LocalKey       string `json:"localKey,omitempty"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Kind           string `json:"kind"`
	Content        string `json:"content"`
	MediaRef       string `json:"mediaRef,omitempty"`
	Status         string `json:"status"`
	CreatedAt      int64  `json:"createdAt"`
	EditedAt       int64  `json:"editedAt,omitempty"`
}

type ParticipantRecord struct {
	UserID string `json:"userId"`
	Handle string `json:"handle"`
}

type ConversationRecord struct {
	ID           string              `json:"id"`
	Kind         string              `json:"kind"`
	Participants []ParticipantRecord `json:"participants"`
	LastMessage  *MessageRecord      `json:"lastMessage,omitempty"`
	UnreadCount  int                 `json:"unreadCount"`
	LastActiveAt int64               `json:"lastActiveAt"`
	Pinned       bool                `json:"pinned"`
	Muted        bool                `json:"muted"`
	Archived     bool                `json:"archived"`
	ReadCursor   string              `json:"readCursor,omitempty"`
}

type SendRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	RecipientID    string `json:"recipientId,omitempty"`
	Kind           string `json:"kind"`
	Content        string `json:"content"`
	LocalKey       string `json:"localKey"`
}

type conversationPage struct {
	Items []ConversationRecord `json:"items"`
}

type messagePage struct {
	Items []MessageRecord `json:"items"`
}

type unreadCountResponse struct {
	Count int `json:"count"`
}

// Client is the pull channel: paged REST reads plus the write calls that
// mutate server state. A request timeout surfaces as a normal failed call,
// never as a channel-level event.
type Client struct {
	baseURL   string
	http      *http.Client
	userID    model.UserID
	token     TokenFn
	sessionID string
}

func New(baseURL string, timeout time.Duration, userID model.UserID, token TokenFn) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: timeout},
		userID:    userID,
		token:     token,
		sessionID: model.CreateID(),
	}
}

// Conversations fetches one page of the conversation list.
func (c *Client) Conversations(ctx context.Context, page, size int) ([]ConversationRecord, error) {
	query := url.Values{}
	query.Set("userId", string(c.userID))
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(size))

	result := conversationPage{}
	err := c.do(ctx, http.MethodGet, "/conversations?"+query.Encode(), nil, &result)
	if err != nil {
		return nil, fmt.Errorf("fetching conversations: %w", err)
	}
	return result.Items, nil
}

// Messages fetches one page of a conversation timeline, newest-last.
func (c *Client) Messages(ctx context.Context, conversationID model.ConversationID, page, size int) ([]MessageRecord, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(size))

	result := messagePage{}
	err := c.do(ctx, http.MethodGet, "/messages/conversation/"+url.PathEscape(string(conversationID))+"?"+query.Encode(), nil, &result)
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	return result.Items, nil
}

// Send submits an optimistic send for confirmation. The response echoes the
// assigned server id alongside the request's localKey.
func (c *Client) Send(ctx context.Context, request SendRequest) (*MessageRecord, error) {
	result := &MessageRecord{}
	err := c.do(ctx, http.MethodPost, "/messages/send", request, result)
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}
	return result, nil
}

func (c *Client) Recall(ctx context.Context, id model.MessageID) error {
	err := c.do(ctx, http.MethodPut, "/messages/"+url.PathEscape(string(id))+"/recall", nil, nil)
	if err != nil {
		return fmt.Errorf("recalling message: %w", err)
	}
	return nil
}

func (c *Client) Edit(ctx context.Context, id model.MessageID, content string) (*MessageRecord, error) {
	body := map[string]string{"content": content}
	result := &MessageRecord{}
	err := c.do(ctx, http.MethodPut, "/messages/"+url.PathEscape(string(id))+"/edit", body, result)
	if err != nil {
		return nil, fmt.Errorf("editing message: %w", err)
	}
	return result, nil
}

func (c *Client) AdvanceReadCursor(ctx context.Context, conversationID model.ConversationID, lastRead model.MessageID) error {
	body := map[string]string{"lastReadMessageId": string(lastRead)}
	err := c.do(ctx, http.MethodPut, "/conversations/"+url.PathEscape(string(conversationID))+"/read-cursor", body, nil)
	if err != nil {
		return fmt.Errorf("advancing read cursor: %w", err)
	}
	return nil
}

func (c *Client) UnreadCount(ctx context.Context, conversationID model.ConversationID) (int, error) {
	result := unreadCountResponse{}
	err := c.do(ctx, http.MethodGet, "/messages/conversation/"+url.PathEscape(string(conversationID))+"/unread-count", nil, &result)
	if err != nil {
		return 0, fmt.Errorf("fetching unread count: %w", err)
	}
	return result.Count, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+c.token())
	request.Header.Set("X-Parley-User", string(c.userID))
	request.Header.Set("X-Parley-Session", c.sessionID)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d for %s %s", response.StatusCode, method, path)
	}

	if out == nil {
		io.Copy(io.Discard, response.Body)
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}
