// Package api is the REST transport to the forum chat endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

const maxErrorBody = 4096

// Client вызывает REST API форума. Все ошибки классифицируются (см. errors.go).
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient создаёт клиент. timeout <= 0 — 15 секунд.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Session returns the identity and resolved chat permissions of the token owner.
func (c *Client) Session(ctx context.Context) (*model.Session, error) {
	defer logger.DeferLogDuration("api.Session", time.Now())()
	var s model.Session
	if err := c.do(ctx, "api.Session", http.MethodGet, "/session", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListChats loads every chat visible to the session with the referenced users.
func (c *Client) ListChats(ctx context.Context) (*ChatList, error) {
	defer logger.DeferLogDuration("api.ListChats", time.Now())()
	var out ChatList
	if err := c.do(ctx, "api.ListChats", http.MethodGet, "/chats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchMessages loads one window of a chat's messages.
func (c *Client) FetchMessages(ctx context.Context, q MessageQuery) ([]model.Message, error) {
	defer logger.DeferLogDuration("api.FetchMessages", time.Now())()
	v := url.Values{}
	v.Set("chat", strconv.FormatInt(q.ChatID, 10))
	switch {
	case q.Before != nil:
		v.Set("before", q.Before.UTC().Format(time.RFC3339Nano))
	case q.After != nil:
		v.Set("after", q.After.UTC().Format(time.RFC3339Nano))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	var out messageListEnvelope
	if err := c.do(ctx, "api.FetchMessages", http.MethodGet, "/chatmessages?"+v.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CreateMessage posts a new text message.
func (c *Client) CreateMessage(ctx context.Context, chatID int64, text string) (*model.Message, error) {
	defer logger.DeferLogDuration("api.CreateMessage", time.Now())()
	var body messageBody
	body.Data.Attributes.Message = text
	body.Data.Relationships = &struct {
		Chat toOne `json:"chat"`
	}{Chat: toOne{Data: ref("chats", chatID)}}

	var out messageEnvelope
	if err := c.do(ctx, "api.CreateMessage", http.MethodPost, "/chatmessages", body, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// EditMessage replaces the text of an existing message.
func (c *Client) EditMessage(ctx context.Context, id int64, text string) (*model.Message, error) {
	defer logger.DeferLogDuration("api.EditMessage", time.Now())()
	var body messageBody
	body.Data.Attributes.Message = text
	var out messageEnvelope
	if err := c.do(ctx, "api.EditMessage", http.MethodPatch, "/chatmessages/"+strconv.FormatInt(id, 10), body, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// DeleteMessage soft-deletes a message, or removes it for good when forever is set.
// The server may answer 204 for hard deletes; the returned message is nil then.
func (c *Client) DeleteMessage(ctx context.Context, id int64, forever bool) (*model.Message, error) {
	defer logger.DeferLogDuration("api.DeleteMessage", time.Now())()
	path := "/chatmessages/" + strconv.FormatInt(id, 10)
	if forever {
		path += "?forever=1"
	}
	var out messageEnvelope
	if err := c.do(ctx, "api.DeleteMessage", http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Data.ID == 0 {
		return nil, nil
	}
	return &out.Data, nil
}

// MarkRead acknowledges everything up to readAt in the chat.
func (c *Client) MarkRead(ctx context.Context, chatID int64, readAt time.Time) error {
	defer logger.DeferLogDuration("api.MarkRead", time.Now())()
	body := map[string]string{"readed_at": readAt.UTC().Format(time.RFC3339Nano)}
	return c.do(ctx, "api.MarkRead", http.MethodPost, "/chats/"+strconv.FormatInt(chatID, 10)+"/read", body, nil)
}

// CreateChat creates a direct/group chat or a channel.
func (c *Client) CreateChat(ctx context.Context, req CreateChatRequest) (*ChatResponse, error) {
	defer logger.DeferLogDuration("api.CreateChat", time.Now())()
	var body chatCreateBody
	body.Data.Attributes.Type = req.Type
	body.Data.Attributes.Title = req.Title
	body.Data.Attributes.Icon = req.Icon
	body.Data.Attributes.Color = req.Color
	if req.Type != model.ChatTypeChannel {
		body.Data.Relationships = &struct {
			Users toMany `json:"users"`
		}{Users: toMany{Data: refs("users", req.UserIDs)}}
	}
	var out ChatResponse
	if err := c.do(ctx, "api.CreateChat", http.MethodPost, "/chats", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateChat patches attributes and/or membership of a chat.
func (c *Client) UpdateChat(ctx context.Context, chatID int64, p ChatPatch) (*ChatResponse, error) {
	defer logger.DeferLogDuration("api.UpdateChat", time.Now())()
	var body chatPatchBody
	body.Data.Attributes.ChatAttributes = p.Attributes
	if len(p.Added) > 0 || len(p.Removed) > 0 || len(p.Edited) > 0 {
		body.Data.Attributes.Users = &membershipDelta{
			Added:   idStrings(p.Added),
			Removed: idStrings(p.Removed),
			Edited:  p.Edited,
		}
	}
	if p.Snapshot != nil {
		body.Data.Relationships = &struct {
			Users toMany `json:"users"`
		}{Users: toMany{Data: refs("users", p.Snapshot)}}
	}
	var out ChatResponse
	if err := c.do(ctx, "api.UpdateChat", http.MethodPatch, "/chats/"+strconv.FormatInt(chatID, 10), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var rd io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Op: op, Status: resp.StatusCode, kind: kindForStatus(resp.StatusCode)}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var env errorEnvelope
		if json.Unmarshal(raw, &env) == nil {
			se.Message = env.Error
		}
		return se
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%s: decode: %w: %v", op, ErrTransient, err)
	}
	return nil
}
