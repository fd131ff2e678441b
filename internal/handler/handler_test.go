package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/api"
	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/engine"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage/prefs"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// stubTransport отвечает заранее заданными чатами; отправка делегируется в createMessage.
type stubTransport struct {
	chats         []model.Chat
	users         []model.User
	createMessage func(chatID int64, text string) (*model.Message, error)
}

func (s *stubTransport) ListChats(context.Context) (*api.ChatList, error) {
	return &api.ChatList{Chats: s.chats, Users: s.users}, nil
}

func (s *stubTransport) FetchMessages(context.Context, api.MessageQuery) ([]model.Message, error) {
	return nil, nil
}

func (s *stubTransport) CreateMessage(_ context.Context, chatID int64, text string) (*model.Message, error) {
	if s.createMessage == nil {
		return nil, api.ErrTransient
	}
	return s.createMessage(chatID, text)
}

func (s *stubTransport) EditMessage(context.Context, int64, string) (*model.Message, error) {
	return nil, api.ErrTransient
}

func (s *stubTransport) DeleteMessage(context.Context, int64, bool) (*model.Message, error) {
	return nil, api.ErrTransient
}

func (s *stubTransport) MarkRead(context.Context, int64, time.Time) error { return nil }

func (s *stubTransport) CreateChat(context.Context, api.CreateChatRequest) (*api.ChatResponse, error) {
	return nil, api.ErrConflict
}

func (s *stubTransport) UpdateChat(context.Context, int64, api.ChatPatch) (*api.ChatResponse, error) {
	return nil, api.ErrTransient
}

type bridge struct {
	srv   *httptest.Server
	tr    *stubTransport
	reg   *engine.Registry
	prefs *prefs.Store
}

func newBridge(t *testing.T) *bridge {
	t.Helper()
	joined := t0.Add(-time.Hour)
	chat := model.Chat{ID: 10, Title: "general", CreatedAt: t0.Add(-2 * time.Hour)}
	chat.SetPivot(model.Membership{UserID: 1, JoinedAt: &joined})
	chat.SetPivot(model.Membership{UserID: 2, JoinedAt: &joined})
	tr := &stubTransport{
		chats: []model.Chat{chat},
		users: []model.User{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}},
	}
	cfg := &config.Config{Chat: config.ChatConfig{MessageCharLimit: 10, FloodMessages: 10, FloodWindow: 10 * time.Second, FetchLimit: 50}}
	store := prefs.Open("", prefs.Defaults(false))
	reg := engine.New(engine.Options{
		Session: model.Session{
			User:        tr.users[0],
			Permissions: model.Permissions{View: true, CreateChat: true, Post: true, Edit: true, Delete: true},
		},
		Transport: tr,
		Prefs:     store,
		Chat:      cfg.Chat,
		Now:       func() time.Time { return t0 },
	})
	require.NoError(t, reg.LoadChats(context.Background()))

	r := chi.NewRouter()
	Mount(r, Handlers{
		Chat:    NewChatHandler(reg),
		Message: NewMessageHandler(reg),
		Config:  NewConfigHandler(cfg, func() bool { return true }),
		Prefs:   NewPrefsHandler(store),
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &bridge{srv: srv, tr: tr, reg: reg, prefs: store}
}

func (b *bridge) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, b.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var raw json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&raw)
	return resp, raw
}

func TestListAndGetChats(t *testing.T) {
	b := newBridge(t)

	resp, body := b.do(t, http.MethodGet, "/api/chats?q=gen", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var chats []model.Chat
	require.NoError(t, json.Unmarshal(body, &chats))
	require.Len(t, chats, 1)
	assert.Equal(t, int64(10), chats[0].ID)

	resp, body = b.do(t, http.MethodGet, "/api/chats?q=nothing", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, _ = b.do(t, http.MethodGet, "/api/chats/99", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = b.do(t, http.MethodGet, "/api/chats/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendFlow(t *testing.T) {
	b := newBridge(t)
	b.tr.createMessage = func(chatID int64, text string) (*model.Message, error) {
		return &model.Message{ID: 500, ChatID: chatID, AuthorID: 1, Content: text, CreatedAt: t0}, nil
	}

	resp, _ := b.do(t, http.MethodPost, "/api/chats/10/send", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, "пустой композер")

	resp, body := b.do(t, http.MethodPut, "/api/chats/10/draft", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var vp engine.Viewport
	require.NoError(t, json.Unmarshal(body, &vp))
	require.NotNil(t, vp.Preview)
	assert.Equal(t, model.StatusPreview, vp.Preview.Status)

	resp, body = b.do(t, http.MethodPost, "/api/chats/10/send", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var msg model.Message
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.Equal(t, int64(500), msg.ID)
	assert.Equal(t, "hello", msg.Content)

	resp, _ = b.do(t, http.MethodPut, "/api/chats/10/draft", `{"text":"far too long text"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = b.do(t, http.MethodPost, "/api/chats/10/send", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestSendFailureKeepsFailedMessage(t *testing.T) {
	b := newBridge(t)

	b.do(t, http.MethodPut, "/api/chats/10/draft", `{"text":"hi"}`)
	resp, _ := b.do(t, http.MethodPost, "/api/chats/10/send", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp, body := b.do(t, http.MethodGet, "/api/chats/10/messages", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msgs []model.Message
	require.NoError(t, json.Unmarshal(body, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, model.StatusFailed, msgs[0].Status)

	resp, _ = b.do(t, http.MethodDelete, "/api/chats/10/pending/"+msgs[0].LocalKey, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = b.do(t, http.MethodDelete, "/api/chats/10/pending/"+msgs[0].LocalKey, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateDirectChatReturnsExisting(t *testing.T) {
	b := newBridge(t)

	resp, _ := b.do(t, http.MethodPost, "/api/chats", `{"user_ids":["2"]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = b.do(t, http.MethodPost, "/api/chats", `{"user_ids":["x"]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = b.do(t, http.MethodPost, "/api/chats", `{"channel":true,"title":"news"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdminViewForbidden(t *testing.T) {
	b := newBridge(t)
	resp, _ := b.do(t, http.MethodPut, "/api/admin-view", `{"enabled":true}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUnreadAndConfig(t *testing.T) {
	b := newBridge(t)

	resp, body := b.do(t, http.MethodGet, "/api/unread", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"total":0}`, string(body))

	resp, body = b.do(t, http.MethodGet, "/api/config/chat", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal(body, &cfg))
	assert.EqualValues(t, 10, cfg["message_char_limit"])
	assert.Equal(t, true, cfg["realtime_connected"])

	resp, _ = b.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPrefs(t *testing.T) {
	b := newBridge(t)

	resp, body := b.do(t, http.MethodGet, "/api/prefs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p prefs.Preferences
	require.NoError(t, json.Unmarshal(body, &p))
	assert.True(t, p.Notify)

	resp, _ = b.do(t, http.MethodPut, "/api/prefs", `{"visible":true,"muted":true,"width":300,"height":200}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, b.prefs.Get().Muted)
	assert.Equal(t, 300, b.prefs.Get().Width)

	resp, _ = b.do(t, http.MethodPut, "/api/prefs", `{"width":-1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSetRoleValidation(t *testing.T) {
	b := newBridge(t)
	resp, _ := b.do(t, http.MethodPut, "/api/chats/10/role", `{"user_id":"2","role":"creator"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWSCheckOrigin(t *testing.T) {
	h := NewWSHandler(nil, "http://localhost:3000, app://chat")
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"app://chat", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, h.checkOrigin(req), tt.origin)
	}

	resp := httptest.NewRecorder()
	h.ServeWS(resp, func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
		req.Header.Set("Origin", "https://evil.example")
		return req
	}())
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestWriteEngineErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{engine.ErrUnknownChat, http.StatusNotFound},
		{engine.ErrNotAllowed, http.StatusForbidden},
		{engine.ErrMessageTooLong, http.StatusUnprocessableEntity},
		{engine.ErrFloodControl, http.StatusTooManyRequests},
		{engine.ErrFetchBusy, http.StatusConflict},
		{fmt.Errorf("load newer: %w", engine.ErrFetchBusy), http.StatusConflict},
		{api.ErrTransient, http.StatusBadGateway},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeEngineError(rec, tt.err)
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}
