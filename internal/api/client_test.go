package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/api", "secret", time.Second)
}

func TestFetchMessagesQuery(t *testing.T) {
	after := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chatmessages", r.URL.Path)
		assert.Equal(t, "4", r.URL.Query().Get("chat"))
		assert.Equal(t, "2024-03-01T12:00:00Z", r.URL.Query().Get("after"))
		assert.Empty(t, r.URL.Query().Get("before"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"data":[{"id":"9","chat_id":"4","author_id":"2","type":0,"message":"hi","created_at":"2024-03-01T12:00:01Z"}]}`)
	})

	msgs, err := c.FetchMessages(context.Background(), MessageQuery{ChatID: 4, After: &after, Limit: 20})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(9), msgs[0].ID)
	assert.Equal(t, "hi", msgs[0].Content)
}

func TestCreateMessageBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		data := body["data"].(map[string]any)
		assert.Equal(t, "hello", data["attributes"].(map[string]any)["message"])
		chat := data["relationships"].(map[string]any)["chat"].(map[string]any)["data"].(map[string]any)
		assert.Equal(t, "3", chat["id"])
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"data":{"id":"55","chat_id":"3","message":"hello"}}`)
	})

	m, err := c.CreateMessage(context.Background(), 3, "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(55), m.ID)
}

func TestUpdateChatDelta(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Data struct {
				Attributes struct {
					Title string `json:"title"`
					Users struct {
						Added   []string   `json:"added"`
						Removed []string   `json:"removed"`
						Edited  []RoleEdit `json:"edited"`
					} `json:"users"`
				} `json:"attributes"`
				Relationships struct {
					Users struct {
						Data []resourceRef `json:"data"`
					} `json:"users"`
				} `json:"relationships"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "renamed", body.Data.Attributes.Title)
		assert.Equal(t, []string{"5"}, body.Data.Attributes.Users.Added)
		assert.Equal(t, []RoleEdit{{UserID: 2, Role: model.RoleModerator}}, body.Data.Attributes.Users.Edited)
		assert.Len(t, body.Data.Relationships.Users.Data, 3)
		_, _ = io.WriteString(w, `{"data":{"id":"1","title":"renamed"}}`)
	})

	title := "renamed"
	resp, err := c.UpdateChat(context.Background(), 1, ChatPatch{
		Attributes: model.ChatAttributes{Title: &title},
		Added:      []int64{5},
		Edited:     []RoleEdit{{UserID: 2, Role: model.RoleModerator}},
		Snapshot:   []int64{1, 2, 5},
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", resp.Chat.Title)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusConflict, ErrConflict},
		{http.StatusForbidden, ErrPermissionDenied},
		{http.StatusUnauthorized, ErrPermissionDenied},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusBadGateway, ErrTransient},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":"nope"}`)
			})
			_, err := c.EditMessage(context.Background(), 1, "x")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, "nope", se.Message)
		})
	}
}

func TestNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := NewClient(srv.URL, "", time.Second)
	srv.Close()

	err := c.MarkRead(context.Background(), 1, time.Now())
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestDeleteForeverNoContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("forever"))
		w.WriteHeader(http.StatusNoContent)
	})
	m, err := c.DeleteMessage(context.Background(), 8, true)
	require.NoError(t, err)
	assert.Nil(t, m)
}
