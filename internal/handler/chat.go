package handler

import (
	"net/http"
	"strings"

	"github.com/chatsync/internal/api"
	"github.com/chatsync/internal/engine"
	"github.com/chatsync/internal/model"
)

type ChatHandler struct {
	reg *engine.Registry
}

func NewChatHandler(reg *engine.Registry) *ChatHandler {
	return &ChatHandler{reg: reg}
}

type CreateChatRequest struct {
	Channel bool     `json:"channel"`
	Title   string   `json:"title"`
	Icon    string   `json:"icon"`
	Color   string   `json:"color"`
	UserIDs []string `json:"user_ids"`
}

type createChatResponse struct {
	Chat    *model.Chat `json:"chat"`
	Existed bool        `json:"existed"`
}

type membersRequest struct {
	UserIDs []string `json:"user_ids"`
}

type roleRequest struct {
	UserID int64  `json:"user_id,string"`
	Role   string `json:"role"`
}

type adminViewRequest struct {
	Enabled bool `json:"enabled"`
}

// List отдаёт список чатов для сайдбара (?q=&category=).
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	s := engine.Search{
		Query:    r.URL.Query().Get("q"),
		Category: model.Category(r.URL.Query().Get("category")),
	}
	chats := h.reg.ListChats(s)
	if chats == nil {
		chats = []*model.Chat{}
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	chat, found := h.reg.Chat(id)
	if !found {
		writeEngineError(w, engine.ErrUnknownChat)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

// Create создаёт чат или канал. Для существующего личного чата возвращает его с existed=true.
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ids, err := parseIDs(req.UserIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_ids")
		return
	}
	in := api.CreateChatRequest{
		Type:    model.ChatTypeDirectOrGroup,
		Title:   strings.TrimSpace(req.Title),
		Icon:    req.Icon,
		Color:   req.Color,
		UserIDs: ids,
	}
	if req.Channel {
		in.Type = model.ChatTypeChannel
	}
	chat, existed, err := h.reg.CreateChat(r.Context(), in)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeJSON(w, status, createChatResponse{Chat: chat, Existed: existed})
}

// Open делает чат текущим и подгружает окно сообщений.
func (h *ChatHandler) Open(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.reg.Open(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	vp, err := h.reg.ViewportOf(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vp)
}

func (h *ChatHandler) Edit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var attrs model.ChatAttributes
	if !decodeBody(w, r, &attrs) {
		return
	}
	h.respondChat(w)(h.reg.EditChat(r.Context(), id, attrs))
}

func (h *ChatHandler) Members(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	members, err := h.reg.Members(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *ChatHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req membersRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ids, err := parseIDs(req.UserIDs)
	if err != nil || len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "invalid user_ids")
		return
	}
	h.respondChat(w)(h.reg.AddMembers(r.Context(), id, ids))
}

func (h *ChatHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	h.respondChat(w)(h.reg.RemoveMember(r.Context(), id, userID))
}

func (h *ChatHandler) Leave(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	h.respondChat(w)(h.reg.Leave(r.Context(), id))
}

func (h *ChatHandler) Join(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	h.respondChat(w)(h.reg.Rejoin(r.Context(), id))
}

func (h *ChatHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req roleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var role model.Role
	switch req.Role {
	case "member":
		role = model.RoleMember
	case "moderator":
		role = model.RoleModerator
	default:
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}
	h.respondChat(w)(h.reg.SetRole(r.Context(), id, req.UserID, role))
}

func (h *ChatHandler) respondChat(w http.ResponseWriter) func(*model.Chat, error) {
	return func(chat *model.Chat, err error) {
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, chat)
	}
}

// Unread отдаёт суммарный счётчик для бейджа.
func (h *ChatHandler) Unread(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"total": h.reg.TotalUnread()})
}

func (h *ChatHandler) SetAdminView(w http.ResponseWriter, r *http.Request) {
	var req adminViewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.reg.SetAdminView(req.Enabled); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": h.reg.AdminView()})
}
