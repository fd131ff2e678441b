package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/internal/engine"
	"github.com/chatsync/internal/model"
)

type MessageHandler struct {
	reg *engine.Registry
}

func NewMessageHandler(reg *engine.Registry) *MessageHandler {
	return &MessageHandler{reg: reg}
}

type draftRequest struct {
	Text string `json:"text"`
}

type scrollRequest struct {
	AtBottom bool `json:"at_bottom"`
}

type visibleRequest struct {
	MessageIDs []string `json:"message_ids"`
}

type aroundRequest struct {
	At *time.Time `json:"at"`
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	msgs, err := h.reg.Messages(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *MessageHandler) Viewport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	h.respondViewport(w, id, nil)
}

func (h *MessageHandler) Older(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	h.respondViewport(w, id, h.reg.LoadOlder(r.Context(), id))
}

func (h *MessageHandler) Newer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	h.respondViewport(w, id, h.reg.LoadNewer(r.Context(), id))
}

// Around перезагружает окно вокруг момента at (переход по ссылке на сообщение).
func (h *MessageHandler) Around(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req aroundRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respondViewport(w, id, h.reg.FetchAround(r.Context(), id, req.At))
}

func (h *MessageHandler) Draft(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req draftRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respondViewport(w, id, h.reg.UpdateDraft(id, req.Text))
}

// Send отправляет содержимое композера. При ошибке сети сообщение остаётся в ленте как failed.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	h.respondMessage(w, http.StatusCreated)(h.reg.Submit(r.Context(), id))
}

func (h *MessageHandler) Scroll(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req scrollRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respondViewport(w, id, h.reg.SetScroll(r.Context(), id, req.AtBottom))
}

// Visible принимает id сообщений, попавших в видимую область, и отмечает их прочитанными.
func (h *MessageHandler) Visible(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req visibleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ids, err := parseIDs(req.MessageIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message_ids")
		return
	}
	if err := h.reg.MarkVisible(r.Context(), id, ids); err != nil {
		writeEngineError(w, err)
		return
	}
	chat, _ := h.reg.Chat(id)
	writeJSON(w, http.StatusOK, chat)
}

func (h *MessageHandler) BeginEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	msgID, ok := pathID(w, r, "msgId")
	if !ok {
		return
	}
	h.respondViewport(w, id, h.reg.BeginEdit(id, msgID))
}

func (h *MessageHandler) SubmitEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	h.respondMessage(w, http.StatusOK)(h.reg.SubmitEdit(r.Context(), id))
}

func (h *MessageHandler) CancelEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	h.respondViewport(w, id, h.reg.CancelEdit(id))
}

// Delete удаляет сообщение; ?forever=true стирает его полностью (только модераторы).
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	msgID, ok := pathID(w, r, "msgId")
	if !ok {
		return
	}
	if err := h.reg.DeleteMessage(r.Context(), id, msgID, queryBool(r, "forever")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) Resend(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	h.respondMessage(w, http.StatusCreated)(h.reg.Resend(r.Context(), id, chi.URLParam(r, "key")))
}

func (h *MessageHandler) Discard(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.reg.Discard(id, chi.URLParam(r, "key")); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) respondViewport(w http.ResponseWriter, chatID int64, err error) {
	if err != nil {
		writeEngineError(w, err)
		return
	}
	vp, err := h.reg.ViewportOf(chatID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vp)
}

func (h *MessageHandler) respondMessage(w http.ResponseWriter, status int) func(*model.Message, error) {
	return func(msg *model.Message, err error) {
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, status, msg)
	}
}
