package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/chatsync/internal/api"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/permission"
)

// UpdateDraft takes the composer text. Outside edit mode a non-empty text
// keeps one preview message that is updated in place.
func (r *Registry) UpdateDraft(chatID int64, text string) error {
	r.mu.Lock()
	if _, ok := r.chats[chatID]; !ok {
		r.mu.Unlock()
		return ErrUnknownChat
	}
	vp := r.viewportLocked(chatID)
	if vp.Editing != 0 {
		vp.EditText = text
		vp.Compose = ComposeDrafting
		r.mu.Unlock()
		return nil
	}
	vp.Draft = text
	vp.draftLoaded = true
	switch {
	case strings.TrimSpace(text) == "":
		vp.Preview = nil
		vp.Compose = ComposeIdle
	case vp.Preview == nil:
		vp.Preview = &model.Message{
			ChatID:    chatID,
			AuthorID:  r.selfID(),
			Content:   text,
			CreatedAt: r.now(),
			LocalKey:  uuid.NewString(),
			Status:    model.StatusPreview,
		}
		vp.Compose = ComposePreviewing
	default:
		vp.Preview.Content = text
		vp.Compose = ComposePreviewing
	}
	now := r.scheduleDraftLocked(chatID)
	r.mu.Unlock()
	if now {
		r.persistDraft(context.Background(), chatID)
	}
	return nil
}

// scheduleDraftLocked reports whether the draft must be written right away.
func (r *Registry) scheduleDraftLocked(chatID int64) bool {
	if r.cfg.DraftThrottle <= 0 {
		return true
	}
	if _, ok := r.draftTimers[chatID]; ok {
		return false
	}
	r.draftTimers[chatID] = time.AfterFunc(r.cfg.DraftThrottle, func() {
		r.persistDraft(context.Background(), chatID)
	})
	return false
}

func (r *Registry) persistDraft(ctx context.Context, chatID int64) {
	r.mu.Lock()
	delete(r.draftTimers, chatID)
	vp, ok := r.viewports[chatID]
	if !ok {
		r.mu.Unlock()
		return
	}
	text := vp.Draft
	r.mu.Unlock()
	if err := r.drafts.SetDraft(ctx, chatID, text); err != nil {
		logger.Errorf("engine: сохранение черновика чата %d: %v", chatID, err)
	}
}

// FlushDrafts writes every pending throttled draft now.
func (r *Registry) FlushDrafts(ctx context.Context) {
	r.mu.Lock()
	ids := make([]int64, 0, len(r.draftTimers))
	for id, t := range r.draftTimers {
		t.Stop()
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.persistDraft(ctx, id)
	}
}

func (r *Registry) restoreDraft(ctx context.Context, chatID int64) {
	text, err := r.drafts.GetDraft(ctx, chatID)
	if err != nil {
		logger.Errorf("engine: чтение черновика чата %d: %v", chatID, err)
		return
	}
	if text == "" {
		return
	}
	r.mu.Lock()
	vp, ok := r.viewports[chatID]
	if !ok || vp.Draft != "" || vp.Editing != 0 {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	if err := r.UpdateDraft(chatID, text); err != nil {
		logger.Errorf("engine: черновик чата %d: %v", chatID, err)
	}
}

// Submit sends the composer content. In edit mode it submits the edit instead.
// The message shows up immediately as pending; a failure leaves it as failed
// until Resend or Discard.
func (r *Registry) Submit(ctx context.Context, chatID int64) (*model.Message, error) {
	r.mu.Lock()
	chat, ok := r.chats[chatID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrUnknownChat
	}
	vp := r.viewportLocked(chatID)
	if vp.Editing != 0 {
		r.mu.Unlock()
		return r.SubmitEdit(ctx, chatID)
	}
	if vp.Suppressed || !permission.CanPost(r.session, chat) {
		r.mu.Unlock()
		return nil, ErrNotAllowed
	}
	text := strings.TrimSpace(vp.Draft)
	if err := r.validateLocked(text); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	now := r.now()
	if !r.flood.allow(now) {
		r.mu.Unlock()
		return nil, ErrFloodControl
	}

	msg := vp.Preview
	if msg == nil {
		msg = &model.Message{ChatID: chatID, AuthorID: r.selfID(), LocalKey: uuid.NewString()}
	}
	msg.Content = text
	msg.CreatedAt = now
	msg.Status = model.StatusPending
	r.logLocked(chatID).pending[msg.LocalKey] = msg
	key := msg.LocalKey

	vp.Preview = nil
	vp.Draft = ""
	vp.Compose = ComposeSending
	r.mu.Unlock()

	return r.send(ctx, chatID, key, text)
}

func (r *Registry) validateLocked(text string) error {
	if text == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > r.cfg.MessageCharLimit {
		return ErrMessageTooLong
	}
	return nil
}

func (r *Registry) send(ctx context.Context, chatID int64, key, text string) (*model.Message, error) {
	created, err := r.api.CreateMessage(ctx, chatID, text)

	r.mu.Lock()
	lg, ok := r.logs[chatID]
	chat, chatOK := r.chats[chatID]
	vp := r.viewports[chatID]
	if err != nil {
		if ok {
			if p, ok := lg.pending[key]; ok {
				p.Status = model.StatusFailed
			}
		}
		if vp != nil {
			vp.Compose = ComposeFailed
		}
		r.mu.Unlock()
		logger.Errorf("engine: отправка в чат %d: %v", chatID, err)
		return nil, fmt.Errorf("send message: %w", err)
	}
	if !ok || !chatOK || created == nil {
		r.mu.Unlock()
		return created, nil
	}

	msg := created.Clone()
	msg.ChatID = chatID
	msg.Status = model.StatusConfirmed
	msg.LocalKey = key
	if err := msg.DecodeEvent(); err != nil {
		logger.Errorf("engine: сообщение %d: %v", msg.ID, err)
	}
	delete(lg.pending, key)
	// Если realtime-эхо уже вставило серверную копию, ответ POST её перезаписывает.
	lg.byID[msg.ID] = msg
	r.bumpLastLocked(chat, msg)
	if vp != nil {
		vp.Compose = ComposeReconciled
	}
	clearDraft := vp != nil && vp.Draft == ""
	r.mu.Unlock()

	if clearDraft {
		if err := r.drafts.DeleteDraft(ctx, chatID); err != nil {
			logger.Errorf("engine: удаление черновика чата %d: %v", chatID, err)
		}
	}
	return msg.Clone(), nil
}

// Resend retries a failed send.
func (r *Registry) Resend(ctx context.Context, chatID int64, localKey string) (*model.Message, error) {
	r.mu.Lock()
	lg, ok := r.logs[chatID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrUnknownMessage
	}
	p, ok := lg.pending[localKey]
	if !ok || p.Status != model.StatusFailed {
		r.mu.Unlock()
		return nil, ErrUnknownMessage
	}
	if !r.flood.allow(r.now()) {
		r.mu.Unlock()
		return nil, ErrFloodControl
	}
	p.Status = model.StatusPending
	if vp, ok := r.viewports[chatID]; ok {
		vp.Compose = ComposeSending
	}
	text := p.Content
	r.mu.Unlock()
	return r.send(ctx, chatID, localKey, text)
}

// Discard drops a failed send.
func (r *Registry) Discard(chatID int64, localKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lg, ok := r.logs[chatID]
	if !ok {
		return ErrUnknownMessage
	}
	p, ok := lg.pending[localKey]
	if !ok || p.Status != model.StatusFailed {
		return ErrUnknownMessage
	}
	delete(lg.pending, localKey)
	if vp, ok := r.viewports[chatID]; ok && vp.Compose == ComposeFailed {
		vp.Compose = ComposeIdle
	}
	return nil
}

// BeginEdit switches the composer to editing msgID. The current draft is kept aside.
func (r *Registry) BeginEdit(chatID, msgID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chats[chatID]; !ok {
		return ErrUnknownChat
	}
	lg, ok := r.logs[chatID]
	if !ok {
		return ErrUnknownMessage
	}
	msg, ok := lg.byID[msgID]
	if !ok {
		return ErrUnknownMessage
	}
	if !permission.CanEdit(r.session, msg) {
		return ErrNotAllowed
	}
	vp := r.viewportLocked(chatID)
	if vp.Editing == 0 {
		vp.savedDraft = vp.Draft
		vp.savedPreview = vp.Preview
	}
	vp.Preview = nil
	vp.Editing = msgID
	vp.EditText = msg.Content
	vp.Compose = ComposeDrafting
	return nil
}

// CancelEdit leaves edit mode and restores the draft typed before it.
func (r *Registry) CancelEdit(chatID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	vp, ok := r.viewports[chatID]
	if !ok || vp.Editing == 0 {
		return nil
	}
	r.leaveEditLocked(vp)
	return nil
}

func (r *Registry) leaveEditLocked(vp *Viewport) {
	vp.Editing = 0
	vp.EditText = ""
	vp.Draft = vp.savedDraft
	vp.Preview = vp.savedPreview
	vp.savedDraft = ""
	vp.savedPreview = nil
	if vp.Preview != nil {
		vp.Compose = ComposePreviewing
	} else {
		vp.Compose = ComposeIdle
	}
}

// SubmitEdit sends the edit. On failure the message keeps its content and the
// composer stays in edit mode.
func (r *Registry) SubmitEdit(ctx context.Context, chatID int64) (*model.Message, error) {
	r.mu.Lock()
	vp, ok := r.viewports[chatID]
	if !ok || vp.Editing == 0 {
		r.mu.Unlock()
		return nil, ErrUnknownMessage
	}
	msgID := vp.Editing
	text := strings.TrimSpace(vp.EditText)
	if err := r.validateLocked(text); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	lg, ok := r.logs[chatID]
	if !ok || lg.byID[msgID] == nil {
		r.mu.Unlock()
		return nil, ErrUnknownMessage
	}
	vp.Compose = ComposeSending
	r.mu.Unlock()

	edited, err := r.api.EditMessage(ctx, msgID, text)
	if err != nil {
		r.mu.Lock()
		if vp, ok := r.viewports[chatID]; ok && vp.Editing == msgID {
			vp.Compose = ComposeFailed
		}
		r.mu.Unlock()
		logger.Errorf("engine: правка сообщения %d: %v", msgID, err)
		if errors.Is(err, api.ErrNotFound) {
			r.refetch(ctx, chatID)
		}
		return nil, fmt.Errorf("edit message: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var out *model.Message
	if lg, ok := r.logs[chatID]; ok {
		if old, ok := lg.byID[msgID]; ok && edited != nil {
			msg := edited.Clone()
			msg.ChatID = chatID
			msg.Status = model.StatusConfirmed
			msg.LocalKey = old.LocalKey
			if err := msg.DecodeEvent(); err != nil {
				logger.Errorf("engine: сообщение %d: %v", msg.ID, err)
			}
			lg.byID[msgID] = msg
			out = msg.Clone()
		}
	}
	if vp, ok := r.viewports[chatID]; ok && vp.Editing == msgID {
		r.leaveEditLocked(vp)
		vp.Compose = ComposeReconciled
	}
	return out, nil
}

// DeleteMessage soft-deletes a message, or removes it for good when forever is set.
func (r *Registry) DeleteMessage(ctx context.Context, chatID, msgID int64, forever bool) error {
	r.mu.Lock()
	chat, ok := r.chats[chatID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownChat
	}
	lg, ok := r.logs[chatID]
	if !ok || lg.byID[msgID] == nil {
		r.mu.Unlock()
		return ErrUnknownMessage
	}
	msg := lg.byID[msgID]
	if !permission.CanDelete(r.session, chat, msg) || (forever && !r.session.Permissions.ModerateDelete) {
		r.mu.Unlock()
		return ErrNotAllowed
	}
	r.mu.Unlock()

	deleted, err := r.api.DeleteMessage(ctx, msgID, forever)
	if err != nil {
		logger.Errorf("engine: удаление сообщения %d: %v", msgID, err)
		if errors.Is(err, api.ErrNotFound) {
			r.refetch(ctx, chatID)
		}
		return fmt.Errorf("delete message: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	lg, ok = r.logs[chatID]
	if !ok {
		return nil
	}
	old, ok := lg.byID[msgID]
	if !ok {
		return nil
	}
	switch {
	case deleted != nil:
		old.DeletedBy = deleted.DeletedBy
		old.DeletedForever = deleted.DeletedForever
	case forever:
		old.DeletedForever = true
	default:
		old.DeletedBy = r.selfID()
	}
	if old.DeletedBy == 0 && !old.DeletedForever {
		old.DeletedBy = r.selfID()
	}
	return nil
}
