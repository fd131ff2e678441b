package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/chatsync/internal/api"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/permission"
)

type fetchDir int

const (
	fetchNewest fetchDir = iota
	fetchOlder
	fetchNewer
	fetchAnchored
)

// fetchReq identifies the window a fetch loads.
type fetchReq struct {
	dir    fetchDir
	cursor *time.Time
}

func (a fetchReq) same(b fetchReq) bool {
	if a.dir != b.dir || (a.cursor == nil) != (b.cursor == nil) {
		return false
	}
	return a.cursor == nil || a.cursor.Equal(*b.cursor)
}

// Open makes chatID the current chat. The first open fetches a window: anchored
// at the last read position when there is something unread, the newest one otherwise.
func (r *Registry) Open(ctx context.Context, chatID int64) error {
	r.mu.Lock()
	chat, ok := r.chats[chatID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownChat
	}
	if !r.adminView && !permission.CanView(r.session, chat) && !r.selfRemovedLocked(chat) {
		r.mu.Unlock()
		return ErrNotAllowed
	}
	r.current = chatID
	vp := r.viewportLocked(chatID)
	loadDraft := !vp.draftLoaded
	vp.draftLoaded = true
	if vp.Suppressed || vp.MessagesFetched {
		r.mu.Unlock()
		if loadDraft {
			r.restoreDraft(ctx, chatID)
		}
		return nil
	}
	dir := fetchNewest
	var cursor *time.Time
	if chat.UnreadCount > 0 {
		anchor := time.Unix(0, 0).UTC()
		if m, ok := chat.Pivot(r.selfID()); ok && m.ReadAt != nil {
			anchor = *m.ReadAt
		}
		cursor = &anchor
		dir = fetchAnchored
		vp.AutoScroll = false
		vp.AtBottom = false
	} else {
		vp.AutoScroll = true
		vp.AtBottom = true
	}
	r.mu.Unlock()

	if loadDraft {
		r.restoreDraft(ctx, chatID)
	}
	return r.fetch(ctx, chatID, dir, cursor)
}

// FetchAround loads the newest window, or the window starting at cursor.
func (r *Registry) FetchAround(ctx context.Context, chatID int64, cursor *time.Time) error {
	if cursor == nil {
		return r.fetch(ctx, chatID, fetchNewest, nil)
	}
	return r.fetch(ctx, chatID, fetchAnchored, cursor)
}

// LoadOlder loads the window before the oldest loaded message. ErrFetchBusy
// means another window of the chat was loading and nothing was requested.
func (r *Registry) LoadOlder(ctx context.Context, chatID int64) error {
	r.mu.Lock()
	vp, ok := r.viewports[chatID]
	var cursor *time.Time
	if ok {
		cursor = copyTime(vp.OldestLoadedAt)
	}
	r.mu.Unlock()
	if cursor == nil {
		return r.fetch(ctx, chatID, fetchNewest, nil)
	}
	return r.fetch(ctx, chatID, fetchOlder, cursor)
}

// LoadNewer loads the window after the newest loaded message. ErrFetchBusy
// means another window of the chat was loading and nothing was requested.
func (r *Registry) LoadNewer(ctx context.Context, chatID int64) error {
	r.mu.Lock()
	vp, ok := r.viewports[chatID]
	var cursor *time.Time
	if ok {
		cursor = copyTime(vp.NewestLoadedAt)
	}
	r.mu.Unlock()
	if cursor == nil {
		return r.fetch(ctx, chatID, fetchNewest, nil)
	}
	return r.fetch(ctx, chatID, fetchNewer, cursor)
}

// fetch runs at most one request per chat at a time. A trigger for the same
// window shares the outstanding request; a trigger for another window gets
// ErrFetchBusy once it finishes and should be repeated.
func (r *Registry) fetch(ctx context.Context, chatID int64, dir fetchDir, cursor *time.Time) error {
	want := fetchReq{dir: dir, cursor: cursor}
	v, err, _ := r.fetches.Do(strconv.FormatInt(chatID, 10), func() (any, error) {
		return want, r.doFetch(ctx, chatID, dir, cursor)
	})
	if err != nil {
		return err
	}
	if ran, ok := v.(fetchReq); ok && !ran.same(want) {
		return ErrFetchBusy
	}
	return nil
}

func (r *Registry) doFetch(ctx context.Context, chatID int64, dir fetchDir, cursor *time.Time) error {
	defer logger.DeferLogDuration("engine.fetch", time.Now())()

	r.mu.Lock()
	if _, ok := r.chats[chatID]; !ok {
		r.mu.Unlock()
		return ErrUnknownChat
	}
	vp := r.viewportLocked(chatID)
	vp.Loading = true
	limit := r.cfg.FetchLimit
	r.mu.Unlock()

	q := api.MessageQuery{ChatID: chatID, Limit: limit}
	switch dir {
	case fetchOlder:
		q.Before = cursor
	case fetchNewer, fetchAnchored:
		q.After = cursor
	}
	msgs, err := r.api.FetchMessages(ctx, q)

	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[chatID]
	vp, vpOK := r.viewports[chatID]
	if vpOK {
		vp.Loading = false
	}
	if err != nil {
		logger.Errorf("engine: загрузка сообщений чата %d: %v", chatID, err)
		return fmt.Errorf("fetch messages: %w", err)
	}
	if !ok || !vpOK {
		// Чат выгрузили, пока шёл запрос.
		return nil
	}
	r.mergeLocked(chat, msgs)

	full := len(msgs) >= limit
	switch dir {
	case fetchNewest:
		vp.HasMoreBefore = full
		vp.HasMoreAfter = false
	case fetchOlder:
		vp.HasMoreBefore = full
	case fetchNewer:
		vp.HasMoreAfter = full
	case fetchAnchored:
		vp.HasMoreAfter = full
		if !vp.MessagesFetched {
			vp.HasMoreBefore = cursor != nil && cursor.Unix() > 0
		}
	}
	for i := range msgs {
		t := msgs[i].CreatedAt
		if vp.OldestLoadedAt == nil || t.Before(*vp.OldestLoadedAt) {
			vp.OldestLoadedAt = &t
		}
		if vp.NewestLoadedAt == nil || t.After(*vp.NewestLoadedAt) {
			vp.NewestLoadedAt = &t
		}
	}
	vp.MessagesFetched = true
	return nil
}

// mergeLocked upserts fetched messages by identity. The incoming copy wins
// except for deletion and newer edits already known (see reconcile).
func (r *Registry) mergeLocked(chat *model.Chat, msgs []model.Message) {
	lg := r.logLocked(chat.ID)
	for i := range msgs {
		m := msgs[i].Clone()
		if m.ID == 0 {
			continue
		}
		m.ChatID = chat.ID
		m.Status = model.StatusConfirmed
		if err := m.DecodeEvent(); err != nil {
			logger.Errorf("engine: сообщение %d: %v", m.ID, err)
		}
		if old, ok := lg.byID[m.ID]; ok {
			reconcile(old, m)
		}
		lg.byID[m.ID] = m
		r.bumpLastLocked(chat, m)
	}
}

// bumpLastLocked advances the chat's last-message pointer.
func (r *Registry) bumpLastLocked(chat *model.Chat, m *model.Message) {
	if chat.LastMessageAt != nil && m.CreatedAt.Before(*chat.LastMessageAt) {
		return
	}
	if chat.LastMessageAt != nil && m.CreatedAt.Equal(*chat.LastMessageAt) && m.ID < chat.LastMessageID {
		return
	}
	t := m.CreatedAt
	chat.LastMessageAt = &t
	chat.LastMessageID = m.ID
	if chat.FirstMessageID == 0 {
		chat.FirstMessageID = m.ID
	}
}

// refetch throws away the paging state and reloads the newest window.
func (r *Registry) refetch(ctx context.Context, chatID int64) {
	r.mu.Lock()
	if vp, ok := r.viewports[chatID]; ok {
		vp.MessagesFetched = false
	}
	r.mu.Unlock()
	if err := r.fetch(ctx, chatID, fetchNewest, nil); err != nil {
		logger.Errorf("engine: перезагрузка чата %d: %v", chatID, err)
	}
}
