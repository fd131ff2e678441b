package engine

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

type readAck struct {
	chatID int64
	at     time.Time
}

// SetScroll records whether the viewport sits at the bottom. Reaching the
// bottom of the current chat turns auto-scroll on and acknowledges the whole chat.
func (r *Registry) SetScroll(ctx context.Context, chatID int64, atBottom bool) error {
	r.mu.Lock()
	if _, ok := r.chats[chatID]; !ok {
		r.mu.Unlock()
		return ErrUnknownChat
	}
	vp := r.viewportLocked(chatID)
	vp.AtBottom = atBottom
	vp.AutoScroll = atBottom
	var acks []readAck
	if atBottom {
		acks = r.bulkReadLocked(chatID)
	}
	r.mu.Unlock()
	return r.sendAcks(ctx, acks)
}

// MarkVisible acknowledges messages rendered inside the viewport. At the live
// end of the current chat the whole chat is marked read at once; anywhere else
// each visible unread message is acknowledged on its own.
func (r *Registry) MarkVisible(ctx context.Context, chatID int64, visibleIDs []int64) error {
	r.mu.Lock()
	chat, ok := r.chats[chatID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownChat
	}
	vp := r.viewportLocked(chatID)
	var acks []readAck
	if vp.AutoScroll && vp.AtBottom && r.current == chatID {
		acks = r.bulkReadLocked(chatID)
	} else {
		acks = r.perMessageReadLocked(chat, vp, visibleIDs)
	}
	r.mu.Unlock()
	return r.sendAcks(ctx, acks)
}

func (r *Registry) readableLocked(chat *model.Chat, vp *Viewport) bool {
	return !vp.Suppressed && chat.IsMember(r.selfID())
}

func (r *Registry) bulkReadLocked(chatID int64) []readAck {
	chat := r.chats[chatID]
	vp := r.viewports[chatID]
	if r.current != chatID || !r.readableLocked(chat, vp) {
		return nil
	}
	if chat.UnreadCount == 0 && chat.MentionCount == 0 && !vp.ackDue {
		return nil
	}
	now := r.now()
	chat.UnreadCount = 0
	chat.MentionCount = 0
	vp.ackDue = false
	r.setReadAtLocked(chat, now)
	return []readAck{{chatID: chatID, at: now}}
}

func (r *Registry) perMessageReadLocked(chat *model.Chat, vp *Viewport, visibleIDs []int64) []readAck {
	if !r.readableLocked(chat, vp) || chat.UnreadCount == 0 {
		return nil
	}
	lg, ok := r.logs[chat.ID]
	if !ok {
		return nil
	}
	self := r.selfID()
	var readAt *time.Time
	if m, ok := chat.Pivot(self); ok {
		readAt = m.ReadAt
	}
	var unread []*model.Message
	for _, id := range slices.Compact(slices.Sorted(slices.Values(visibleIDs))) {
		m, ok := lg.byID[id]
		if !ok || m.AuthorID == self {
			continue
		}
		if readAt != nil && !m.CreatedAt.After(*readAt) {
			continue
		}
		unread = append(unread, m)
	}
	sort.Slice(unread, func(i, j int) bool { return unread[i].Less(unread[j]) })

	acks := make([]readAck, 0, len(unread))
	for _, m := range unread {
		if chat.UnreadCount > 0 {
			chat.UnreadCount--
		}
		if chat.MentionCount > 0 && !m.IsEvent() && m.Mentions(r.session.User) {
			chat.MentionCount--
		}
		if chat.UnreadCount == 0 {
			chat.MentionCount = 0
		}
		acks = append(acks, readAck{chatID: chat.ID, at: m.CreatedAt})
	}
	if len(unread) > 0 {
		r.setReadAtLocked(chat, unread[len(unread)-1].CreatedAt)
	}
	return acks
}

func (r *Registry) setReadAtLocked(chat *model.Chat, at time.Time) {
	m, ok := chat.Pivot(r.selfID())
	if !ok {
		return
	}
	if m.ReadAt != nil && !at.After(*m.ReadAt) {
		return
	}
	t := at
	m.ReadAt = &t
	chat.SetPivot(m)
}

// sendAcks runs outside the lock. Failures leave the local counters as the user saw them.
func (r *Registry) sendAcks(ctx context.Context, acks []readAck) error {
	for _, a := range acks {
		if err := r.api.MarkRead(ctx, a.chatID, a.at); err != nil {
			logger.Errorf("engine: отметка прочтения чата %d: %v", a.chatID, err)
			return fmt.Errorf("mark read: %w", err)
		}
	}
	return nil
}

// ShouldNotify decides whether an incoming message deserves a notification.
func (r *Registry) ShouldNotify(msg *model.Message) bool {
	if msg == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shouldNotifyLocked(msg)
}

func (r *Registry) shouldNotifyLocked(msg *model.Message) bool {
	if msg.AuthorID == r.selfID() {
		return false
	}
	if r.prefs != nil {
		p := r.prefs.Get()
		if p.Muted || !p.Notify {
			return false
		}
	}
	chat, ok := r.chats[msg.ChatID]
	if !ok || !chat.IsMember(r.selfID()) {
		return false
	}
	if vp, ok := r.viewports[msg.ChatID]; ok && vp.Suppressed {
		return false
	}
	return !r.watchingLocked(msg.ChatID)
}
