package engine

import (
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

// eventHandler применяет событие и сообщает, нужно ли уведомление.
// true возможно только при первом применении события.
type eventHandler func(*Registry, model.Event) bool

// handlers is indexed by model.EventType; every variant must have an entry.
var handlers = [model.EventTypeCount]eventHandler{
	model.EventMessageCreated:        (*Registry).onMessageCreated,
	model.EventMessageEdited:         (*Registry).onMessageEdited,
	model.EventMessageDeleted:        (*Registry).onMessageDeleted,
	model.EventMembershipChanged:     (*Registry).onMembershipChanged,
	model.EventChatAttributesChanged: (*Registry).onChatAttributesChanged,
}

// ApplyRealtimeEvent applies one pushed event to the mirror. Applying the same
// event again changes nothing. notify is true only when the event brought a
// new message that deserves a notification, so a redelivered event never
// notifies twice.
func (r *Registry) ApplyRealtimeEvent(e model.Event) (notify bool) {
	if e.Type < 0 || e.Type >= model.EventTypeCount || handlers[e.Type] == nil {
		logger.Errorf("engine: неизвестное событие %v", e.Type)
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return handlers[e.Type](r, e)
}

func (r *Registry) eventChatLocked(e model.Event, chatID int64) (*model.Chat, bool) {
	if chatID == 0 {
		chatID = e.ChatID
	}
	chat, ok := r.chats[chatID]
	if !ok {
		logger.Debugf("engine: %s для неизвестного чата %d", e.Type, chatID)
	}
	return chat, ok
}

func (r *Registry) onMessageCreated(e model.Event) bool {
	if e.Message == nil {
		logger.Errorf("engine: %s без сообщения", e.Type)
		return false
	}
	chat, ok := r.eventChatLocked(e, e.Message.ChatID)
	if !ok {
		return false
	}
	msg := e.Message.Clone()
	msg.ChatID = chat.ID
	msg.Status = model.StatusConfirmed
	msg.LocalKey = ""
	if err := msg.DecodeEvent(); err != nil {
		logger.Errorf("engine: сообщение %d: %v", msg.ID, err)
	}
	lg := r.logLocked(chat.ID)

	if old, ok := lg.byID[msg.ID]; ok {
		reconcile(old, msg)
		lg.byID[msg.ID] = msg
		return false
	}
	if p := lg.matchPending(msg); p != nil {
		// Эхо нашей же отправки пришло раньше ответа на POST.
		delete(lg.pending, p.LocalKey)
		msg.LocalKey = p.LocalKey
		lg.byID[msg.ID] = msg
		r.bumpLastLocked(chat, msg)
		return false
	}

	lg.byID[msg.ID] = msg
	r.bumpLastLocked(chat, msg)

	self := r.selfID()
	if msg.AuthorID == self || !chat.IsMember(self) {
		return false
	}
	if r.watchingLocked(chat.ID) {
		if vp := r.viewports[chat.ID]; vp.AutoScroll {
			vp.ackDue = true
		}
		return false
	}
	chat.UnreadCount++
	if !msg.IsEvent() && msg.Mentions(r.session.User) {
		chat.MentionCount++
	}
	return r.shouldNotifyLocked(msg)
}

// reconcile folds the stored confirmed copy old into the incoming copy in.
// Deletion is sticky and the later edit wins, so the result is the same
// whichever of a page fetch and a push arrives first.
func reconcile(old, in *model.Message) {
	in.LocalKey = old.LocalKey
	if in.DeletedBy == 0 {
		in.DeletedBy = old.DeletedBy
	}
	in.DeletedForever = in.DeletedForever || old.DeletedForever
	if old.EditedAt != nil && (in.EditedAt == nil || in.EditedAt.Before(*old.EditedAt)) {
		in.Content = old.Content
		in.EditedAt = old.EditedAt
		in.Censored = old.Censored
		in.MentionIDs = old.MentionIDs
		in.Event = old.Event
	}
}

// matchPending finds the oldest own unconfirmed send with the same text.
func (lg *chatLog) matchPending(msg *model.Message) *model.Message {
	var best *model.Message
	for _, p := range lg.pending {
		if p.AuthorID != msg.AuthorID || p.Content != msg.Content {
			continue
		}
		if best == nil || p.Less(best) {
			best = p
		}
	}
	return best
}

func (r *Registry) onMessageEdited(e model.Event) bool {
	if e.Message == nil {
		return false
	}
	chat, ok := r.eventChatLocked(e, e.Message.ChatID)
	if !ok {
		return false
	}
	lg := r.logLocked(chat.ID)
	old, ok := lg.byID[e.Message.ID]
	if !ok {
		logger.Debugf("engine: правка неизвестного сообщения %d в чате %d", e.Message.ID, chat.ID)
		return false
	}
	upd := e.Message.Clone()
	if old.EditedAt != nil && upd.EditedAt != nil && upd.EditedAt.Before(*old.EditedAt) {
		return false
	}
	old.Content = upd.Content
	old.EditedAt = upd.EditedAt
	old.Censored = upd.Censored
	old.MentionIDs = upd.MentionIDs
	old.Event = nil
	if err := old.DecodeEvent(); err != nil {
		logger.Errorf("engine: сообщение %d: %v", old.ID, err)
	}
	return false
}

func (r *Registry) onMessageDeleted(e model.Event) bool {
	if e.Message == nil {
		return false
	}
	chat, ok := r.eventChatLocked(e, e.Message.ChatID)
	if !ok {
		return false
	}
	lg := r.logLocked(chat.ID)
	old, ok := lg.byID[e.Message.ID]
	if !ok {
		logger.Debugf("engine: удаление неизвестного сообщения %d в чате %d", e.Message.ID, chat.ID)
		return false
	}
	if e.Message.DeletedBy != 0 {
		old.DeletedBy = e.Message.DeletedBy
	}
	old.DeletedForever = old.DeletedForever || e.Message.DeletedForever
	return false
}

func (r *Registry) onMembershipChanged(e model.Event) bool {
	if e.Membership == nil {
		return false
	}
	chat, ok := r.eventChatLocked(e, e.Membership.ChatID)
	if !ok {
		return false
	}
	m := *e.Membership
	chat.SetPivot(m)
	if m.UserID != r.selfID() {
		return false
	}
	vp := r.viewportLocked(chat.ID)
	if m.IsRemoved() {
		vp.Suppressed = true
		return false
	}
	if vp.Suppressed {
		vp.Suppressed = false
		vp.MessagesFetched = false
	}
	return false
}

func (r *Registry) onChatAttributesChanged(e model.Event) bool {
	if e.Attributes == nil {
		return false
	}
	chat, ok := r.eventChatLocked(e, e.ChatID)
	if !ok {
		return false
	}
	chat.ApplyAttributes(*e.Attributes)
	return false
}
