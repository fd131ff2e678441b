package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/chatsync/internal/api"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/permission"
)

// Search is the filter of one chat-list session. Zero value lists everything visible.
type Search struct {
	Query    string         `json:"q"`
	Category model.Category `json:"category"`
}

// LoadChats (re)loads the chat collection and the users it references.
func (r *Registry) LoadChats(ctx context.Context) error {
	list, err := r.api.ListChats(ctx)
	if err != nil {
		return fmt.Errorf("load chats: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertUsersLocked(list.Users)
	for i := range list.Chats {
		r.upsertChatLocked(&list.Chats[i])
	}
	logger.Infof("engine: загружено чатов: %d, пользователей: %d", len(list.Chats), len(list.Users))
	return nil
}

func (r *Registry) upsertUsersLocked(users []model.User) {
	for _, u := range users {
		if u.ID == 0 {
			continue
		}
		r.users[u.ID] = u
	}
}

// upsertChatLocked replaces the mirrored chat with the server copy and keeps
// the session viewport suppression in line with the session membership.
func (r *Registry) upsertChatLocked(c *model.Chat) *model.Chat {
	cp := c.Clone()
	if cp.Pivots == nil {
		cp.Pivots = make(map[int64]model.Membership)
	}
	for id, m := range cp.Pivots {
		m.ChatID = cp.ID
		m.UserID = id
		cp.Pivots[id] = m
	}
	if cp.UnreadCount < 0 {
		cp.UnreadCount = 0
	}
	if cp.MentionCount < 0 {
		cp.MentionCount = 0
	}
	r.chats[cp.ID] = cp
	if vp, ok := r.viewports[cp.ID]; ok {
		vp.Suppressed = r.selfRemovedLocked(cp)
	}
	return cp
}

// Chat returns a copy of the mirrored chat.
func (r *Registry) Chat(id int64) (*model.Chat, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

func (r *Registry) CurrentChat() (*model.Chat, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[r.current]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// SetCurrentChat switches the active chat without fetching. Zero clears it.
func (r *Registry) SetCurrentChat(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id != 0 {
		if _, ok := r.chats[id]; !ok {
			return ErrUnknownChat
		}
		r.viewportLocked(id)
	}
	r.current = id
	return nil
}

// ViewportOf returns a snapshot of the chat's viewport, creating it on first use.
func (r *Registry) ViewportOf(chatID int64) (Viewport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chats[chatID]; !ok {
		return Viewport{}, ErrUnknownChat
	}
	return r.viewportLocked(chatID).snapshot(), nil
}

// Evict drops the in-memory messages and viewport of a chat. The chat itself stays listed.
func (r *Registry) Evict(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.logs, chatID)
	delete(r.viewports, chatID)
	if t, ok := r.draftTimers[chatID]; ok {
		t.Stop()
		delete(r.draftTimers, chatID)
	}
	if r.current == chatID {
		r.current = 0
	}
}

func (r *Registry) User(id int64) (model.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	return u, ok
}

// PeerUser is the other side of a direct chat.
func (r *Registry) PeerUser(chatID int64) (model.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chats[chatID]
	if !ok {
		return model.User{}, false
	}
	u, ok := r.users[c.PeerUserID(r.selfID())]
	return u, ok
}

// SetAdminView toggles the moderation listing. Administrators only.
func (r *Registry) SetAdminView(on bool) error {
	if on && !r.session.IsAdmin() {
		return ErrNotAllowed
	}
	r.mu.Lock()
	r.adminView = on
	r.mu.Unlock()
	return nil
}

func (r *Registry) AdminView() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.adminView
}

// visibleLocked: active member or public chat.
func (r *Registry) visibleLocked(c *model.Chat) bool {
	return c.IsMember(r.selfID()) || c.IsPublic()
}

// ListChats returns the chats matching s, most recent activity first.
// A text query bypasses the membership gate so left chats can be found again.
func (r *Registry) ListChats(s Search) []*model.Chat {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := strings.ToLower(strings.TrimSpace(s.Query))
	out := make([]*model.Chat, 0, len(r.chats))
	for _, c := range r.chats {
		if query == "" && !r.adminView && !r.visibleLocked(c) {
			continue
		}
		if s.Category != "" && s.Category != model.CategoryAll && c.Category() != s.Category {
			continue
		}
		if query != "" && !r.matchesLocked(c, query) {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].LastActivity(), out[j].LastActivity()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) matchesLocked(c *model.Chat, query string) bool {
	if strings.Contains(strings.ToLower(c.Title), query) {
		return true
	}
	for _, id := range c.UserIDs {
		if id == r.selfID() {
			continue
		}
		u, ok := r.users[id]
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(u.Name()), query) ||
			strings.Contains(strings.ToLower(u.Username), query) {
			return true
		}
	}
	return false
}

// TotalUnread sums unread counters over the chats the list shows without a
// query: active memberships and public channels, or everything in admin view.
func (r *Registry) TotalUnread() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, c := range r.chats {
		if r.adminView || r.visibleLocked(c) {
			total += c.UnreadCount
		}
	}
	return total
}

// Messages returns the visible messages of a chat in display order, including
// unconfirmed sends.
func (r *Registry) Messages(chatID int64) ([]*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[chatID]
	if !ok {
		return nil, ErrUnknownChat
	}
	lg, ok := r.logs[chatID]
	if !ok {
		return nil, nil
	}
	canSeeDeleted := permission.CanSeeDeleted(r.session, chat)
	out := make([]*model.Message, 0, len(lg.byID)+len(lg.pending))
	for _, m := range lg.byID {
		if m.VisibleTo(r.selfID(), canSeeDeleted) {
			out = append(out, m.Clone())
		}
	}
	for _, m := range lg.pending {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}

// Member is one row of the moderation list.
type Member struct {
	User        model.User                `json:"user"`
	Membership  model.Membership          `json:"membership"`
	IsModerator bool                      `json:"is_moderator"`
	IsCreator   bool                      `json:"is_creator"`
	Gate        permission.ModerationGate `json:"gate"`
}

// Members lists active members with the session's moderation buttons for each row.
func (r *Registry) Members(chatID int64) ([]Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[chatID]
	if !ok {
		return nil, ErrUnknownChat
	}
	self := r.selfID()
	out := make([]Member, 0, len(chat.UserIDs))
	for _, id := range chat.ActiveUserIDs() {
		u, ok := r.users[id]
		if !ok {
			u = model.User{ID: id}
		}
		m, _ := chat.Pivot(id)
		out = append(out, Member{
			User:        u,
			Membership:  m,
			IsModerator: permission.IsModerator(chat, self, m, u.IsAdmin),
			IsCreator:   permission.IsCreator(chat, id, u.IsAdmin),
			Gate:        permission.Gate(chat, self, r.session.IsAdmin(), id, u.IsAdmin),
		})
	}
	return out, nil
}

// CreateChat creates a chat or channel. A direct chat with someone the session
// already shares an active direct chat with resolves to that chat without a
// request; existed reports that case, and a server conflict is treated the same.
func (r *Registry) CreateChat(ctx context.Context, req api.CreateChatRequest) (chat *model.Chat, existed bool, err error) {
	if !permission.CanCreate(r.session, req.Type) {
		return nil, false, ErrNotAllowed
	}
	self := r.selfID()
	req.UserIDs = slices.DeleteFunc(slices.Clone(req.UserIDs), func(id int64) bool { return id == self })
	direct := req.Type == model.ChatTypeDirectOrGroup && len(req.UserIDs) == 1
	if direct {
		if c, ok := r.findDirect(req.UserIDs[0]); ok {
			return c, true, nil
		}
	}

	resp, err := r.api.CreateChat(ctx, req)
	if err != nil {
		if direct && errors.Is(err, api.ErrConflict) {
			logger.Infof("engine: чат с пользователем %d уже существует", req.UserIDs[0])
			if lerr := r.LoadChats(ctx); lerr != nil {
				return nil, true, lerr
			}
			if c, ok := r.findDirect(req.UserIDs[0]); ok {
				return c, true, nil
			}
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("create chat: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertUsersLocked(resp.Users)
	return r.upsertChatLocked(&resp.Chat).Clone(), false, nil
}

func (r *Registry) findDirect(peerID int64) (*model.Chat, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	self := r.selfID()
	for _, c := range r.chats {
		if c.IsDirect() && c.IsMember(self) && c.IsMember(peerID) {
			return c.Clone(), true
		}
	}
	return nil, false
}

// EditChat patches title, icon or color. Moderators and creators only.
func (r *Registry) EditChat(ctx context.Context, chatID int64, attrs model.ChatAttributes) (*model.Chat, error) {
	return r.patchChat(ctx, chatID, func(chat *model.Chat) (api.ChatPatch, error) {
		if permission.EffectiveRole(chat, r.selfID(), r.session.IsAdmin()) < model.RoleModerator {
			return api.ChatPatch{}, ErrNotAllowed
		}
		return api.ChatPatch{Attributes: attrs, Snapshot: chat.ActiveUserIDs()}, nil
	})
}

// AddMembers adds users (or revives their removed memberships).
func (r *Registry) AddMembers(ctx context.Context, chatID int64, userIDs []int64) (*model.Chat, error) {
	return r.patchChat(ctx, chatID, func(chat *model.Chat) (api.ChatPatch, error) {
		if permission.EffectiveRole(chat, r.selfID(), r.session.IsAdmin()) < model.RoleModerator {
			return api.ChatPatch{}, ErrNotAllowed
		}
		snapshot := chat.ActiveUserIDs()
		added := make([]int64, 0, len(userIDs))
		for _, id := range userIDs {
			if !chat.IsMember(id) {
				added = append(added, id)
				snapshot = append(snapshot, id)
			}
		}
		return api.ChatPatch{Added: added, Snapshot: snapshot}, nil
	})
}

// RemoveMember kicks userID out of the chat.
func (r *Registry) RemoveMember(ctx context.Context, chatID, userID int64) (*model.Chat, error) {
	return r.patchChat(ctx, chatID, func(chat *model.Chat) (api.ChatPatch, error) {
		if !permission.Gate(chat, r.selfID(), r.session.IsAdmin(), userID, r.users[userID].IsAdmin).CanKick {
			return api.ChatPatch{}, ErrNotAllowed
		}
		return removal(chat, userID), nil
	})
}

// Leave removes the session user. Leaving is always allowed for members.
func (r *Registry) Leave(ctx context.Context, chatID int64) (*model.Chat, error) {
	return r.patchChat(ctx, chatID, func(chat *model.Chat) (api.ChatPatch, error) {
		if !chat.IsMember(r.selfID()) {
			return api.ChatPatch{}, ErrNotAllowed
		}
		return removal(chat, r.selfID()), nil
	})
}

// Rejoin adds the session user back: public chats, chats left voluntarily, or any chat for admins.
func (r *Registry) Rejoin(ctx context.Context, chatID int64) (*model.Chat, error) {
	return r.patchChat(ctx, chatID, func(chat *model.Chat) (api.ChatPatch, error) {
		if !chat.CanJoin(r.selfID(), r.session.IsAdmin()) {
			return api.ChatPatch{}, ErrCannotJoin
		}
		self := r.selfID()
		return api.ChatPatch{Added: []int64{self}, Snapshot: append(chat.ActiveUserIDs(), self)}, nil
	})
}

// SetRole promotes or demotes a member.
func (r *Registry) SetRole(ctx context.Context, chatID, userID int64, role model.Role) (*model.Chat, error) {
	return r.patchChat(ctx, chatID, func(chat *model.Chat) (api.ChatPatch, error) {
		target, ok := chat.Pivot(userID)
		if !ok || !target.IsActive() {
			return api.ChatPatch{}, ErrNotAllowed
		}
		gate := permission.Gate(chat, r.selfID(), r.session.IsAdmin(), userID, r.users[userID].IsAdmin)
		switch {
		case role == target.Role:
			return api.ChatPatch{}, ErrNotAllowed
		case role > target.Role && (!gate.CanPromote || role >= model.RoleCreator):
			return api.ChatPatch{}, ErrNotAllowed
		case role < target.Role && !gate.CanDemote:
			return api.ChatPatch{}, ErrNotAllowed
		}
		return api.ChatPatch{
			Edited:   []api.RoleEdit{{UserID: userID, Role: role}},
			Snapshot: chat.ActiveUserIDs(),
		}, nil
	})
}

func removal(chat *model.Chat, userID int64) api.ChatPatch {
	snapshot := slices.DeleteFunc(chat.ActiveUserIDs(), func(id int64) bool { return id == userID })
	return api.ChatPatch{Removed: []int64{userID}, Snapshot: snapshot}
}

// patchChat builds the patch against the current mirror, sends it without
// holding the lock and applies the server copy.
func (r *Registry) patchChat(ctx context.Context, chatID int64, build func(*model.Chat) (api.ChatPatch, error)) (*model.Chat, error) {
	r.mu.Lock()
	chat, ok := r.chats[chatID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrUnknownChat
	}
	patch, err := build(chat)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	resp, err := r.api.UpdateChat(ctx, chatID, patch)
	if err != nil {
		return nil, fmt.Errorf("update chat %d: %w", chatID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertUsersLocked(resp.Users)
	updated := r.upsertChatLocked(&resp.Chat)
	if vp, ok := r.viewports[chatID]; ok && slices.Contains(patch.Added, r.selfID()) && updated.IsMember(r.selfID()) {
		// Вернулись в чат: историю перечитываем при следующем открытии.
		vp.MessagesFetched = false
	}
	return updated.Clone(), nil
}
