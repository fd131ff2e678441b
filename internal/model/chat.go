package model

import "time"

type ChatType int

const (
	ChatTypeDirectOrGroup ChatType = 0
	ChatTypeChannel       ChatType = 1
)

// Category is the list filter bucket a chat falls into.
type Category string

const (
	CategoryAll    Category = "all"
	CategoryDirect Category = "direct"
	CategoryGroup  Category = "group"
	CategoryPublic Category = "public"
)

// Chat is a chat room as mirrored on the client. Relations are held as ids;
// users and messages are resolved through the registry.
type Chat struct {
	ID             int64                `json:"id,string"`
	Type           ChatType             `json:"type"`
	Title          string               `json:"title"`
	Icon           string               `json:"icon"`
	Color          string               `json:"color"`
	CreatorID      int64                `json:"creator_id,string,omitempty"`
	UserIDs        []int64              `json:"user_ids"`
	Pivots         map[int64]Membership `json:"pivots"`
	FirstMessageID int64                `json:"first_message_id,string,omitempty"`
	LastMessageID  int64                `json:"last_message_id,string,omitempty"`
	LastMessageAt  *time.Time           `json:"last_message_at,omitempty"`
	UnreadCount    int                  `json:"unread_count"`
	MentionCount   int                  `json:"mention_count"`
	CreatedAt      time.Time            `json:"created_at"`
}

// ChatAttributes is the patchable subset of chat fields.
type ChatAttributes struct {
	Title *string `json:"title,omitempty"`
	Icon  *string `json:"icon,omitempty"`
	Color *string `json:"color,omitempty"`
}

// Clone returns a deep copy safe to hand out of the registry.
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	cp := *c
	cp.UserIDs = append([]int64(nil), c.UserIDs...)
	cp.Pivots = make(map[int64]Membership, len(c.Pivots))
	for k, v := range c.Pivots {
		cp.Pivots[k] = v
	}
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		cp.LastMessageAt = &t
	}
	return &cp
}

// Pivot returns the membership of userID, if any.
func (c *Chat) Pivot(userID int64) (Membership, bool) {
	m, ok := c.Pivots[userID]
	return m, ok
}

// SetPivot upserts a membership and keeps UserIDs in sync.
func (c *Chat) SetPivot(m Membership) {
	if c.Pivots == nil {
		c.Pivots = make(map[int64]Membership)
	}
	m.ChatID = c.ID
	c.Pivots[m.UserID] = m
	for _, id := range c.UserIDs {
		if id == m.UserID {
			return
		}
	}
	c.UserIDs = append(c.UserIDs, m.UserID)
}

// ActiveUserIDs lists users whose membership is active, in UserIDs order.
func (c *Chat) ActiveUserIDs() []int64 {
	out := make([]int64, 0, len(c.UserIDs))
	for _, id := range c.UserIDs {
		if m, ok := c.Pivots[id]; ok && !m.IsActive() {
			continue
		}
		out = append(out, id)
	}
	return out
}

// IsMember reports whether selfID is an active member.
func (c *Chat) IsMember(selfID int64) bool {
	m, ok := c.Pivots[selfID]
	return ok && m.IsActive()
}

// IsPublic reports whether non-members can see the chat.
func (c *Chat) IsPublic() bool {
	return c.Type == ChatTypeChannel
}

// IsDirect reports a two-person direct chat.
func (c *Chat) IsDirect() bool {
	return c.Type == ChatTypeDirectOrGroup && len(c.UserIDs) == 2
}

// Category buckets the chat for list filtering.
func (c *Chat) Category() Category {
	switch {
	case c.IsPublic():
		return CategoryPublic
	case c.IsDirect():
		return CategoryDirect
	default:
		return CategoryGroup
	}
}

// CanJoin decides whether selfID may (re)join the chat on its own.
// A user kicked by someone else can never come back to a non-public chat.
func (c *Chat) CanJoin(selfID int64, isAdmin bool) bool {
	if c.IsMember(selfID) {
		return false
	}
	if isAdmin {
		return true
	}
	m, ok := c.Pivots[selfID]
	if ok && m.WasKicked() && !c.IsPublic() {
		return false
	}
	if c.IsPublic() {
		return true
	}
	return ok && m.LeftVoluntarily()
}

// PeerUserID returns the first user that is not selfID, falling back to the
// first user for degenerate one-member chats. Zero when the chat has no users.
func (c *Chat) PeerUserID(selfID int64) int64 {
	for _, id := range c.UserIDs {
		if id != selfID {
			return id
		}
	}
	if len(c.UserIDs) > 0 {
		return c.UserIDs[0]
	}
	return 0
}

// LastActivity is the ordering key of the chat list.
func (c *Chat) LastActivity() time.Time {
	if c.LastMessageAt != nil && c.LastMessageAt.After(c.CreatedAt) {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// ApplyAttributes patches the non-nil attributes.
func (c *Chat) ApplyAttributes(a ChatAttributes) {
	if a.Title != nil {
		c.Title = *a.Title
	}
	if a.Icon != nil {
		c.Icon = *a.Icon
	}
	if a.Color != nil {
		c.Color = *a.Color
	}
}
