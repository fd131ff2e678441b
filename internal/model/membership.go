package model

import "time"

// Role is a member's rank inside one chat.
type Role int

const (
	RoleMember Role = iota
	RoleModerator
	RoleCreator
)

func (r Role) String() string {
	switch r {
	case RoleMember:
		return "member"
	case RoleModerator:
		return "moderator"
	case RoleCreator:
		return "creator"
	}
	return "unknown"
}

// Membership is the (chat, user) pivot. It is soft-removed on leave/kick and
// revived by a later add; never hard-deleted.
type Membership struct {
	ChatID    int64      `json:"chat_id,string"`
	UserID    int64      `json:"user_id,string"`
	Role      Role       `json:"role"`
	JoinedAt  *time.Time `json:"joined_at,omitempty"`
	ReadAt    *time.Time `json:"readed_at,omitempty"`
	RemovedAt *time.Time `json:"removed_at,omitempty"`
	RemovedBy int64      `json:"removed_by,string,omitempty"`
}

// IsActive reports whether the user is a current member.
func (m Membership) IsActive() bool {
	return m.JoinedAt != nil && m.RemovedAt == nil
}

// IsRemoved reports whether the membership was soft-removed.
func (m Membership) IsRemoved() bool {
	return m.RemovedAt != nil
}

// LeftVoluntarily reports a removal performed by the member themselves.
func (m Membership) LeftVoluntarily() bool {
	return m.RemovedAt != nil && m.RemovedBy == m.UserID
}

// WasKicked reports a removal performed by someone else.
func (m Membership) WasKicked() bool {
	return m.RemovedAt != nil && m.RemovedBy != m.UserID
}
