// Package permission derives moderation and composer capabilities from a chat's
// memberships and the session identity. Everything here is recomputed on every
// call; nothing survives a role change.
package permission

import "github.com/chatsync/internal/model"

// IsModerator reports whether target counts as a moderator of chat when viewed
// by the session user. A session user who left or was removed sees nobody as
// moderator.
func IsModerator(chat *model.Chat, sessionUserID int64, target model.Membership, targetIsAdmin bool) bool {
	if self, ok := chat.Pivot(sessionUserID); ok && self.IsRemoved() {
		return false
	}
	if target.Role > model.RoleMember {
		return true
	}
	return chat.CreatorID == 0 && targetIsAdmin
}

// IsCreator reports creator-level rights. A removed creator loses them even
// though authorship is unchanged.
func IsCreator(chat *model.Chat, userID int64, isAdmin bool) bool {
	m, ok := chat.Pivot(userID)
	if ok && m.IsRemoved() {
		return false
	}
	if ok && m.Role == model.RoleCreator {
		return true
	}
	return chat.CreatorID == 0 && isAdmin
}

// EffectiveRole is the rank used for gate comparisons. Creator-equivalent
// administrators rank as creators.
func EffectiveRole(chat *model.Chat, userID int64, isAdmin bool) model.Role {
	if IsCreator(chat, userID, isAdmin) {
		return model.RoleCreator
	}
	m, ok := chat.Pivot(userID)
	if !ok || !m.IsActive() {
		return model.RoleMember
	}
	return m.Role
}

// ModerationGate holds the enabled state of the moderation list buttons for one row.
type ModerationGate struct {
	CanKick    bool `json:"can_kick"`
	CanDemote  bool `json:"can_demote"`
	CanPromote bool `json:"can_promote"`
	CanLeave   bool `json:"can_leave"`
}

// Gate computes the buttons the actor gets on the target's row. Both sides are
// ranked by EffectiveRole, so an administrator counted as creator outranks
// every moderator.
func Gate(chat *model.Chat, actorID int64, actorIsAdmin bool, targetID int64, targetIsAdmin bool) ModerationGate {
	if actorID == targetID {
		return ModerationGate{CanLeave: chat.IsMember(actorID)}
	}
	if !chat.IsMember(actorID) && !actorIsAdmin {
		return ModerationGate{}
	}
	target, ok := chat.Pivot(targetID)
	if !ok || !target.IsActive() {
		return ModerationGate{}
	}
	actorRole := EffectiveRole(chat, actorID, actorIsAdmin)
	targetRole := EffectiveRole(chat, targetID, targetIsAdmin)
	if actorRole == model.RoleMember || targetRole >= actorRole {
		return ModerationGate{}
	}
	return ModerationGate{
		CanKick:    true,
		CanDemote:  targetRole > model.RoleMember,
		CanPromote: targetRole == model.RoleMember,
	}
}

// CanView reports whether the session may open the chat at all.
func CanView(s model.Session, chat *model.Chat) bool {
	if !s.Permissions.View {
		return false
	}
	return chat.IsPublic() || chat.IsMember(s.UserID()) || s.IsAdmin()
}

// CanPost reports whether the composer is enabled for chat.
func CanPost(s model.Session, chat *model.Chat) bool {
	return s.Permissions.Post && chat.IsMember(s.UserID())
}

// CanEdit reports whether msg may be edited by the session user.
func CanEdit(s model.Session, msg *model.Message) bool {
	if !s.Permissions.Edit || msg.IsEvent() || msg.IsDeleted() || msg.IsLocal() {
		return false
	}
	return msg.AuthorID == s.UserID()
}

// CanDelete reports whether msg may be deleted by the session user.
func CanDelete(s model.Session, chat *model.Chat, msg *model.Message) bool {
	if msg.IsLocal() || msg.DeletedForever {
		return false
	}
	if s.Permissions.ModerateDelete {
		return true
	}
	if msg.AuthorID == s.UserID() && s.Permissions.Delete {
		return true
	}
	self, ok := chat.Pivot(s.UserID())
	return ok && self.IsActive() && self.Role > model.RoleMember && s.Permissions.Delete
}

// CanSeeDeleted reports whether soft-deleted messages of others stay visible.
func CanSeeDeleted(s model.Session, chat *model.Chat) bool {
	if s.Permissions.ModerateVision {
		return true
	}
	self, ok := chat.Pivot(s.UserID())
	return ok && self.IsActive() && self.Role > model.RoleMember
}

// CanCreate reports whether the session may create a chat of the given type.
func CanCreate(s model.Session, typ model.ChatType) bool {
	if typ == model.ChatTypeChannel {
		return s.Permissions.CreateChannel
	}
	return s.Permissions.CreateChat
}
