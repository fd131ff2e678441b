package api

import (
	"strconv"
	"time"

	"github.com/chatsync/internal/model"
)

// MessageQuery selects a window of messages. At most one of Before/After is set;
// neither means "newest".
type MessageQuery struct {
	ChatID int64
	Before *time.Time
	After  *time.Time
	Limit  int
}

// ChatList is the response of GET chats.
type ChatList struct {
	Chats []model.Chat `json:"data"`
	Users []model.User `json:"users"`
}

// ChatResponse is the response of POST chats and PATCH chats/<id>.
type ChatResponse struct {
	Chat  model.Chat   `json:"data"`
	Users []model.User `json:"users"`
}

// CreateChatRequest is the body of POST chats.
type CreateChatRequest struct {
	Type    model.ChatType
	Title   string
	Icon    string
	Color   string
	UserIDs []int64
}

// RoleEdit is one entry of the "edited" membership delta.
type RoleEdit struct {
	UserID int64      `json:"id,string"`
	Role   model.Role `json:"role"`
}

// ChatPatch is the body of PATCH chats/<id>: attributes plus a membership delta
// and the authoritative snapshot of member ids after the change.
type ChatPatch struct {
	Attributes model.ChatAttributes
	Added      []int64
	Removed    []int64
	Edited     []RoleEdit
	Snapshot   []int64
}

type resourceRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type toOne struct {
	Data resourceRef `json:"data"`
}

type toMany struct {
	Data []resourceRef `json:"data"`
}

func ref(typ string, id int64) resourceRef {
	return resourceRef{Type: typ, ID: strconv.FormatInt(id, 10)}
}

func refs(typ string, ids []int64) []resourceRef {
	out := make([]resourceRef, 0, len(ids))
	for _, id := range ids {
		out = append(out, ref(typ, id))
	}
	return out
}

type messageBody struct {
	Data struct {
		Attributes struct {
			Message string `json:"message"`
		} `json:"attributes"`
		Relationships *struct {
			Chat toOne `json:"chat"`
		} `json:"relationships,omitempty"`
	} `json:"data"`
}

type chatCreateBody struct {
	Data struct {
		Attributes struct {
			Type  model.ChatType `json:"type"`
			Title string         `json:"title"`
			Icon  string         `json:"icon"`
			Color string         `json:"color"`
		} `json:"attributes"`
		Relationships *struct {
			Users toMany `json:"users"`
		} `json:"relationships,omitempty"`
	} `json:"data"`
}

type membershipDelta struct {
	Added   []string   `json:"added"`
	Removed []string   `json:"removed"`
	Edited  []RoleEdit `json:"edited"`
}

type chatPatchBody struct {
	Data struct {
		Attributes struct {
			model.ChatAttributes
			Users *membershipDelta `json:"users,omitempty"`
		} `json:"attributes"`
		Relationships *struct {
			Users toMany `json:"users"`
		} `json:"relationships,omitempty"`
	} `json:"data"`
}

type messageEnvelope struct {
	Data model.Message `json:"data"`
}

type messageListEnvelope struct {
	Data []model.Message `json:"data"`
}

type errorEnvelope struct {
	Error string `json:"error"`
}

func idStrings(ids []int64) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strconv.FormatInt(id, 10))
	}
	return out
}
