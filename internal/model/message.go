package model

import (
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/valyala/fastjson"
)

// MessageType: 0 is user text, anything else is a structured system event.
type MessageType int

const (
	MessageTypeText  MessageType = 0
	MessageTypeEvent MessageType = 1
)

// MessageStatus is the client-side delivery state of a message.
type MessageStatus string

const (
	StatusConfirmed MessageStatus = "confirmed"
	StatusPreview   MessageStatus = "preview"
	StatusPending   MessageStatus = "pending"
	StatusFailed    MessageStatus = "failed"
)

type Message struct {
	ID             int64         `json:"id,string"`
	ChatID         int64         `json:"chat_id,string"`
	AuthorID       int64         `json:"author_id,string,omitempty"`
	Type           MessageType   `json:"type"`
	Content        string        `json:"message"`
	Event          *EventPayload `json:"-"`
	MentionIDs     []int64       `json:"mentions,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	EditedAt       *time.Time    `json:"edited_at,omitempty"`
	DeletedBy      int64         `json:"deleted_by,string,omitempty"`
	DeletedForever bool          `json:"is_deleted_forever"`
	Censored       bool          `json:"is_censored"`

	// Client-only.
	LocalKey string        `json:"local_key,omitempty"`
	Status   MessageStatus `json:"status,omitempty"`
}

// IsEvent reports a system event message.
func (m *Message) IsEvent() bool { return m.Type != MessageTypeText }

// IsDeleted reports soft or hard deletion.
func (m *Message) IsDeleted() bool { return m.DeletedBy != 0 || m.DeletedForever }

// IsLocal reports a message the server has not assigned an id to yet.
func (m *Message) IsLocal() bool { return m.ID == 0 }

// Less orders messages by creation time, then id, then local key.
func (m *Message) Less(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	if m.ID != o.ID {
		// Unconfirmed entries sort after confirmed ones created at the same instant.
		if m.ID == 0 || o.ID == 0 {
			return o.ID == 0
		}
		return m.ID < o.ID
	}
	return m.LocalKey < o.LocalKey
}

// VisibleTo applies the deletion visibility rule: hard-deleted messages are
// gone, soft-deleted ones stay visible to moderators and to the author.
func (m *Message) VisibleTo(viewerID int64, canSeeDeleted bool) bool {
	if m.DeletedForever {
		return false
	}
	if m.DeletedBy == 0 {
		return true
	}
	return canSeeDeleted || m.AuthorID == viewerID
}

// Mentions reports whether u is referenced by the message.
func (m *Message) Mentions(u User) bool {
	if u.ID != 0 && slices.Contains(m.MentionIDs, u.ID) {
		return true
	}
	if u.Username == "" || m.IsEvent() {
		return false
	}
	re, err := regexp.Compile(`(^|[^\w@])@` + regexp.QuoteMeta(u.Username) + `\b`)
	if err != nil {
		return false
	}
	return re.MatchString(m.Content)
}

// Clone returns a copy that does not share mutable state.
func (m *Message) Clone() *Message {
	cp := *m
	cp.MentionIDs = append([]int64(nil), m.MentionIDs...)
	if m.EditedAt != nil {
		t := *m.EditedAt
		cp.EditedAt = &t
	}
	if m.Event != nil {
		ev := *m.Event
		ev.Added = append([]int64(nil), m.Event.Added...)
		ev.Removed = append([]int64(nil), m.Event.Removed...)
		cp.Event = &ev
	}
	return &cp
}

// EventKind names the structured payload of a system message.
type EventKind string

const (
	EventChatCreated  EventKind = "chat_created"
	EventChatEdited   EventKind = "chat_edited"
	EventUsersAdded   EventKind = "users_added"
	EventUsersRemoved EventKind = "users_removed"
)

// EventPayload is the decoded content of a non-text message.
type EventPayload struct {
	Kind    EventKind `json:"id"`
	Column  string    `json:"column,omitempty"`
	Old     string    `json:"old,omitempty"`
	New     string    `json:"new,omitempty"`
	Added   []int64   `json:"add,omitempty"`
	Removed []int64   `json:"remove,omitempty"`
}

var payloadParsers fastjson.ParserPool

// ParseEventPayload decodes the serialized event payload of a system message.
func ParseEventPayload(content string) (*EventPayload, error) {
	p := payloadParsers.Get()
	defer payloadParsers.Put(p)

	v, err := p.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse event payload: %w", err)
	}
	kind := string(v.GetStringBytes("id"))
	if kind == "" {
		return nil, fmt.Errorf("parse event payload: missing id")
	}
	ev := &EventPayload{
		Kind:   EventKind(kind),
		Column: string(v.GetStringBytes("column")),
		Old:    string(v.GetStringBytes("old")),
		New:    string(v.GetStringBytes("new")),
	}
	ev.Added = idList(v.GetArray("add"))
	ev.Removed = idList(v.GetArray("remove"))
	return ev, nil
}

// idList accepts ids encoded either as numbers or as numeric strings.
func idList(vals []*fastjson.Value) []int64 {
	if len(vals) == 0 {
		return nil
	}
	out := make([]int64, 0, len(vals))
	for _, v := range vals {
		switch v.Type() {
		case fastjson.TypeNumber:
			if n, err := v.Int64(); err == nil {
				out = append(out, n)
			}
		case fastjson.TypeString:
			var n int64
			if _, err := fmt.Sscan(string(v.GetStringBytes()), &n); err == nil {
				out = append(out, n)
			}
		}
	}
	return out
}

// DecodeEvent fills m.Event for system messages; text messages are left alone.
func (m *Message) DecodeEvent() error {
	if !m.IsEvent() || m.Event != nil {
		return nil
	}
	ev, err := ParseEventPayload(m.Content)
	if err != nil {
		return err
	}
	m.Event = ev
	return nil
}
