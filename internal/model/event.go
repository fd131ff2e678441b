package model

import "fmt"

// EventType is the closed set of realtime variants pushed by the server.
type EventType int

const (
	EventMessageCreated EventType = iota
	EventMessageEdited
	EventMessageDeleted
	EventMembershipChanged
	EventChatAttributesChanged

	// EventTypeCount is the number of variants; keep it last.
	EventTypeCount
)

var eventTypeNames = [EventTypeCount]string{
	EventMessageCreated:        "message.created",
	EventMessageEdited:         "message.edited",
	EventMessageDeleted:        "message.deleted",
	EventMembershipChanged:     "membership.changed",
	EventChatAttributesChanged: "chat.attributes_changed",
}

func (t EventType) String() string {
	if t >= 0 && t < EventTypeCount {
		return eventTypeNames[t]
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// ParseEventType maps the wire kind to its variant.
func ParseEventType(s string) (EventType, bool) {
	for i, name := range eventTypeNames {
		if name == s {
			return EventType(i), true
		}
	}
	return 0, false
}

// Event is one realtime push, already decoded.
type Event struct {
	Type       EventType
	ChatID     int64
	Message    *Message
	Membership *Membership
	Attributes *ChatAttributes
}
