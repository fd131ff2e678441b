package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/valyala/fastjson"

	"github.com/chatsync/internal/model"
)

// ErrUnknownKind is returned for frames whose kind is not a known event variant.
var ErrUnknownKind = errors.New("unknown frame kind")

// Frame is the wire shape of one upstream push:
// {kind, chat, message?, membership?, attributes?}.
type Frame struct {
	Kind       string                `json:"kind"`
	Chat       string                `json:"chat"`
	Message    *model.Message        `json:"message,omitempty"`
	Membership *model.Membership     `json:"membership,omitempty"`
	Attributes *model.ChatAttributes `json:"attributes,omitempty"`
}

type frameBody struct {
	Message    *model.Message        `json:"message"`
	Membership *model.Membership     `json:"membership"`
	Attributes *model.ChatAttributes `json:"attributes"`
}

var frameParsers fastjson.ParserPool

// DecodeFrame turns a raw frame into an event. The kind is peeked first so
// unknown variants are rejected without decoding the body.
func DecodeFrame(raw []byte) (model.Event, error) {
	p := frameParsers.Get()
	v, err := p.ParseBytes(raw)
	if err != nil {
		frameParsers.Put(p)
		return model.Event{}, fmt.Errorf("decode frame: %w", err)
	}
	kind := string(v.GetStringBytes("kind"))
	chatID := idValue(v.Get("chat"))
	frameParsers.Put(p)

	typ, ok := model.ParseEventType(kind)
	if !ok {
		return model.Event{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	var body frameBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return model.Event{}, fmt.Errorf("decode %s: %w", kind, err)
	}
	ev := model.Event{
		Type:       typ,
		ChatID:     chatID,
		Message:    body.Message,
		Membership: body.Membership,
		Attributes: body.Attributes,
	}
	switch typ {
	case model.EventMessageCreated, model.EventMessageEdited, model.EventMessageDeleted:
		if ev.Message == nil {
			return model.Event{}, fmt.Errorf("decode %s: missing message", kind)
		}
		if ev.ChatID == 0 {
			ev.ChatID = ev.Message.ChatID
		}
	case model.EventMembershipChanged:
		if ev.Membership == nil {
			return model.Event{}, fmt.Errorf("decode %s: missing membership", kind)
		}
		if ev.ChatID == 0 {
			ev.ChatID = ev.Membership.ChatID
		}
	case model.EventChatAttributesChanged:
		if ev.Attributes == nil {
			return model.Event{}, fmt.Errorf("decode %s: missing attributes", kind)
		}
	}
	return ev, nil
}

// idValue accepts ids sent as numbers or numeric strings.
func idValue(v *fastjson.Value) int64 {
	if v == nil {
		return 0
	}
	switch v.Type() {
	case fastjson.TypeNumber:
		n, _ := v.Int64()
		return n
	case fastjson.TypeString:
		n, _ := strconv.ParseInt(string(v.GetStringBytes()), 10, 64)
		return n
	}
	return 0
}

// EventType names what the local UI is told about.
type EventType string

const (
	EventChatChanged EventType = "chat_changed"
	EventConnection  EventType = "connection"
	EventError       EventType = "error"
)

// OutgoingMessage is what the hub sends to UI connections.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// ChatChangedPayload tells the UI to re-read a chat after an upstream event.
type ChatChangedPayload struct {
	ChatID      int64  `json:"chat_id,string"`
	Event       string `json:"event"`
	MessageID   int64  `json:"message_id,string,omitempty"`
	TotalUnread int    `json:"total_unread"`
	Notify      bool   `json:"notify"`
}

// ConnectionPayload reports the upstream realtime connection state.
type ConnectionPayload struct {
	Connected bool `json:"connected"`
}
