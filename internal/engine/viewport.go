package engine

import (
	"fmt"
	"time"

	"github.com/chatsync/internal/model"
)

// ComposeState is the composer state of one chat.
type ComposeState int

const (
	ComposeIdle ComposeState = iota
	// ComposeDrafting: text is being typed into an edit of an existing message.
	ComposeDrafting
	ComposePreviewing
	ComposeSending
	ComposeReconciled
	ComposeFailed
)

var composeStateNames = [...]string{
	ComposeIdle:       "idle",
	ComposeDrafting:   "drafting",
	ComposePreviewing: "previewing",
	ComposeSending:    "sending",
	ComposeReconciled: "reconciled",
	ComposeFailed:     "failed",
}

func (s ComposeState) String() string {
	if s >= 0 && int(s) < len(composeStateNames) {
		return composeStateNames[s]
	}
	return "unknown"
}

func (s ComposeState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ComposeState) UnmarshalText(b []byte) error {
	for i, name := range composeStateNames {
		if name == string(b) {
			*s = ComposeState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown compose state %q", b)
}

// Viewport is the per-chat UI state. It lives until the chat is evicted.
type Viewport struct {
	ChatID          int64          `json:"chat_id,string"`
	OldestLoadedAt  *time.Time     `json:"oldest_loaded_at,omitempty"`
	NewestLoadedAt  *time.Time     `json:"newest_loaded_at,omitempty"`
	HasMoreBefore   bool           `json:"has_more_before"`
	HasMoreAfter    bool           `json:"has_more_after"`
	Loading         bool           `json:"loading"`
	AutoScroll      bool           `json:"auto_scroll"`
	AtBottom        bool           `json:"at_bottom"`
	MessagesFetched bool           `json:"messages_fetched"`
	Draft           string         `json:"draft"`
	Preview         *model.Message `json:"preview,omitempty"`
	Compose         ComposeState   `json:"compose"`
	// Editing is the id of the message being edited, 0 outside edit mode.
	Editing  int64  `json:"editing,string,omitempty"`
	EditText string `json:"edit_text,omitempty"`
	// Suppressed: the session user was removed, no auto-fetch and no auto-read.
	Suppressed bool `json:"suppressed"`

	draftLoaded  bool
	ackDue       bool
	savedDraft   string
	savedPreview *model.Message
}

func (v *Viewport) snapshot() Viewport {
	cp := *v
	cp.OldestLoadedAt = copyTime(v.OldestLoadedAt)
	cp.NewestLoadedAt = copyTime(v.NewestLoadedAt)
	if v.Preview != nil {
		cp.Preview = v.Preview.Clone()
	}
	cp.savedPreview = nil
	return cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
