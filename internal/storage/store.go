package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// DraftStore — локальный кеш черновиков: одна запись на чат, ключ — id чата.
// Реализации: redis.Client, memory.Client (по умолчанию, без внешних зависимостей).
type DraftStore interface {
	GetDraft(ctx context.Context, chatID int64) (string, error)
	SetDraft(ctx context.Context, chatID int64, draft string) error
	DeleteDraft(ctx context.Context, chatID int64) error
	Close() error
}

// Draft is the stored record.
type Draft struct {
	Draft string `json:"draft"`
}

// DraftKey is the key a draft is stored under.
func DraftKey(chatID int64) string {
	return "chat_draft:" + strconv.FormatInt(chatID, 10)
}

// EncodeDraft serializes a draft record.
func EncodeDraft(draft string) ([]byte, error) {
	return json.Marshal(Draft{Draft: draft})
}

// DecodeDraft parses a draft record. Malformed records read as empty.
func DecodeDraft(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var d Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return ""
	}
	return d.Draft
}

// ErrBackend is returned by New for an unknown backend name.
type ErrBackend string

func (e ErrBackend) Error() string { return fmt.Sprintf("unknown draft backend %q", string(e)) }
