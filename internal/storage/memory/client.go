package memory

import (
	"context"
	"sync"

	"github.com/chatsync/internal/storage"
)

// Client хранит черновики в памяти процесса; переживает закрытие чата, но не перезапуск.
type Client struct {
	mu     sync.RWMutex
	drafts map[string][]byte
}

var _ storage.DraftStore = (*Client)(nil)

func New() *Client {
	return &Client{drafts: make(map[string][]byte)}
}

func (c *Client) Close() error { return nil }

func (c *Client) GetDraft(ctx context.Context, chatID int64) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return storage.DecodeDraft(c.drafts[storage.DraftKey(chatID)]), nil
}

func (c *Client) SetDraft(ctx context.Context, chatID int64, draft string) error {
	if draft == "" {
		return c.DeleteDraft(ctx, chatID)
	}
	raw, err := storage.EncodeDraft(draft)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drafts[storage.DraftKey(chatID)] = raw
	return nil
}

func (c *Client) DeleteDraft(ctx context.Context, chatID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.drafts, storage.DraftKey(chatID))
	return nil
}

// Len returns the number of stored drafts.
func (c *Client) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.drafts)
}
