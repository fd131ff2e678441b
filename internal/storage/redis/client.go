package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatsync/internal/storage"
)

// DraftTTL — черновик, не тронутый 30 дней, удаляется сам.
const DraftTTL = 30 * 24 * time.Hour

type Client struct {
	cli *redis.Client
}

var _ storage.DraftStore = (*Client)(nil)

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// GetDraft читает chat_draft:{id}. Нет ключа — пустая строка без ошибки.
func (c *Client) GetDraft(ctx context.Context, chatID int64) (string, error) {
	raw, err := c.cli.Get(ctx, storage.DraftKey(chatID)).Bytes()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get draft: %w", err)
	}
	return storage.DecodeDraft(raw), nil
}

// SetDraft сохраняет черновик с TTL; пустой черновик удаляет ключ.
func (c *Client) SetDraft(ctx context.Context, chatID int64, draft string) error {
	if draft == "" {
		return c.DeleteDraft(ctx, chatID)
	}
	raw, err := storage.EncodeDraft(draft)
	if err != nil {
		return err
	}
	if err := c.cli.Set(ctx, storage.DraftKey(chatID), raw, DraftTTL).Err(); err != nil {
		return fmt.Errorf("redis set draft: %w", err)
	}
	return nil
}

func (c *Client) DeleteDraft(ctx context.Context, chatID int64) error {
	if err := c.cli.Del(ctx, storage.DraftKey(chatID)).Err(); err != nil {
		return fmt.Errorf("redis del draft: %w", err)
	}
	return nil
}

// FlushDB очищает текущую БД Redis (для тестов).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
