package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/storage"
	"github.com/chatsync/internal/storage/memory"
	redisstorage "github.com/chatsync/internal/storage/redis"
)

// ConnectRedisWithRetry подключается к Redis с повторами, пока не истечёт maxWait.
// logPrefix добавляется к сообщениям лога (например "client: ").
func ConnectRedisWithRetry(ctx context.Context, redisURL string, maxWait time.Duration, logPrefix string) (*redisstorage.Client, error) {
	deadline := time.Now().Add(maxWait)
	backoff := 500 * time.Millisecond
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := redisstorage.New(attemptCtx, redisURL)
		cancel()
		if err == nil {
			return client, nil
		}
		if time.Now().Add(backoff).After(deadline) {
			return nil, fmt.Errorf("redis (gave up after %v): %w", maxWait, err)
		}
		logger.Errorf("%sredis connect failed, retry in %v: %v", logPrefix, backoff, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// OpenDraftStore выбирает хранилище черновиков по конфигу. Если Redis недоступен,
// черновики живут в памяти: потеря черновика не повод не запускаться.
func OpenDraftStore(ctx context.Context, cfg config.DraftsConfig, maxWait time.Duration, logPrefix string) (storage.DraftStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return memory.New(), nil
	case "redis":
		client, err := ConnectRedisWithRetry(ctx, cfg.RedisURL, maxWait, logPrefix)
		if err != nil {
			logger.Errorf("%sчерновики в памяти: %v", logPrefix, err)
			return memory.New(), nil
		}
		logger.Infof("%sчерновики в redis", logPrefix)
		return client, nil
	}
	return nil, storage.ErrBackend(cfg.Backend)
}
