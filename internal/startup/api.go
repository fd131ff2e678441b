package startup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatsync/internal/api"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

// SessionSource is the part of the REST client needed at startup.
type SessionSource interface {
	Session(ctx context.Context) (*model.Session, error)
}

// LoadSessionWithRetry запрашивает сессию у форума с повторами; форум может подниматься дольше клиента.
// Ошибка доступа не повторяется.
func LoadSessionWithRetry(ctx context.Context, src SessionSource, maxWait time.Duration, logPrefix string) (*model.Session, error) {
	deadline := time.Now().Add(maxWait)
	backoff := 500 * time.Millisecond
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		s, err := src.Session(attemptCtx)
		cancel()
		if err == nil {
			return s, nil
		}
		if errors.Is(err, api.ErrPermissionDenied) {
			return nil, fmt.Errorf("session: %w", err)
		}
		if time.Now().Add(backoff).After(deadline) {
			return nil, fmt.Errorf("session (gave up after %v): %w", maxWait, err)
		}
		logger.Errorf("%sforum session failed, retry in %v: %v", logPrefix, backoff, err)
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
