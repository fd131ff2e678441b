package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

const (
	writeWait             = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 1 << 16
)

// Sink receives decoded events in delivery order.
type Sink interface {
	ApplyRealtimeEvent(e model.Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e model.Event)

func (f SinkFunc) ApplyRealtimeEvent(e model.Event) { f(e) }

type SubscriberOptions struct {
	URL            string
	Token          string
	PongWait       time.Duration
	MaxMessageSize int64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// OnConnect runs after every successful dial, before frames are read.
	// Used to resync the mirror after a gap.
	OnConnect func(ctx context.Context)
	// OnState is called when the connection goes up or down.
	OnState func(connected bool)
}

// Subscriber keeps one websocket subscription to the realtime stream and
// reconnects with exponential backoff. Frames are applied by a single read loop.
type Subscriber struct {
	opts      SubscriberOptions
	sink      Sink
	dialer    *websocket.Dialer
	connected atomic.Bool
}

func NewSubscriber(opts SubscriberOptions, sink Sink) *Subscriber {
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = time.Minute
	}
	return &Subscriber{
		opts: opts,
		sink: sink,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (s *Subscriber) Connected() bool {
	return s.connected.Load()
}

// Run blocks until ctx is done or the server rejects the credentials.
func (s *Subscriber) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialBackoff
	b.MaxInterval = s.opts.MaxBackoff
	b.MaxElapsedTime = 0

	op := func() error {
		err := s.session(ctx, b)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Errorf("ws: соединение потеряно: %v, повтор через %s", err, wait.Round(time.Millisecond))
	}
	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// session runs one connection until it breaks.
func (s *Subscriber) session(ctx context.Context, b *backoff.ExponentialBackOff) error {
	header := http.Header{}
	if s.opts.Token != "" {
		header.Set("Authorization", "Token "+s.opts.Token)
	}
	conn, resp, err := s.dialer.DialContext(ctx, s.opts.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return backoff.Permanent(fmt.Errorf("ws dial: %s", resp.Status))
		}
		return fmt.Errorf("ws dial: %w", err)
	}
	b.Reset()
	s.setConnected(true)
	defer s.setConnected(false)
	logger.Infof("ws: подключено к %s", s.opts.URL)

	if s.opts.OnConnect != nil {
		s.opts.OnConnect(ctx)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pingPump(sessCtx, conn)
	}()
	err = s.readPump(conn)
	cancel()
	conn.Close()
	wg.Wait()
	return err
}

func (s *Subscriber) setConnected(v bool) {
	if s.connected.Swap(v) != v && s.opts.OnState != nil {
		s.opts.OnState(v)
	}
}

// readPump applies frames until the connection fails.
func (s *Subscriber) readPump(conn *websocket.Conn) error {
	conn.SetReadLimit(s.opts.MaxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(s.opts.PongWait)); err != nil {
		return fmt.Errorf("ws set read deadline: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("ws: сервер закрыл соединение")
			}
			return fmt.Errorf("ws read: %w", err)
		}
		// Любое входящее сообщение тоже продлевает дедлайн.
		if err := conn.SetReadDeadline(time.Now().Add(s.opts.PongWait)); err != nil {
			return fmt.Errorf("ws set read deadline: %w", err)
		}
		ev, err := DecodeFrame(raw)
		if err != nil {
			logger.Errorf("ws: %v", err)
			continue
		}
		s.sink.ApplyRealtimeEvent(ev)
	}
}

// pingPump keeps the connection alive and closes it when ctx is done.
func (s *Subscriber) pingPump(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.opts.PongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(writeWait)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				logger.Debugf("ws close message: %v", err)
			}
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return
			}
		}
	}
}
