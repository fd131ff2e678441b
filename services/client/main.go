package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/chatsync/internal/api"
	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/engine"
	"github.com/chatsync/internal/handler"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/startup"
	"github.com/chatsync/internal/storage/prefs"
	"github.com/chatsync/internal/ws"
)

const (
	startupWait = 60 * time.Second
	maxUIConns  = 16
)

func main() {
	logger.SetPrefix("client")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	defer logger.Sync()
	logger.Infof("starting chat client, api=%s token=%s", cfg.APIBaseURL, middleware.MaskToken(cfg.APIToken))

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	client := api.NewClient(cfg.APIBaseURL, cfg.APIToken, cfg.APITimeout)
	session, err := startup.LoadSessionWithRetry(rootCtx, client, startupWait, "")
	if err != nil {
		logger.Errorf("session: %v", err)
		os.Exit(1)
	}
	logger.Infof("session user %d (%s)", session.UserID(), session.User.Name())

	drafts, err := startup.OpenDraftStore(rootCtx, cfg.Drafts, startupWait, "")
	if err != nil {
		logger.Errorf("drafts: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := drafts.Close(); err != nil {
			logger.Errorf("drafts close: %v", err)
		}
	}()

	store := prefs.Open(cfg.PrefsPath, prefs.Defaults(cfg.Chat.DefaultMinimized))
	reg := engine.New(engine.Options{
		Session:   *session,
		Transport: client,
		Drafts:    drafts,
		Prefs:     store,
		Chat:      cfg.Chat,
	})
	if err := reg.LoadChats(rootCtx); err != nil {
		// Подписка повторит загрузку при подключении.
		logger.Errorf("initial chat load: %v", err)
	}

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(maxUIConns)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(hubCtx)
	}()

	sub := ws.NewSubscriber(ws.SubscriberOptions{
		URL:            cfg.Realtime.URL,
		Token:          cfg.APIToken,
		PongWait:       cfg.Realtime.PongWait,
		MaxMessageSize: cfg.Realtime.MaxMessageSize,
		MaxBackoff:     cfg.Realtime.ReconnectMax,
		OnConnect: func(ctx context.Context) {
			if err := reg.LoadChats(ctx); err != nil {
				logger.Errorf("resync chats: %v", err)
			}
		},
		OnState: func(connected bool) {
			hub.Broadcast(ws.OutgoingMessage{Type: ws.EventConnection, Payload: ws.ConnectionPayload{Connected: connected}})
		},
	}, realtimeSink(reg, hub))
	subCtx, subCancel := context.WithCancel(rootCtx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sub.Run(subCtx); err != nil {
			logger.Errorf("realtime stopped: %v", err)
			hub.Broadcast(ws.OutgoingMessage{Type: ws.EventError, Payload: map[string]string{"error": err.Error()}})
		}
	}()

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(middleware.LocalOnly(cfg.BridgeToken))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: splitOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Bridge-Token"},
		MaxAge:         300,
	}))
	handler.Mount(r, handler.Handlers{
		Chat:    handler.NewChatHandler(reg),
		Message: handler.NewMessageHandler(reg),
		Config:  handler.NewConfigHandler(cfg, sub.Connected),
		Prefs:   handler.NewPrefsHandler(store),
		WS:      handler.NewWSHandler(hub, cfg.CORSAllowedOrigins),
	})

	srv := &http.Server{
		Addr:              cfg.BridgeAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("bridge listening on %s", cfg.BridgeAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("bridge error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("bridge shutdown: %v", err)
	}
	subCancel()
	reg.FlushDrafts(shutdownCtx)
	hubCancel()
	wg.Wait()
	logger.Info("client stopped")
}

// realtimeSink применяет событие к registry и сообщает UI, какой чат перечитать.
func realtimeSink(reg *engine.Registry, hub *ws.Hub) ws.SinkFunc {
	return func(e model.Event) {
		notify := reg.ApplyRealtimeEvent(e)
		p := ws.ChatChangedPayload{
			ChatID:      e.ChatID,
			Event:       e.Type.String(),
			TotalUnread: reg.TotalUnread(),
			Notify:      notify,
		}
		if e.Message != nil {
			p.MessageID = e.Message.ID
		}
		hub.Broadcast(ws.OutgoingMessage{Type: ws.EventChatChanged, Payload: p})
	}
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
