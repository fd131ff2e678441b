// Package engine держит локальное зеркало чатов, участников и сообщений и
// сверяет его с REST-выборками и realtime-событиями. Все изменения идут через
// Registry; сетевые вызовы никогда не выполняются под его мьютексом.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/chatsync/internal/api"
	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
	"github.com/chatsync/internal/storage/memory"
	"github.com/chatsync/internal/storage/prefs"
)

var (
	ErrMessageTooLong = errors.New("message too long")
	ErrFloodControl   = errors.New("flood control: too many messages")
	ErrEmptyMessage   = errors.New("empty message")
	ErrNotAllowed     = errors.New("not allowed")
	ErrUnknownChat    = errors.New("unknown chat")
	ErrUnknownMessage = errors.New("unknown message")
	ErrCannotJoin     = errors.New("cannot join chat")
	ErrFetchBusy      = errors.New("another fetch of this chat is in flight")
)

// Transport is the REST surface consumed by the engine. *api.Client implements it.
type Transport interface {
	ListChats(ctx context.Context) (*api.ChatList, error)
	FetchMessages(ctx context.Context, q api.MessageQuery) ([]model.Message, error)
	CreateMessage(ctx context.Context, chatID int64, text string) (*model.Message, error)
	EditMessage(ctx context.Context, id int64, text string) (*model.Message, error)
	DeleteMessage(ctx context.Context, id int64, forever bool) (*model.Message, error)
	MarkRead(ctx context.Context, chatID int64, readAt time.Time) error
	CreateChat(ctx context.Context, req api.CreateChatRequest) (*api.ChatResponse, error)
	UpdateChat(ctx context.Context, chatID int64, p api.ChatPatch) (*api.ChatResponse, error)
}

type Options struct {
	Session   model.Session
	Transport Transport
	// Drafts по умолчанию хранятся в памяти процесса.
	Drafts storage.DraftStore
	// Prefs может быть nil: тогда звук не выключен и уведомления разрешены.
	Prefs *prefs.Store
	Chat  config.ChatConfig
	Now   func() time.Time
}

// chatLog is the message mirror of one chat: confirmed messages by server id,
// unconfirmed sends by local key.
type chatLog struct {
	byID    map[int64]*model.Message
	pending map[string]*model.Message
}

func newChatLog() *chatLog {
	return &chatLog{
		byID:    make(map[int64]*model.Message),
		pending: make(map[string]*model.Message),
	}
}

// Registry is the one owner of the client-side mirror. Create one per session.
type Registry struct {
	mu      sync.Mutex
	session model.Session
	api     Transport
	drafts  storage.DraftStore
	prefs   *prefs.Store
	cfg     config.ChatConfig
	now     func() time.Time

	chats       map[int64]*model.Chat
	users       map[int64]model.User
	logs        map[int64]*chatLog
	viewports   map[int64]*Viewport
	draftTimers map[int64]*time.Timer
	current     int64
	adminView   bool
	flood       floodControl

	fetches singleflight.Group
}

func New(opts Options) *Registry {
	if opts.Drafts == nil {
		opts.Drafts = memory.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Chat.MessageCharLimit <= 0 {
		opts.Chat.MessageCharLimit = 512
	}
	if opts.Chat.FetchLimit <= 0 {
		opts.Chat.FetchLimit = 50
	}
	r := &Registry{
		session:     opts.Session,
		api:         opts.Transport,
		drafts:      opts.Drafts,
		prefs:       opts.Prefs,
		cfg:         opts.Chat,
		now:         opts.Now,
		chats:       make(map[int64]*model.Chat),
		users:       make(map[int64]model.User),
		logs:        make(map[int64]*chatLog),
		viewports:   make(map[int64]*Viewport),
		draftTimers: make(map[int64]*time.Timer),
		flood:       floodControl{max: opts.Chat.FloodMessages, window: opts.Chat.FloodWindow},
	}
	r.users[opts.Session.UserID()] = opts.Session.User
	return r
}

// Session returns the identity the registry was built for.
func (r *Registry) Session() model.Session {
	return r.session
}

// Config returns the read-only chat settings.
func (r *Registry) Config() config.ChatConfig {
	return r.cfg
}

func (r *Registry) selfID() int64 {
	return r.session.UserID()
}

func (r *Registry) logLocked(chatID int64) *chatLog {
	lg, ok := r.logs[chatID]
	if !ok {
		lg = newChatLog()
		r.logs[chatID] = lg
	}
	return lg
}

func (r *Registry) viewportLocked(chatID int64) *Viewport {
	vp, ok := r.viewports[chatID]
	if !ok {
		vp = &Viewport{ChatID: chatID, AutoScroll: true, AtBottom: true}
		if chat, ok := r.chats[chatID]; ok {
			vp.Suppressed = r.selfRemovedLocked(chat)
		}
		r.viewports[chatID] = vp
	}
	return vp
}

// selfRemovedLocked reports a session membership that was soft-removed.
func (r *Registry) selfRemovedLocked(chat *model.Chat) bool {
	m, ok := chat.Pivot(r.selfID())
	return ok && m.IsRemoved()
}

// watchingLocked reports that the user is looking at the live end of the chat.
func (r *Registry) watchingLocked(chatID int64) bool {
	if r.current != chatID {
		return false
	}
	vp, ok := r.viewports[chatID]
	return ok && vp.AtBottom
}
