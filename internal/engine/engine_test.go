package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/api"
	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage/memory"
)

const (
	aliceID int64 = 1
	bobID   int64 = 2
	carolID int64 = 3
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeTransport: каждый метод делегирует в поле-функцию, если оно задано.
type fakeTransport struct {
	mu sync.Mutex

	listChats     func(ctx context.Context) (*api.ChatList, error)
	fetchMessages func(ctx context.Context, q api.MessageQuery) ([]model.Message, error)
	createMessage func(ctx context.Context, chatID int64, text string) (*model.Message, error)
	editMessage   func(ctx context.Context, id int64, text string) (*model.Message, error)
	deleteMessage func(ctx context.Context, id int64, forever bool) (*model.Message, error)
	markRead      func(ctx context.Context, chatID int64, readAt time.Time) error
	createChat    func(ctx context.Context, req api.CreateChatRequest) (*api.ChatResponse, error)
	updateChat    func(ctx context.Context, chatID int64, p api.ChatPatch) (*api.ChatResponse, error)

	queries     []api.MessageQuery
	reads       []time.Time
	creates     []string
	chatCreates int
	patches     []api.ChatPatch
}

func (f *fakeTransport) ListChats(ctx context.Context) (*api.ChatList, error) {
	if f.listChats == nil {
		return &api.ChatList{}, nil
	}
	return f.listChats(ctx)
}

func (f *fakeTransport) FetchMessages(ctx context.Context, q api.MessageQuery) ([]model.Message, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	fn := f.fetchMessages
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, q)
}

func (f *fakeTransport) CreateMessage(ctx context.Context, chatID int64, text string) (*model.Message, error) {
	f.mu.Lock()
	f.creates = append(f.creates, text)
	fn := f.createMessage
	f.mu.Unlock()
	if fn == nil {
		return nil, api.ErrTransient
	}
	return fn(ctx, chatID, text)
}

func (f *fakeTransport) EditMessage(ctx context.Context, id int64, text string) (*model.Message, error) {
	if f.editMessage == nil {
		return nil, api.ErrTransient
	}
	return f.editMessage(ctx, id, text)
}

func (f *fakeTransport) DeleteMessage(ctx context.Context, id int64, forever bool) (*model.Message, error) {
	if f.deleteMessage == nil {
		return nil, nil
	}
	return f.deleteMessage(ctx, id, forever)
}

func (f *fakeTransport) MarkRead(ctx context.Context, chatID int64, readAt time.Time) error {
	f.mu.Lock()
	f.reads = append(f.reads, readAt)
	fn := f.markRead
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, chatID, readAt)
}

func (f *fakeTransport) CreateChat(ctx context.Context, req api.CreateChatRequest) (*api.ChatResponse, error) {
	f.mu.Lock()
	f.chatCreates++
	fn := f.createChat
	f.mu.Unlock()
	if fn == nil {
		return nil, api.ErrTransient
	}
	return fn(ctx, req)
}

func (f *fakeTransport) UpdateChat(ctx context.Context, chatID int64, p api.ChatPatch) (*api.ChatResponse, error) {
	f.mu.Lock()
	f.patches = append(f.patches, p)
	fn := f.updateChat
	f.mu.Unlock()
	if fn == nil {
		return nil, api.ErrTransient
	}
	return fn(ctx, chatID, p)
}

func (f *fakeTransport) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func (f *fakeTransport) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reads)
}

var testUsers = []model.User{
	{ID: aliceID, Username: "alice", DisplayName: "Alice"},
	{ID: bobID, Username: "bob", DisplayName: "Bob"},
	{ID: carolID, Username: "carol", DisplayName: "Carol"},
}

func aliceSession() model.Session {
	return model.Session{
		User: testUsers[0],
		Permissions: model.Permissions{
			View: true, CreateChat: true, Post: true, Edit: true, Delete: true,
		},
	}
}

func member(userID int64, role model.Role) model.Membership {
	joined := t0.Add(-24 * time.Hour)
	return model.Membership{UserID: userID, Role: role, JoinedAt: &joined}
}

func removed(m model.Membership, by int64) model.Membership {
	at := t0.Add(-time.Hour)
	m.RemovedAt = &at
	m.RemovedBy = by
	return m
}

func newChat(id int64, typ model.ChatType, title string, pivots ...model.Membership) model.Chat {
	c := model.Chat{ID: id, Type: typ, Title: title, CreatedAt: t0.Add(-48 * time.Hour)}
	for _, p := range pivots {
		c.SetPivot(p)
	}
	return c
}

func textMsg(id, chatID, author int64, at time.Time, text string) model.Message {
	return model.Message{ID: id, ChatID: chatID, AuthorID: author, Content: text, CreatedAt: at}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	reg    *Registry
	tr     *fakeTransport
	drafts *memory.Client
	clock  *testClock
}

func newFixture(t *testing.T, session model.Session, chats ...model.Chat) *fixture {
	t.Helper()
	tr := &fakeTransport{}
	tr.listChats = func(context.Context) (*api.ChatList, error) {
		return &api.ChatList{Chats: chats, Users: testUsers}, nil
	}
	clock := &testClock{now: t0.Add(time.Hour)}
	drafts := memory.New()
	reg := New(Options{
		Session:   session,
		Transport: tr,
		Drafts:    drafts,
		Chat: config.ChatConfig{
			MessageCharLimit: 20,
			FetchLimit:       3,
		},
		Now: clock.Now,
	})
	require.NoError(t, reg.LoadChats(context.Background()))
	return &fixture{reg: reg, tr: tr, drafts: drafts, clock: clock}
}

// seed puts messages into the mirror through the fetch path.
func (f *fixture) seed(t *testing.T, chatID int64, msgs ...model.Message) {
	t.Helper()
	prev := f.tr.fetchMessages
	f.tr.fetchMessages = func(context.Context, api.MessageQuery) ([]model.Message, error) {
		return msgs, nil
	}
	require.NoError(t, f.reg.FetchAround(context.Background(), chatID, nil))
	f.tr.fetchMessages = prev
}

func ids(msgs []*model.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}
