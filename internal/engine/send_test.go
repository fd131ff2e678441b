package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/api"
	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/model"
)

func TestPreviewCreatedOnceAndUpdatedInPlace(t *testing.T) {
	f := newFixture(t, aliceSession(), directChat(0, nil))
	ctx := context.Background()

	require.NoError(t, f.reg.UpdateDraft(20, "h"))
	first, _ := f.reg.ViewportOf(20)
	require.NotNil(t, first.Preview)
	assert.Equal(t, ComposePreviewing, first.Compose)
	assert.Equal(t, model.StatusPreview, first.Preview.Status)
	assert.Zero(t, first.Preview.ID)

	require.NoError(t, f.reg.UpdateDraft(20, "hello"))
	second, _ := f.reg.ViewportOf(20)
	assert.Equal(t, first.Preview.LocalKey, second.Preview.LocalKey)
	assert.Equal(t, "hello", second.Preview.Content)

	stored, err := f.drafts.GetDraft(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, "hello", stored)

	require.NoError(t, f.reg.UpdateDraft(20, "  "))
	cleared, _ := f.reg.ViewportOf(20)
	assert.Nil(t, cleared.Preview)
	assert.Equal(t, ComposeIdle, cleared.Compose)
}

func TestDraftRestoredOnFirstOpen(t *testing.T) {
	f := newFixture(t, aliceSession(), directChat(0, nil))
	ctx := context.Background()
	require.NoError(t, f.drafts.SetDraft(ctx, 20, "unsent"))

	require.NoError(t, f.reg.Open(ctx, 20))
	vp, _ := f.reg.ViewportOf(20)
	assert.Equal(t, "unsent", vp.Draft)
	require.NotNil(t, vp.Preview)
}

func TestThrottledDraftIsFlushed(t *testing.T) {
	tr := &fakeTransport{}
	tr.listChats = func(context.Context) (*api.ChatList, error) {
		return &api.ChatList{Chats: []model.Chat{directChat(0, nil)}}, nil
	}
	reg := New(Options{Session: aliceSession(), Transport: tr, Chat: config.ChatConfig{DraftThrottle: time.Hour}})
	ctx := context.Background()
	require.NoError(t, reg.LoadChats(ctx))

	require.NoError(t, reg.UpdateDraft(20, "a"))
	require.NoError(t, reg.UpdateDraft(20, "ab"))
	stored, _ := reg.drafts.GetDraft(ctx, 20)
	assert.Empty(t, stored)

	reg.FlushDrafts(ctx)
	stored, _ = reg.drafts.GetDraft(ctx, 20)
	assert.Equal(t, "ab", stored)
}

func TestSubmitReconcilesInPlace(t *testing.T) {
	f := newFixture(t, aliceSession(), directChat(0, nil))
	ctx := context.Background()
	f.tr.createMessage = func(_ context.Context, chatID int64, text string) (*model.Message, error) {
		m := textMsg(500, chatID, aliceID, t0.Add(time.Hour), text)
		return &m, nil
	}

	require.NoError(t, f.reg.UpdateDraft(20, "hi bob"))
	vp, _ := f.reg.ViewportOf(20)
	key := vp.Preview.LocalKey

	sent, err := f.reg.Submit(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(500), sent.ID)

	msgs, err := f.reg.Messages(20)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(500), msgs[0].ID)
	assert.Equal(t, key, msgs[0].LocalKey)
	assert.Equal(t, model.StatusConfirmed, msgs[0].Status)

	vp, _ = f.reg.ViewportOf(20)
	assert.Nil(t, vp.Preview)
	assert.Empty(t, vp.Draft)
	assert.Equal(t, ComposeReconciled, vp.Compose)
	stored, _ := f.drafts.GetDraft(ctx, 20)
	assert.Empty(t, stored)

	chat, _ := f.reg.Chat(20)
	assert.Equal(t, int64(500), chat.LastMessageID)
	assert.Zero(t, chat.UnreadCount)
}

func TestEchoBeforeResponseIsFolded(t *testing.T) {
	f := newFixture(t, aliceSession(), directChat(0, nil))
	f.tr.createMessage = func(_ context.Context, chatID int64, text string) (*model.Message, error) {
		m := textMsg(501, chatID, aliceID, t0.Add(time.Hour), text)
		f.reg.ApplyRealtimeEvent(model.Event{Type: model.EventMessageCreated, ChatID: chatID, Message: &m})
		return &m, nil
	}

	require.NoError(t, f.reg.UpdateDraft(20, "racing"))
	_, err := f.reg.Submit(context.Background(), 20)
	require.NoError(t, err)

	msgs, err := f.reg.Messages(20)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(501), msgs[0].ID)
	assert.NotEmpty(t, msgs[0].LocalKey)
}

func TestOfflineSendLeavesOneFailedEntry(t *testing.T) {
	f := newFixture(t, aliceSession(), directChat(0, nil))
	ctx := context.Background()
	f.tr.createMessage = func(context.Context, int64, string) (*model.Message, error) {
		return nil, fmt.Errorf("dial: %w", api.ErrTransient)
	}

	require.NoError(t, f.reg.UpdateDraft(20, "offline"))
	_, err := f.reg.Submit(ctx, 20)
	require.ErrorIs(t, err, api.ErrTransient)

	msgs, err := f.reg.Messages(20)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	failed := msgs[0]
	assert.Equal(t, model.StatusFailed, failed.Status)
	assert.Equal(t, "offline", failed.Content)
	vp, _ := f.reg.ViewportOf(20)
	assert.Equal(t, ComposeFailed, vp.Compose)

	_, err = f.reg.Resend(ctx, 20, failed.LocalKey)
	require.Error(t, err)
	msgs, _ = f.reg.Messages(20)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.StatusFailed, msgs[0].Status)

	f.tr.createMessage = func(_ context.Context, chatID int64, text string) (*model.Message, error) {
		m := textMsg(600, chatID, aliceID, t0.Add(time.Hour), text)
		return &m, nil
	}
	_, err = f.reg.Resend(ctx, 20, failed.LocalKey)
	require.NoError(t, err)
	msgs, _ = f.reg.Messages(20)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(600), msgs[0].ID)
	assert.Equal(t, model.StatusConfirmed, msgs[0].Status)
	assert.Len(t, f.tr.creates, 3)
}

func TestDiscardFailedSend(t *testing.T) {
	f := newFixture(t, aliceSession(), directChat(0, nil))
	require.NoError(t, f.reg.UpdateDraft(20, "lost"))
	_, err := f.reg.Submit(context.Background(), 20)
	require.Error(t, err)

	msgs, _ := f.reg.Messages(20)
	require.Len(t, msgs, 1)
	require.NoError(t, f.reg.Discard(20, msgs[0].LocalKey))
	msgs, _ = f.reg.Messages(20)
	assert.Empty(t, msgs)
	assert.ErrorIs(t, f.reg.Discard(20, "nope"), ErrUnknownMessage)
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		f := newFixture(t, aliceSession(), directChat(0, nil))
		_, err := f.reg.Submit(ctx, 20)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	})

	t.Run("too long", func(t *testing.T) {
		f := newFixture(t, aliceSession(), directChat(0, nil))
		require.NoError(t, f.reg.UpdateDraft(20, "this text is longer than twenty runes"))
		_, err := f.reg.Submit(ctx, 20)
		assert.ErrorIs(t, err, ErrMessageTooLong)
		assert.Empty(t, f.tr.creates)
	})

	t.Run("not a member", func(t *testing.T) {
		channel := newChat(30, model.ChatTypeChannel, "news", member(bobID, model.RoleCreator))
		f := newFixture(t, aliceSession(), channel)
		require.NoError(t, f.reg.UpdateDraft(30, "hi"))
		_, err := f.reg.Submit(ctx, 30)
		assert.ErrorIs(t, err, ErrNotAllowed)
	})

	t.Run("flood", func(t *testing.T) {
		f := newFixture(t, aliceSession(), directChat(0, nil))
		f.reg.flood = floodControl{max: 2, window: time.Minute}
		f.tr.createMessage = func(_ context.Context, chatID int64, text string) (*model.Message, error) {
			m := textMsg(int64(700+len(f.tr.creates)), chatID, aliceID, t0, text)
			return &m, nil
		}
		for i := 0; i < 2; i++ {
			require.NoError(t, f.reg.UpdateDraft(20, "spam"))
			_, err := f.reg.Submit(ctx, 20)
			require.NoError(t, err)
		}
		require.NoError(t, f.reg.UpdateDraft(20, "spam"))
		_, err := f.reg.Submit(ctx, 20)
		assert.ErrorIs(t, err, ErrFloodControl)

		f.clock.Add(2 * time.Minute)
		_, err = f.reg.Submit(ctx, 20)
		assert.NoError(t, err)
	})
}

func ownMessageChat(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, aliceSession(), directChat(0, nil))
	f.seed(t, 20, textMsg(100, 20, aliceID, t0, "original"), textMsg(101, 20, bobID, t0, "bob's"))
	return f
}

func TestEditFailureKeepsOriginal(t *testing.T) {
	f := ownMessageChat(t)
	ctx := context.Background()
	require.NoError(t, f.reg.UpdateDraft(20, "half typed"))
	before, _ := f.reg.ViewportOf(20)

	require.ErrorIs(t, f.reg.BeginEdit(20, 101), ErrNotAllowed)
	require.NoError(t, f.reg.BeginEdit(20, 100))
	vp, _ := f.reg.ViewportOf(20)
	assert.Equal(t, "original", vp.EditText)
	assert.Nil(t, vp.Preview)

	require.NoError(t, f.reg.UpdateDraft(20, "changed"))
	_, err := f.reg.Submit(ctx, 20)
	require.ErrorIs(t, err, api.ErrTransient)

	msgs, _ := f.reg.Messages(20)
	assert.Equal(t, "original", msgs[0].Content)
	vp, _ = f.reg.ViewportOf(20)
	assert.Equal(t, int64(100), vp.Editing)
	assert.Equal(t, "changed", vp.EditText)
	assert.Equal(t, ComposeFailed, vp.Compose)

	require.NoError(t, f.reg.CancelEdit(20))
	vp, _ = f.reg.ViewportOf(20)
	assert.Zero(t, vp.Editing)
	assert.Equal(t, "half typed", vp.Draft)
	require.NotNil(t, vp.Preview)
	assert.Equal(t, before.Preview.LocalKey, vp.Preview.LocalKey)
}

func TestEditSuccess(t *testing.T) {
	f := ownMessageChat(t)
	edited := t0.Add(time.Hour)
	f.tr.editMessage = func(_ context.Context, id int64, text string) (*model.Message, error) {
		m := textMsg(id, 20, aliceID, t0, text)
		m.EditedAt = &edited
		return &m, nil
	}
	require.NoError(t, f.reg.BeginEdit(20, 100))
	require.NoError(t, f.reg.UpdateDraft(20, "better"))
	out, err := f.reg.SubmitEdit(context.Background(), 20)
	require.NoError(t, err)
	assert.Equal(t, "better", out.Content)

	msgs, _ := f.reg.Messages(20)
	assert.Equal(t, "better", msgs[0].Content)
	require.NotNil(t, msgs[0].EditedAt)
	vp, _ := f.reg.ViewportOf(20)
	assert.Zero(t, vp.Editing)
	assert.Equal(t, ComposeReconciled, vp.Compose)
}

func TestEditNotFoundRefetches(t *testing.T) {
	f := ownMessageChat(t)
	f.tr.editMessage = func(context.Context, int64, string) (*model.Message, error) {
		return nil, fmt.Errorf("edit: %w", api.ErrNotFound)
	}
	queries := f.tr.queryCount()
	require.NoError(t, f.reg.BeginEdit(20, 100))
	_, err := f.reg.SubmitEdit(context.Background(), 20)
	require.ErrorIs(t, err, api.ErrNotFound)
	assert.Equal(t, queries+1, f.tr.queryCount())
}

func TestDeleteMessage(t *testing.T) {
	f := ownMessageChat(t)
	ctx := context.Background()

	require.ErrorIs(t, f.reg.DeleteMessage(ctx, 20, 100, true), ErrNotAllowed)
	require.ErrorIs(t, f.reg.DeleteMessage(ctx, 20, 101, false), ErrNotAllowed)
	require.NoError(t, f.reg.DeleteMessage(ctx, 20, 100, false))

	msgs, _ := f.reg.Messages(20)
	require.Len(t, msgs, 2)
	assert.Equal(t, aliceID, msgs[0].DeletedBy)
	assert.ErrorIs(t, f.reg.DeleteMessage(ctx, 20, 999, false), ErrUnknownMessage)
}
