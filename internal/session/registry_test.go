package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"place-bot/internal/chat"
	"place-bot/internal/chat/chattest"
)

func newRegistry(t *testing.T) (*Registry, *chattest.Channel) {
	ch := chattest.New()
	home := func() chat.Content { return chat.Content{Text: "home"} }
	return NewRegistry(ch, home, time.Hour, zaptest.NewLogger(t)), ch
}

func TestEnsureRootIsIdempotent(t *testing.T) {
	r, ch := newRegistry(t)
	ctx := context.Background()

	first, err := r.EnsureRoot(ctx, 10)
	require.NoError(t, err)
	second, err := r.EnsureRoot(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, ch.Sent, 1)
	assert.Equal(t, "home", ch.Sent[0].Content.Text)

	root, ok := r.Root(10)
	assert.True(t, ok)
	assert.Equal(t, first, root)
}

func TestEnsureRootSendFailureLeavesNoRoot(t *testing.T) {
	r, ch := newRegistry(t)
	ch.FailSend = true
	_, err := r.EnsureRoot(context.Background(), 10)
	assert.Error(t, err)
	_, ok := r.Root(10)
	assert.False(t, ok)
}

func TestTrackTransientSkipsRoot(t *testing.T) {
	r, _ := newRegistry(t)
	root, err := r.EnsureRoot(context.Background(), 1)
	require.NoError(t, err)

	r.TrackTransient(1, root)
	r.TrackTransient(1, 500)
	r.TrackTransient(1, 500)
	r.TrackTransient(1, 0)

	assert.ElementsMatch(t, []int{500}, r.Transient(1))
}

func TestCleanupEmptiesSetDespiteFailures(t *testing.T) {
	r, ch := newRegistry(t)
	ctx := context.Background()
	for _, id := range []int{201, 202, 203, 204} {
		r.TrackTransient(5, id)
	}
	ch.FailDelete[202] = true
	ch.FailDelete[204] = true

	r.Cleanup(ctx, 5)

	assert.Empty(t, r.Transient(5))
	assert.ElementsMatch(t, []int{201, 203}, ch.Deleted)

	r.Cleanup(ctx, 5)
	assert.Len(t, ch.Deleted, 2, "second cleanup has nothing to delete")
}

func TestCleanupIsPerChat(t *testing.T) {
	r, _ := newRegistry(t)
	r.TrackTransient(1, 11)
	r.TrackTransient(2, 22)
	r.Cleanup(context.Background(), 1)
	assert.Empty(t, r.Transient(1))
	assert.Equal(t, []int{22}, r.Transient(2))
}

func TestReplaceRootDeletesOldRoot(t *testing.T) {
	r, ch := newRegistry(t)
	ctx := context.Background()
	old, err := r.EnsureRoot(ctx, 3)
	require.NoError(t, err)
	r.TrackTransient(3, 900)

	r.ReplaceRoot(ctx, 3, 900)

	root, _ := r.Root(3)
	assert.Equal(t, 900, root)
	assert.True(t, ch.WasDeleted(old))
	assert.Empty(t, r.Transient(3), "new root must leave the transient set")
}

func TestReplaceRootWhenDeleteFails(t *testing.T) {
	r, ch := newRegistry(t)
	ctx := context.Background()
	old, err := r.EnsureRoot(ctx, 3)
	require.NoError(t, err)
	ch.FailDelete[old] = true

	r.ReplaceRoot(ctx, 3, 77)
	root, _ := r.Root(3)
	assert.Equal(t, 77, root)
}

func TestConcurrentChats(t *testing.T) {
	r, ch := newRegistry(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for chatID := int64(1); chatID <= 20; chatID++ {
		wg.Add(1)
		go func(chatID int64) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				_, _ = r.EnsureRoot(ctx, chatID)
				r.TrackTransient(chatID, int(chatID)*1000+i)
			}
			r.Cleanup(ctx, chatID)
		}(chatID)
	}
	wg.Wait()
	assert.Equal(t, 20, r.Len())
	assert.Len(t, ch.Sent, 20, "one root per chat")
}
