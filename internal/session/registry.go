// Package session keeps the root screen and the transient messages of every chat.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"place-bot/internal/chat"
	"place-bot/internal/state"
)

type chatSession struct {
	mu        sync.Mutex
	root      int
	transient map[int]struct{}
}

// Registry tracks, per chat, the single root message and the transient messages
// that the next cleanup deletes. Channel failures never change the bookkeeping.
type Registry struct {
	ch       chat.Channel
	home     func() chat.Content
	sessions *state.Map[*chatSession]
	log      *zap.Logger
}

// NewRegistry creates a registry. home renders the content a fresh root starts with.
func NewRegistry(ch chat.Channel, home func() chat.Content, ttl time.Duration, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		ch:       ch,
		home:     home,
		sessions: state.New[*chatSession](ttl),
		log:      log,
	}
}

func (r *Registry) session(chatID int64) *chatSession {
	return r.sessions.LoadOrCreate(chatID, func() *chatSession {
		return &chatSession{transient: make(map[int]struct{})}
	})
}

// EnsureRoot returns the root message id, sending a home screen first if the chat has none.
func (r *Registry) EnsureRoot(ctx context.Context, chatID int64) (int, error) {
	s := r.session(chatID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root != 0 {
		return s.root, nil
	}
	id, err := r.ch.Send(ctx, chatID, r.home())
	if err != nil {
		return 0, err
	}
	s.root = id
	delete(s.transient, id)
	return id, nil
}

// Root returns the current root message id, if any.
func (r *Registry) Root(chatID int64) (int, bool) {
	s := r.session(chatID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root, s.root != 0
}

// TrackTransient registers a message for the next cleanup. The root is never tracked.
func (r *Registry) TrackTransient(chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	s := r.session(chatID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if messageID == s.root {
		return
	}
	s.transient[messageID] = struct{}{}
}

// Cleanup deletes every transient message of the chat. The set is emptied even when deletions fail.
func (r *Registry) Cleanup(ctx context.Context, chatID int64) {
	s := r.session(chatID)
	s.mu.Lock()
	ids := s.transient
	s.transient = make(map[int]struct{})
	s.mu.Unlock()

	for id := range ids {
		if err := r.ch.Delete(ctx, chatID, id); err != nil {
			r.log.Debug("transient delete failed", zap.Int64("chat_id", chatID), zap.Int("message_id", id), zap.Error(err))
		}
	}
}

// ReplaceRoot makes newID the root after deleting the old root on a best-effort basis.
func (r *Registry) ReplaceRoot(ctx context.Context, chatID int64, newID int) {
	s := r.session(chatID)
	s.mu.Lock()
	old := s.root
	s.root = newID
	delete(s.transient, newID)
	s.mu.Unlock()

	if old != 0 && old != newID {
		if err := r.ch.Delete(ctx, chatID, old); err != nil {
			r.log.Debug("stale root delete failed", zap.Int64("chat_id", chatID), zap.Int("message_id", old), zap.Error(err))
		}
	}
}

// Transient returns the tracked transient ids, for inspection.
func (r *Registry) Transient(chatID int64) []int {
	s := r.session(chatID)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.transient))
	for id := range s.transient {
		out = append(out, id)
	}
	return out
}

// Len reports how many chats have live sessions.
func (r *Registry) Len() int { return r.sessions.Len() }

// Evict drops sessions of chats idle longer than the TTL.
func (r *Registry) Evict() int { return r.sessions.Evict() }
