// Package users keeps the profile of everyone who talks to the bot.
package users

import (
	"context"
	"fmt"
	"time"

	"place-bot/internal/state"
	"place-bot/internal/storage"
)

type Repository interface {
	UpsertUser(ctx context.Context, u storage.User) error
	GetUser(ctx context.Context, id int64) (storage.User, error)
}

// Service upserts senders into the repository, skipping writes when the profile is unchanged.
type Service struct {
	repo Repository
	seen *state.Map[storage.User]
}

func New(repo Repository, ttl time.Duration) *Service {
	return &Service{repo: repo, seen: state.New[storage.User](ttl)}
}

// Touch records u. Only ID and the name fields are taken from u.
func (s *Service) Touch(ctx context.Context, u storage.User) error {
	if u.ID == 0 {
		return fmt.Errorf("user id is empty")
	}
	if prev, ok := s.seen.Load(u.ID); ok && sameProfile(prev, u) {
		return nil
	}
	if err := s.repo.UpsertUser(ctx, u); err != nil {
		return fmt.Errorf("upsert user %d: %w", u.ID, err)
	}
	s.seen.Store(u.ID, u)
	return nil
}

// Get returns the stored user, preferring the cached profile.
func (s *Service) Get(ctx context.Context, id int64) (storage.User, error) {
	if u, ok := s.seen.Load(id); ok {
		return u, nil
	}
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return storage.User{}, err
	}
	s.seen.Store(id, u)
	return u, nil
}

func (s *Service) Len() int   { return s.seen.Len() }
func (s *Service) Evict() int { return s.seen.Evict() }

func sameProfile(a, b storage.User) bool {
	return a.Username == b.Username && a.FirstName == b.FirstName && a.LastName == b.LastName
}
