package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"place-bot/internal/storage"
)

type memRepo struct {
	users   map[int64]storage.User
	upserts int
	fail    error
}

func (m *memRepo) UpsertUser(_ context.Context, u storage.User) error {
	if m.fail != nil {
		return m.fail
	}
	m.upserts++
	m.users[u.ID] = u
	return nil
}

func (m *memRepo) GetUser(_ context.Context, id int64) (storage.User, error) {
	u, ok := m.users[id]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return u, nil
}

func TestTouchSkipsUnchangedProfiles(t *testing.T) {
	repo := &memRepo{users: map[int64]storage.User{}}
	svc := New(repo, time.Hour)
	ctx := context.Background()

	u := storage.User{ID: 10, Username: "alice", FirstName: "Alice"}
	for i := 0; i < 3; i++ {
		if err := svc.Touch(ctx, u); err != nil {
			t.Fatalf("touch: %v", err)
		}
	}
	if repo.upserts != 1 {
		t.Fatalf("want 1 upsert, got %d", repo.upserts)
	}

	u.FirstName = "Алиса"
	if err := svc.Touch(ctx, u); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if repo.upserts != 2 {
		t.Fatalf("renamed profile not written, upserts=%d", repo.upserts)
	}
	got, err := svc.Get(ctx, 10)
	if err != nil || got.FirstName != "Алиса" {
		t.Fatalf("get: %+v %v", got, err)
	}
}

func TestTouchFailureIsRetried(t *testing.T) {
	repo := &memRepo{users: map[int64]storage.User{}, fail: errors.New("db down")}
	svc := New(repo, time.Hour)
	ctx := context.Background()
	u := storage.User{ID: 5, Username: "bob"}

	if err := svc.Touch(ctx, u); err == nil {
		t.Fatalf("expected error")
	}
	repo.fail = nil
	if err := svc.Touch(ctx, u); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if repo.upserts != 1 {
		t.Fatalf("want 1 upsert, got %d", repo.upserts)
	}
}

func TestTouchRejectsEmptyID(t *testing.T) {
	svc := New(&memRepo{users: map[int64]storage.User{}}, 0)
	if err := svc.Touch(context.Background(), storage.User{}); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestGetFallsBackToRepository(t *testing.T) {
	repo := &memRepo{users: map[int64]storage.User{7: {ID: 7, FirstName: "Olga"}}}
	svc := New(repo, time.Hour)

	u, err := svc.Get(context.Background(), 7)
	if err != nil || u.FirstName != "Olga" {
		t.Fatalf("get: %+v %v", u, err)
	}
	if _, err := svc.Get(context.Background(), 8); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if svc.Len() != 1 {
		t.Fatalf("want 1 cached user, got %d", svc.Len())
	}
}
