package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type visitKey struct{ user, place int64 }

// MemoryStore keeps everything in process memory. Used by tests and the memory driver.
type MemoryStore struct {
	mu sync.RWMutex

	users        map[int64]User
	places       []Place
	visits       map[visitKey]time.Time
	reminders    []Reminder
	reviews      []Review
	achievements []Achievement
	unlocked     map[int64][]UserAchievement
	quizResults  []QuizResult
	nextID       int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[int64]User),
		visits:   make(map[visitKey]time.Time),
		unlocked: make(map[int64][]UserAchievement),
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) UpsertUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := dbTime(time.Now())
	if old, ok := m.users[u.ID]; ok {
		u.CreatedAt = old.CreatedAt
	} else {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id int64) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryStore) InsertPlaces(_ context.Context, places []Place) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range places {
		p.ID = m.id()
		m.places = append(m.places, p)
	}
	return nil
}

func (m *MemoryStore) GetPlace(_ context.Context, id int64) (Place, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.place(id)
}

func (m *MemoryStore) place(id int64) (Place, error) {
	for _, p := range m.places {
		if p.ID == id {
			return p, nil
		}
	}
	return Place{}, ErrNotFound
}

func (m *MemoryStore) filtered(f PlaceFilter) []Place {
	var out []Place
	for _, p := range m.places {
		if f.District != "" && p.District != f.District {
			continue
		}
		if f.Category != "" && p.Category != f.Category {
			continue
		}
		if f.WithImage && !p.HasImage() {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryStore) ListPlaces(_ context.Context, f PlaceFilter, offset, limit int) ([]Place, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.filtered(f)
	if limit <= 0 {
		return all, nil
	}
	offset = max(offset, 0)
	if offset >= len(all) {
		return nil, nil
	}
	return all[offset:min(offset+limit, len(all))], nil
}

func (m *MemoryStore) CountPlaces(_ context.Context, f PlaceFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.filtered(f)), nil
}

func (m *MemoryStore) Districts(_ context.Context) ([]string, error) {
	return m.distinct(func(p Place) string { return p.District }), nil
}

func (m *MemoryStore) Categories(_ context.Context) ([]string, error) {
	return m.distinct(func(p Place) string { return p.Category }), nil
}

func (m *MemoryStore) distinct(field func(Place) string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, p := range m.places {
		v := field(p)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (m *MemoryStore) AddVisit(_ context.Context, userID, placeID int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.place(placeID); err != nil {
		return false, fmt.Errorf("add visit: %w", err)
	}
	k := visitKey{userID, placeID}
	if _, ok := m.visits[k]; ok {
		return false, nil
	}
	m.visits[k] = dbTime(at)
	return true, nil
}

func (m *MemoryStore) HasVisit(_ context.Context, userID, placeID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.visits[visitKey{userID, placeID}]
	return ok, nil
}

func (m *MemoryStore) ListVisits(_ context.Context, userID int64) ([]Visit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Visit
	for k, at := range m.visits {
		if k.user != userID {
			continue
		}
		p, err := m.place(k.place)
		if err != nil {
			continue
		}
		out = append(out, Visit{UserID: userID, PlaceID: k.place, VisitedAt: at, Place: p})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].VisitedAt.Equal(out[j].VisitedAt) {
			return out[i].VisitedAt.After(out[j].VisitedAt)
		}
		return out[i].PlaceID < out[j].PlaceID
	})
	return out, nil
}

func (m *MemoryStore) ReplaceReminder(_ context.Context, r Reminder) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.place(r.PlaceID)
	if err != nil {
		return 0, fmt.Errorf("insert reminder: %w", err)
	}
	kept := m.reminders[:0]
	for _, old := range m.reminders {
		if old.UserID == r.UserID && old.PlaceID == r.PlaceID && !old.Completed {
			continue
		}
		kept = append(kept, old)
	}
	m.reminders = kept
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.ID = m.id()
	r.RemindAt = dbTime(r.RemindAt)
	r.CreatedAt = dbTime(r.CreatedAt)
	r.Completed = false
	r.Place = p
	m.reminders = append(m.reminders, r)
	return r.ID, nil
}

func (m *MemoryStore) selectReminders(keep func(Reminder) bool) []Reminder {
	var out []Reminder
	for _, r := range m.reminders {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].RemindAt.Equal(out[j].RemindAt) {
			return out[i].RemindAt.Before(out[j].RemindAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryStore) ActiveReminder(_ context.Context, userID, placeID int64, now time.Time) (Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs := m.selectReminders(func(r Reminder) bool {
		return r.UserID == userID && r.PlaceID == placeID && !r.Completed && r.RemindAt.After(now)
	})
	if len(rs) == 0 {
		return Reminder{}, ErrNotFound
	}
	return rs[0], nil
}

func (m *MemoryStore) ListActiveReminders(_ context.Context, userID int64, now time.Time) ([]Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selectReminders(func(r Reminder) bool {
		return r.UserID == userID && !r.Completed && r.RemindAt.After(now)
	}), nil
}

func (m *MemoryStore) CountReminders(_ context.Context, userID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.reminders {
		if r.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DueReminders(_ context.Context, now time.Time) ([]Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selectReminders(func(r Reminder) bool {
		return !r.Completed && !r.RemindAt.After(now)
	}), nil
}

func (m *MemoryStore) CompleteReminder(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.reminders {
		if m.reminders[i].ID == id {
			m.reminders[i].Completed = true
		}
	}
	return nil
}

func (m *MemoryStore) AddReview(_ context.Context, r Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.Rating < 1 || r.Rating > 5 {
		return fmt.Errorf("add review: rating %d out of range", r.Rating)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.ID = m.id()
	r.CreatedAt = dbTime(r.CreatedAt)
	m.reviews = append(m.reviews, r)
	return nil
}

func (m *MemoryStore) ListReviews(_ context.Context, placeID int64, limit int) ([]Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Review
	for i := len(m.reviews) - 1; i >= 0; i-- {
		r := m.reviews[i]
		if r.PlaceID != placeID {
			continue
		}
		if u, ok := m.users[r.UserID]; ok {
			r.Author = u.DisplayName()
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) PlaceRating(_ context.Context, placeID int64) (Rating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var r Rating
	sum := 0
	for _, rv := range m.reviews {
		if rv.PlaceID == placeID {
			r.Count++
			sum += rv.Rating
		}
	}
	if r.Count > 0 {
		r.Average = float64(sum) / float64(r.Count)
	}
	return r, nil
}

func (m *MemoryStore) UpsertAchievements(_ context.Context, rules []Achievement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byCode := make(map[string]bool, len(rules))
	for _, a := range rules {
		byCode[a.Code] = true
	}
	merged := append([]Achievement(nil), rules...)
	for _, old := range m.achievements {
		if !byCode[old.Code] {
			merged = append(merged, old)
		}
	}
	m.achievements = merged
	return nil
}

func (m *MemoryStore) ListAchievements(_ context.Context) ([]Achievement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Achievement(nil), m.achievements...), nil
}

func (m *MemoryStore) ListUnlocked(_ context.Context, userID int64) ([]UserAchievement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]UserAchievement(nil), m.unlocked[userID]...), nil
}

func (m *MemoryStore) Unlock(_ context.Context, ua UserAchievement) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, have := range m.unlocked[ua.UserID] {
		if have.Code == ua.Code {
			return false, nil
		}
	}
	if ua.UnlockedAt.IsZero() {
		ua.UnlockedAt = time.Now()
	}
	ua.UnlockedAt = dbTime(ua.UnlockedAt)
	m.unlocked[ua.UserID] = append(m.unlocked[ua.UserID], ua)
	return true, nil
}

func (m *MemoryStore) AddQuizResult(_ context.Context, r QuizResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.CompletedAt.IsZero() {
		r.CompletedAt = time.Now()
	}
	r.ID = m.id()
	r.CompletedAt = dbTime(r.CompletedAt)
	m.quizResults = append(m.quizResults, r)
	return nil
}

func (m *MemoryStore) ListQuizResults(_ context.Context, userID int64) ([]QuizResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []QuizResult
	for _, r := range m.quizResults {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}
