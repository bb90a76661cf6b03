// Package achievement unlocks badges from a user's visit, reminder and quiz history.
package achievement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"place-bot/internal/state"
	"place-bot/internal/storage"
)

// SessionThreshold splits quiz rules without an explicit scope: thresholds up to it
// count correct answers in one sitting, larger ones count across all sittings.
const SessionThreshold = 15

type Store interface {
	ListAchievements(ctx context.Context) ([]storage.Achievement, error)
	ListUnlocked(ctx context.Context, userID int64) ([]storage.UserAchievement, error)
	ListVisits(ctx context.Context, userID int64) ([]storage.Visit, error)
	CountReminders(ctx context.Context, userID int64) (int, error)
	ListQuizResults(ctx context.Context, userID int64) ([]storage.QuizResult, error)
	Unlock(ctx context.Context, ua storage.UserAchievement) (bool, error)
}

// Notifier tells the user about a fresh unlock. It must tolerate its own failures.
type Notifier func(ctx context.Context, userID int64, a storage.Achievement)

// Progress is the activity summary rules are tested against.
type Progress struct {
	Visits       int
	ByCategory   map[string]int
	ByDistrict   map[string]int
	Reminders    int
	BestSitting  int
	TotalCorrect int
}

type Evaluator struct {
	store  Store
	notify Notifier
	locks  *state.Map[*sync.Mutex]
	now    func() time.Time
	log    *zap.Logger
}

func NewEvaluator(store Store, notify Notifier, ttl time.Duration, log *zap.Logger) *Evaluator {
	if log == nil {
		log = zap.NewNop()
	}
	if notify == nil {
		notify = func(context.Context, int64, storage.Achievement) {}
	}
	return &Evaluator{
		store:  store,
		notify: notify,
		locks:  state.New[*sync.Mutex](ttl),
		now:    time.Now,
		log:    log,
	}
}

// Evaluate unlocks every rule the user newly satisfies and returns those rules.
// Unlocks are committed before any notification is attempted.
func (e *Evaluator) Evaluate(ctx context.Context, userID int64) ([]storage.Achievement, error) {
	fresh, err := e.unlock(ctx, userID)
	for _, a := range fresh {
		e.notify(ctx, userID, a)
	}
	return fresh, err
}

func (e *Evaluator) unlock(ctx context.Context, userID int64) ([]storage.Achievement, error) {
	mu := e.locks.LoadOrCreate(userID, func() *sync.Mutex { return &sync.Mutex{} })
	mu.Lock()
	defer mu.Unlock()

	rules, err := e.store.ListAchievements(ctx)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	unlocked, err := e.store.ListUnlocked(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list unlocked: %w", err)
	}
	have := make(map[string]bool, len(unlocked))
	for _, ua := range unlocked {
		have[ua.Code] = true
	}
	var open []storage.Achievement
	for _, r := range rules {
		if !have[r.Code] {
			open = append(open, r)
		}
	}
	if len(open) == 0 {
		return nil, nil
	}

	p, err := e.progress(ctx, userID, open)
	if err != nil {
		return nil, err
	}

	var fresh []storage.Achievement
	for _, r := range open {
		if !Satisfied(r, p) {
			continue
		}
		ok, err := e.store.Unlock(ctx, storage.UserAchievement{UserID: userID, Code: r.Code, UnlockedAt: e.now()})
		if err != nil {
			e.log.Error("unlock failed", zap.Int64("user_id", userID), zap.String("code", r.Code), zap.Error(err))
			continue
		}
		if ok {
			e.log.Info("achievement unlocked", zap.Int64("user_id", userID), zap.String("code", r.Code))
			fresh = append(fresh, r)
		}
	}
	return fresh, nil
}

// progress loads only the history the open rules need.
func (e *Evaluator) progress(ctx context.Context, userID int64, open []storage.Achievement) (Progress, error) {
	var needVisits, needReminders, needQuiz bool
	for _, r := range open {
		switch r.Kind {
		case storage.KindFirstVisit, storage.KindPlacesVisited, storage.KindCategoryExplorer, storage.KindDistrictExplorer:
			needVisits = true
		case storage.KindReminderMaster:
			needReminders = true
		case storage.KindQuizCompleted:
			needQuiz = true
		}
	}

	p := Progress{ByCategory: map[string]int{}, ByDistrict: map[string]int{}}
	if needVisits {
		visits, err := e.store.ListVisits(ctx, userID)
		if err != nil {
			return p, fmt.Errorf("list visits: %w", err)
		}
		p.Visits = len(visits)
		for _, v := range visits {
			if v.Place.Category != "" {
				p.ByCategory[v.Place.Category]++
			}
			if v.Place.District != "" {
				p.ByDistrict[v.Place.District]++
			}
		}
	}
	if needReminders {
		n, err := e.store.CountReminders(ctx, userID)
		if err != nil {
			return p, fmt.Errorf("count reminders: %w", err)
		}
		p.Reminders = n
	}
	if needQuiz {
		results, err := e.store.ListQuizResults(ctx, userID)
		if err != nil {
			return p, fmt.Errorf("list quiz results: %w", err)
		}
		for _, r := range results {
			p.TotalCorrect += r.Correct
			p.BestSitting = max(p.BestSitting, r.Correct)
		}
	}
	return p, nil
}

// QuizScope returns the explicit scope of a quiz rule or derives it from the threshold.
func QuizScope(r storage.Achievement) string {
	if r.Scope != "" {
		return r.Scope
	}
	if r.Threshold <= SessionThreshold {
		return storage.ScopeSession
	}
	return storage.ScopeCumulative
}

// Satisfied tests a single rule.
func Satisfied(r storage.Achievement, p Progress) bool {
	switch r.Kind {
	case storage.KindFirstVisit:
		return p.Visits >= 1
	case storage.KindPlacesVisited:
		return p.Visits >= r.Threshold
	case storage.KindCategoryExplorer:
		return maxBucket(p.ByCategory) >= r.Threshold
	case storage.KindDistrictExplorer:
		return maxBucket(p.ByDistrict) >= r.Threshold
	case storage.KindReminderMaster:
		return p.Reminders >= r.Threshold
	case storage.KindQuizCompleted:
		if QuizScope(r) == storage.ScopeSession {
			return p.BestSitting >= r.Threshold
		}
		return p.TotalCorrect >= r.Threshold
	}
	return false
}

func maxBucket(m map[string]int) int {
	best := 0
	for _, n := range m {
		best = max(best, n)
	}
	return best
}

func (e *Evaluator) Evict() int { return e.locks.Evict() }
