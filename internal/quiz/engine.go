// Package quiz runs the "guess the place by its photo" game, one session per user.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"place-bot/internal/state"
	"place-bot/internal/storage"
)

const (
	MinPlaces    = 4
	MinQuestions = 10
	MaxQuestions = 15
	Options      = 4
)

var (
	ErrInsufficientData = errors.New("not enough places with images for a quiz")
	ErrNoSession        = errors.New("no active quiz session")
	ErrStale            = errors.New("answer for a question that is not current")
)

type Store interface {
	ListPlaces(ctx context.Context, f storage.PlaceFilter, offset, limit int) ([]storage.Place, error)
	AddQuizResult(ctx context.Context, r storage.QuizResult) error
}

// Evaluator is notified when a quiz completes.
type Evaluator interface {
	Evaluate(ctx context.Context, userID int64) ([]storage.Achievement, error)
}

// Question is one rendered step of a session.
type Question struct {
	Index   int
	Total   int
	Place   storage.Place
	Options []storage.Place
}

// Outcome is the grade of one answer.
type Outcome struct {
	Index   int
	Correct bool
	Answer  storage.Place
	Score   int
	Total   int
}

// Summary is the final result of a session.
type Summary struct {
	Total      int
	Correct    int
	Percentage int
	Tier       Tier
}

type answer struct {
	index    int
	selected int64
	correct  bool
}

type session struct {
	mu        sync.Mutex
	questions []storage.Place
	pool      []storage.Place
	current   int
	correct   int
	history   []answer
	options   map[int][]storage.Place
}

// Engine owns every active session.
type Engine struct {
	store     Store
	evaluator Evaluator
	sessions  *state.Map[*session]
	intN      func(n int) int
	now       func() time.Time
	log       *zap.Logger
}

func NewEngine(store Store, evaluator Evaluator, ttl time.Duration, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:     store,
		evaluator: evaluator,
		sessions:  state.New[*session](ttl),
		intN:      rand.IntN,
		now:       time.Now,
		log:       log,
	}
}

// Start begins a new session, replacing any session the user already had.
func (e *Engine) Start(ctx context.Context, userID int64) (Question, error) {
	pool, err := e.store.ListPlaces(ctx, storage.PlaceFilter{WithImage: true}, 0, 0)
	if err != nil {
		return Question{}, fmt.Errorf("load quiz places: %w", err)
	}
	if len(pool) < MinPlaces {
		return Question{}, ErrInsufficientData
	}

	count := min(MinQuestions+e.intN(MaxQuestions-MinQuestions+1), len(pool))
	order := e.perm(len(pool))
	questions := make([]storage.Place, count)
	for i := range questions {
		questions[i] = pool[order[i]]
	}

	s := &session{questions: questions, pool: pool, options: make(map[int][]storage.Place)}
	e.sessions.Store(userID, s)
	e.log.Debug("quiz started", zap.Int64("user_id", userID), zap.Int("questions", count))

	q, _, err := e.Question(userID, 0)
	return q, err
}

// Question returns question index. done is true once index is past the last question.
// The option set of a question is fixed the first time it is built.
func (e *Engine) Question(userID int64, index int) (Question, bool, error) {
	s, ok := e.sessions.Load(userID)
	if !ok {
		return Question{}, false, ErrNoSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= len(s.questions) {
		return Question{}, true, nil
	}
	if index < 0 {
		return Question{}, false, fmt.Errorf("question index %d out of range", index)
	}
	opts, ok := s.options[index]
	if !ok {
		opts = e.options(s.questions[index], s.pool)
		s.options[index] = opts
	}
	return Question{
		Index:   index,
		Total:   len(s.questions),
		Place:   s.questions[index],
		Options: append([]storage.Place(nil), opts...),
	}, false, nil
}

// options returns the correct place and Options-1 distinct distractors, shuffled.
func (e *Engine) options(correct storage.Place, pool []storage.Place) []storage.Place {
	others := make([]storage.Place, 0, len(pool)-1)
	for _, p := range pool {
		if p.ID != correct.ID {
			others = append(others, p)
		}
	}
	order := e.perm(len(others))
	out := make([]storage.Place, 0, Options)
	out = append(out, correct)
	for i := 0; i < Options-1 && i < len(order); i++ {
		out = append(out, others[order[i]])
	}
	for i := len(out) - 1; i > 0; i-- {
		j := e.intN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (e *Engine) perm(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := e.intN(i + 1)
		p[i], p[j] = p[j], p[i]
	}
	return p
}

// Answer grades the answer to question index. Answers to any question other than
// the current one return ErrStale and change nothing.
func (e *Engine) Answer(userID int64, index int, placeID int64) (Outcome, error) {
	s, ok := e.sessions.Load(userID)
	if !ok {
		return Outcome{}, ErrNoSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if index != s.current || index >= len(s.questions) {
		return Outcome{}, ErrStale
	}
	want := s.questions[index]
	hit := placeID == want.ID
	if hit {
		s.correct++
	}
	s.history = append(s.history, answer{index: index, selected: placeID, correct: hit})
	s.current++
	return Outcome{Index: index, Correct: hit, Answer: want, Score: s.correct, Total: len(s.questions)}, nil
}

// Finish records the result, removes the session and evaluates quiz achievements.
func (e *Engine) Finish(ctx context.Context, userID int64) (Summary, error) {
	s, ok := e.sessions.LoadAndDelete(userID)
	if !ok {
		return Summary{}, ErrNoSession
	}
	s.mu.Lock()
	total, correct := len(s.questions), s.correct
	s.mu.Unlock()

	sum := Summary{Total: total, Correct: correct, Percentage: Percentage(correct, total)}
	sum.Tier = TierFor(sum.Percentage)

	if err := e.store.AddQuizResult(ctx, storage.QuizResult{
		UserID:      userID,
		Total:       total,
		Correct:     correct,
		CompletedAt: e.now(),
	}); err != nil {
		return sum, fmt.Errorf("save quiz result: %w", err)
	}
	e.log.Info("quiz finished", zap.Int64("user_id", userID), zap.Int("correct", correct), zap.Int("total", total))

	if e.evaluator != nil {
		if _, err := e.evaluator.Evaluate(ctx, userID); err != nil {
			e.log.Warn("quiz achievements failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return sum, nil
}

// Abort drops the session without recording anything.
func (e *Engine) Abort(userID int64) {
	e.sessions.Delete(userID)
}

func (e *Engine) Active(userID int64) bool {
	_, ok := e.sessions.Load(userID)
	return ok
}

func (e *Engine) Len() int   { return e.sessions.Len() }
func (e *Engine) Evict() int { return e.sessions.Evict() }

func Percentage(correct, total int) int {
	if total == 0 {
		return 0
	}
	return correct * 100 / total
}
