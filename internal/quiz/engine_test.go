package quiz

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"place-bot/internal/storage"
)

type countingEvaluator struct{ calls []int64 }

func (c *countingEvaluator) Evaluate(_ context.Context, userID int64) ([]storage.Achievement, error) {
	c.calls = append(c.calls, userID)
	return nil, nil
}

func newEngine(t *testing.T, withImage, withoutImage int) (*Engine, *storage.MemoryStore, *countingEvaluator) {
	t.Helper()
	s := storage.NewMemoryStore()
	var places []storage.Place
	for i := 0; i < withImage; i++ {
		places = append(places, storage.Place{Name: fmt.Sprintf("place-%02d", i), Image: fmt.Sprintf("p%02d.jpg", i)})
	}
	for i := 0; i < withoutImage; i++ {
		places = append(places, storage.Place{Name: fmt.Sprintf("bare-%02d", i)})
	}
	require.NoError(t, s.InsertPlaces(context.Background(), places))
	ev := &countingEvaluator{}
	return NewEngine(s, ev, 0, zaptest.NewLogger(t)), s, ev
}

func sessionOf(t *testing.T, e *Engine, userID int64) *session {
	t.Helper()
	s, ok := e.sessions.Load(userID)
	require.True(t, ok)
	return s
}

func TestStartRefusedWithThreeImagePlaces(t *testing.T) {
	e, s, _ := newEngine(t, 3, 5)
	_, err := e.Start(context.Background(), 1)
	assert.ErrorIs(t, err, ErrInsufficientData)
	assert.False(t, e.Active(1))

	require.NoError(t, s.InsertPlaces(context.Background(), []storage.Place{{Name: "fourth", Image: "4.jpg"}}))
	q, err := e.Start(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 4, q.Total)

	for i := 0; i < q.Total; i++ {
		qi, done, err := e.Question(1, i)
		require.NoError(t, err)
		require.False(t, done)
		assert.Len(t, qi.Options, Options)
	}
}

func TestStartQuestionCountBounds(t *testing.T) {
	for _, pool := range []int{4, 9, 10, 12, 15, 40} {
		for run := 0; run < 20; run++ {
			e, _, _ := newEngine(t, pool, 2)
			q, err := e.Start(context.Background(), 1)
			require.NoError(t, err)

			assert.GreaterOrEqual(t, q.Total, min(MinQuestions, pool))
			assert.LessOrEqual(t, q.Total, min(MaxQuestions, pool))

			seen := map[int64]bool{}
			for _, p := range sessionOf(t, e, 1).questions {
				assert.False(t, seen[p.ID], "questions must be distinct")
				seen[p.ID] = true
				assert.True(t, p.HasImage(), "only image places are asked")
			}
		}
	}
}

func TestQuestionCountUsesRandomDraw(t *testing.T) {
	e, _, _ := newEngine(t, 30, 0)
	e.intN = func(n int) int { return n - 1 }
	q, err := e.Start(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, MaxQuestions, q.Total)

	e.intN = func(int) int { return 0 }
	q, err = e.Start(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, MinQuestions, q.Total)
}

func TestOptionsContainCorrectOnceAndDistinctDistractors(t *testing.T) {
	e, _, _ := newEngine(t, 12, 0)
	q, err := e.Start(context.Background(), 1)
	require.NoError(t, err)

	for i := 0; i < q.Total; i++ {
		qi, _, err := e.Question(1, i)
		require.NoError(t, err)
		require.Len(t, qi.Options, 4)

		seen := map[int64]int{}
		for _, o := range qi.Options {
			seen[o.ID]++
			assert.True(t, o.HasImage())
		}
		assert.Len(t, seen, 4, "options are distinct")
		assert.Equal(t, 1, seen[qi.Place.ID], "correct answer appears exactly once")

		again, _, err := e.Question(1, i)
		require.NoError(t, err)
		assert.Equal(t, qi.Options, again.Options, "options are stable across re-renders")
	}
}

func TestAnswerGradingAndStaleGate(t *testing.T) {
	e, _, _ := newEngine(t, 6, 0)
	q, err := e.Start(context.Background(), 1)
	require.NoError(t, err)

	out, err := e.Answer(1, 0, q.Place.ID)
	require.NoError(t, err)
	assert.True(t, out.Correct)
	assert.Equal(t, 1, out.Score)

	_, err = e.Answer(1, 0, q.Place.ID)
	assert.ErrorIs(t, err, ErrStale)
	assert.Equal(t, 1, sessionOf(t, e, 1).correct, "second answer to the same index changes nothing")

	_, err = e.Answer(1, 3, q.Place.ID)
	assert.ErrorIs(t, err, ErrStale, "answers ahead of the current question are rejected")

	q1, _, err := e.Question(1, 1)
	require.NoError(t, err)
	var wrong int64
	for _, o := range q1.Options {
		if o.ID != q1.Place.ID {
			wrong = o.ID
			break
		}
	}
	out, err = e.Answer(1, 1, wrong)
	require.NoError(t, err)
	assert.False(t, out.Correct)
	assert.Equal(t, q1.Place.ID, out.Answer.ID)
	assert.Equal(t, 1, out.Score)
	assert.Len(t, sessionOf(t, e, 1).history, 2)
}

func TestAnswerWithoutSession(t *testing.T) {
	e, _, _ := newEngine(t, 6, 0)
	_, err := e.Answer(1, 0, 1)
	assert.ErrorIs(t, err, ErrNoSession)
	_, _, err = e.Question(1, 0)
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = e.Finish(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestFinishPersistsAndRemovesSession(t *testing.T) {
	ctx := context.Background()
	e, s, ev := newEngine(t, 4, 0)
	q, err := e.Start(ctx, 9)
	require.NoError(t, err)

	for i := 0; i < q.Total; i++ {
		qi, done, err := e.Question(9, i)
		require.NoError(t, err)
		require.False(t, done)
		_, err = e.Answer(9, i, qi.Place.ID)
		require.NoError(t, err)
	}
	_, done, err := e.Question(9, q.Total)
	require.NoError(t, err)
	assert.True(t, done)

	sum, err := e.Finish(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 4, Correct: 4, Percentage: 100, Tier: TierPerfect}, sum)
	assert.False(t, e.Active(9))
	assert.Equal(t, []int64{9}, ev.calls)

	results, err := s.ListQuizResults(ctx, 9)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 4, results[0].Correct)

	_, err = e.Finish(ctx, 9)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStartOverwritesAndAbortDrops(t *testing.T) {
	e, _, _ := newEngine(t, 8, 0)
	ctx := context.Background()
	q, err := e.Start(ctx, 1)
	require.NoError(t, err)
	_, err = e.Answer(1, 0, q.Place.ID)
	require.NoError(t, err)

	_, err = e.Start(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, sessionOf(t, e, 1).current)

	e.Abort(1)
	assert.False(t, e.Active(1))
	assert.Equal(t, 0, e.Len())
}

func TestTiers(t *testing.T) {
	assert.Equal(t, TierPerfect, TierFor(100))
	assert.Equal(t, TierGreat, TierFor(80))
	assert.Equal(t, TierGood, TierFor(79))
	assert.Equal(t, TierGood, TierFor(60))
	assert.Equal(t, TierKeepLearning, TierFor(59))
	assert.Equal(t, 66, Percentage(2, 3))
	assert.Equal(t, 0, Percentage(0, 0))
}
