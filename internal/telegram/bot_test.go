package telegram

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"place-bot/internal/achievement"
	"place-bot/internal/callback"
	"place-bot/internal/chat/chattest"
	"place-bot/internal/pending"
	"place-bot/internal/quiz"
	"place-bot/internal/reminder"
	"place-bot/internal/screen"
	"place-bot/internal/session"
	"place-bot/internal/storage"
	"place-bot/internal/users"
)

const userID = 77

type harness struct {
	bot   *Bot
	ch    *chattest.Channel
	store *storage.MemoryStore
	seq   int
}

func newHarness(t *testing.T, places []storage.Place) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	s := storage.NewMemoryStore()
	require.NoError(t, s.InsertPlaces(context.Background(), places))
	ch := chattest.New()
	reg := session.NewRegistry(ch, screen.HomeContent, time.Hour, log)
	profiles := users.New(s, time.Hour)
	screens := screen.NewController(ch, reg, s, screen.Options{Profiles: profiles, Logger: log})
	ev := achievement.NewEvaluator(s, screens.NotifyAchievement, time.Hour, log)
	b := New(ch, Deps{
		Store:        s,
		Screens:      screens,
		Pending:      pending.NewTracker(time.Hour),
		Quiz:         quiz.NewEngine(s, ev, time.Hour, log),
		Achievements: ev,
		Users:        profiles,
		Workers:      2,
		Logger:       log,
	})
	return &harness{bot: b, ch: ch, store: s, seq: 500}
}

func plainPlaces(n int) []storage.Place {
	out := make([]storage.Place, n)
	for i := range out {
		out[i] = storage.Place{Name: fmt.Sprintf("place-%02d", i+1), District: "Центральный", Category: "Парк"}
	}
	return out
}

func imagePlaces(n int) []storage.Place {
	out := plainPlaces(n)
	for i := range out {
		out[i].Image = fmt.Sprintf("%02d.jpg", i+1)
	}
	return out
}

// text доставляет текстовое сообщение и возвращает его id.
func (h *harness) text(t string) int {
	h.seq++
	msg := &tgbotapi.Message{
		MessageID: h.seq,
		From:      &tgbotapi.User{ID: userID, FirstName: "Anna", UserName: "anna"},
		Chat:      &tgbotapi.Chat{ID: userID},
		Text:      t,
	}
	if len(t) > 0 && t[0] == '/' {
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(t)}}
	}
	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{UpdateID: h.seq, Message: msg})
	return h.seq
}

// press нажимает кнопку на сообщении messageID.
func (h *harness) press(messageID int, data string) {
	h.seq++
	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{
		UpdateID: h.seq,
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      fmt.Sprintf("cb-%d", h.seq),
			From:    &tgbotapi.User{ID: userID, FirstName: "Anna"},
			Message: &tgbotapi.Message{MessageID: messageID, Chat: &tgbotapi.Chat{ID: userID}},
			Data:    data,
		},
	})
}

func (h *harness) root(t *testing.T) int {
	t.Helper()
	id := h.text("/start")
	require.True(t, h.ch.WasDeleted(id))
	return h.ch.Sent[0].ID
}

func TestStartShowsHomeAndStoresUser(t *testing.T) {
	h := newHarness(t, plainPlaces(1))
	root := h.root(t)

	assert.Equal(t, screen.HomeContent(), h.ch.Content(root))
	u, err := h.store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "Anna", u.FirstName)
}

func TestReviewDashStoresEmptyText(t *testing.T) {
	h := newHarness(t, plainPlaces(7))
	h.bot.pending.Set(userID, pending.AwaitingReviewText{PlaceID: 7, Rating: 5})

	id := h.text("-")

	reviews, err := h.store.ListReviews(context.Background(), 7, 10)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, 5, reviews[0].Rating)
	assert.Empty(t, reviews[0].Text)
	_, ok := h.bot.pending.Peek(userID)
	assert.False(t, ok)
	assert.True(t, h.ch.WasDeleted(id))
}

func TestReviewTextAfterRatingPrompt(t *testing.T) {
	h := newHarness(t, plainPlaces(1))
	root := h.root(t)
	h.press(root, callback.ReviewRateData(1, 4))
	prompt := h.ch.LastSent().ID

	h.text("Очень красиво")

	reviews, err := h.store.ListReviews(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "Очень красиво", reviews[0].Text)
	assert.Equal(t, 4, reviews[0].Rating)
	assert.True(t, h.ch.WasDeleted(prompt))
}

func TestVisitFlow(t *testing.T) {
	h := newHarness(t, plainPlaces(2))
	ctx := context.Background()
	require.NoError(t, h.store.UpsertAchievements(ctx, []storage.Achievement{
		{Code: "first_step", Name: "Первый шаг", Icon: "🎯", Kind: storage.KindFirstVisit, Threshold: 1},
	}))
	root := h.root(t)

	h.press(root, callback.VisitData(1))
	assert.Equal(t, toastVisited, h.ch.Answers[len(h.ch.Answers)-1])
	visited, err := h.store.HasVisit(ctx, userID, 1)
	require.NoError(t, err)
	assert.True(t, visited)
	assert.Contains(t, h.ch.Content(root).Text, "Вы уже посещали это место")

	unlocked, err := h.store.ListUnlocked(ctx, userID)
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Contains(t, h.ch.LastSent().Content.Text, "Достижение разблокировано")

	h.press(root, callback.VisitData(1))
	assert.Equal(t, toastAlreadyVisited, h.ch.Answers[len(h.ch.Answers)-1])
	unlocked, err = h.store.ListUnlocked(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, unlocked, 1)
}

func TestVisitPromptsForRating(t *testing.T) {
	h := newHarness(t, plainPlaces(1))
	root := h.root(t)

	h.press(root, callback.VisitData(1))
	prompt := h.ch.LastSent()
	assert.Equal(t, textReviewPrompt, prompt.Content.Text)
	require.Len(t, prompt.Content.Keyboard, 2)
	assert.Len(t, prompt.Content.Keyboard[0], 5)
	assert.Equal(t, callback.ReviewSkipData(1), prompt.Content.Keyboard[1][0].Data)

	h.press(prompt.ID, callback.ReviewSkipData(1))
	assert.True(t, h.ch.WasDeleted(prompt.ID))
	assert.Equal(t, screen.HomeContent(), h.ch.Content(root))
}

func TestVisitMissingPlaceShowsNotFound(t *testing.T) {
	h := newHarness(t, plainPlaces(1))
	root := h.root(t)

	h.press(root, callback.VisitData(99))
	assert.Equal(t, screen.NotFoundContent(), h.ch.Content(root))
	visits, err := h.store.ListVisits(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, visits)
}

func TestDateWithoutPromptIsRejected(t *testing.T) {
	h := newHarness(t, plainPlaces(1))
	h.root(t)

	h.text("25.12.2099 14:30")
	assert.Equal(t, textUnknownReminder, h.ch.LastSent().Content.Text)
	n, err := h.store.CountReminders(context.Background(), userID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReminderDateFlow(t *testing.T) {
	h := newHarness(t, plainPlaces(1))
	ctx := context.Background()
	root := h.root(t)

	h.press(root, callback.ReminderDateData(1))
	assert.Contains(t, h.ch.Content(root).Text, "Введите дату и время напоминания")

	h.text("завтра")
	assert.Equal(t, textReminderFormat, h.ch.LastSent().Content.Text)
	h.text("01.01.2000 10:00")
	assert.Equal(t, textReminderPast, h.ch.LastSent().Content.Text)
	_, ok := h.bot.pending.Peek(userID)
	require.True(t, ok, "bad input keeps the prompt open")

	id := h.text("25.12.2099 14:30")
	active, err := h.store.ListActiveReminders(ctx, userID, time.Now())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, time.Date(2099, 12, 25, 14, 30, 0, 0, time.UTC), active[0].RemindAt.UTC())
	_, ok = h.bot.pending.Peek(userID)
	assert.False(t, ok)
	assert.True(t, h.ch.WasDeleted(id))
	assert.Equal(t, screen.HomeContent(), h.ch.Content(root))
}

func TestPresetReminderReplacesPrevious(t *testing.T) {
	h := newHarness(t, plainPlaces(1))
	ctx := context.Background()
	root := h.root(t)

	h.press(root, callback.SetReminderData(1, 3))
	h.press(root, callback.SetReminderData(1, 7))
	assert.Equal(t, toastReminderSet, h.ch.Answers[len(h.ch.Answers)-1])

	active, err := h.store.ListActiveReminders(ctx, userID, time.Now())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 7), active[0].RemindAt, time.Minute)
	assert.Contains(t, h.ch.Content(root).Text, "Напоминание установлено на")
}

func TestQuizRefusedWithoutEnoughImages(t *testing.T) {
	h := newHarness(t, imagePlaces(3))
	root := h.root(t)

	h.press(root, callback.PlayQuizData())
	assert.Equal(t, quiz.InsufficientDataText, h.ch.LastSent().Content.Text)
	assert.False(t, h.bot.quiz.Active(userID))
}

func TestQuizRound(t *testing.T) {
	h := newHarness(t, imagePlaces(4))
	root := h.root(t)

	h.press(root, callback.PlayQuizData())
	question := h.ch.LastSent()
	require.NotEmpty(t, question.Photo)
	require.True(t, h.bot.quiz.Active(userID))

	q, done, err := h.bot.quiz.Question(userID, 0)
	require.NoError(t, err)
	require.False(t, done)
	assert.Equal(t, 4, q.Total)

	h.press(question.ID, callback.QuizAnswerData(0, q.Place.ID))
	outcome := h.ch.LastSent()
	assert.Contains(t, outcome.Content.Text, "Правильно")

	sent := len(h.ch.Sent)
	h.press(question.ID, callback.QuizAnswerData(0, q.Place.ID))
	assert.Len(t, h.ch.Sent, sent, "a second answer to the same question is ignored")

	for i := 1; i < q.Total; i++ {
		h.press(outcome.ID, callback.QuizNextData(i))
		assert.True(t, h.ch.WasDeleted(outcome.ID))
		qi, _, err := h.bot.quiz.Question(userID, i)
		require.NoError(t, err)
		h.press(h.ch.LastSent().ID, callback.QuizAnswerData(i, qi.Place.ID))
		outcome = h.ch.LastSent()
	}
	h.press(outcome.ID, callback.QuizNextData(q.Total))
	assert.Contains(t, h.ch.LastSent().Content.Text, "Квиз завершен")
	assert.False(t, h.bot.quiz.Active(userID))

	results, err := h.store.ListQuizResults(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 4, results[0].Correct)
}

func TestQuizAnswerWithoutSession(t *testing.T) {
	h := newHarness(t, imagePlaces(4))
	root := h.root(t)

	h.press(root, callback.QuizAnswerData(0, 1))
	assert.Equal(t, quiz.NoSessionText, h.ch.LastSent().Content.Text)
}

func TestMainMenuAbortsQuizAndCleansUp(t *testing.T) {
	h := newHarness(t, imagePlaces(4))
	root := h.root(t)

	h.press(root, callback.PlayQuizData())
	question := h.ch.LastSent().ID
	h.press(question, callback.MainMenuData())

	assert.False(t, h.bot.quiz.Active(userID))
	assert.True(t, h.ch.WasDeleted(question))
	assert.Equal(t, screen.HomeContent(), h.ch.Content(root))
}

func TestStartAbortsQuiz(t *testing.T) {
	h := newHarness(t, imagePlaces(4))
	root := h.root(t)

	h.press(root, callback.PlayQuizData())
	require.True(t, h.bot.quiz.Active(userID))
	h.text("/start")

	assert.False(t, h.bot.quiz.Active(userID))
	results, err := h.store.ListQuizResults(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestReminderDateForMissingPlaceClearsPrompt(t *testing.T) {
	h := newHarness(t, plainPlaces(1))
	root := h.root(t)
	h.bot.pending.Set(userID, pending.AwaitingReminderDateTime{PlaceID: 999})

	h.text(time.Now().UTC().Add(48 * time.Hour).Format(reminder.Layout))

	_, ok := h.bot.pending.Peek(userID)
	assert.False(t, ok)
	assert.Equal(t, screen.NotFoundContent(), h.ch.Content(root))
}

func TestPresetReminderForMissingPlaceShowsNotFound(t *testing.T) {
	h := newHarness(t, plainPlaces(1))
	root := h.root(t)

	h.press(root, callback.SetReminderData(999, 3))

	assert.Equal(t, screen.NotFoundContent(), h.ch.Content(root))
}

func TestEveryCallbackIsAnswered(t *testing.T) {
	h := newHarness(t, plainPlaces(1))
	root := h.root(t)

	h.press(root, "garbage")
	assert.Equal(t, screen.UnknownActionContent(), h.ch.LastSent().Content)
	notice := h.ch.LastSent().ID

	h.press(root, "place_abc")
	assert.Equal(t, screen.UnknownActionContent(), h.ch.LastSent().Content)

	h.press(root, callback.ProfileData())
	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{ID: "orphan", From: &tgbotapi.User{ID: userID}}})

	assert.Len(t, h.ch.Answers, 4)
	assert.Contains(t, h.ch.Content(root).Text, "Добро пожаловать, Anna!")

	h.press(root, callback.MainMenuData())
	assert.True(t, h.ch.WasDeleted(notice))
}

func TestRunDrainsUpdates(t *testing.T) {
	h := newHarness(t, plainPlaces(1))
	updates := make(chan tgbotapi.Update, 3)
	for i := 0; i < 3; i++ {
		updates <- tgbotapi.Update{UpdateID: i, Message: &tgbotapi.Message{
			MessageID: i + 1,
			From:      &tgbotapi.User{ID: int64(100 + i)},
			Chat:      &tgbotapi.Chat{ID: int64(100 + i)},
			Text:      "hello",
		}}
	}
	close(updates)

	require.NoError(t, h.bot.Run(context.Background(), updates))
	handled, failed := h.bot.Stats()
	assert.EqualValues(t, 3, handled)
	assert.Zero(t, failed)
}

// slowUsers задерживает первую запись профиля: без очереди на чат первое событие
// закончилось бы последним.
type slowUsers struct {
	users.Repository
	delay time.Duration
	once  sync.Once
}

func (r *slowUsers) UpsertUser(ctx context.Context, u storage.User) error {
	r.once.Do(func() { time.Sleep(r.delay) })
	return r.Repository.UpsertUser(ctx, u)
}

func TestRunKeepsChatOrder(t *testing.T) {
	h := newHarness(t, plainPlaces(1))
	h.bot.users = users.New(&slowUsers{Repository: h.store, delay: 50 * time.Millisecond}, time.Hour)
	h.bot.workers = 4

	from := &tgbotapi.User{ID: userID, FirstName: "Anna"}
	updates := make(chan tgbotapi.Update, 2)
	updates <- tgbotapi.Update{UpdateID: 1, CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "rate",
		From:    from,
		Message: &tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: userID}},
		Data:    callback.ReviewRateData(1, 5),
	}}
	updates <- tgbotapi.Update{UpdateID: 2, Message: &tgbotapi.Message{
		MessageID: 2,
		From:      from,
		Chat:      &tgbotapi.Chat{ID: userID},
		Text:      "great",
	}}
	close(updates)

	require.NoError(t, h.bot.Run(context.Background(), updates))

	reviews, err := h.store.ListReviews(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, "great", reviews[0].Text)
	assert.Equal(t, 5, reviews[0].Rating)
	_, ok := h.bot.pending.Peek(userID)
	assert.False(t, ok)
}

func TestChatOfAndQueueIndex(t *testing.T) {
	cases := []struct {
		name string
		upd  tgbotapi.Update
		want int64
	}{
		{"message", tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 5}}}, 5},
		{"callback", tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
			From: &tgbotapi.User{ID: 9}, Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: -100}}}}, -100},
		{"inline callback", tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{From: &tgbotapi.User{ID: 9}}}, 9},
		{"empty", tgbotapi.Update{}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, chatOf(c.upd))
		})
	}

	for _, id := range []int64{0, 1, 7, -1001234567890} {
		i := queueIndex(id, 4)
		assert.GreaterOrEqual(t, i, 0)
		assert.Less(t, i, 4)
		assert.Equal(t, i, queueIndex(id, 4))
	}
}
