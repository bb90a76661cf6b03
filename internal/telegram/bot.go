// Package telegram связывает логику диалога с Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"place-bot/internal/pending"
	"place-bot/internal/quiz"
	"place-bot/internal/screen"
	"place-bot/internal/storage"
	"place-bot/internal/users"
)

const (
	defaultWorkers = 8
	// очередь одного воркера; при переполнении чтение обновлений ждет
	queueSize = 64
)

// Store - часть хранилища, в которую обработчики пишут напрямую.
type Store interface {
	GetPlace(ctx context.Context, id int64) (storage.Place, error)
	AddVisit(ctx context.Context, userID, placeID int64, at time.Time) (bool, error)
	ReplaceReminder(ctx context.Context, r storage.Reminder) (int64, error)
	AddReview(ctx context.Context, r storage.Review) error
}

type Evaluator interface {
	Evaluate(ctx context.Context, userID int64) ([]storage.Achievement, error)
}

type Deps struct {
	Store        Store
	Screens      *screen.Controller
	Pending      *pending.Tracker
	Quiz         *quiz.Engine
	Achievements Evaluator
	Users        *users.Service
	Location     *time.Location
	Workers      int
	Logger       *zap.Logger
}

type Bot struct {
	ch           Answerer
	store        Store
	screens      *screen.Controller
	pending      *pending.Tracker
	quiz         *quiz.Engine
	achievements Evaluator
	users        *users.Service
	loc          *time.Location
	workers      int
	now          func() time.Time
	log          *zap.Logger

	handled atomic.Int64
	failed  atomic.Int64
}

// Answerer подтверждает нажатия кнопок.
type Answerer interface {
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

func New(ch Answerer, d Deps) *Bot {
	b := &Bot{
		ch:           ch,
		store:        d.Store,
		screens:      d.Screens,
		pending:      d.Pending,
		quiz:         d.Quiz,
		achievements: d.Achievements,
		users:        d.Users,
		loc:          d.Location,
		workers:      d.Workers,
		now:          time.Now,
		log:          d.Logger,
	}
	if b.loc == nil {
		b.loc = time.UTC
	}
	if b.workers <= 0 {
		b.workers = defaultWorkers
	}
	if b.log == nil {
		b.log = zap.NewNop()
	}
	return b
}

// NewAPI авторизуется в Bot API.
func NewAPI(token string, debug bool) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	api.Debug = debug
	return api, nil
}

// Start опрашивает api (long polling), пока ctx не отменен.
func (b *Bot) Start(ctx context.Context, api *tgbotapi.BotAPI) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)
	b.log.Info("🤖 bot started", zap.String("username", api.Self.UserName), zap.Int("workers", b.workers))
	go func() {
		<-ctx.Done()
		api.StopReceivingUpdates()
	}()
	return b.Run(ctx, updates)
}

// Run раздает обновления по Workers очередям. Очередь выбирается по чату, поэтому
// события одного чата обрабатываются строго по порядку, а разные чаты идут параллельно.
// Возвращается, когда канал закрыт или ctx отменен и все очереди разобраны.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	queues := make([]chan tgbotapi.Update, b.workers)
	g := new(errgroup.Group)
	for i := range queues {
		q := make(chan tgbotapi.Update, queueSize)
		queues[i] = q
		g.Go(func() error {
			for upd := range q {
				b.HandleUpdate(ctx, upd)
			}
			return nil
		})
	}
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case upd, ok := <-updates:
			if !ok {
				break loop
			}
			select {
			case queues[queueIndex(chatOf(upd), len(queues))] <- upd:
			case <-ctx.Done():
				break loop
			}
		}
	}
	for _, q := range queues {
		close(q)
	}
	_ = g.Wait()
	b.log.Info("bot stopped", zap.Int64("handled", b.handled.Load()), zap.Int64("failed", b.failed.Load()))
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// chatOf возвращает чат, к которому относится обновление, или 0.
func chatOf(upd tgbotapi.Update) int64 {
	switch {
	case upd.Message != nil && upd.Message.Chat != nil:
		return upd.Message.Chat.ID
	case upd.CallbackQuery != nil && upd.CallbackQuery.Message != nil && upd.CallbackQuery.Message.Chat != nil:
		return upd.CallbackQuery.Message.Chat.ID
	case upd.CallbackQuery != nil && upd.CallbackQuery.From != nil:
		return upd.CallbackQuery.From.ID
	}
	return 0
}

func queueIndex(chatID int64, n int) int {
	return int(uint64(chatID) % uint64(n))
}

// HandleUpdate обрабатывает одно обновление. Паника в обработчике логируется и гасится.
func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	log := b.log.With(zap.String("trace", uuid.NewString()), zap.Int("update_id", upd.UpdateID))
	defer func() {
		if r := recover(); r != nil {
			b.failed.Add(1)
			log.Error("handler panic", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	b.handled.Add(1)

	switch {
	case upd.Message != nil:
		b.handleMessage(ctx, log, upd.Message)
	case upd.CallbackQuery != nil:
		b.handleCallback(ctx, log, upd.CallbackQuery)
	}
}

// Stats отдает счетчики для служебного HTTP.
func (b *Bot) Stats() (handled, failed int64) {
	return b.handled.Load(), b.failed.Load()
}

func (b *Bot) touch(ctx context.Context, log *zap.Logger, from *tgbotapi.User) {
	if from == nil || b.users == nil {
		return
	}
	u := storage.User{ID: from.ID, Username: from.UserName, FirstName: from.FirstName, LastName: from.LastName}
	if err := b.users.Touch(ctx, u); err != nil {
		log.Warn("user upsert failed", zap.Int64("user_id", from.ID), zap.Error(err))
	}
}
