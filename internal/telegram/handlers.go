package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"place-bot/internal/callback"
	"place-bot/internal/chat"
	"place-bot/internal/pending"
	"place-bot/internal/quiz"
	"place-bot/internal/reminder"
	"place-bot/internal/screen"
	"place-bot/internal/storage"
)

const (
	reviewEmpty = "-"

	toastVisited        = "Место отмечено как посещенное! ✅"
	toastAlreadyVisited = "Это место уже отмечено как посещенное!"
	toastReminderSet    = "Напоминание установлено! 🔔"

	textUnknownReminder = "❌ Не удалось определить место для напоминания."
	textReminderPast    = "❌ Дата и время должны быть в будущем!"
	textReminderFormat  = "❌ Неверный формат даты. Используйте: ДД.ММ.ГГГГ ЧЧ:ММ"
	textReviewPrompt    = "📝 Хотите оставить отзыв? Сначала выберите оценку:"
)

// event - чат, пользователь и сообщение входящего обновления.
type event struct {
	chatID    int64
	userID    int64
	messageID int
	log       *zap.Logger
}

// handleMessage разбирает текст: сначала ожидаемый отзыв, потом /start,
// потом дата напоминания, если ее запрашивали.
func (b *Bot) handleMessage(ctx context.Context, log *zap.Logger, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	b.touch(ctx, log, msg.From)
	ev := event{chatID: msg.Chat.ID, userID: msg.From.ID, messageID: msg.MessageID, log: log}
	text := strings.TrimSpace(msg.Text)
	log.Debug("incoming message", zap.Int64("chat_id", ev.chatID), zap.Int64("user_id", ev.userID), zap.Int("len", len(text)))
	if text == "" {
		return
	}

	if review, ok := b.consumeReview(ev.userID); ok {
		b.saveReview(ctx, ev, review, text)
		return
	}

	if msg.IsCommand() && msg.Command() == "start" {
		b.start(ctx, ev)
		return
	}

	if in, ok := b.pending.Peek(ev.userID); ok {
		if want, ok := in.(pending.AwaitingReminderDateTime); ok {
			b.reminderFromText(ctx, ev, want, text)
			return
		}
	}
	if reminder.LooksLikeDateTime(text) {
		b.notice(ctx, ev, textUnknownReminder)
		return
	}
	log.Debug("text ignored", zap.Int64("user_id", ev.userID))
}

// consumeReview забирает ожидание ввода, только если ждем текст отзыва.
func (b *Bot) consumeReview(userID int64) (pending.AwaitingReviewText, bool) {
	in, ok := b.pending.Peek(userID)
	if !ok {
		return pending.AwaitingReviewText{}, false
	}
	if _, ok := in.(pending.AwaitingReviewText); !ok {
		return pending.AwaitingReviewText{}, false
	}
	in, ok = b.pending.TryConsume(userID)
	if !ok {
		return pending.AwaitingReviewText{}, false
	}
	review, ok := in.(pending.AwaitingReviewText)
	if !ok {
		// между проверками ожидание сменилось, возвращаем его
		b.pending.Set(userID, in)
	}
	return review, ok
}

func (b *Bot) start(ctx context.Context, ev event) {
	b.abortQuiz(ev)
	b.screens.Discard(ctx, ev.chatID, ev.messageID)
	if err := b.screens.Home(ctx, ev.chatID, ev.userID); err != nil {
		ev.log.Warn("start failed", zap.Int64("chat_id", ev.chatID), zap.Error(err))
	}
}

// saveReview сохраняет отзыв и возвращает в меню. Ожидание уже снято,
// поэтому ошибка хранилища не повторяется.
func (b *Bot) saveReview(ctx context.Context, ev event, in pending.AwaitingReviewText, text string) {
	if text == reviewEmpty {
		text = ""
	}
	err := b.store.AddReview(ctx, storage.Review{
		UserID:    ev.userID,
		PlaceID:   in.PlaceID,
		Rating:    min(max(in.Rating, 1), 5),
		Text:      text,
		CreatedAt: b.now(),
	})
	if err != nil {
		ev.log.Error("save review failed", zap.Int64("user_id", ev.userID), zap.Int64("place_id", in.PlaceID), zap.Error(err))
	} else {
		ev.log.Info("review saved", zap.Int64("user_id", ev.userID), zap.Int64("place_id", in.PlaceID), zap.Int("rating", in.Rating))
	}
	b.screens.Discard(ctx, ev.chatID, ev.messageID)
	b.home(ctx, ev)
}

// reminderFromText обрабатывает ответ на запрос даты. При неверном вводе запрос остается.
func (b *Bot) reminderFromText(ctx context.Context, ev event, in pending.AwaitingReminderDateTime, text string) {
	at, err := reminder.ParseDateTime(text, b.now(), b.loc)
	switch {
	case errors.Is(err, reminder.ErrPast):
		b.notice(ctx, ev, textReminderPast)
		return
	case err != nil:
		b.notice(ctx, ev, textReminderFormat)
		return
	}
	if _, err := b.store.ReplaceReminder(ctx, storage.Reminder{
		UserID:    ev.userID,
		PlaceID:   in.PlaceID,
		RemindAt:  at,
		CreatedAt: b.now(),
	}); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.pending.Clear(ev.userID)
			b.show(ctx, ev, screen.PlaceDetail{PlaceID: in.PlaceID})
			return
		}
		ev.log.Error("save reminder failed", zap.Int64("user_id", ev.userID), zap.Int64("place_id", in.PlaceID), zap.Error(err))
		b.notice(ctx, ev, screen.ErrorContent().Text)
		return
	}
	b.pending.Clear(ev.userID)
	ev.log.Info("reminder set", zap.Int64("user_id", ev.userID), zap.Int64("place_id", in.PlaceID), zap.Time("at", at))
	b.screens.Discard(ctx, ev.chatID, ev.messageID)
	b.evaluate(ctx, ev)
	b.home(ctx, ev)
}

// handleCallback отвечает на каждое нажатие ровно один раз.
func (b *Bot) handleCallback(ctx context.Context, log *zap.Logger, cb *tgbotapi.CallbackQuery) {
	b.touch(ctx, log, cb.From)
	toast := ""
	defer func() {
		if err := b.ch.AnswerCallback(ctx, cb.ID, toast); err != nil {
			log.Debug("answer callback failed", zap.Error(err))
		}
	}()
	if cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	ev := event{chatID: cb.Message.Chat.ID, userID: cb.From.ID, messageID: cb.Message.MessageID, log: log}
	log.Debug("incoming callback", zap.Int64("chat_id", ev.chatID), zap.Int64("user_id", ev.userID), zap.String("data", cb.Data))

	if err := b.screens.EnsureRoot(ctx, ev.chatID); err != nil {
		log.Warn("ensure root failed", zap.Int64("chat_id", ev.chatID), zap.Error(err))
		return
	}
	// сообщение с кнопкой удалится при следующей очистке, если это не корневое
	b.screens.Track(ev.chatID, ev.messageID)

	a, err := callback.Parse(cb.Data)
	if err != nil {
		log.Info("unknown callback", zap.String("data", cb.Data), zap.Error(err))
		if _, err := b.screens.SendTransient(ctx, ev.chatID, screen.UnknownActionContent()); err != nil {
			log.Debug("notice failed", zap.Int64("chat_id", ev.chatID), zap.Error(err))
		}
		return
	}

	toast, err = b.dispatch(ctx, ev, a)
	if err != nil {
		b.failed.Add(1)
		log.Warn("callback failed", zap.String("data", cb.Data), zap.Error(err))
	}
}

func (b *Bot) dispatch(ctx context.Context, ev event, a callback.Action) (string, error) {
	switch a.Kind {
	case callback.MainMenu:
		b.abortQuiz(ev)
		return "", b.screens.Home(ctx, ev.chatID, ev.userID)
	case callback.Profile:
		return "", b.screens.Show(ctx, ev.chatID, ev.userID, screen.Profile{})
	case callback.Places:
		return "", b.screens.Show(ctx, ev.chatID, ev.userID, screen.FilterType{})
	case callback.FilterType:
		return "", b.screens.Show(ctx, ev.chatID, ev.userID, filterScreen(a.FilterType))
	case callback.FilterDistrict:
		return "", b.screens.Show(ctx, ev.chatID, ev.userID, screen.PlaceList{District: a.District})
	case callback.FilterCategory:
		return "", b.screens.Show(ctx, ev.chatID, ev.userID, screen.PlaceList{Category: a.Category})
	case callback.PlacesPage:
		return "", b.screens.Show(ctx, ev.chatID, ev.userID, screen.PlaceList{District: a.District, Category: a.Category, Page: a.Page})
	case callback.Place:
		return "", b.screens.Show(ctx, ev.chatID, ev.userID, screen.PlaceDetail{PlaceID: a.PlaceID, FirstVisit: a.First})
	case callback.Reviews:
		return "", b.screens.Show(ctx, ev.chatID, ev.userID, screen.Reviews{PlaceID: a.PlaceID})
	case callback.ReminderMenu:
		return "", b.screens.Show(ctx, ev.chatID, ev.userID, screen.ReminderMenu{PlaceID: a.PlaceID})
	case callback.ReminderDate:
		b.pending.Set(ev.userID, pending.AwaitingReminderDateTime{PlaceID: a.PlaceID})
		return "", b.screens.Show(ctx, ev.chatID, ev.userID, screen.ReminderDatePrompt{PlaceID: a.PlaceID})
	case callback.SetReminder:
		return b.setReminder(ctx, ev, a.PlaceID, a.Days)
	case callback.Achievements:
		return "", b.screens.Show(ctx, ev.chatID, ev.userID, screen.Achievements{})
	case callback.VisitedPlaces:
		return "", b.screens.Show(ctx, ev.chatID, ev.userID, screen.VisitedList{})
	case callback.Reminders:
		return "", b.screens.Show(ctx, ev.chatID, ev.userID, screen.RemindersList{})
	case callback.Visit:
		return b.visit(ctx, ev, a.PlaceID)
	case callback.ReviewRate:
		b.pending.Set(ev.userID, pending.AwaitingReviewText{PlaceID: a.PlaceID, Rating: a.Rating})
		_, err := b.screens.SendTransient(ctx, ev.chatID, chat.Content{Text: fmt.Sprintf(
			"✍️ Оценка: %d/5\nТеперь напишите текст отзыва одним сообщением.\n\nЕсли без текста, отправьте символ <b>%s</b>",
			a.Rating, reviewEmpty)})
		return "", err
	case callback.ReviewSkip:
		b.pending.Clear(ev.userID)
		return "", b.screens.Home(ctx, ev.chatID, ev.userID)
	case callback.PlayQuiz:
		return "", b.startQuiz(ctx, ev)
	case callback.QuizAnswer:
		return "", b.answerQuiz(ctx, ev, a.Index, a.PlaceID)
	case callback.QuizNext:
		b.screens.Discard(ctx, ev.chatID, ev.messageID)
		return "", b.showQuestion(ctx, ev, a.Index)
	}
	return "", fmt.Errorf("unhandled callback kind %d", a.Kind)
}

func filterScreen(t string) screen.Descriptor {
	switch t {
	case callback.TypeDistrict:
		return screen.DistrictList{}
	case callback.TypeCategory:
		return screen.CategoryList{}
	}
	return screen.PlaceList{}
}

func (b *Bot) visit(ctx context.Context, ev event, placeID int64) (string, error) {
	if _, err := b.store.GetPlace(ctx, placeID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", b.screens.Show(ctx, ev.chatID, ev.userID, screen.PlaceDetail{PlaceID: placeID})
		}
		return "", err
	}
	added, err := b.store.AddVisit(ctx, ev.userID, placeID, b.now())
	if err != nil {
		return "", fmt.Errorf("add visit: %w", err)
	}
	if !added {
		return toastAlreadyVisited, nil
	}
	ev.log.Info("visit recorded", zap.Int64("user_id", ev.userID), zap.Int64("place_id", placeID))
	if err := b.screens.Show(ctx, ev.chatID, ev.userID, screen.PlaceDetail{PlaceID: placeID}); err != nil {
		return toastVisited, err
	}
	if _, err := b.screens.SendTransient(ctx, ev.chatID, reviewPrompt(placeID)); err != nil {
		ev.log.Debug("review prompt failed", zap.Error(err))
	}
	b.evaluate(ctx, ev)
	return toastVisited, nil
}

func reviewPrompt(placeID int64) chat.Content {
	stars := make([]chat.Button, 0, 5)
	for r := 1; r <= 5; r++ {
		stars = append(stars, chat.Callback(fmt.Sprintf("⭐ %d", r), callback.ReviewRateData(placeID, r)))
	}
	return chat.Content{
		Text: textReviewPrompt,
		Keyboard: chat.Keyboard{
			stars,
			chat.Row(chat.Callback("Пропустить", callback.ReviewSkipData(placeID))),
		},
	}
}

func (b *Bot) setReminder(ctx context.Context, ev event, placeID int64, days int) (string, error) {
	_, err := b.store.ReplaceReminder(ctx, storage.Reminder{
		UserID:    ev.userID,
		PlaceID:   placeID,
		RemindAt:  reminder.After(b.now(), days),
		CreatedAt: b.now(),
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return "", b.screens.Show(ctx, ev.chatID, ev.userID, screen.PlaceDetail{PlaceID: placeID})
	case err != nil:
		return "", fmt.Errorf("set reminder: %w", err)
	}
	// готовый вариант отменяет запрос даты вручную
	if in, ok := b.pending.Peek(ev.userID); ok {
		if _, ok := in.(pending.AwaitingReminderDateTime); ok {
			b.pending.Clear(ev.userID)
		}
	}
	ev.log.Info("reminder set", zap.Int64("user_id", ev.userID), zap.Int64("place_id", placeID), zap.Int("days", days))
	b.evaluate(ctx, ev)
	return toastReminderSet, b.screens.Show(ctx, ev.chatID, ev.userID, screen.PlaceDetail{PlaceID: placeID})
}

func (b *Bot) startQuiz(ctx context.Context, ev event) error {
	b.screens.Cleanup(ctx, ev.chatID)
	q, err := b.quiz.Start(ctx, ev.userID)
	switch {
	case errors.Is(err, quiz.ErrInsufficientData):
		_, err = b.screens.SendTransient(ctx, ev.chatID, quiz.NoticeContent(quiz.InsufficientDataText))
		return err
	case err != nil:
		b.notice(ctx, ev, screen.ErrorContent().Text)
		return fmt.Errorf("start quiz: %w", err)
	}
	_, err = b.screens.SendPhotoTransient(ctx, ev.chatID, q.Place.Image, quiz.QuestionContent(q))
	return err
}

// abortQuiz прерывает незавершенный квиз без записи результата.
func (b *Bot) abortQuiz(ev event) {
	if !b.quiz.Active(ev.userID) {
		return
	}
	b.quiz.Abort(ev.userID)
	ev.log.Info("quiz aborted", zap.Int64("user_id", ev.userID))
}

func (b *Bot) showQuestion(ctx context.Context, ev event, index int) error {
	q, done, err := b.quiz.Question(ev.userID, index)
	switch {
	case errors.Is(err, quiz.ErrNoSession):
		_, err = b.screens.SendTransient(ctx, ev.chatID, quiz.NoticeContent(quiz.NoSessionText))
		return err
	case err != nil:
		return err
	case done:
		return b.finishQuiz(ctx, ev)
	}
	_, err = b.screens.SendPhotoTransient(ctx, ev.chatID, q.Place.Image, quiz.QuestionContent(q))
	return err
}

func (b *Bot) answerQuiz(ctx context.Context, ev event, index int, placeID int64) error {
	o, err := b.quiz.Answer(ev.userID, index, placeID)
	switch {
	case errors.Is(err, quiz.ErrNoSession):
		_, err = b.screens.SendTransient(ctx, ev.chatID, quiz.NoticeContent(quiz.NoSessionText))
		return err
	case errors.Is(err, quiz.ErrStale):
		ev.log.Debug("stale quiz answer", zap.Int64("user_id", ev.userID), zap.Int("index", index))
		return nil
	case err != nil:
		return err
	}
	_, err = b.screens.SendPhotoTransient(ctx, ev.chatID, o.Answer.Image, quiz.OutcomeContent(o))
	return err
}

func (b *Bot) finishQuiz(ctx context.Context, ev event) error {
	sum, err := b.quiz.Finish(ctx, ev.userID)
	if errors.Is(err, quiz.ErrNoSession) {
		_, err = b.screens.SendTransient(ctx, ev.chatID, quiz.NoticeContent(quiz.NoSessionText))
		return err
	}
	if err != nil {
		// итог показываем, даже если не удалось записать результат
		ev.log.Error("finish quiz failed", zap.Int64("user_id", ev.userID), zap.Error(err))
	}
	_, err = b.screens.SendTransient(ctx, ev.chatID, quiz.SummaryContent(sum))
	return err
}

func (b *Bot) evaluate(ctx context.Context, ev event) {
	if b.achievements == nil {
		return
	}
	if _, err := b.achievements.Evaluate(ctx, ev.userID); err != nil {
		ev.log.Warn("achievement evaluation failed", zap.Int64("user_id", ev.userID), zap.Error(err))
	}
}

func (b *Bot) show(ctx context.Context, ev event, d screen.Descriptor) {
	if err := b.screens.Show(ctx, ev.chatID, ev.userID, d); err != nil {
		ev.log.Warn("show failed", zap.Int64("chat_id", ev.chatID), zap.Error(err))
	}
}

func (b *Bot) home(ctx context.Context, ev event) {
	if err := b.screens.Home(ctx, ev.chatID, ev.userID); err != nil {
		ev.log.Warn("home failed", zap.Int64("chat_id", ev.chatID), zap.Error(err))
	}
}

// notice отправляет временное сообщение с подсказкой.
func (b *Bot) notice(ctx context.Context, ev event, text string) {
	if _, err := b.screens.SendTransient(ctx, ev.chatID, chat.Content{Text: text}); err != nil {
		ev.log.Debug("notice failed", zap.Int64("chat_id", ev.chatID), zap.Error(err))
	}
}
