// Package screen renders menus into the single root message of a chat.
package screen

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"go.uber.org/zap"

	"place-bot/internal/callback"
	"place-bot/internal/chat"
	"place-bot/internal/session"
	"place-bot/internal/storage"
)

const DefaultPageSize = 8

type Store interface {
	GetUser(ctx context.Context, id int64) (storage.User, error)
	GetPlace(ctx context.Context, id int64) (storage.Place, error)
	ListPlaces(ctx context.Context, f storage.PlaceFilter, offset, limit int) ([]storage.Place, error)
	CountPlaces(ctx context.Context, f storage.PlaceFilter) (int, error)
	Districts(ctx context.Context) ([]string, error)
	Categories(ctx context.Context) ([]string, error)
	HasVisit(ctx context.Context, userID, placeID int64) (bool, error)
	ListVisits(ctx context.Context, userID int64) ([]storage.Visit, error)
	ActiveReminder(ctx context.Context, userID, placeID int64, now time.Time) (storage.Reminder, error)
	ListActiveReminders(ctx context.Context, userID int64, now time.Time) ([]storage.Reminder, error)
	ListReviews(ctx context.Context, placeID int64, limit int) ([]storage.Review, error)
	PlaceRating(ctx context.Context, placeID int64) (storage.Rating, error)
	ListAchievements(ctx context.Context) ([]storage.Achievement, error)
	ListUnlocked(ctx context.Context, userID int64) ([]storage.UserAchievement, error)
}

// Profiles resolves the user a profile screen is about.
type Profiles interface {
	Get(ctx context.Context, id int64) (storage.User, error)
}

type storeProfiles struct{ s Store }

func (p storeProfiles) Get(ctx context.Context, id int64) (storage.User, error) {
	return p.s.GetUser(ctx, id)
}

type Options struct {
	PageSize int
	// Profiles defaults to reading users straight from the store.
	Profiles Profiles
	Location *time.Location
	Logger   *zap.Logger
}

// Controller shows screens in the root message and sends transient messages around it.
type Controller struct {
	ch       chat.Channel
	sessions *session.Registry
	store    Store
	profiles Profiles
	pageSize int
	loc      *time.Location
	now      func() time.Time
	log      *zap.Logger
}

func NewController(ch chat.Channel, sessions *session.Registry, store Store, opts Options) *Controller {
	c := &Controller{
		ch:       ch,
		sessions: sessions,
		store:    store,
		profiles: opts.Profiles,
		pageSize: opts.PageSize,
		loc:      opts.Location,
		now:      time.Now,
		log:      opts.Logger,
	}
	if c.pageSize <= 0 {
		c.pageSize = DefaultPageSize
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	if c.profiles == nil {
		c.profiles = storeProfiles{store}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// Show renders d into the root message of the chat. Missing entities and store
// failures render terminal screens instead of returning errors; only a chat that
// cannot be written to at all yields an error.
func (c *Controller) Show(ctx context.Context, chatID, userID int64, d Descriptor) error {
	v, err := c.render(ctx, userID, d)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		v = view{content: NotFoundContent()}
	case err != nil:
		c.log.Error("render failed", zap.Int64("chat_id", chatID), zap.String("screen", fmt.Sprintf("%T", d)), zap.Error(err))
		v = view{content: ErrorContent()}
	}
	if err := c.present(ctx, chatID, v.content); err != nil {
		return err
	}
	if v.location != nil {
		id, err := c.ch.SendLocation(ctx, chatID, v.location.Latitude, v.location.Longitude)
		if err != nil {
			c.log.Debug("location send failed", zap.Int64("chat_id", chatID), zap.Error(err))
		} else {
			c.sessions.TrackTransient(chatID, id)
		}
	}
	return nil
}

// EnsureRoot makes sure the chat has a root message.
func (c *Controller) EnsureRoot(ctx context.Context, chatID int64) error {
	_, err := c.sessions.EnsureRoot(ctx, chatID)
	return err
}

// Cleanup deletes the transient messages of the chat.
func (c *Controller) Cleanup(ctx context.Context, chatID int64) {
	c.sessions.Cleanup(ctx, chatID)
}

// Home clears transient messages and shows the main menu.
func (c *Controller) Home(ctx context.Context, chatID, userID int64) error {
	c.sessions.Cleanup(ctx, chatID)
	return c.Show(ctx, chatID, userID, Home{})
}

// present edits the root in place and recreates it when the edit fails.
func (c *Controller) present(ctx context.Context, chatID int64, content chat.Content) error {
	root, err := c.sessions.EnsureRoot(ctx, chatID)
	if err != nil {
		return fmt.Errorf("ensure root: %w", err)
	}
	err = c.ch.Edit(ctx, chatID, root, content)
	if err == nil {
		return nil
	}
	c.log.Debug("root edit failed, recreating", zap.Int64("chat_id", chatID), zap.Int("message_id", root), zap.Error(err))
	id, err := c.ch.Send(ctx, chatID, content)
	if err != nil {
		return fmt.Errorf("recreate root: %w", err)
	}
	c.sessions.ReplaceRoot(ctx, chatID, id)
	return nil
}

// SendTransient sends a message that the next cleanup removes.
func (c *Controller) SendTransient(ctx context.Context, chatID int64, content chat.Content) (int, error) {
	id, err := c.ch.Send(ctx, chatID, content)
	if err != nil {
		return 0, err
	}
	c.sessions.TrackTransient(chatID, id)
	return id, nil
}

// SendPhotoTransient sends image with content as caption, falling back to a plain
// message when there is no image or the photo cannot be delivered.
func (c *Controller) SendPhotoTransient(ctx context.Context, chatID int64, image string, content chat.Content) (int, error) {
	if image != "" {
		id, err := c.ch.SendPhoto(ctx, chatID, image, content)
		if err == nil {
			c.sessions.TrackTransient(chatID, id)
			return id, nil
		}
		c.log.Debug("photo send failed, falling back to text", zap.String("image", image), zap.Error(err))
	}
	return c.SendTransient(ctx, chatID, content)
}

// Track registers an existing message, such as the one a button was pressed on, for cleanup.
func (c *Controller) Track(chatID int64, messageID int) {
	c.sessions.TrackTransient(chatID, messageID)
}

// Discard deletes a message right away, ignoring failures.
func (c *Controller) Discard(ctx context.Context, chatID int64, messageID int) {
	if err := c.ch.Delete(ctx, chatID, messageID); err != nil {
		c.log.Debug("delete failed", zap.Int64("chat_id", chatID), zap.Int("message_id", messageID), zap.Error(err))
	}
}

// NotifyAchievement tells a user about an unlocked achievement. Private chats share the user id.
func (c *Controller) NotifyAchievement(ctx context.Context, userID int64, a storage.Achievement) {
	content := chat.Content{
		Text: fmt.Sprintf("🎉 <b>Достижение разблокировано!</b>\n\n%s <b>%s</b>\n%s",
			a.Icon, html.EscapeString(a.Name), html.EscapeString(a.Description)),
	}
	id, err := c.ch.Send(ctx, userID, content)
	if err != nil {
		c.log.Warn("achievement notification failed", zap.Int64("user_id", userID), zap.String("code", a.Code), zap.Error(err))
		return
	}
	if _, ok := c.sessions.Root(userID); ok {
		c.sessions.TrackTransient(userID, id)
	}
}

// Paginate clamps page into [0, pages-1] and returns it with the page count.
func Paginate(total, size, page int) (int, int) {
	if size <= 0 {
		size = DefaultPageSize
	}
	pages := (total + size - 1) / size
	if pages == 0 {
		return 0, 0
	}
	return min(max(page, 0), pages-1), pages
}

func NotFoundContent() chat.Content {
	return chat.Content{
		Text:     "❌ Место не найдено.",
		Keyboard: chat.Keyboard{mainMenuRow()},
	}
}

// UnknownActionContent answers a button whose payload cannot be understood.
func UnknownActionContent() chat.Content {
	return chat.Content{
		Text:     "❓ Неизвестное действие. Вернитесь в главное меню.",
		Keyboard: chat.Keyboard{mainMenuRow()},
	}
}

func ErrorContent() chat.Content {
	return chat.Content{
		Text:     "⚠️ Что-то пошло не так. Попробуйте ещё раз позже.",
		Keyboard: chat.Keyboard{mainMenuRow()},
	}
}

func mainMenuRow() []chat.Button {
	return chat.Row(chat.Callback("🏠 Главное меню", callback.MainMenuData()))
}
