// Package reminder parses reminder times and delivers due reminders.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"time"

	"go.uber.org/zap"

	"place-bot/internal/callback"
	"place-bot/internal/chat"
	"place-bot/internal/storage"
)

const Layout = "02.01.2006 15:04"

var (
	ErrFormat = errors.New("reminder time must look like DD.MM.YYYY HH:MM")
	ErrPast   = errors.New("reminder time must be in the future")
)

// Presets are the "remind me in N days" choices.
var Presets = []int{1, 3, 7, 14, 30}

var dateTimePattern = regexp.MustCompile(`^\s*(\d{2}\.\d{2}\.\d{4})\s+(\d{2}:\d{2})\s*$`)

// LooksLikeDateTime reports whether text has the DD.MM.YYYY HH:MM shape.
func LooksLikeDateTime(text string) bool {
	return dateTimePattern.MatchString(text)
}

// ParseDateTime reads a DD.MM.YYYY HH:MM literal in loc and requires it to be after now.
func ParseDateTime(text string, now time.Time, loc *time.Location) (time.Time, error) {
	m := dateTimePattern.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, ErrFormat
	}
	t, err := time.ParseInLocation(Layout, m[1]+" "+m[2], loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if !t.After(now) {
		return time.Time{}, ErrPast
	}
	return t, nil
}

// After returns the moment a preset reminder fires.
func After(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, days)
}

// Message is the notification sent when a reminder is due.
func Message(r storage.Reminder, loc *time.Location) chat.Content {
	text := fmt.Sprintf("🔔 <b>Напоминание!</b>\n\nВы хотели посетить: <b>%s</b>\n📅 %s",
		html.EscapeString(r.Place.Name), r.RemindAt.In(loc).Format(Layout))
	if r.Place.Address != "" {
		text += "\n📍 " + html.EscapeString(r.Place.Address)
	}
	return chat.Content{
		Text: text,
		Keyboard: chat.Keyboard{
			chat.Row(chat.Callback("📍 Открыть место", callback.PlaceData(r.PlaceID, false))),
		},
	}
}

// DueStore is what the sweep needs from storage.
type DueStore interface {
	DueReminders(ctx context.Context, now time.Time) ([]storage.Reminder, error)
	CompleteReminder(ctx context.Context, id int64) error
}

// Sender delivers a notification to a user's chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, c chat.Content) (int, error)
}

// Sweeper loads due reminders, notifies their users and marks them completed.
type Sweeper struct {
	store DueStore
	ch    Sender
	loc   *time.Location
	now   func() time.Time
	log   *zap.Logger
}

func NewSweeper(store DueStore, ch Sender, loc *time.Location, log *zap.Logger) *Sweeper {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{store: store, ch: ch, loc: loc, now: time.Now, log: log}
}

// Sweep runs one pass and returns how many reminders were completed.
// A failed notification still completes its reminder so a blocked chat is not retried forever.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	due, err := s.store.DueReminders(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("load due reminders: %w", err)
	}
	done := 0
	for _, r := range due {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if _, err := s.ch.Send(ctx, r.UserID, Message(r, s.loc)); err != nil {
			s.log.Warn("reminder notification failed",
				zap.Int64("reminder_id", r.ID), zap.Int64("user_id", r.UserID), zap.Error(err))
		}
		if err := s.store.CompleteReminder(ctx, r.ID); err != nil {
			s.log.Error("complete reminder failed", zap.Int64("reminder_id", r.ID), zap.Error(err))
			continue
		}
		done++
	}
	if done > 0 {
		s.log.Info("reminders delivered", zap.Int("count", done))
	}
	return done, nil
}
