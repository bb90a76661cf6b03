// Package pending remembers which free-text answer a user owes the bot.
package pending

import (
	"time"

	"place-bot/internal/state"
)

// Input is the kind of text the bot waits for.
type Input interface {
	pending()
}

// AwaitingReminderDateTime waits for a "DD.MM.YYYY HH:MM" literal for a place reminder.
type AwaitingReminderDateTime struct {
	PlaceID int64
}

// AwaitingReviewText waits for the body of a review whose rating is already chosen.
type AwaitingReviewText struct {
	PlaceID int64
	Rating  int
}

func (AwaitingReminderDateTime) pending() {}
func (AwaitingReviewText) pending()       {}

// Tracker holds at most one pending input per user. A new Set replaces the old one.
type Tracker struct {
	inputs *state.Map[Input]
}

func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{inputs: state.New[Input](ttl)}
}

func (t *Tracker) Set(userID int64, in Input) {
	t.inputs.Store(userID, in)
}

// Peek returns the pending input without consuming it.
func (t *Tracker) Peek(userID int64) (Input, bool) {
	return t.inputs.Load(userID)
}

// TryConsume removes and returns the pending input.
func (t *Tracker) TryConsume(userID int64) (Input, bool) {
	return t.inputs.LoadAndDelete(userID)
}

func (t *Tracker) Clear(userID int64) {
	t.inputs.Delete(userID)
}

func (t *Tracker) Len() int   { return t.inputs.Len() }
func (t *Tracker) Evict() int { return t.inputs.Evict() }
