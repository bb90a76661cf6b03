// Package storage persists places, users and everything users do with them.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("not found")

type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DisplayName returns the first name, falling back to the username.
func (u User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Username
}

type Place struct {
	ID          int64
	Name        string
	Description string
	Address     string
	District    string
	Category    string
	Latitude    float64
	Longitude   float64
	// Image is a file name inside the photos directory.
	Image string
}

func (p Place) HasImage() bool { return strings.TrimSpace(p.Image) != "" }

func (p Place) HasLocation() bool { return p.Latitude != 0 || p.Longitude != 0 }

// PlaceFilter narrows place queries. Empty fields match everything.
type PlaceFilter struct {
	District  string
	Category  string
	WithImage bool
}

type Visit struct {
	UserID    int64
	PlaceID   int64
	VisitedAt time.Time
	Place     Place
}

type Reminder struct {
	ID        int64
	UserID    int64
	PlaceID   int64
	RemindAt  time.Time
	Completed bool
	CreatedAt time.Time
	Place     Place
}

type Review struct {
	ID      int64
	UserID  int64
	PlaceID int64
	Rating  int
	// Text is empty when the user left only a rating.
	Text      string
	CreatedAt time.Time
	Author    string
}

type Rating struct {
	Average float64
	Count   int
}

type AchievementKind string

const (
	KindFirstVisit       AchievementKind = "first_visit"
	KindPlacesVisited    AchievementKind = "places_visited"
	KindCategoryExplorer AchievementKind = "category_explorer"
	KindDistrictExplorer AchievementKind = "district_explorer"
	KindReminderMaster   AchievementKind = "reminder_master"
	KindQuizCompleted    AchievementKind = "quiz_completed"
)

// Scope of a quiz rule threshold.
const (
	ScopeSession    = "session"
	ScopeCumulative = "cumulative"
)

type Achievement struct {
	Code        string
	Name        string
	Description string
	Icon        string
	Kind        AchievementKind
	Threshold   int
	// Scope is only meaningful for quiz rules; empty means derived from the threshold.
	Scope string
}

type UserAchievement struct {
	UserID     int64
	Code       string
	UnlockedAt time.Time
}

type QuizResult struct {
	ID          int64
	UserID      int64
	Total       int
	Correct     int
	CompletedAt time.Time
}

// Store is the full persistence contract. Consumers declare the narrow subset they use.
type Store interface {
	UpsertUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id int64) (User, error)

	InsertPlaces(ctx context.Context, places []Place) error
	GetPlace(ctx context.Context, id int64) (Place, error)
	// ListPlaces returns places ordered by name. A non-positive limit returns all of them.
	ListPlaces(ctx context.Context, f PlaceFilter, offset, limit int) ([]Place, error)
	CountPlaces(ctx context.Context, f PlaceFilter) (int, error)
	Districts(ctx context.Context) ([]string, error)
	Categories(ctx context.Context) ([]string, error)

	// AddVisit reports false when the visit was already recorded.
	AddVisit(ctx context.Context, userID, placeID int64, at time.Time) (bool, error)
	HasVisit(ctx context.Context, userID, placeID int64) (bool, error)
	// ListVisits returns visits newest first with their places.
	ListVisits(ctx context.Context, userID int64) ([]Visit, error)

	// ReplaceReminder drops pending reminders for the same user and place, then stores r.
	ReplaceReminder(ctx context.Context, r Reminder) (int64, error)
	ActiveReminder(ctx context.Context, userID, placeID int64, now time.Time) (Reminder, error)
	ListActiveReminders(ctx context.Context, userID int64, now time.Time) ([]Reminder, error)
	CountReminders(ctx context.Context, userID int64) (int, error)
	DueReminders(ctx context.Context, now time.Time) ([]Reminder, error)
	CompleteReminder(ctx context.Context, id int64) error

	AddReview(ctx context.Context, r Review) error
	ListReviews(ctx context.Context, placeID int64, limit int) ([]Review, error)
	PlaceRating(ctx context.Context, placeID int64) (Rating, error)

	// UpsertAchievements stores rules by code, keeping the given order.
	UpsertAchievements(ctx context.Context, rules []Achievement) error
	ListAchievements(ctx context.Context) ([]Achievement, error)
	ListUnlocked(ctx context.Context, userID int64) ([]UserAchievement, error)
	// Unlock reports false when the pair was already unlocked.
	Unlock(ctx context.Context, ua UserAchievement) (bool, error)

	AddQuizResult(ctx context.Context, r QuizResult) error
	ListQuizResults(ctx context.Context, userID int64) ([]QuizResult, error)

	Close() error
}

func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
