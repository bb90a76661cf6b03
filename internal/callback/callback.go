// Package callback encodes and parses the payloads carried by inline buttons.
package callback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrUnknown   = errors.New("unknown callback payload")
	ErrMalformed = errors.New("malformed callback payload")
)

type Kind int

const (
	Unknown Kind = iota
	MainMenu
	Profile
	Places
	FilterType
	FilterDistrict
	FilterCategory
	PlacesPage
	Place
	Reviews
	ReminderDate
	ReminderMenu
	SetReminder
	Achievements
	VisitedPlaces
	Reminders
	Visit
	ReviewRate
	ReviewSkip
	PlayQuiz
	QuizAnswer
	QuizNext
)

// Filter types offered on the filter screen.
const (
	TypeAll      = "all"
	TypeDistrict = "district"
	TypeCategory = "category"
)

// Action is a parsed payload. Only the fields relevant to Kind are set.
type Action struct {
	Kind       Kind
	PlaceID    int64
	First      bool
	FilterType string
	District   string
	Category   string
	Page       int
	Days       int
	Rating     int
	Index      int
}

const (
	mainMenu      = "mainMenu"
	seeProfile    = "seeProfile"
	seePlaces     = "seePlaces"
	filterReset   = "filter_reset"
	achievements  = "achievments"
	seeVisited    = "seeVisitedPlaces"
	seeReminders  = "seeReminders"
	playGame      = "playGame"
	nullToken     = "null"
	allToken      = "all"
	firstSuffix   = "_first"
	pFilterType   = "filter_type_"
	pFilterDist   = "filter_district_"
	pFilterCat    = "filter_category_"
	pPlacesPage   = "places_page_"
	pPlace        = "place_"
	pReviews      = "reviews_"
	pReminderDate = "reminder_date_"
	pReminder     = "reminder_"
	pSetReminder  = "set_reminder_"
	pVisit        = "visit_"
	pReviewRate   = "review_rate_"
	pReviewSkip   = "review_skip_"
	pQuizAnswer   = "quiz_answer_"
	pQuizNext     = "quiz_next_"
)

var exact = map[string]Kind{
	mainMenu:     MainMenu,
	seeProfile:   Profile,
	seePlaces:    Places,
	filterReset:  Places,
	achievements: Achievements,
	seeVisited:   VisitedPlaces,
	seeReminders: Reminders,
	playGame:     PlayQuiz,
}

// Parse turns a payload into an Action. Prefixes are tried from the most specific one.
func Parse(data string) (Action, error) {
	if k, ok := exact[data]; ok {
		return Action{Kind: k}, nil
	}
	switch {
	case strings.HasPrefix(data, pFilterType):
		t := strings.TrimPrefix(data, pFilterType)
		switch t {
		case TypeAll, TypeDistrict, TypeCategory:
			return Action{Kind: FilterType, FilterType: t}, nil
		}
		return Action{}, fmt.Errorf("%w: filter type %q", ErrMalformed, t)
	case strings.HasPrefix(data, pFilterDist):
		return Action{Kind: FilterDistrict, District: orEmpty(strings.TrimPrefix(data, pFilterDist), allToken)}, nil
	case strings.HasPrefix(data, pFilterCat):
		return Action{Kind: FilterCategory, Category: orEmpty(strings.TrimPrefix(data, pFilterCat), allToken)}, nil
	case strings.HasPrefix(data, pPlacesPage):
		return parsePage(strings.TrimPrefix(data, pPlacesPage))
	case strings.HasPrefix(data, pPlace):
		rest := strings.TrimPrefix(data, pPlace)
		first := strings.HasSuffix(rest, firstSuffix)
		id, err := parseID(strings.TrimSuffix(rest, firstSuffix))
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: Place, PlaceID: id, First: first}, nil
	case strings.HasPrefix(data, pReviews):
		return withID(Reviews, strings.TrimPrefix(data, pReviews))
	case strings.HasPrefix(data, pReminderDate):
		return withID(ReminderDate, strings.TrimPrefix(data, pReminderDate))
	case strings.HasPrefix(data, pReminder):
		return withID(ReminderMenu, strings.TrimPrefix(data, pReminder))
	case strings.HasPrefix(data, pSetReminder):
		id, n, err := parsePair(strings.TrimPrefix(data, pSetReminder))
		if err != nil {
			return Action{}, err
		}
		if n <= 0 {
			return Action{}, fmt.Errorf("%w: reminder days %d", ErrMalformed, n)
		}
		return Action{Kind: SetReminder, PlaceID: id, Days: n}, nil
	case strings.HasPrefix(data, pVisit):
		return withID(Visit, strings.TrimPrefix(data, pVisit))
	case strings.HasPrefix(data, pReviewRate):
		id, n, err := parsePair(strings.TrimPrefix(data, pReviewRate))
		if err != nil {
			return Action{}, err
		}
		if n < 1 || n > 5 {
			return Action{}, fmt.Errorf("%w: rating %d", ErrMalformed, n)
		}
		return Action{Kind: ReviewRate, PlaceID: id, Rating: n}, nil
	case strings.HasPrefix(data, pReviewSkip):
		return withID(ReviewSkip, strings.TrimPrefix(data, pReviewSkip))
	case strings.HasPrefix(data, pQuizAnswer):
		idx, id, err := parsePair(strings.TrimPrefix(data, pQuizAnswer))
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: QuizAnswer, Index: int(idx), PlaceID: int64(id)}, nil
	case strings.HasPrefix(data, pQuizNext):
		idx, err := strconv.Atoi(strings.TrimPrefix(data, pQuizNext))
		if err != nil || idx < 0 {
			return Action{}, fmt.Errorf("%w: quiz index in %q", ErrMalformed, data)
		}
		return Action{Kind: QuizNext, Index: idx}, nil
	}
	return Action{}, fmt.Errorf("%w: %q", ErrUnknown, data)
}

func parsePage(rest string) (Action, error) {
	parts := strings.SplitN(rest, "_", 3)
	if len(parts) != 3 {
		return Action{}, fmt.Errorf("%w: page payload %q", ErrMalformed, rest)
	}
	page, err := strconv.Atoi(parts[0])
	if err != nil {
		return Action{}, fmt.Errorf("%w: page %q", ErrMalformed, parts[0])
	}
	return Action{
		Kind:     PlacesPage,
		Page:     page,
		District: orEmpty(parts[1], nullToken),
		Category: orEmpty(parts[2], nullToken),
	}, nil
}

func withID(k Kind, s string) (Action, error) {
	id, err := parseID(s)
	if err != nil {
		return Action{}, err
	}
	return Action{Kind: k, PlaceID: id}, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: id %q", ErrMalformed, s)
	}
	return id, nil
}

// parsePair splits "a_b" into two integers.
func parsePair(s string) (int64, int, error) {
	a, b, ok := strings.Cut(s, "_")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	x, err := strconv.ParseInt(a, 10, 64)
	if err != nil || x < 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrMalformed, a)
	}
	y, err := strconv.Atoi(b)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrMalformed, b)
	}
	return x, y, nil
}

func orEmpty(s, token string) string {
	if s == token {
		return ""
	}
	return s
}

func orToken(s, token string) string {
	if s == "" {
		return token
	}
	return s
}

func MainMenuData() string      { return mainMenu }
func ProfileData() string       { return seeProfile }
func PlacesData() string        { return seePlaces }
func AchievementsData() string  { return achievements }
func VisitedPlacesData() string { return seeVisited }
func RemindersData() string     { return seeReminders }
func PlayQuizData() string      { return playGame }

func FilterTypeData(t string) string { return pFilterType + t }

// FilterDistrictData selects a district; an empty name selects all districts.
func FilterDistrictData(name string) string { return pFilterDist + orToken(name, allToken) }

func FilterCategoryData(name string) string { return pFilterCat + orToken(name, allToken) }

func PlacesPageData(page int, district, category string) string {
	return pPlacesPage + strconv.Itoa(page) + "_" + orToken(district, nullToken) + "_" + orToken(category, nullToken)
}

func PlaceData(id int64, first bool) string {
	s := pPlace + strconv.FormatInt(id, 10)
	if first {
		s += firstSuffix
	}
	return s
}

func ReviewsData(id int64) string      { return pReviews + strconv.FormatInt(id, 10) }
func ReminderDateData(id int64) string { return pReminderDate + strconv.FormatInt(id, 10) }
func ReminderMenuData(id int64) string { return pReminder + strconv.FormatInt(id, 10) }
func VisitData(id int64) string        { return pVisit + strconv.FormatInt(id, 10) }
func ReviewSkipData(id int64) string   { return pReviewSkip + strconv.FormatInt(id, 10) }

func SetReminderData(id int64, days int) string {
	return pSetReminder + strconv.FormatInt(id, 10) + "_" + strconv.Itoa(days)
}

func ReviewRateData(id int64, rating int) string {
	return pReviewRate + strconv.FormatInt(id, 10) + "_" + strconv.Itoa(rating)
}

func QuizAnswerData(index int, placeID int64) string {
	return pQuizAnswer + strconv.Itoa(index) + "_" + strconv.FormatInt(placeID, 10)
}

func QuizNextData(index int) string { return pQuizNext + strconv.Itoa(index) }
