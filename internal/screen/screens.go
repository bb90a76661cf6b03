package screen

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"place-bot/internal/callback"
	"place-bot/internal/chat"
	"place-bot/internal/reminder"
	"place-bot/internal/storage"
)

const reviewsShown = 10

// Descriptor names a screen and carries what it needs to render.
type Descriptor interface {
	screen()
}

type (
	Home         struct{}
	Profile      struct{}
	FilterType   struct{}
	DistrictList struct{}
	CategoryList struct{}
	// PlaceList is a page of places; empty filters match everything.
	PlaceList struct {
		District string
		Category string
		Page     int
	}
	// PlaceDetail with FirstVisit also sends the location pin.
	PlaceDetail struct {
		PlaceID    int64
		FirstVisit bool
	}
	Reviews            struct{ PlaceID int64 }
	ReminderMenu       struct{ PlaceID int64 }
	ReminderDatePrompt struct{ PlaceID int64 }
	VisitedList        struct{}
	RemindersList      struct{}
	Achievements       struct{}
)

func (Home) screen()               {}
func (Profile) screen()            {}
func (FilterType) screen()         {}
func (DistrictList) screen()       {}
func (CategoryList) screen()       {}
func (PlaceList) screen()          {}
func (PlaceDetail) screen()        {}
func (Reviews) screen()            {}
func (ReminderMenu) screen()       {}
func (ReminderDatePrompt) screen() {}
func (VisitedList) screen()        {}
func (RemindersList) screen()      {}
func (Achievements) screen()       {}

type view struct {
	content  chat.Content
	location *storage.Place
}

func (c *Controller) render(ctx context.Context, userID int64, d Descriptor) (view, error) {
	switch d := d.(type) {
	case Home:
		return view{content: HomeContent()}, nil
	case Profile:
		return c.profile(ctx, userID)
	case FilterType:
		return view{content: filterTypeContent()}, nil
	case DistrictList:
		return c.choiceList(ctx, "🏘️ <b>Выберите район:</b>", "🏘️ Все районы", c.store.Districts, callback.FilterDistrictData)
	case CategoryList:
		return c.choiceList(ctx, "🏷️ <b>Выберите категорию:</b>", "🏷️ Все категории", c.store.Categories, callback.FilterCategoryData)
	case PlaceList:
		return c.placeList(ctx, d)
	case PlaceDetail:
		return c.placeDetail(ctx, userID, d)
	case Reviews:
		return c.reviews(ctx, d.PlaceID)
	case ReminderMenu:
		return c.reminderMenu(ctx, d.PlaceID)
	case ReminderDatePrompt:
		return c.reminderDatePrompt(ctx, d.PlaceID)
	case VisitedList:
		return c.visitedList(ctx, userID)
	case RemindersList:
		return c.remindersList(ctx, userID)
	case Achievements:
		return c.achievements(ctx, userID)
	}
	return view{}, fmt.Errorf("unknown screen %T", d)
}

// HomeContent is the main menu, also used as the first content of a new root.
func HomeContent() chat.Content {
	return chat.Content{
		Text: "🏠 <b>Главное меню</b>\n\nВыберите действие:",
		Keyboard: chat.Keyboard{chat.Row(
			chat.Callback("👤 Профиль", callback.ProfileData()),
			chat.Callback("📍 Места", callback.PlacesData()),
			chat.Callback("🎮 Квиз", callback.PlayQuizData()),
		)},
	}
}

func (c *Controller) profile(ctx context.Context, userID int64) (view, error) {
	name := "путешественник"
	u, err := c.profiles.Get(ctx, userID)
	switch {
	case err == nil && u.DisplayName() != "":
		name = u.DisplayName()
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return view{}, err
	}
	return view{content: chat.Content{
		Text: fmt.Sprintf("👤 <b>Профиль</b>\n\nДобро пожаловать, %s!", html.EscapeString(name)),
		Keyboard: chat.Keyboard{
			chat.Row(chat.Callback("📍 Посещенные места", callback.VisitedPlacesData())),
			chat.Row(chat.Callback("🔔 Напоминания", callback.RemindersData())),
			chat.Row(chat.Callback("🏆 Достижения", callback.AchievementsData())),
			mainMenuRow(),
		},
	}}, nil
}

func filterTypeContent() chat.Content {
	return chat.Content{
		Text: "🔍 <b>Выберите критерий фильтрации:</b>",
		Keyboard: chat.Keyboard{
			chat.Row(chat.Callback("📍 Все места", callback.FilterTypeData(callback.TypeAll))),
			chat.Row(chat.Callback("🏘️ По району", callback.FilterTypeData(callback.TypeDistrict))),
			chat.Row(chat.Callback("🏷️ По категории", callback.FilterTypeData(callback.TypeCategory))),
			chat.Row(
				chat.Callback("← Назад", callback.ProfileData()),
				chat.Callback("🏠 Главное меню", callback.MainMenuData()),
			),
		},
	}
}

func (c *Controller) choiceList(ctx context.Context, title, allLabel string, load func(context.Context) ([]string, error), data func(string) string) (view, error) {
	values, err := load(ctx)
	if err != nil {
		return view{}, err
	}
	kb := make(chat.Keyboard, 0, len(values)+2)
	for _, v := range values {
		kb = append(kb, chat.Row(chat.Callback(v, data(v))))
	}
	kb = append(kb,
		chat.Row(chat.Callback(allLabel, data(""))),
		chat.Row(chat.Callback("← Назад к фильтрам", callback.PlacesData())),
	)
	return view{content: chat.Content{Text: title, Keyboard: kb}}, nil
}

func (c *Controller) placeList(ctx context.Context, d PlaceList) (view, error) {
	f := storage.PlaceFilter{District: d.District, Category: d.Category}
	total, err := c.store.CountPlaces(ctx, f)
	if err != nil {
		return view{}, err
	}
	if total == 0 {
		return view{content: chat.Content{
			Text:     "❌ Места не найдены по выбранным фильтрам.",
			Keyboard: chat.Keyboard{chat.Row(chat.Callback("← Назад к фильтрам", callback.PlacesData()))},
		}}, nil
	}
	page, pages := Paginate(total, c.pageSize, d.Page)
	places, err := c.store.ListPlaces(ctx, f, page*c.pageSize, c.pageSize)
	if err != nil {
		return view{}, err
	}

	var b strings.Builder
	if d.District != "" {
		fmt.Fprintf(&b, "🏘️ <b>Район:</b> %s\n", html.EscapeString(d.District))
	}
	if d.Category != "" {
		fmt.Fprintf(&b, "🏷️ <b>Категория:</b> %s\n", html.EscapeString(d.Category))
	}
	fmt.Fprintf(&b, "📍 <b>Найдено мест: %d</b>\n", total)
	fmt.Fprintf(&b, "📄 <b>Страница %d из %d</b>", page+1, pages)

	kb := make(chat.Keyboard, 0, len(places)+3)
	for _, p := range places {
		kb = append(kb, chat.Row(chat.Callback("📍 "+p.Name, callback.PlaceData(p.ID, true))))
	}
	var nav []chat.Button
	if page > 0 {
		nav = append(nav, chat.Callback("◀ Назад", callback.PlacesPageData(page-1, d.District, d.Category)))
	}
	if page < pages-1 {
		nav = append(nav, chat.Callback("Вперед ▶", callback.PlacesPageData(page+1, d.District, d.Category)))
	}
	if len(nav) > 0 {
		kb = append(kb, nav)
	}
	kb = append(kb,
		chat.Row(chat.Callback("🔍 Изменить фильтр", callback.PlacesData())),
		chat.Row(
			chat.Callback("← Назад", callback.ProfileData()),
			chat.Callback("🏠 Главное меню", callback.MainMenuData()),
		),
	)
	return view{content: chat.Content{Text: b.String(), Keyboard: kb}}, nil
}

func (c *Controller) placeDetail(ctx context.Context, userID int64, d PlaceDetail) (view, error) {
	p, err := c.store.GetPlace(ctx, d.PlaceID)
	if err != nil {
		return view{}, err
	}
	rating, err := c.store.PlaceRating(ctx, p.ID)
	if err != nil {
		return view{}, err
	}
	visited, err := c.store.HasVisit(ctx, userID, p.ID)
	if err != nil {
		return view{}, err
	}
	active, err := c.store.ActiveReminder(ctx, userID, p.ID, c.now())
	hasReminder := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return view{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📍 <b>%s</b>\n\n", html.EscapeString(p.Name))
	writeRating(&b, rating)
	b.WriteString("\n")
	if p.Description != "" {
		fmt.Fprintf(&b, "📝 %s\n\n", html.EscapeString(p.Description))
	}
	if p.Address != "" {
		fmt.Fprintf(&b, "📍 Адрес: %s\n", html.EscapeString(p.Address))
	}
	if p.District != "" {
		fmt.Fprintf(&b, "🏘️ Район: %s\n", html.EscapeString(p.District))
	}
	if p.Category != "" {
		fmt.Fprintf(&b, "🏷️ Категория: %s\n", html.EscapeString(p.Category))
	}
	if visited {
		b.WriteString("\n✅ <b>Вы уже посещали это место</b>\n")
	}
	if hasReminder {
		fmt.Fprintf(&b, "\n🔔 <b>Напоминание установлено на:</b> %s\n", active.RemindAt.In(c.loc).Format(reminder.Layout))
	}

	kb := chat.Keyboard{chat.Row(chat.Callback("💬 Посмотреть отзывы", callback.ReviewsData(p.ID)))}
	if !visited {
		kb = append(kb, chat.Row(chat.Callback("✅ Отметить как посещенное", callback.VisitData(p.ID))))
	}
	reminderLabel := "🔔 Установить напоминание"
	if hasReminder {
		reminderLabel = "🔔 Изменить напоминание"
	}
	kb = append(kb,
		chat.Row(chat.Callback(reminderLabel, callback.ReminderMenuData(p.ID))),
		chat.Row(
			chat.Callback("← Назад к списку", callback.PlacesData()),
			chat.Callback("🏠 Главное меню", callback.MainMenuData()),
		),
	)

	v := view{content: chat.Content{Text: strings.TrimRight(b.String(), "\n"), Keyboard: kb}}
	if d.FirstVisit && p.HasLocation() {
		v.location = &p
	}
	return v, nil
}

func writeRating(b *strings.Builder, r storage.Rating) {
	if r.Count == 0 {
		b.WriteString("⭐ <b>Рейтинг:</b> нет оценок\n")
		return
	}
	fmt.Fprintf(b, "⭐ <b>Рейтинг:</b> %.1f/5 (%d отзывов)\n", r.Average, r.Count)
}

func (c *Controller) reviews(ctx context.Context, placeID int64) (view, error) {
	p, err := c.store.GetPlace(ctx, placeID)
	if err != nil {
		return view{}, err
	}
	rating, err := c.store.PlaceRating(ctx, placeID)
	if err != nil {
		return view{}, err
	}
	list, err := c.store.ListReviews(ctx, placeID, reviewsShown)
	if err != nil {
		return view{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "💬 <b>Отзывы: %s</b>\n\n", html.EscapeString(p.Name))
	writeRating(&b, rating)
	b.WriteString("\n")
	if len(list) == 0 {
		b.WriteString("Пока нет отзывов.")
	}
	for _, r := range list {
		author := r.Author
		if author == "" {
			author = "Пользователь"
		}
		fmt.Fprintf(&b, "⭐ %d/5 · <b>%s</b> (%s)\n", r.Rating, html.EscapeString(author), r.CreatedAt.In(c.loc).Format(reminder.Layout))
		if r.Text != "" {
			fmt.Fprintf(&b, "📝 %s\n", html.EscapeString(r.Text))
		}
		b.WriteString("\n")
	}
	return view{content: chat.Content{
		Text: strings.TrimRight(b.String(), "\n"),
		Keyboard: chat.Keyboard{chat.Row(
			chat.Callback("← Назад", callback.PlaceData(placeID, false)),
			chat.Callback("🏠 Главное меню", callback.MainMenuData()),
		)},
	}}, nil
}

func (c *Controller) reminderMenu(ctx context.Context, placeID int64) (view, error) {
	p, err := c.store.GetPlace(ctx, placeID)
	if err != nil {
		return view{}, err
	}
	kb := chat.Keyboard{chat.Row(chat.Callback("📅 Настроить дату и время", callback.ReminderDateData(p.ID)))}
	for _, days := range reminder.Presets {
		kb = append(kb, chat.Row(chat.Callback("📅 Через "+daysLabel(days), callback.SetReminderData(p.ID, days))))
	}
	kb = append(kb, chat.Row(chat.Callback("← Назад", callback.PlaceData(p.ID, false))))
	return view{content: chat.Content{
		Text: fmt.Sprintf("🔔 <b>Выберите, когда напомнить о посещении:</b>\n%s\n\n"+
			"Или настройте свою дату и время в формате: ДД.ММ.ГГГГ ЧЧ:ММ\n"+
			"Например: %s", html.EscapeString(p.Name), c.now().In(c.loc).AddDate(0, 0, 7).Format(reminder.Layout)),
		Keyboard: kb,
	}}, nil
}

// daysLabel picks the Russian plural form for a number of days.
func daysLabel(n int) string {
	switch {
	case n%10 == 1 && n%100 != 11:
		return fmt.Sprintf("%d день", n)
	case n%10 >= 2 && n%10 <= 4 && (n%100 < 10 || n%100 >= 20):
		return fmt.Sprintf("%d дня", n)
	}
	return fmt.Sprintf("%d дней", n)
}

func (c *Controller) reminderDatePrompt(ctx context.Context, placeID int64) (view, error) {
	p, err := c.store.GetPlace(ctx, placeID)
	if err != nil {
		return view{}, err
	}
	return view{content: chat.Content{
		Text: fmt.Sprintf("📅 <b>Введите дату и время напоминания:</b>\n%s\n\n"+
			"Формат: <b>ДД.ММ.ГГГГ ЧЧ:ММ</b>\n"+
			"Например: <b>%s</b>\n\n"+
			"Отправьте сообщение с датой и временем.",
			html.EscapeString(p.Name), c.now().In(c.loc).AddDate(0, 0, 7).Format(reminder.Layout)),
		Keyboard: chat.Keyboard{chat.Row(chat.Callback("← Назад", callback.ReminderMenuData(p.ID)))},
	}}, nil
}

func (c *Controller) visitedList(ctx context.Context, userID int64) (view, error) {
	visits, err := c.store.ListVisits(ctx, userID)
	if err != nil {
		return view{}, err
	}
	if len(visits) == 0 {
		return view{content: chat.Content{
			Text:     "📍 У вас пока нет посещенных мест.",
			Keyboard: chat.Keyboard{mainMenuRow()},
		}}, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📍 <b>Посещенные места (%d):</b>\n\n", len(visits))
	kb := make(chat.Keyboard, 0, len(visits)+1)
	for _, v := range visits {
		fmt.Fprintf(&b, "✅ <b>%s</b>\n   📅 %s\n", html.EscapeString(v.Place.Name), v.VisitedAt.In(c.loc).Format(reminder.Layout))
		if v.Place.District != "" {
			fmt.Fprintf(&b, "   🏘️ %s\n", html.EscapeString(v.Place.District))
		}
		kb = append(kb, chat.Row(chat.Callback("📍 "+v.Place.Name, callback.PlaceData(v.PlaceID, false))))
	}
	kb = append(kb, mainMenuRow())
	return view{content: chat.Content{Text: strings.TrimRight(b.String(), "\n"), Keyboard: kb}}, nil
}

func (c *Controller) remindersList(ctx context.Context, userID int64) (view, error) {
	list, err := c.store.ListActiveReminders(ctx, userID, c.now())
	if err != nil {
		return view{}, err
	}
	if len(list) == 0 {
		return view{content: chat.Content{
			Text:     "🔔 У вас нет активных напоминаний.",
			Keyboard: chat.Keyboard{mainMenuRow()},
		}}, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 <b>Активные напоминания (%d):</b>\n\n", len(list))
	kb := make(chat.Keyboard, 0, len(list)+1)
	for _, r := range list {
		fmt.Fprintf(&b, "🔔 <b>%s</b>\n   📅 %s\n", html.EscapeString(r.Place.Name), r.RemindAt.In(c.loc).Format(reminder.Layout))
		if r.Place.District != "" {
			fmt.Fprintf(&b, "   🏘️ %s\n", html.EscapeString(r.Place.District))
		}
		kb = append(kb, chat.Row(chat.Callback("📍 "+r.Place.Name, callback.PlaceData(r.PlaceID, false))))
	}
	kb = append(kb, mainMenuRow())
	return view{content: chat.Content{Text: strings.TrimRight(b.String(), "\n"), Keyboard: kb}}, nil
}

func (c *Controller) achievements(ctx context.Context, userID int64) (view, error) {
	rules, err := c.store.ListAchievements(ctx)
	if err != nil {
		return view{}, err
	}
	unlocked, err := c.store.ListUnlocked(ctx, userID)
	if err != nil {
		return view{}, err
	}
	have := make(map[string]bool, len(unlocked))
	for _, ua := range unlocked {
		have[ua.Code] = true
	}

	var b strings.Builder
	b.WriteString("🏆 <b>Достижения:</b>\n\n")
	count := 0
	for _, a := range rules {
		status, icon := "❌", "🔒"
		if have[a.Code] {
			status, icon = "✅", a.Icon
			count++
		}
		fmt.Fprintf(&b, "%s %s <b>%s</b>\n   %s\n", icon, status, html.EscapeString(a.Name), html.EscapeString(a.Description))
	}
	fmt.Fprintf(&b, "\n<b>Разблокировано: %d из %d</b>", count, len(rules))
	return view{content: chat.Content{Text: b.String(), Keyboard: chat.Keyboard{mainMenuRow()}}}, nil
}
