package quiz

import (
	"fmt"
	"html"

	"place-bot/internal/callback"
	"place-bot/internal/chat"
)

const (
	InsufficientDataText = "❌ Недостаточно мест с изображениями для квиза. Нужно минимум 4 места."
	NoSessionText        = "❌ Квиз не найден. Начните заново."
)

func menuRow() []chat.Button {
	return chat.Row(chat.Callback("🏠 Главное меню", callback.MainMenuData()))
}

// QuestionContent renders a question with one button per option.
func QuestionContent(q Question) chat.Content {
	kb := make(chat.Keyboard, 0, len(q.Options)+1)
	for _, p := range q.Options {
		kb = append(kb, chat.Row(chat.Callback("📍 "+p.Name, callback.QuizAnswerData(q.Index, p.ID))))
	}
	kb = append(kb, menuRow())
	return chat.Content{
		Text:     fmt.Sprintf("❓ <b>Вопрос %d из %d</b>\n\nКак называется это место?", q.Index+1, q.Total),
		Keyboard: kb,
	}
}

func OutcomeContent(o Outcome) chat.Content {
	text := "✅ <b>Правильно!</b>"
	if !o.Correct {
		text = fmt.Sprintf("❌ <b>Неправильно!</b>\n\nПравильный ответ: <b>%s</b>", html.EscapeString(o.Answer.Name))
	}
	text += fmt.Sprintf("\n\n📊 Счёт: %d из %d", o.Score, o.Total)
	return chat.Content{
		Text: text,
		Keyboard: chat.Keyboard{
			chat.Row(chat.Callback("➡️ Следующий вопрос", callback.QuizNextData(o.Index+1))),
			menuRow(),
		},
	}
}

func SummaryContent(s Summary) chat.Content {
	text := fmt.Sprintf("🎉 <b>Квиз завершен!</b>\n\n"+
		"📊 <b>Результаты:</b>\n"+
		"✅ Правильных ответов: %d из %d\n"+
		"📈 Процент правильных: %d%%\n\n%s",
		s.Correct, s.Total, s.Percentage, s.Tier.Message())
	return chat.Content{Text: text, Keyboard: chat.Keyboard{menuRow()}}
}

// NoticeContent is a short notice with a way back to the menu.
func NoticeContent(text string) chat.Content {
	return chat.Content{Text: text, Keyboard: chat.Keyboard{menuRow()}}
}
