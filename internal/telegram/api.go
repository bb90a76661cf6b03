package telegram

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"place-bot/internal/chat"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type botAPISender struct{ api *tgbotapi.BotAPI }

func (s botAPISender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return s.api.Send(c)
}

func (s botAPISender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return s.api.Request(c)
}

// Channel отправляет chat.Content через Bot API в режиме HTML.
type Channel struct {
	s         sender
	photosDir string
	log       *zap.Logger
}

// NewChannel оборачивает api. Фото ищутся внутри photosDir.
func NewChannel(api *tgbotapi.BotAPI, photosDir string, log *zap.Logger) *Channel {
	return newChannel(botAPISender{api: api}, photosDir, log)
}

func newChannel(s sender, photosDir string, log *zap.Logger) *Channel {
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{s: s, photosDir: photosDir, log: log}
}

var _ chat.Channel = (*Channel)(nil)

func (c *Channel) Send(ctx context.Context, chatID int64, content chat.Content) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, content.Text)
	msg.ParseMode = tgbotapi.ModeHTML
	if kb := markup(content.Keyboard); kb != nil {
		msg.ReplyMarkup = *kb
	}
	sent, err := c.s.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return sent.MessageID, nil
}

func (c *Channel) Edit(ctx context.Context, chatID int64, messageID int, content chat.Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, content.Text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.ReplyMarkup = markup(content.Keyboard)
	if _, err := c.s.Request(edit); err != nil {
		// Telegram отклоняет правку без изменений: сообщение уже показывает content.
		if strings.Contains(err.Error(), "message is not modified") {
			return nil
		}
		return fmt.Errorf("edit message %d: %w", messageID, err)
	}
	return nil
}

func (c *Channel) Delete(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.s.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("delete message %d: %w", messageID, err)
	}
	return nil
}

func (c *Channel) SendPhoto(ctx context.Context, chatID int64, image string, content chat.Content) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	path, err := c.photoPath(image)
	if err != nil {
		return 0, err
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
	photo.Caption = content.Text
	photo.ParseMode = tgbotapi.ModeHTML
	if kb := markup(content.Keyboard); kb != nil {
		photo.ReplyMarkup = *kb
	}
	sent, err := c.s.Send(photo)
	if err != nil {
		return 0, fmt.Errorf("send photo %s: %w", image, err)
	}
	return sent.MessageID, nil
}

// photoPath не выпускает image за пределы каталога фото и проверяет, что файл есть.
func (c *Channel) photoPath(image string) (string, error) {
	name := filepath.Base(filepath.Clean("/" + image))
	if name == "/" || name == "." {
		return "", fmt.Errorf("photo name %q is empty", image)
	}
	path := filepath.Join(c.photosDir, name)
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("photo %s: %w", image, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("photo %s is a directory", image)
	}
	return path, nil
}

func (c *Channel) SendLocation(ctx context.Context, chatID int64, lat, lon float64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sent, err := c.s.Send(tgbotapi.NewLocation(chatID, lat, lon))
	if err != nil {
		return 0, fmt.Errorf("send location: %w", err)
	}
	return sent.MessageID, nil
}

func (c *Channel) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.s.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

func markup(kb chat.Keyboard) *tgbotapi.InlineKeyboardMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, buttons)
	}
	m := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &m
}
