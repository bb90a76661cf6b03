package telegram

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"place-bot/internal/chat"
)

type fakeSender struct {
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErr  error
	reqErr   error
	nextID   int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if f.reqErr != nil {
		return nil, f.reqErr
	}
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func TestSend_UsesHTMLAndKeyboard(t *testing.T) {
	fs := &fakeSender{}
	ch := newChannel(fs, "", nil)
	content := chat.Content{
		Text:     "<b>hi</b>",
		Keyboard: chat.Keyboard{chat.Row(chat.Callback("Профиль", "seeProfile"))},
	}
	id, err := ch.Send(context.Background(), 7, content)
	if err != nil || id != 1 {
		t.Fatalf("send: id=%d err=%v", id, err)
	}
	msg, ok := fs.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("unexpected chattable %T", fs.sent[0])
	}
	if msg.ParseMode != tgbotapi.ModeHTML || msg.Text != "<b>hi</b>" || msg.ChatID != 7 {
		t.Fatalf("unexpected message: %+v", msg)
	}
	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("keyboard missing: %T", msg.ReplyMarkup)
	}
	if got := *kb.InlineKeyboard[0][0].CallbackData; got != "seeProfile" {
		t.Fatalf("callback data %q", got)
	}
}

func TestSend_NoKeyboardLeavesMarkupEmpty(t *testing.T) {
	fs := &fakeSender{}
	ch := newChannel(fs, "", nil)
	if _, err := ch.Send(context.Background(), 1, chat.Content{Text: "x"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg := fs.sent[0].(tgbotapi.MessageConfig); msg.ReplyMarkup != nil {
		t.Fatalf("unexpected markup %+v", msg.ReplyMarkup)
	}
}

func TestEdit_NotModifiedIsSuccess(t *testing.T) {
	fs := &fakeSender{reqErr: tgbotapi.Error{Code: 400, Message: "Bad Request: message is not modified: specified new message content and reply markup are exactly the same"}}
	ch := newChannel(fs, "", nil)
	if err := ch.Edit(context.Background(), 1, 10, chat.Content{Text: "same"}); err != nil {
		t.Fatalf("not modified must be treated as success, got %v", err)
	}

	fs.reqErr = tgbotapi.Error{Code: 400, Message: "Bad Request: message to edit not found"}
	if err := ch.Edit(context.Background(), 1, 10, chat.Content{Text: "new"}); err == nil {
		t.Fatalf("expected edit failure")
	}
}

func TestEdit_BuildsEditConfig(t *testing.T) {
	fs := &fakeSender{}
	ch := newChannel(fs, "", nil)
	content := chat.Content{Text: "menu", Keyboard: chat.Keyboard{chat.Row(chat.Callback("a", "mainMenu"))}}
	if err := ch.Edit(context.Background(), 3, 44, content); err != nil {
		t.Fatalf("edit: %v", err)
	}
	edit, ok := fs.requests[0].(tgbotapi.EditMessageTextConfig)
	if !ok {
		t.Fatalf("unexpected chattable %T", fs.requests[0])
	}
	if edit.MessageID != 44 || edit.ChatID != 3 || edit.ParseMode != tgbotapi.ModeHTML {
		t.Fatalf("unexpected edit: %+v", edit)
	}
	if edit.ReplyMarkup == nil || len(edit.ReplyMarkup.InlineKeyboard) != 1 {
		t.Fatalf("keyboard lost: %+v", edit.ReplyMarkup)
	}
}

func TestDeleteAndAnswerUseRequest(t *testing.T) {
	fs := &fakeSender{}
	ch := newChannel(fs, "", nil)
	ctx := context.Background()
	if err := ch.Delete(ctx, 1, 9); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := ch.AnswerCallback(ctx, "cb", "ok"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if del, ok := fs.requests[0].(tgbotapi.DeleteMessageConfig); !ok || del.MessageID != 9 {
		t.Fatalf("unexpected delete: %#v", fs.requests[0])
	}
	if cb, ok := fs.requests[1].(tgbotapi.CallbackConfig); !ok || cb.CallbackQueryID != "cb" || cb.Text != "ok" {
		t.Fatalf("unexpected answer: %#v", fs.requests[1])
	}

	fs.reqErr = errors.New("forbidden")
	if err := ch.Delete(ctx, 1, 10); err == nil {
		t.Fatalf("expected delete error")
	}
}

func TestSendPhoto_ResolvesInsidePhotosDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "park.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	fs := &fakeSender{}
	ch := newChannel(fs, dir, nil)
	ctx := context.Background()

	if _, err := ch.SendPhoto(ctx, 1, "park.jpg", chat.Content{Text: "❓"}); err != nil {
		t.Fatalf("send photo: %v", err)
	}
	photo, ok := fs.sent[0].(tgbotapi.PhotoConfig)
	if !ok {
		t.Fatalf("unexpected chattable %T", fs.sent[0])
	}
	if photo.File != tgbotapi.FilePath(filepath.Join(dir, "park.jpg")) || photo.Caption != "❓" {
		t.Fatalf("unexpected photo: %+v", photo)
	}

	for _, name := range []string{"missing.jpg", "../park.jpg/../../etc/passwd", ""} {
		if _, err := ch.SendPhoto(ctx, 1, name, chat.Content{}); err == nil {
			t.Fatalf("expected error for %q", name)
		}
	}
	if len(fs.sent) != 1 {
		t.Fatalf("nothing should be sent for bad photos, sent=%d", len(fs.sent))
	}
}

func TestSendLocation(t *testing.T) {
	fs := &fakeSender{}
	ch := newChannel(fs, "", nil)
	if _, err := ch.SendLocation(context.Background(), 1, 53.9, 27.56); err != nil {
		t.Fatalf("location: %v", err)
	}
	loc := fs.sent[0].(tgbotapi.LocationConfig)
	if loc.Latitude != 53.9 || loc.Longitude != 27.56 {
		t.Fatalf("unexpected location %+v", loc)
	}
}

func TestCancelledContextSkipsCalls(t *testing.T) {
	fs := &fakeSender{}
	ch := newChannel(fs, "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ch.Send(ctx, 1, chat.Content{Text: "x"}); err == nil || !strings.Contains(err.Error(), "canceled") {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(fs.sent) != 0 {
		t.Fatalf("nothing should be sent")
	}
}
