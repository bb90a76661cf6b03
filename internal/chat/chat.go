// Package chat describes the outbound message channel used by the conversation core.
package chat

import "context"

// Button is an inline button carrying a callback payload.
type Button struct {
	Text string
	Data string
}

// Keyboard is a grid of inline buttons, one slice per row.
type Keyboard [][]Button

// Content is what a message shows: HTML text plus an optional inline keyboard.
type Content struct {
	Text     string
	Keyboard Keyboard
}

func Callback(text, data string) Button {
	return Button{Text: text, Data: data}
}

func Row(buttons ...Button) []Button {
	return buttons
}

// Channel sends, edits and deletes messages in a chat.
// Every call may fail; callers decide whether a failure matters.
type Channel interface {
	Send(ctx context.Context, chatID int64, c Content) (int, error)
	// Edit fails when the message is gone or too old to be edited.
	Edit(ctx context.Context, chatID int64, messageID int, c Content) error
	Delete(ctx context.Context, chatID int64, messageID int) error
	// SendPhoto sends image as a photo with c.Text as caption.
	SendPhoto(ctx context.Context, chatID int64, image string, c Content) (int, error)
	SendLocation(ctx context.Context, chatID int64, lat, lon float64) (int, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
}
