// Package chattest provides an in-memory chat.Channel for tests.
package chattest

import (
	"context"
	"errors"
	"sync"

	"place-bot/internal/chat"
)

var ErrInjected = errors.New("injected channel failure")

// Message is a message the fake channel has delivered.
type Message struct {
	ChatID  int64
	ID      int
	Content chat.Content
	Photo   string
	Lat     float64
	Lon     float64
}

// Channel records every call. Messages get sequential ids starting at 101.
type Channel struct {
	mu sync.Mutex

	nextID   int
	Sent     []Message
	Edits    []Message
	Deleted  []int
	Answers  []string
	Alive    map[int]bool
	FailEdit bool
	// FailDelete lists message ids whose deletion fails.
	FailDelete map[int]bool
	FailPhoto  bool
	FailSend   bool
}

func New() *Channel {
	return &Channel{nextID: 100, Alive: map[int]bool{}, FailDelete: map[int]bool{}}
}

func (c *Channel) Send(_ context.Context, chatID int64, content chat.Content) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailSend {
		return 0, ErrInjected
	}
	return c.record(Message{ChatID: chatID, Content: content}), nil
}

func (c *Channel) Edit(_ context.Context, chatID int64, messageID int, content chat.Content) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailEdit || !c.Alive[messageID] {
		return ErrInjected
	}
	c.Edits = append(c.Edits, Message{ChatID: chatID, ID: messageID, Content: content})
	return nil
}

func (c *Channel) Delete(_ context.Context, _ int64, messageID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailDelete[messageID] {
		return ErrInjected
	}
	c.Deleted = append(c.Deleted, messageID)
	delete(c.Alive, messageID)
	return nil
}

func (c *Channel) SendPhoto(_ context.Context, chatID int64, image string, content chat.Content) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailPhoto || c.FailSend {
		return 0, ErrInjected
	}
	return c.record(Message{ChatID: chatID, Content: content, Photo: image}), nil
}

func (c *Channel) SendLocation(_ context.Context, chatID int64, lat, lon float64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailSend {
		return 0, ErrInjected
	}
	return c.record(Message{ChatID: chatID, Lat: lat, Lon: lon}), nil
}

func (c *Channel) AnswerCallback(_ context.Context, _ string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Answers = append(c.Answers, text)
	return nil
}

func (c *Channel) record(m Message) int {
	c.nextID++
	m.ID = c.nextID
	c.Sent = append(c.Sent, m)
	c.Alive[m.ID] = true
	return m.ID
}

// Kill makes a message uneditable, as if the user deleted it.
func (c *Channel) Kill(messageID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.Alive, messageID)
}

func (c *Channel) LastSent() Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Sent) == 0 {
		return Message{}
	}
	return c.Sent[len(c.Sent)-1]
}

func (c *Channel) LastEdit() Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Edits) == 0 {
		return Message{}
	}
	return c.Edits[len(c.Edits)-1]
}

func (c *Channel) WasDeleted(messageID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.Deleted {
		if id == messageID {
			return true
		}
	}
	return false
}

// Content returns what a message currently shows, taking edits into account.
func (c *Channel) Content(messageID int) chat.Content {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.Edits) - 1; i >= 0; i-- {
		if c.Edits[i].ID == messageID {
			return c.Edits[i].Content
		}
	}
	for _, m := range c.Sent {
		if m.ID == messageID {
			return m.Content
		}
	}
	return chat.Content{}
}
