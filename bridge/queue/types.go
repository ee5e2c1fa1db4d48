// Package queue serializes every outbound Telegram call behind one
// per-chat dispatcher: a HIGH-priority FIFO that always drains before any
// LOW-priority entry, LOW-edit coalescing so only the newest progress
// update for a given message is ever sent, per-chat rate limiting, and a
// single retry on a Telegram rate-limit (retry_after) response.
package queue

import (
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Priority selects which FIFO an operation is served from. HIGH always
// drains before LOW for the same chat.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityLow
)

func (p Priority) String() string {
	if p == PriorityLow {
		return "low"
	}
	return "high"
}

// SentMessage is the minimal result shape callers need back from a
// send/edit call.
type SentMessage struct {
	MessageID int
}

// SendMessageRequest describes one outbound message.
type SendMessageRequest struct {
	ChatID               int64
	Text                 string
	ReplyToMessageID     int
	DisableNotification  bool
	Entities             []tgbotapi.MessageEntity
	ParseMode            string
	Priority             Priority
	NotBefore            time.Time
}

// EditMessageRequest describes one message edit.
type EditMessageRequest struct {
	ChatID    int64
	MessageID int
	Text      string
	Entities  []tgbotapi.MessageEntity
	ParseMode string
	Priority  Priority
	NotBefore time.Time
}

// RetryAfterError is returned by a BotClient call that Telegram rate
// limited; Seconds is how long the caller was told to wait before retrying.
type RetryAfterError struct {
	Seconds float64
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("telegram: retry after %.2fs", e.Seconds)
}

// ErrSuperseded is delivered to a still-waiting caller whose LOW-priority
// edit was coalesced away by a newer edit to the same message before it
// ran, or dropped entirely by an intervening delete.
var ErrSuperseded = errors.New("queue: operation superseded before it ran")
