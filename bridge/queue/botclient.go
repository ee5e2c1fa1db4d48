package queue

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotClient is the thin transport the queue dispatches onto. It is
// satisfied both by tgBotAdapter (wrapping a real *tgbotapi.BotAPI) and by
// test doubles, the same way the original's QueuedTelegramClient accepted
// any object exposing the right async methods.
type BotClient interface {
	SendMessage(ctx context.Context, req SendMessageRequest) (SentMessage, error)
	EditMessageText(ctx context.Context, req EditMessageRequest) (SentMessage, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	SetMyCommands(ctx context.Context, commands []tgbotapi.BotCommand) error
	GetUpdates(ctx context.Context, offset int, timeoutSeconds int) ([]tgbotapi.Update, error)
	GetMe(ctx context.Context) (tgbotapi.User, error)
	Close() error
}
