package queue

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// tgBotAdapter implements BotClient over a real *tgbotapi.BotAPI, mapping
// its rate-limit error shape onto RetryAfterError so the queue's retry
// logic never has to know about the transport.
type tgBotAdapter struct {
	bot *tgbotapi.BotAPI
}

// NewBotClient wraps bot as a BotClient for NewQueuedTelegramClient.
func NewBotClient(bot *tgbotapi.BotAPI) BotClient {
	return &tgBotAdapter{bot: bot}
}

func (a *tgBotAdapter) SendMessage(ctx context.Context, req SendMessageRequest) (SentMessage, error) {
	msg := tgbotapi.NewMessage(req.ChatID, req.Text)
	msg.ReplyToMessageID = req.ReplyToMessageID
	msg.DisableNotification = req.DisableNotification
	msg.ParseMode = req.ParseMode
	msg.Entities = req.Entities

	sent, err := a.bot.Send(msg)
	if err != nil {
		return SentMessage{}, translateRetryAfter(err)
	}
	return SentMessage{MessageID: sent.MessageID}, nil
}

func (a *tgBotAdapter) EditMessageText(ctx context.Context, req EditMessageRequest) (SentMessage, error) {
	edit := tgbotapi.NewEditMessageText(req.ChatID, req.MessageID, req.Text)
	edit.ParseMode = req.ParseMode
	edit.Entities = req.Entities

	sent, err := a.bot.Send(edit)
	if err != nil {
		return SentMessage{}, translateRetryAfter(err)
	}
	return SentMessage{MessageID: sent.MessageID}, nil
}

func (a *tgBotAdapter) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := a.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return translateRetryAfter(err)
}

func (a *tgBotAdapter) SetMyCommands(ctx context.Context, commands []tgbotapi.BotCommand) error {
	_, err := a.bot.Request(tgbotapi.NewSetMyCommands(commands...))
	return translateRetryAfter(err)
}

func (a *tgBotAdapter) GetUpdates(ctx context.Context, offset, timeoutSeconds int) ([]tgbotapi.Update, error) {
	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = timeoutSeconds
	updates, err := a.bot.GetUpdates(cfg)
	if err != nil {
		return nil, translateRetryAfter(err)
	}
	return updates, nil
}

func (a *tgBotAdapter) GetMe(ctx context.Context) (tgbotapi.User, error) {
	return a.bot.Self, nil
}

func (a *tgBotAdapter) Close() error {
	a.bot.StopReceivingUpdates()
	return nil
}

// translateRetryAfter recognizes tgbotapi's 429 error shape and surfaces
// it as a RetryAfterError the queue's single-retry logic understands.
func translateRetryAfter(err error) error {
	if err == nil {
		return nil
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.ResponseParameters.RetryAfter > 0 {
		return &RetryAfterError{Seconds: float64(tgErr.ResponseParameters.RetryAfter)}
	}
	return err
}
