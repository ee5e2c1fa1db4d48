// Package ingress parses raw Telegram updates into the bridge's
// transport-agnostic IncomingMessage shape and decides whether a message
// is addressed to the bridge at all.
package ingress

import (
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Voice is a normalized voice-message attachment.
type Voice struct {
	FileID   string
	Duration int
	MimeType string
	FileSize int
}

// Document is a normalized file-like attachment — Telegram documents,
// photos (largest size), videos, and stickers all normalize to this one
// shape; only the wire-specific fields (file name, mime type) differ by
// origin.
type Document struct {
	FileID   string
	FileName string
	MimeType string
	FileSize int
}

// IncomingMessage is the transport-agnostic shape the runtime consumes.
// ReplyToIsBot is a tri-state: nil means "not a meaningful reply" —
// either there is no reply at all, or the reply target is a forum-topic
// creation service message rather than a real prior message.
type IncomingMessage struct {
	Transport string
	ChatID    int64
	MessageID int
	Text      string
	SenderID  int64

	ThreadID       *int
	IsTopicMessage *bool

	ReplyToMessageID *int
	ReplyToText      *string
	ReplyToIsBot     *bool
	ReplyToUsername  string

	Voice        *Voice
	Document     *Document
	MediaGroupID string

	ChatType string
	IsForum  bool
	Date     time.Time
}

// ParseIncomingUpdate extracts an IncomingMessage from update, or reports
// ok=false for updates that don't belong to chatID or carry neither text
// nor a recognized media attachment (callback queries are handled
// separately by the caller; this only covers ordinary messages).
func ParseIncomingUpdate(update tgbotapi.Update, chatID int64) (IncomingMessage, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || msg.Chat.ID != chatID {
		return IncomingMessage{}, false
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	voice := normalizeVoice(msg.Voice)
	doc := normalizeDocument(msg)
	if text == "" && voice == nil && doc == nil {
		return IncomingMessage{}, false
	}

	var senderID int64
	if msg.From != nil {
		senderID = msg.From.ID
	}

	out := IncomingMessage{
		Transport:    "telegram",
		ChatID:       chatID,
		MessageID:    msg.MessageID,
		Text:         text,
		SenderID:     senderID,
		Voice:        voice,
		Document:     doc,
		MediaGroupID: msg.MediaGroupID,
		ChatType:     msg.Chat.Type,
		IsForum:      msg.Chat.IsForum,
		Date:         time.Unix(int64(msg.Date), 0),
	}

	if msg.MessageThreadID != 0 {
		tid := msg.MessageThreadID
		out.ThreadID = &tid
	}
	if msg.IsTopicMessage {
		v := true
		out.IsTopicMessage = &v
	}

	if reply := msg.ReplyToMessage; reply != nil {
		rid := reply.MessageID
		out.ReplyToMessageID = &rid
		if reply.Text != "" {
			rtext := reply.Text
			out.ReplyToText = &rtext
		}
		if reply.From != nil {
			out.ReplyToUsername = reply.From.UserName
			// A message_thread_id equal to the reply target's own id marks
			// Telegram's synthetic "replying to the topic-creation service
			// message" case — not a real reply, so we ignore From.IsBot
			// entirely rather than report a false "replying to the bot".
			isTopicCreation := msg.MessageThreadID != 0 && msg.MessageThreadID == reply.MessageID
			if !isTopicCreation {
				isBot := reply.From.IsBot
				out.ReplyToIsBot = &isBot
			}
		}
	}

	return out, true
}

func normalizeVoice(v *tgbotapi.Voice) *Voice {
	if v == nil {
		return nil
	}
	return &Voice{
		FileID:   v.FileID,
		Duration: v.Duration,
		MimeType: v.MimeType,
		FileSize: v.FileSize,
	}
}

// normalizeDocument folds documents, the largest photo size, videos, and
// stickers into the single Document shape — only the ingress adapter
// needs to know these are different wire types.
func normalizeDocument(msg *tgbotapi.Message) *Document {
	if msg.Document != nil {
		return &Document{
			FileID:   msg.Document.FileID,
			FileName: msg.Document.FileName,
			MimeType: msg.Document.MimeType,
			FileSize: msg.Document.FileSize,
		}
	}
	if len(msg.Photo) > 0 {
		largest := msg.Photo[0]
		for _, p := range msg.Photo[1:] {
			if p.FileSize > largest.FileSize {
				largest = p
			}
		}
		return &Document{FileID: largest.FileID, FileSize: largest.FileSize}
	}
	if msg.Video != nil {
		return &Document{
			FileID:   msg.Video.FileID,
			FileName: msg.Video.FileName,
			MimeType: msg.Video.MimeType,
			FileSize: msg.Video.FileSize,
		}
	}
	if msg.Sticker != nil {
		return &Document{FileID: msg.Sticker.FileID, FileSize: msg.Sticker.FileSize}
	}
	return nil
}

// TriggerContext supplies ShouldTrigger the bridge's current vocabulary of
// recognized first-token commands: engine shortcuts, project aliases, and
// the bridge's own reserved/daemon commands.
type TriggerContext struct {
	BotUsername       string // lowercased bot username, empty if unknown
	CommandIDs        map[string]bool
	ReservedCommands  map[string]bool
}

// ShouldTrigger reports whether msg is addressed to the bridge: an
// explicit reply to a genuine prior bot message (ReplyToIsBot == true,
// never the forum-topic-creation nil case), an @mention of the bot, or a
// leading slash command naming an engine shortcut, project alias, or
// reserved bridge command.
func ShouldTrigger(msg IncomingMessage, ctx TriggerContext) bool {
	if msg.ReplyToIsBot != nil && *msg.ReplyToIsBot {
		return true
	}

	if ctx.BotUsername != "" && strings.Contains(strings.ToLower(msg.Text), "@"+ctx.BotUsername) {
		return true
	}

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return false
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return ctx.CommandIDs[cmd] || ctx.ReservedCommands[cmd]
}
