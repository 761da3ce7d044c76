package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/aobridge/internal/pending"
)

// payloadFromMessage captures everything intake needs from msg. It reports
// false for messages without a document, photo or text.
func payloadFromMessage(msg *tgbotapi.Message) (pending.Payload, bool) {
	if msg == nil {
		return nil, false
	}
	from := senderOf(msg)
	var chatID int64
	if msg.Chat != nil {
		chatID = msg.Chat.ID
	}
	switch {
	case msg.Document != nil:
		return pending.Document{
			FileID:   msg.Document.FileID,
			FileName: strings.TrimSpace(msg.Document.FileName),
			MimeType: strings.TrimSpace(msg.Document.MimeType),
			FileSize: int64(msg.Document.FileSize),
			From:     from,
			ChatID:   chatID,
		}, true
	case len(msg.Photo) > 0:
		photo := pickTelegramPhoto(msg.Photo)
		return pending.Photo{
			FileID:   photo.FileID,
			Caption:  strings.TrimSpace(msg.Caption),
			FileSize: int64(photo.FileSize),
			From:     from,
			ChatID:   chatID,
		}, true
	case strings.TrimSpace(msg.Text) != "":
		return pending.Text{Text: msg.Text, From: from, ChatID: chatID}, true
	}
	return nil, false
}

func senderOf(msg *tgbotapi.Message) pending.From {
	if msg.From != nil {
		return pending.From{ID: msg.From.ID, Username: strings.TrimSpace(msg.From.UserName)}
	}
	if msg.SenderChat != nil {
		return pending.From{ID: msg.SenderChat.ID, Username: strings.TrimSpace(msg.SenderChat.UserName)}
	}
	return pending.From{}
}

// pickTelegramPhoto returns the largest rendition, by file size then area.
func pickTelegramPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	if len(items) == 0 {
		return tgbotapi.PhotoSize{}
	}
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.FileSize == best.FileSize && item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}

// parseCommand splits "/get@bot abc" into ("get", "abc").
func parseCommand(text string) (string, string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, args, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(args), true
}
