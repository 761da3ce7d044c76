package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/aobridge/internal/files"
	"github.com/memohai/aobridge/internal/pending"
)

const (
	welcomeText = "Welcome! You can send me files, documents, or photos, and I will save them for you."
	helpText    = "Send me any file, document, or photo, and I will save it and give you an ID for reference."
)

func (s *Service) handleCommand(ctx context.Context, msg pending.Text) {
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		s.logger.Debug("ignoring plain text", slog.String("from", msg.From.Uploader()))
		return
	}
	switch name {
	case "start":
		s.reply(msg.ChatID, welcomeText)
	case "help":
		s.reply(msg.ChatID, helpText)
	case "list":
		s.reply(msg.ChatID, s.listText(msg.From.Uploader()))
	case "get":
		s.sendFile(ctx, msg.ChatID, args)
	default:
		s.logger.Debug("unknown command", slog.String("command", name))
	}
}

func (s *Service) listText(uploader string) string {
	recs := s.cache.ListByUploader(uploader)
	if len(recs) == 0 {
		return "You have not uploaded any files yet."
	}
	var b strings.Builder
	b.WriteString("Your uploaded files:")
	for _, rec := range recs {
		fmt.Fprintf(&b, "\n- %s (ID: %s, Type: %s, Size: %s)",
			rec.FileName, rec.ID, rec.ContentType, humanize.IBytes(uint64(max(rec.FileSize, 0))))
	}
	return b.String()
}

func (s *Service) sendFile(_ context.Context, chatID int64, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		s.reply(chatID, "Please provide a file ID. Example: /get file_id")
		return
	}
	rec, err := s.cache.Get(id)
	if err != nil {
		s.reply(chatID, "File not found. Please check the ID and try again.")
		return
	}
	bot := s.currentBot()
	if bot == nil {
		return
	}

	var doc tgbotapi.DocumentConfig
	switch {
	case s.cache.LocalAvailable(rec):
		f, err := s.cache.Fs().Open(rec.LocalPath)
		if err != nil {
			s.logger.Error("open local file failed", slog.String("file_id", id), slog.Any("error", err))
			s.reply(chatID, "Sorry, there was an error retrieving the file.")
			return
		}
		defer func() {
			_ = f.Close()
		}()
		doc = tgbotapi.NewDocument(chatID, tgbotapi.FileReader{Name: rec.FileName, Reader: f})
	case rec.TelegramFileID != "":
		doc = tgbotapi.NewDocument(chatID, tgbotapi.FileID(rec.TelegramFileID))
	default:
		s.reply(chatID, "Sorry, the file is not available for download.")
		return
	}
	doc.Caption = captionFor(rec)
	if _, err := bot.Send(doc); err != nil {
		s.logger.Error("send file failed", slog.String("file_id", id), slog.Any("error", err))
		s.reply(chatID, "Sorry, there was an error retrieving the file.")
	}
}

func captionFor(rec files.FileRecord) string {
	caption := rec.FileName
	if rec.Uploaded() {
		caption += "\n" + rec.ArweaveURL
	}
	return caption
}
