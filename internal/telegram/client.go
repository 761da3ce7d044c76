package telegram

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotAPI is the subset of *tgbotapi.BotAPI the service uses.
type BotAPI interface {
	GetMe() (tgbotapi.User, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetFileDirectURL(fileID string) (string, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BotFactory creates a client for a token. NewBotAPI performs the identity
// probe, so a bad token fails here.
type BotFactory func(token string) (BotAPI, error)

// pollClientMargin is added to the long-poll timeout for the HTTP client
// deadline so an idle getUpdates call is not cut short.
const pollClientMargin = 15 * time.Second

// NewHTTPBotFactory returns a factory whose clients talk to endpoint (a
// tgbotapi endpoint format such as tgbotapi.APIEndpoint) with every request
// bounded by timeout.
func NewHTTPBotFactory(endpoint string, timeout time.Duration) BotFactory {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := &http.Client{Timeout: timeout}
	return func(token string) (BotAPI, error) {
		bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
		if err != nil {
			return nil, err
		}
		return bot, nil
	}
}

// pollFailureMarker is what the library logs when a getUpdates call fails.
const pollFailureMarker = "Failed to get updates"

// slogBotLogger bridges the library's logger to slog and reports polling
// failures to the supervisor.
type slogBotLogger struct {
	log *slog.Logger

	mu      sync.Mutex
	lastErr string
	onFail  func(reason string)
}

func (l *slogBotLogger) Println(v ...interface{}) {
	l.handle(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l *slogBotLogger) Printf(format string, v ...interface{}) {
	l.handle(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogBotLogger) handle(msg string) {
	if msg == "" {
		return
	}
	l.mu.Lock()
	onFail := l.onFail
	if strings.HasPrefix(msg, pollFailureMarker) {
		reason := l.lastErr
		if reason == "" {
			reason = msg
		}
		l.lastErr = ""
		l.mu.Unlock()
		l.log.Warn("telegram polling failed", slog.String("error", reason))
		if onFail != nil {
			onFail(reason)
		}
		return
	}
	l.lastErr = msg
	l.mu.Unlock()
	l.log.Debug("telegram", slog.String("msg", msg))
}

func (l *slogBotLogger) setOnFail(fn func(reason string)) {
	l.mu.Lock()
	l.onFail = fn
	l.mu.Unlock()
}
