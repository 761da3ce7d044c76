package telegramchecker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/aobridge/internal/healthcheck"
	"github.com/memohai/aobridge/internal/telegram"
)

const checkTypeTelegramBot = "telegram.bot"

// StatusObserver reads the bot state.
type StatusObserver interface {
	Status() telegram.Status
}

// Checker evaluates the Telegram bot state.
type Checker struct {
	logger   *slog.Logger
	observer StatusObserver
}

// NewChecker creates a Telegram bot health checker.
func NewChecker(log *slog.Logger, observer StatusObserver) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:   log.With(slog.String("checker", "healthcheck_telegram")),
		observer: observer,
	}
}

// ListChecks reports one check for the bot. An inactive bot is a warning
// because its messages are still queued.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	if c.observer == nil {
		c.logger.Warn("telegram healthcheck dependency is unavailable")
		return []healthcheck.CheckResult{{
			ID:      checkTypeTelegramBot + ".service",
			Type:    checkTypeTelegramBot,
			Status:  healthcheck.StatusWarn,
			Summary: "Telegram checker service is not available.",
			Detail:  "status observer is nil",
		}}
	}

	st := c.observer.Status()
	item := healthcheck.CheckResult{
		ID:     checkTypeTelegramBot,
		Type:   checkTypeTelegramBot,
		Status: healthcheck.StatusWarn,
		Metadata: map[string]any{
			"state":         string(st.State),
			"pending_count": st.PendingCount,
		},
		Detail: strings.TrimSpace(st.LastError),
	}
	if st.BotInfo != nil {
		item.Subtitle = "@" + st.BotInfo.Username
	}
	if st.LastErrorAt != nil {
		item.Metadata["last_error_at"] = st.LastErrorAt.UTC().Format("2006-01-02T15:04:05Z")
	}

	switch {
	case st.Active:
		item.Status = healthcheck.StatusOK
		item.Summary = "Telegram bot is receiving messages."
		item.Detail = ""
	case !st.Initialized && item.Detail != "":
		item.Status = healthcheck.StatusError
		item.Summary = "Telegram bot failed to initialize."
	case !st.Initialized:
		item.Summary = "Telegram bot is not initialized."
	default:
		item.Summary = fmt.Sprintf("Telegram bot is stopped; %d message(s) queued.", st.PendingCount)
	}
	return []healthcheck.CheckResult{item}
}
