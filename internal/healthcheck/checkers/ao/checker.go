package aochecker

import (
	"context"
	"log/slog"

	"github.com/memohai/aobridge/internal/ao"
	"github.com/memohai/aobridge/internal/healthcheck"
)

const checkTypeAOConnection = "ao.connection"

// ConnectionObserver reads the AO connection state.
type ConnectionObserver interface {
	Status() (ao.Connection, error)
}

// Checker evaluates the AO platform connection.
type Checker struct {
	logger   *slog.Logger
	observer ConnectionObserver
}

func NewChecker(log *slog.Logger, observer ConnectionObserver) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:   log.With(slog.String("checker", "healthcheck_ao")),
		observer: observer,
	}
}

func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	if c.observer == nil {
		c.logger.Warn("ao healthcheck dependency is unavailable")
		return []healthcheck.CheckResult{{
			ID:      checkTypeAOConnection + ".service",
			Type:    checkTypeAOConnection,
			Status:  healthcheck.StatusWarn,
			Summary: "AO checker service is not available.",
			Detail:  "connection observer is nil",
		}}
	}

	conn, err := c.observer.Status()
	if err != nil {
		return []healthcheck.CheckResult{{
			ID:      checkTypeAOConnection,
			Type:    checkTypeAOConnection,
			Status:  healthcheck.StatusWarn,
			Summary: "Not connected to the AO platform.",
			Detail:  err.Error(),
		}}
	}
	return []healthcheck.CheckResult{{
		ID:       checkTypeAOConnection,
		Type:     checkTypeAOConnection,
		Subtitle: shortID(conn.ProcessID),
		Status:   healthcheck.StatusOK,
		Summary:  "Connected to the AO platform.",
		Metadata: map[string]any{
			"process_id":   conn.ProcessID,
			"email_bot_id": conn.EmailBotID,
		},
	}}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
