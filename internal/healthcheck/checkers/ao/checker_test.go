package aochecker

import (
	"context"
	"testing"

	"github.com/memohai/aobridge/internal/ao"
	"github.com/memohai/aobridge/internal/healthcheck"
)

type fakeObserver struct {
	conn ao.Connection
	err  error
}

func (f *fakeObserver) Status() (ao.Connection, error) { return f.conn, f.err }

func TestCheckerConnected(t *testing.T) {
	t.Parallel()

	items := NewChecker(nil, &fakeObserver{conn: ao.Connection{Connected: true, ProcessID: "0syT13r0s0tgPmIed95b", EmailBotID: "bot"}}).
		ListChecks(context.Background())
	if len(items) != 1 {
		t.Fatalf("expected 1 check, got %d", len(items))
	}
	if items[0].Status != healthcheck.StatusOK {
		t.Fatalf("expected ok, got %s", items[0].Status)
	}
	if items[0].Subtitle != "0syT13r0" {
		t.Fatalf("unexpected subtitle: %q", items[0].Subtitle)
	}
	if items[0].Metadata["email_bot_id"] != "bot" {
		t.Fatalf("unexpected metadata: %+v", items[0].Metadata)
	}
}

func TestCheckerDisconnected(t *testing.T) {
	t.Parallel()

	items := NewChecker(nil, &fakeObserver{err: ao.ErrNotConnected}).ListChecks(context.Background())
	if len(items) != 1 || items[0].Status != healthcheck.StatusWarn {
		t.Fatalf("unexpected checks: %+v", items)
	}
	if items[0].Detail != ao.ErrNotConnected.Error() {
		t.Fatalf("unexpected detail: %q", items[0].Detail)
	}
}

func TestCheckerNilObserver(t *testing.T) {
	t.Parallel()

	items := NewChecker(nil, nil).ListChecks(context.Background())
	if len(items) != 1 || items[0].ID != "ao.connection.service" {
		t.Fatalf("unexpected checks: %+v", items)
	}
}
