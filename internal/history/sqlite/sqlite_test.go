package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/proxyvisr/internal/history"
)

func TestSQLiteSink_SendAndCount(t *testing.T) {
	ctx := context.Background()
	for _, dsn := range []string{
		":memory:",
		"sqlite://" + filepath.Join(t.TempDir(), "history.db"),
	} {
		s, err := New(dsn)
		if err != nil {
			t.Fatalf("New(%s): %v", dsn, err)
		}
		rec := history.Record{RunID: "run-1", Name: "office", ConfigPath: "/etc/sb.json", PID: 4242, Port: 2080, StartedAt: time.Now()}
		if err := s.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: time.Now(), Record: rec}); err != nil {
			t.Fatalf("send start: %v", err)
		}
		rec.ExitErr = "exit status 1"
		if err := s.Send(ctx, history.Event{Type: history.EventExit, OccurredAt: time.Now(), Record: rec}); err != nil {
			t.Fatalf("send exit: %v", err)
		}
		n, err := s.Count(ctx, "run-1")
		if err != nil || n != 2 {
			t.Fatalf("Count = %d, %v", n, err)
		}
		var exitErr *string
		if err := s.db.QueryRowContext(ctx, `SELECT exit_error FROM core_history WHERE type = 'start'`).Scan(&exitErr); err != nil {
			t.Fatalf("query: %v", err)
		}
		if exitErr != nil {
			t.Fatalf("empty exit error should be stored as NULL, got %q", *exitErr)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
