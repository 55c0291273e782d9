package client

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jacek-lewandowski/dockhand/execution"
	"github.com/jacek-lewandowski/dockhand/internal/history"
)

func durationSeconds(s int64) time.Duration {
	return time.Duration(s) * time.Second
}

// historyListener records finished executions. It never fails the
// execution: a write error is logged and swallowed, since a history problem
// must not shadow the real result.
type historyListener struct {
	store   *history.Store
	runID   string
	backend string
	logger  *log.Logger

	mu        sync.Mutex
	startedAt time.Time
}

func (l *historyListener) ExecutionStarted(h *execution.Handle) error {
	l.mu.Lock()
	l.startedAt = time.Now().UTC()
	l.mu.Unlock()
	return nil
}

func (l *historyListener) ExecutionFinished(h *execution.Handle, result execution.Result) error {
	l.mu.Lock()
	startedAt := l.startedAt
	l.mu.Unlock()
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	failure := ""
	if result.Failure() != nil {
		failure = result.Failure().Error()
	}
	entry := history.Entry{
		RunID:       l.runID,
		DisplayName: h.DisplayName(),
		Backend:     l.backend,
		Command:     h.Command(),
		Arguments:   h.Arguments(),
		ExitValue:   result.ExitValue(),
		Failure:     failure,
		StartedAt:   startedAt,
		FinishedAt:  time.Now().UTC(),
	}
	if err := l.store.Record(context.Background(), entry); err != nil {
		l.logger.Warn("recording execution history", "run", l.runID, "err", err)
	}
	return nil
}
