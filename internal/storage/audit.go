package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"docintake/internal/models"
	"docintake/internal/session"
)

const (
	defaultAuditBuffer = 256
	auditWriteTimeout  = 5 * time.Second
)

// AuditRecorder writes session lifecycle events to the session_events table.
// Observe only queues the event; a background goroutine does the insert so
// store operations never wait on the database.
type AuditRecorder struct {
	db     *sql.DB
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	events chan session.Event
	done   chan struct{}
}

func NewAuditRecorder(db *sql.DB, logger *slog.Logger, buffer int) *AuditRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = defaultAuditBuffer
	}
	r := &AuditRecorder{
		db:     db,
		logger: logger,
		events: make(chan session.Event, buffer),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

// Observe queues e. Events are dropped with a warning when the queue is full.
func (r *AuditRecorder) Observe(e session.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.events <- e:
	default:
		r.logger.Warn("audit queue full, event dropped", "session", e.SessionID, "kind", e.Kind)
	}
}

// Close flushes queued events and stops the writer.
func (r *AuditRecorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()
	<-r.done
}

func (r *AuditRecorder) loop() {
	defer close(r.done)
	for e := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
		if err := r.Record(ctx, e); err != nil {
			r.logger.Error("record session event", "session", e.SessionID, "kind", e.Kind, "err", err)
		}
		cancel()
	}
}

// Record inserts e synchronously.
func (r *AuditRecorder) Record(ctx context.Context, e session.Event) error {
	if r.db == nil {
		return errors.New("audit database not initialized")
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO session_events (session_id, kind, status, documents, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.SessionID, string(e.Kind), string(e.Status), e.Documents, at.UTC())
	if err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}
	return nil
}

// SessionHistory returns the recorded history of one session, oldest first.
func SessionHistory(ctx context.Context, db *sql.DB, sessionID string) ([]session.Event, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT session_id, kind, status, documents, created_at
		FROM session_events
		WHERE session_id = ?
		ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	defer rows.Close()

	var out []session.Event
	for rows.Next() {
		var (
			e            session.Event
			kind, status string
		)
		if err := rows.Scan(&e.SessionID, &kind, &status, &e.Documents, &e.At); err != nil {
			return nil, fmt.Errorf("scan session event: %w", err)
		}
		e.Kind = session.EventKind(kind)
		e.Status = models.Status(status)
		out = append(out, e)
	}
	return out, rows.Err()
}
