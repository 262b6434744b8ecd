package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Event types emitted by the store.
const (
	EventEnrolled          = "enrolled"
	EventUnenrolled        = "unenrolled"
	EventUnitCompleted     = "unit_completed"
	EventItemCompleted     = "item_completed"
	EventPositionUpdated   = "position_updated"
	EventBookmarkToggled   = "bookmark_toggled"
	EventFavoriteToggled   = "favorite_toggled"
	EventRatingSubmitted   = "rating_submitted"
	EventFeedbackSubmitted = "feedback_submitted"
	EventProgressReset     = "progress_reset"
)

const dbTimeout = 5 * time.Second

// Event is a user activity notification. UserID is empty for store-wide
// events such as a full reset.
type Event struct {
	UserID    string         `json:"user_id"`
	ItemID    string         `json:"item_id,omitempty"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventLogger receives activity events.
type EventLogger interface {
	LogEvent(ctx context.Context, event Event) error
}

// NopEventLogger discards events. It is the store default.
type NopEventLogger struct{}

// LogEvent implements EventLogger.
func (NopEventLogger) LogEvent(context.Context, Event) error { return nil }

// MemoryEventLogger keeps events in emission order. Tests assert on it.
type MemoryEventLogger struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryEventLogger returns an empty MemoryEventLogger.
func NewMemoryEventLogger() *MemoryEventLogger {
	return &MemoryEventLogger{}
}

// LogEvent records event, stamping CreatedAt when unset.
func (l *MemoryEventLogger) LogEvent(_ context.Context, event Event) error {
	if event.EventType == "" {
		return errors.New("progress event without type")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (l *MemoryEventLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

// Types returns the event types in emission order.
func (l *MemoryEventLogger) Types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.EventType)
	}
	return out
}

// PostgresEventLogger inserts events into the progress_events table.
type PostgresEventLogger struct {
	pool *pgxpool.Pool
}

// NewPostgresEventLogger writes events through pool. The progress_events
// table comes from the database migrations.
func NewPostgresEventLogger(pool *pgxpool.Pool) *PostgresEventLogger {
	return &PostgresEventLogger{pool: pool}
}

// LogEvent inserts one row. Store-wide events are stored with an empty
// user_id.
func (l *PostgresEventLogger) LogEvent(ctx context.Context, event Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := l.pool.Exec(ctx,
		`INSERT INTO progress_events (user_id, item_id, event_type, data, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5)`,
		event.UserID,
		event.ItemID,
		event.EventType,
		string(data),
		createdAt,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged",
		"type", event.EventType,
		"user_id", event.UserID,
		"item_id", event.ItemID,
	)
	return nil
}

// MultiEventLogger fans an event out to every logger.
type MultiEventLogger []EventLogger

// LogEvent calls every non-nil logger and joins their errors.
func (m MultiEventLogger) LogEvent(ctx context.Context, event Event) error {
	var errs []error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.LogEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
