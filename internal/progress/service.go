package progress

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/p-n-ai/pai-academy/internal/catalog"
)

const genericFailure = "Something went wrong. Please try again."

// Errors whose text is safe to show to a user.
var publicErrors = []error{
	ErrUnknownItem,
	ErrUnknownUnit,
	ErrAlreadyEnrolled,
	ErrNotEnrolled,
	ErrNotFound,
	ErrInvalidRating,
	ErrInvalidPosition,
	ErrMissingUser,
}

// Result is the outcome of a Service call.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Err     error  `json:"-"`
}

// Service fronts the store like a remote API would: every call waits a
// fixed latency first and failures come back as unsuccessful results.
type Service struct {
	store   *Store
	latency time.Duration
}

// NewService wraps store. A zero latency disables the delay.
func NewService(store *Store, latency time.Duration) *Service {
	if latency < 0 {
		latency = 0
	}
	return &Service{store: store, latency: latency}
}

// Store returns the wrapped store.
func (s *Service) Store() *Store {
	return s.store
}

func (s *Service) Enroll(ctx context.Context, userID, itemID string) Result {
	return call(ctx, s, "enroll", func(ctx context.Context) (*Record, error) {
		return s.store.Enroll(ctx, userID, itemID)
	}, "Enrolled.")
}

func (s *Service) Unenroll(ctx context.Context, userID, itemID string) Result {
	return call(ctx, s, "unenroll", func(ctx context.Context) (any, error) {
		return nil, s.store.Unenroll(ctx, userID, itemID)
	}, "Unenrolled.")
}

func (s *Service) CompleteUnit(ctx context.Context, userID, itemID, unitID string) Result {
	return call(ctx, s, "complete unit", func(ctx context.Context) (*Record, error) {
		return s.store.CompleteUnit(ctx, userID, itemID, unitID)
	}, "Progress saved.")
}

// UpdatePosition saves the playback position. Failures are logged at debug
// level and carry no user message.
func (s *Service) UpdatePosition(ctx context.Context, userID, itemID, unitID string, positionSeconds int) Result {
	if err := s.wait(ctx); err != nil {
		return Result{Err: err}
	}
	rec, err := s.store.UpdatePosition(ctx, userID, itemID, unitID, positionSeconds)
	if err != nil {
		slog.Debug("position update skipped", "user_id", userID, "item_id", itemID, "unit_id", unitID, "error", err)
		return Result{Err: err}
	}
	return Result{Success: true, Data: rec}
}

func (s *Service) ToggleBookmark(ctx context.Context, userID, itemID string) Result {
	return call(ctx, s, "toggle bookmark", func(ctx context.Context) (*Record, error) {
		return s.store.ToggleBookmark(ctx, userID, itemID)
	}, "Bookmark updated.")
}

func (s *Service) ToggleFavorite(ctx context.Context, userID, itemID string) Result {
	return call(ctx, s, "toggle favorite", func(ctx context.Context) (*Record, error) {
		return s.store.ToggleFavorite(ctx, userID, itemID)
	}, "Favorite updated.")
}

func (s *Service) SubmitRating(ctx context.Context, userID, itemID string, rating int) Result {
	return call(ctx, s, "submit rating", func(ctx context.Context) (RatingSummary, error) {
		return s.store.SubmitRating(ctx, userID, itemID, rating)
	}, "Thanks for rating!")
}

func (s *Service) SubmitFeedback(ctx context.Context, fb Feedback) Result {
	return call(ctx, s, "submit feedback", func(ctx context.Context) (Feedback, error) {
		return s.store.SubmitFeedback(ctx, fb)
	}, "Thanks for your feedback!")
}

func (s *Service) Progress(ctx context.Context, userID, itemID string) Result {
	return call(ctx, s, "get progress", func(ctx context.Context) (*Record, error) {
		return s.store.Get(ctx, userID, itemID)
	}, "")
}

func (s *Service) ListProgress(ctx context.Context, userID string) Result {
	return call(ctx, s, "list progress", func(ctx context.Context) ([]Record, error) {
		return s.store.ListForUser(ctx, userID)
	}, "")
}

func (s *Service) ResetUser(ctx context.Context, userID string) Result {
	return call(ctx, s, "reset progress", func(ctx context.Context) (any, error) {
		return nil, s.store.ResetUser(ctx, userID)
	}, "Progress reset.")
}

func (s *Service) Rating(ctx context.Context, itemID string) Result {
	return call(ctx, s, "get rating", func(ctx context.Context) (RatingSummary, error) {
		return s.store.Rating(ctx, itemID)
	}, "")
}

func (s *Service) Feedback(ctx context.Context, itemID string) Result {
	return call(ctx, s, "list feedback", func(ctx context.Context) ([]Feedback, error) {
		return s.store.Feedback(ctx, itemID)
	}, "")
}

func (s *Service) Preferences(ctx context.Context, userID string) Result {
	return call(ctx, s, "get preferences", func(ctx context.Context) (Preferences, error) {
		return s.store.Preferences(ctx, userID)
	}, "")
}

func (s *Service) SetFlags(ctx context.Context, userID string, flags map[string]bool) Result {
	return call(ctx, s, "set preferences", func(ctx context.Context) (Preferences, error) {
		return s.store.SetFlags(ctx, userID, flags)
	}, "Preferences saved.")
}

func (s *Service) UpdateFilters(ctx context.Context, userID string, u catalog.OptionsUpdate) Result {
	return call(ctx, s, "update filters", func(ctx context.Context) (Preferences, error) {
		return s.store.UpdateFilters(ctx, userID, u)
	}, "Filters saved.")
}

func (s *Service) ClearFilters(ctx context.Context, userID string) Result {
	return call(ctx, s, "clear filters", func(ctx context.Context) (Preferences, error) {
		return s.store.ClearFilters(ctx, userID)
	}, "Filters cleared.")
}

// call waits the configured latency, runs fn and folds its outcome into a
// Result. No retries.
func call[T any](ctx context.Context, s *Service, op string, fn func(context.Context) (T, error), okMessage string) Result {
	if err := s.wait(ctx); err != nil {
		return Result{Message: Message(err), Err: err}
	}
	data, err := fn(ctx)
	if err != nil {
		msg := Message(err)
		if msg == genericFailure {
			slog.Error("progress operation failed", "op", op, "error", err)
		}
		return Result{Message: msg, Err: err}
	}
	return Result{Success: true, Message: okMessage, Data: data}
}

func (s *Service) wait(ctx context.Context) error {
	if s.latency == 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Message returns the user-facing text for err. Validation and domain
// errors keep their text; anything else gets a generic message.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var fields catalog.FieldErrors
	if errors.As(err, &fields) {
		return fields.Error()
	}
	for _, e := range publicErrors {
		if errors.Is(err, e) {
			return e.Error()
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "Request cancelled."
	}
	return genericFailure
}
