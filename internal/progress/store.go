// Package progress tracks per-user enrollment, unit completion, ratings,
// feedback and preferences as JSON blobs in a storage.KV, and exposes them
// through a latency-simulating Service.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-academy/internal/catalog"
	"github.com/p-n-ai/pai-academy/internal/storage"
)

const (
	defaultCompletionThreshold = 100.0
	maxCommentLength           = 2000
)

// StoreConfig holds dependencies for the progress store.
type StoreConfig struct {
	KV                  storage.KV
	Catalog             *catalog.Catalog
	Events              EventLogger
	CompletionThreshold float64          // percent at which an item counts as completed (default 100)
	Now                 func() time.Time // default time.Now
}

// Store performs read-modify-write operations over whole blobs. A mutex
// serializes writers inside one process; separate processes sharing a
// backend race and the last write wins.
type Store struct {
	kv        storage.KV
	catalog   *catalog.Catalog
	events    EventLogger
	threshold float64
	now       func() time.Time
	mu        sync.Mutex
}

// NewStore creates a progress store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.KV == nil {
		return nil, fmt.Errorf("storage is nil")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is nil")
	}
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	threshold := cfg.CompletionThreshold
	if threshold <= 0 || threshold > 100 {
		threshold = defaultCompletionThreshold
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		kv:        cfg.KV,
		catalog:   cfg.Catalog,
		events:    events,
		threshold: threshold,
		now:       now,
	}, nil
}

// Enroll creates or marks the user's record as enrolled. Enrolling twice
// returns ErrAlreadyEnrolled and leaves the record untouched.
func (s *Store) Enroll(ctx context.Context, userID, itemID string) (*Record, error) {
	if _, err := s.item(userID, itemID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := s.loadProgress(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := blob.getOrCreate(userID, itemID, now)
	if rec.Enrolled {
		return nil, ErrAlreadyEnrolled
	}
	rec.Enrolled = true
	rec.EnrolledAt = &now
	rec.LastAccessedAt = now
	rec.UpdatedAt = now

	if err := s.save(ctx, KeyProgress, blob); err != nil {
		return nil, err
	}
	s.emit(ctx, Event{UserID: userID, ItemID: itemID, EventType: EventEnrolled})
	return rec, nil
}

// Unenroll deletes the user's record for the item.
func (s *Store) Unenroll(ctx context.Context, userID, itemID string) error {
	if userID == "" {
		return ErrMissingUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := s.loadProgress(ctx)
	if err != nil {
		return err
	}

	rec := blob.get(userID, itemID)
	if rec == nil || !rec.Enrolled {
		return ErrNotEnrolled
	}
	blob.remove(userID, itemID)

	if err := s.save(ctx, KeyProgress, blob); err != nil {
		return err
	}
	s.emit(ctx, Event{UserID: userID, ItemID: itemID, EventType: EventUnenrolled})
	return nil
}

// CompleteUnit adds unitID to the completed set and recomputes the
// percentage. Completing a unit twice changes nothing. The item becomes
// completed once the percentage reaches the completion threshold.
func (s *Store) CompleteUnit(ctx context.Context, userID, itemID, unitID string) (*Record, error) {
	item, err := s.item(userID, itemID)
	if err != nil {
		return nil, err
	}
	if err := checkUnit(item, unitID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := s.loadProgress(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := blob.getOrCreate(userID, itemID, now)
	if rec.HasCompleted(unitID) {
		return rec, nil
	}

	rec.CompletedUnits = append(rec.CompletedUnits, unitID)
	unit := rec.Units[unitID]
	unit.Status = catalog.StatusCompleted
	unit.CompletedAt = &now
	unit.UpdatedAt = now
	rec.Units[unitID] = unit

	pct := percentage(len(rec.CompletedUnits), item.UnitCount())
	if pct > rec.Percentage {
		rec.Percentage = pct
	}
	if rec.StartedAt == nil {
		rec.StartedAt = &now
	}

	justCompleted := false
	if rec.Percentage >= s.threshold {
		if rec.Status != catalog.StatusCompleted {
			rec.Status = catalog.StatusCompleted
			rec.CompletedAt = &now
			justCompleted = true
		}
	} else {
		rec.Status = catalog.StatusInProgress
	}
	rec.LastAccessedAt = now
	rec.UpdatedAt = now

	if err := s.save(ctx, KeyProgress, blob); err != nil {
		return nil, err
	}

	s.emit(ctx, Event{
		UserID:    userID,
		ItemID:    itemID,
		EventType: EventUnitCompleted,
		Data:      map[string]any{"unit_id": unitID, "percentage": rec.Percentage},
	})
	if justCompleted {
		s.emit(ctx, Event{UserID: userID, ItemID: itemID, EventType: EventItemCompleted})
	}
	return rec, nil
}

// UpdatePosition records where the user is within a unit.
func (s *Store) UpdatePosition(ctx context.Context, userID, itemID, unitID string, positionSeconds int) (*Record, error) {
	item, err := s.item(userID, itemID)
	if err != nil {
		return nil, err
	}
	if err := checkUnit(item, unitID); err != nil {
		return nil, err
	}
	if positionSeconds < 0 {
		return nil, ErrInvalidPosition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := s.loadProgress(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := blob.getOrCreate(userID, itemID, now)
	unit := rec.Units[unitID]
	if unit.Status != catalog.StatusCompleted {
		unit.Status = catalog.StatusInProgress
	}
	unit.PositionSeconds = positionSeconds
	unit.UpdatedAt = now
	rec.Units[unitID] = unit

	rec.CurrentUnitID = unitID
	if rec.Status == catalog.StatusNotStarted {
		rec.Status = catalog.StatusInProgress
	}
	if rec.StartedAt == nil {
		rec.StartedAt = &now
	}
	rec.LastAccessedAt = now
	rec.UpdatedAt = now

	if err := s.save(ctx, KeyProgress, blob); err != nil {
		return nil, err
	}
	s.emit(ctx, Event{
		UserID:    userID,
		ItemID:    itemID,
		EventType: EventPositionUpdated,
		Data:      map[string]any{"unit_id": unitID, "position_seconds": positionSeconds},
	})
	return rec, nil
}

// ToggleBookmark flips the bookmarked flag, creating the record if needed.
func (s *Store) ToggleBookmark(ctx context.Context, userID, itemID string) (*Record, error) {
	return s.toggle(ctx, userID, itemID, EventBookmarkToggled, func(r *Record) bool {
		r.Bookmarked = !r.Bookmarked
		return r.Bookmarked
	})
}

// ToggleFavorite flips the favorite flag, creating the record if needed.
func (s *Store) ToggleFavorite(ctx context.Context, userID, itemID string) (*Record, error) {
	return s.toggle(ctx, userID, itemID, EventFavoriteToggled, func(r *Record) bool {
		r.Favorite = !r.Favorite
		return r.Favorite
	})
}

func (s *Store) toggle(ctx context.Context, userID, itemID, eventType string, flip func(*Record) bool) (*Record, error) {
	if _, err := s.item(userID, itemID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := s.loadProgress(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := blob.getOrCreate(userID, itemID, now)
	value := flip(rec)
	rec.UpdatedAt = now

	if err := s.save(ctx, KeyProgress, blob); err != nil {
		return nil, err
	}
	s.emit(ctx, Event{UserID: userID, ItemID: itemID, EventType: eventType, Data: map[string]any{"value": value}})
	return rec, nil
}

// SubmitRating folds rating into the item's running average and stores it
// as the user's rating. Every submission counts, including repeats from the
// same user. The average is recomputed from the stored average and count,
// so rounding error accumulates over many submissions.
func (s *Store) SubmitRating(ctx context.Context, userID, itemID string, rating int) (RatingSummary, error) {
	if _, err := s.item(userID, itemID); err != nil {
		return RatingSummary{}, err
	}
	if rating < 1 || rating > 5 {
		return RatingSummary{}, ErrInvalidRating
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ratings := ratingsBlob{}
	if err := s.load(ctx, KeyRatings, &ratings); err != nil {
		return RatingSummary{}, err
	}
	progress, err := s.loadProgress(ctx)
	if err != nil {
		return RatingSummary{}, err
	}

	now := s.now().UTC()
	sum := ratings[itemID]
	sum.ItemID = itemID
	sum.Average = (sum.Average*float64(sum.Count) + float64(rating)) / float64(sum.Count+1)
	sum.Count++
	sum.UpdatedAt = now
	ratings[itemID] = sum

	rec := progress.getOrCreate(userID, itemID, now)
	rec.UserRating = rating
	rec.UpdatedAt = now

	// Ratings go last: a failed call must not leave a counted rating behind.
	if err := s.save(ctx, KeyProgress, progress); err != nil {
		return RatingSummary{}, err
	}
	if err := s.save(ctx, KeyRatings, ratings); err != nil {
		return RatingSummary{}, err
	}
	s.emit(ctx, Event{UserID: userID, ItemID: itemID, EventType: EventRatingSubmitted, Data: map[string]any{"rating": rating}})
	return sum, nil
}

// Rating returns the stored summary for an item. Unrated items return a
// zero summary.
func (s *Store) Rating(ctx context.Context, itemID string) (RatingSummary, error) {
	if _, ok := s.catalog.Get(itemID); !ok {
		return RatingSummary{}, ErrUnknownItem
	}
	ratings := ratingsBlob{}
	if err := s.load(ctx, KeyRatings, &ratings); err != nil {
		return RatingSummary{}, err
	}
	sum := ratings[itemID]
	sum.ItemID = itemID
	return sum, nil
}

// Ratings returns every stored rating summary ordered by item ID.
func (s *Store) Ratings(ctx context.Context) ([]RatingSummary, error) {
	ratings := ratingsBlob{}
	if err := s.load(ctx, KeyRatings, &ratings); err != nil {
		return nil, err
	}
	out := make([]RatingSummary, 0, len(ratings))
	for _, r := range ratings {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

// SubmitFeedback appends an entry to the item's feedback log.
func (s *Store) SubmitFeedback(ctx context.Context, fb Feedback) (Feedback, error) {
	if _, err := s.item(fb.UserID, fb.ItemID); err != nil {
		return Feedback{}, err
	}
	if err := ValidateFeedback(fb); err != nil {
		return Feedback{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob := feedbackBlob{}
	if err := s.load(ctx, KeyFeedback, &blob); err != nil {
		return Feedback{}, err
	}

	fb.ID = uuid.NewString()
	fb.Comment = strings.TrimSpace(fb.Comment)
	fb.CreatedAt = s.now().UTC()
	blob[fb.ItemID] = append(blob[fb.ItemID], fb)

	if err := s.save(ctx, KeyFeedback, blob); err != nil {
		return Feedback{}, err
	}
	s.emit(ctx, Event{UserID: fb.UserID, ItemID: fb.ItemID, EventType: EventFeedbackSubmitted, Data: map[string]any{"feedback_id": fb.ID}})
	return fb, nil
}

// ValidateFeedback returns field-level errors for a feedback submission.
func ValidateFeedback(fb Feedback) error {
	errs := catalog.FieldErrors{}
	comment := strings.TrimSpace(fb.Comment)
	switch {
	case comment == "":
		errs["comment"] = "is required"
	case utf8.RuneCountInString(comment) > maxCommentLength:
		errs["comment"] = fmt.Sprintf("must be at most %d characters", maxCommentLength)
	}
	if fb.Rating != 0 && (fb.Rating < 1 || fb.Rating > 5) {
		errs["rating"] = "must be between 1 and 5"
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Feedback returns an item's feedback log in submission order.
func (s *Store) Feedback(ctx context.Context, itemID string) ([]Feedback, error) {
	if _, ok := s.catalog.Get(itemID); !ok {
		return nil, ErrUnknownItem
	}
	blob := feedbackBlob{}
	if err := s.load(ctx, KeyFeedback, &blob); err != nil {
		return nil, err
	}
	entries := blob[itemID]
	if entries == nil {
		entries = []Feedback{}
	}
	return entries, nil
}

// Get returns one record.
func (s *Store) Get(ctx context.Context, userID, itemID string) (*Record, error) {
	blob, err := s.loadProgress(ctx)
	if err != nil {
		return nil, err
	}
	rec := blob.get(userID, itemID)
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// ListForUser returns every record of a user ordered by item ID.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]Record, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	blob, err := s.loadProgress(ctx)
	if err != nil {
		return nil, err
	}
	recs := make([]Record, 0, len(blob[userID]))
	for _, r := range blob[userID] {
		recs = append(recs, *r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ItemID < recs[j].ItemID })
	return recs, nil
}

// Lookup returns the user's progress in the shape the filter engine reads.
func (s *Store) Lookup(ctx context.Context, userID string) (catalog.ProgressLookup, error) {
	recs, err := s.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	lookup := make(catalog.ProgressLookup, len(recs))
	for _, r := range recs {
		lookup[r.ItemID] = catalog.ItemProgress{Status: r.Status, Percentage: r.Percentage}
	}
	return lookup, nil
}

// ResetUser deletes every progress record of a user.
func (s *Store) ResetUser(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrMissingUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := s.loadProgress(ctx)
	if err != nil {
		return err
	}
	removed := len(blob[userID])
	delete(blob, userID)

	if err := s.save(ctx, KeyProgress, blob); err != nil {
		return err
	}
	s.emit(ctx, Event{UserID: userID, EventType: EventProgressReset, Data: map[string]any{"records": removed}})
	return nil
}

// ResetAll drops the whole progress blob. Its progress_reset event has no
// user.
func (s *Store) ResetAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(ctx, KeyProgress); err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrStorage, KeyProgress, err)
	}
	slog.Info("all progress reset")
	s.emit(ctx, Event{EventType: EventProgressReset, Data: map[string]any{"scope": "all"}})
	return nil
}

// Preferences returns the user's preferences, with default filters when
// nothing was saved yet.
func (s *Store) Preferences(ctx context.Context, userID string) (Preferences, error) {
	if userID == "" {
		return Preferences{}, ErrMissingUser
	}
	blob := preferencesBlob{}
	if err := s.load(ctx, KeyPreferences, &blob); err != nil {
		return Preferences{}, err
	}
	return blob.get(userID), nil
}

// SetFlag sets one UI preference flag.
func (s *Store) SetFlag(ctx context.Context, userID, flag string, value bool) (Preferences, error) {
	return s.SetFlags(ctx, userID, map[string]bool{flag: value})
}

// SetFlags merges flags into the user's UI preference flags.
func (s *Store) SetFlags(ctx context.Context, userID string, flags map[string]bool) (Preferences, error) {
	return s.updatePreferences(ctx, userID, func(p *Preferences) error {
		for k, v := range flags {
			if strings.TrimSpace(k) == "" {
				return catalog.FieldErrors{"flags": "flag names must not be empty"}
			}
			p.Flags[k] = v
		}
		return nil
	})
}

// UpdateFilters merges u into the user's saved catalog filters.
func (s *Store) UpdateFilters(ctx context.Context, userID string, u catalog.OptionsUpdate) (Preferences, error) {
	return s.updatePreferences(ctx, userID, func(p *Preferences) error {
		merged := p.Filters.Merge(u)
		if err := merged.Validate(); err != nil {
			return err
		}
		p.Filters = merged
		return nil
	})
}

// ClearFilters resets the user's saved filters to the defaults.
func (s *Store) ClearFilters(ctx context.Context, userID string) (Preferences, error) {
	return s.updatePreferences(ctx, userID, func(p *Preferences) error {
		p.Filters = catalog.DefaultOptions()
		return nil
	})
}

func (s *Store) updatePreferences(ctx context.Context, userID string, apply func(*Preferences) error) (Preferences, error) {
	if userID == "" {
		return Preferences{}, ErrMissingUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	blob := preferencesBlob{}
	if err := s.load(ctx, KeyPreferences, &blob); err != nil {
		return Preferences{}, err
	}

	prefs := blob.get(userID)
	if err := apply(&prefs); err != nil {
		return Preferences{}, err
	}
	prefs.UpdatedAt = s.now().UTC()
	blob[userID] = prefs

	if err := s.save(ctx, KeyPreferences, blob); err != nil {
		return Preferences{}, err
	}
	return prefs, nil
}

// Catalog returns the catalog the store validates against.
func (s *Store) Catalog() *catalog.Catalog {
	return s.catalog
}

// Ping checks the storage backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}

func (s *Store) item(userID, itemID string) (catalog.Item, error) {
	if userID == "" {
		return catalog.Item{}, ErrMissingUser
	}
	item, ok := s.catalog.Get(itemID)
	if !ok {
		return catalog.Item{}, ErrUnknownItem
	}
	return item, nil
}

func (s *Store) emit(ctx context.Context, event Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	if err := s.events.LogEvent(ctx, event); err != nil {
		slog.Warn("failed to log progress event", "type", event.EventType, "user_id", event.UserID, "error", err)
	}
}

func (s *Store) loadProgress(ctx context.Context) (progressBlob, error) {
	blob := progressBlob{}
	if err := s.load(ctx, KeyProgress, &blob); err != nil {
		return nil, err
	}
	return blob, nil
}

// load decodes the blob under key into v. A missing key leaves v as is.
func (s *Store) load(ctx context.Context, key string, v any) error {
	data, found, err := s.kv.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrStorage, key, err)
	}
	if !found || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrStorage, key, err)
	}
	return nil
}

func (s *Store) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrStorage, key, err)
	}
	if err := s.kv.Set(ctx, key, data); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrStorage, key, err)
	}
	return nil
}

func checkUnit(item catalog.Item, unitID string) error {
	if len(item.Units) == 0 {
		if unitID != item.ID {
			return ErrUnknownUnit
		}
		return nil
	}
	if !item.HasUnit(unitID) {
		return ErrUnknownUnit
	}
	return nil
}

func percentage(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(done) * 100 / float64(total)
	return math.Min(100, math.Round(pct*100)/100)
}

func (b progressBlob) get(userID, itemID string) *Record {
	return b[userID][itemID]
}

func (b progressBlob) getOrCreate(userID, itemID string, now time.Time) *Record {
	items, ok := b[userID]
	if !ok {
		items = make(map[string]*Record)
		b[userID] = items
	}
	rec, ok := items[itemID]
	if !ok {
		rec = &Record{
			UserID:         userID,
			ItemID:         itemID,
			Status:         catalog.StatusNotStarted,
			CompletedUnits: []string{},
			CreatedAt:      now,
			UpdatedAt:      now,
			LastAccessedAt: now,
		}
		items[itemID] = rec
	}
	if rec.Units == nil {
		rec.Units = make(map[string]UnitProgress)
	}
	return rec
}

func (b progressBlob) remove(userID, itemID string) {
	delete(b[userID], itemID)
	if len(b[userID]) == 0 {
		delete(b, userID)
	}
}

func (b preferencesBlob) get(userID string) Preferences {
	p, ok := b[userID]
	if !ok {
		p = Preferences{UserID: userID, Filters: catalog.DefaultOptions()}
	}
	if p.Flags == nil {
		p.Flags = make(map[string]bool)
	}
	p.Filters = p.Filters.Normalize()
	return p
}
