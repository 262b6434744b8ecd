package progress

import (
	"errors"
	"time"

	"github.com/p-n-ai/pai-academy/internal/catalog"
)

// Fixed blob keys. Backends add their own prefix.
const (
	KeyProgress    = "progress"
	KeyRatings     = "ratings"
	KeyFeedback    = "feedback"
	KeyPreferences = "preferences"
)

var (
	ErrUnknownItem     = errors.New("unknown catalog item")
	ErrUnknownUnit     = errors.New("unknown unit for item")
	ErrAlreadyEnrolled = errors.New("already enrolled")
	ErrNotEnrolled     = errors.New("not enrolled")
	ErrNotFound        = errors.New("progress not found")
	ErrInvalidRating   = errors.New("rating must be between 1 and 5")
	ErrInvalidPosition = errors.New("position must not be negative")
	ErrMissingUser     = errors.New("user id is required")
	ErrStorage         = errors.New("storage failure")
)

// Record is one user's progress on one catalog item. Per-unit state lives
// in Units, keyed by unit ID.
type Record struct {
	UserID         string                  `json:"user_id"`
	ItemID         string                  `json:"item_id"`
	Status         catalog.ProgressStatus  `json:"status"`
	Percentage     float64                 `json:"percentage"`
	CompletedUnits []string                `json:"completed_units"`
	Units          map[string]UnitProgress `json:"units,omitempty"`
	CurrentUnitID  string                  `json:"current_unit_id,omitempty"`
	Enrolled       bool                    `json:"enrolled"`
	Bookmarked     bool                    `json:"bookmarked"`
	Favorite       bool                    `json:"favorite"`
	UserRating     int                     `json:"user_rating,omitempty"`
	EnrolledAt     *time.Time              `json:"enrolled_at,omitempty"`
	StartedAt      *time.Time              `json:"started_at,omitempty"`
	CompletedAt    *time.Time              `json:"completed_at,omitempty"`
	LastAccessedAt time.Time               `json:"last_accessed_at"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// HasCompleted reports whether unitID is in the completed set.
func (r *Record) HasCompleted(unitID string) bool {
	for _, u := range r.CompletedUnits {
		if u == unitID {
			return true
		}
	}
	return false
}

// UnitProgress is the state of a single lesson or quiz within an item.
type UnitProgress struct {
	Status          catalog.ProgressStatus `json:"status"`
	PositionSeconds int                    `json:"position_seconds"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// RatingSummary is the stored running average for an item.
type RatingSummary struct {
	ItemID    string    `json:"item_id"`
	Average   float64   `json:"average"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Feedback is one entry of an item's append-only feedback log.
type Feedback struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ItemID    string    `json:"item_id"`
	Rating    int       `json:"rating,omitempty"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

// Preferences holds a user's UI flags and saved catalog filters.
type Preferences struct {
	UserID    string          `json:"user_id"`
	Flags     map[string]bool `json:"flags"`
	Filters   catalog.Options `json:"filters"`
	UpdatedAt time.Time       `json:"updated_at,omitempty"`
}

// Blob shapes as persisted under the fixed keys.
type (
	progressBlob    map[string]map[string]*Record // userID -> itemID -> record
	ratingsBlob     map[string]RatingSummary      // itemID -> summary
	feedbackBlob    map[string][]Feedback         // itemID -> entries
	preferencesBlob map[string]Preferences        // userID -> preferences
)
