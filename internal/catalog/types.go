package catalog

import (
	"slices"
	"time"
)

// Kind distinguishes courses from quiz series.
type Kind string

const (
	KindCourse     Kind = "course"
	KindQuizSeries Kind = "quiz_series"
)

// Difficulty is the level a catalog item is pitched at.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// Valid reports whether d is one of the known difficulty levels.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return true
	}
	return false
}

// Unit is a lesson of a course or a quiz of a quiz series.
type Unit struct {
	ID              string `yaml:"id" json:"id"`
	Title           string `yaml:"title" json:"title"`
	DurationMinutes int    `yaml:"duration_minutes" json:"duration_minutes"`
}

// Item represents a course or quiz series loaded from seed data.
// Items are never mutated after load.
type Item struct {
	ID              string     `yaml:"id" json:"id"`
	Kind            Kind       `yaml:"kind" json:"kind"`
	Title           string     `yaml:"title" json:"title"`
	Description     string     `yaml:"description" json:"description"`
	Instructor      string     `yaml:"instructor" json:"instructor"`
	Category        string     `yaml:"category" json:"category"`
	Difficulty      Difficulty `yaml:"difficulty" json:"difficulty"`
	DurationMinutes int        `yaml:"duration_minutes" json:"duration_minutes"`
	Rating          float64    `yaml:"rating" json:"rating"`
	Tags            []string   `yaml:"tags" json:"tags"`
	Units           []Unit     `yaml:"units" json:"units"`
	CreatedAt       time.Time  `yaml:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `yaml:"updated_at" json:"updated_at"`
}

// clone returns it with its own Tags and Units.
func (it Item) clone() Item {
	it.Tags = slices.Clone(it.Tags)
	it.Units = slices.Clone(it.Units)
	return it
}

// UnitCount returns the number of units progress is measured against.
// Items without units count as a single unit.
func (it Item) UnitCount() int {
	if len(it.Units) == 0 {
		return 1
	}
	return len(it.Units)
}

// HasUnit reports whether unitID belongs to the item.
func (it Item) HasUnit(unitID string) bool {
	for _, u := range it.Units {
		if u.ID == unitID {
			return true
		}
	}
	return false
}

// ProgressStatus is a user's completion state for an item.
type ProgressStatus string

const (
	StatusNotStarted ProgressStatus = "not_started"
	StatusInProgress ProgressStatus = "in_progress"
	StatusCompleted  ProgressStatus = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s ProgressStatus) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// ItemProgress is the slice of a user's progress the filter engine needs.
type ItemProgress struct {
	Status     ProgressStatus
	Percentage float64
}

// ProgressLookup maps item IDs to a user's progress. Missing items are
// treated as not started.
type ProgressLookup map[string]ItemProgress

func (p ProgressLookup) get(itemID string) ItemProgress {
	if pr, ok := p[itemID]; ok {
		return pr
	}
	return ItemProgress{Status: StatusNotStarted}
}
