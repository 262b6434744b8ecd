package catalog

import (
	"cmp"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Filter derives the ordered view of items selected by opts.
//
// Predicates run in a fixed order: search text, categories, difficulty,
// duration bucket, progress status and tags. The survivors are then
// stable-sorted by opts.SortBy. The result holds copies; items is never
// reordered or shared. Items sharing an ID are kept once.
func Filter(items []Item, opts Options, progress ProgressLookup) []Item {
	opts = opts.Normalize()
	m := newMatcher(opts)

	out := make([]Item, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		if !m.match(it, progress) {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it.clone())
	}

	if c := comparator(opts.SortBy, progress); c != nil {
		if opts.Direction == SortDesc {
			asc := c
			c = func(a, b Item) int { return -asc(a, b) }
		}
		slices.SortStableFunc(out, c)
	}
	return out
}

// matcher holds per-call state. Casers are not safe for concurrent use, so
// every Filter call builds its own.
type matcher struct {
	opts       Options
	fold       cases.Caser
	query      string
	categories map[string]struct{}
	tags       map[string]struct{}
}

func newMatcher(opts Options) *matcher {
	m := &matcher{
		opts:       opts,
		fold:       cases.Fold(),
		categories: toSet(opts.Categories),
		tags:       toSet(opts.Tags),
	}
	m.query = m.fold.String(opts.Search)
	return m
}

func (m *matcher) match(it Item, progress ProgressLookup) bool {
	if m.query != "" && !m.matchText(it) {
		return false
	}
	if len(m.categories) > 0 {
		if _, ok := m.categories[it.Category]; !ok {
			return false
		}
	}
	if m.opts.Difficulty != "" && it.Difficulty != m.opts.Difficulty {
		return false
	}
	if !m.opts.Duration.Contains(it.DurationMinutes) {
		return false
	}
	if m.opts.Status != "" && progress.get(it.ID).Status != m.opts.Status {
		return false
	}
	if len(m.tags) > 0 && !m.anyTag(it) {
		return false
	}
	return true
}

func (m *matcher) matchText(it Item) bool {
	for _, field := range []string{it.Title, it.Description, it.Instructor} {
		if strings.Contains(m.fold.String(field), m.query) {
			return true
		}
	}
	for _, tag := range it.Tags {
		if strings.Contains(m.fold.String(tag), m.query) {
			return true
		}
	}
	return false
}

func (m *matcher) anyTag(it Item) bool {
	for _, tag := range it.Tags {
		if _, ok := m.tags[tag]; ok {
			return true
		}
	}
	return false
}

// comparator returns the ascending order for key, or nil to keep input order.
func comparator(key SortKey, progress ProgressLookup) func(a, b Item) int {
	switch key {
	case SortTitle:
		coll := collate.New(language.English, collate.IgnoreCase)
		return func(a, b Item) int { return coll.CompareString(a.Title, b.Title) }
	case SortDuration:
		return func(a, b Item) int { return cmp.Compare(a.DurationMinutes, b.DurationMinutes) }
	case SortRating:
		return func(a, b Item) int { return cmp.Compare(a.Rating, b.Rating) }
	case SortCreated:
		return func(a, b Item) int { return a.CreatedAt.Compare(b.CreatedAt) }
	case SortUpdated:
		return func(a, b Item) int { return a.UpdatedAt.Compare(b.UpdatedAt) }
	case SortProgress:
		return func(a, b Item) int {
			return cmp.Compare(progress.get(a.ID).Percentage, progress.get(b.ID).Percentage)
		}
	default:
		return nil
	}
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
