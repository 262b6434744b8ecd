package catalog

import (
	"net/url"
	"slices"
	"sort"
	"strings"
)

// DurationBucket groups items by their total duration in minutes.
type DurationBucket string

const (
	DurationAll    DurationBucket = "all"
	DurationShort  DurationBucket = "short"  // under 30 minutes
	DurationMedium DurationBucket = "medium" // 30 to 60 minutes
	DurationLong   DurationBucket = "long"   // over 60 minutes
)

// Contains reports whether a duration in minutes falls into the bucket.
func (b DurationBucket) Contains(minutes int) bool {
	switch b {
	case DurationShort:
		return minutes < 30
	case DurationMedium:
		return minutes >= 30 && minutes <= 60
	case DurationLong:
		return minutes > 60
	default:
		return true
	}
}

func (b DurationBucket) valid() bool {
	switch b {
	case DurationAll, DurationShort, DurationMedium, DurationLong:
		return true
	}
	return false
}

// SortKey selects the comparator used to order a filtered view.
type SortKey string

const (
	SortDefault  SortKey = "default" // seed order, direction ignored
	SortTitle    SortKey = "title"
	SortDuration SortKey = "duration"
	SortRating   SortKey = "rating"
	SortCreated  SortKey = "created"
	SortUpdated  SortKey = "updated"
	SortProgress SortKey = "progress"
)

func (k SortKey) valid() bool {
	switch k {
	case SortDefault, SortTitle, SortDuration, SortRating, SortCreated, SortUpdated, SortProgress:
		return true
	}
	return false
}

// SortDirection is ascending or descending.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Options is the set of recognized catalog filters.
type Options struct {
	Search     string         `json:"search,omitempty"`
	Categories []string       `json:"categories,omitempty"`
	Difficulty Difficulty     `json:"difficulty,omitempty"`
	Duration   DurationBucket `json:"duration,omitempty"`
	Status     ProgressStatus `json:"status,omitempty"`
	SortBy     SortKey        `json:"sort_by,omitempty"`
	Direction  SortDirection  `json:"direction,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
}

// DefaultOptions returns the options a cleared filter resets to.
func DefaultOptions() Options {
	return Options{
		Duration:  DurationAll,
		SortBy:    SortDefault,
		Direction: SortAsc,
	}
}

// OptionsUpdate carries a partial change to Options. Nil fields are left
// untouched by Merge.
type OptionsUpdate struct {
	Search     *string         `json:"search,omitempty"`
	Categories *[]string       `json:"categories,omitempty"`
	Difficulty *Difficulty     `json:"difficulty,omitempty"`
	Duration   *DurationBucket `json:"duration,omitempty"`
	Status     *ProgressStatus `json:"status,omitempty"`
	SortBy     *SortKey        `json:"sort_by,omitempty"`
	Direction  *SortDirection  `json:"direction,omitempty"`
	Tags       *[]string       `json:"tags,omitempty"`
}

// Merge returns a copy of o with every set field of u applied.
func (o Options) Merge(u OptionsUpdate) Options {
	out := o
	if u.Search != nil {
		out.Search = *u.Search
	}
	if u.Categories != nil {
		out.Categories = slices.Clone(*u.Categories)
	}
	if u.Difficulty != nil {
		out.Difficulty = *u.Difficulty
	}
	if u.Duration != nil {
		out.Duration = *u.Duration
	}
	if u.Status != nil {
		out.Status = *u.Status
	}
	if u.SortBy != nil {
		out.SortBy = *u.SortBy
	}
	if u.Direction != nil {
		out.Direction = *u.Direction
	}
	if u.Tags != nil {
		out.Tags = slices.Clone(*u.Tags)
	}
	return out.Normalize()
}

// Normalize trims the search text, drops empty and duplicate set entries
// and fills zero enum fields with their defaults.
func (o Options) Normalize() Options {
	o.Search = strings.TrimSpace(o.Search)
	o.Categories = normalizeSet(o.Categories)
	o.Tags = normalizeSet(o.Tags)
	if o.Duration == "" {
		o.Duration = DurationAll
	}
	if o.SortBy == "" {
		o.SortBy = SortDefault
	}
	if o.Direction == "" {
		o.Direction = SortAsc
	}
	return o
}

// Validate checks every enum field and returns field-level errors.
func (o Options) Validate() error {
	o = o.Normalize()
	errs := FieldErrors{}
	if o.Difficulty != "" && !o.Difficulty.Valid() {
		errs["difficulty"] = "must be one of beginner, intermediate, advanced"
	}
	if !o.Duration.valid() {
		errs["duration"] = "must be one of all, short, medium, long"
	}
	if o.Status != "" && !o.Status.Valid() {
		errs["status"] = "must be one of not_started, in_progress, completed"
	}
	if !o.SortBy.valid() {
		errs["sort_by"] = "must be one of default, title, duration, rating, created, updated, progress"
	}
	if o.Direction != SortAsc && o.Direction != SortDesc {
		errs["direction"] = "must be asc or desc"
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ParseOptions decodes filter options from URL query parameters.
// Set-valued parameters accept repeated keys and comma separated values.
func ParseOptions(q url.Values) (Options, error) {
	opts := Options{
		Search:     firstNonEmpty(q.Get("search"), q.Get("q")),
		Categories: splitValues(q["category"]),
		Difficulty: Difficulty(q.Get("difficulty")),
		Duration:   DurationBucket(q.Get("duration")),
		Status:     ProgressStatus(q.Get("status")),
		SortBy:     SortKey(q.Get("sort")),
		Direction:  SortDirection(q.Get("order")),
		Tags:       splitValues(q["tag"]),
	}
	opts = opts.Normalize()
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// FieldErrors maps a field name to a human readable validation message.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f[k])
	}
	return "invalid fields: " + strings.Join(parts, "; ")
}

func normalizeSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func splitValues(raw []string) []string {
	var out []string
	for _, r := range raw {
		out = append(out, strings.Split(r, ",")...)
	}
	return normalizeSet(out)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
