// Package catalog holds the course and quiz-series catalog and the pure
// filter/sort engine that derives views from it.
package catalog

import (
	"fmt"
	"slices"
)

// Catalog is a fixed, read-only list of items in seed order.
type Catalog struct {
	items []Item
	byID  map[string]int
}

// New builds a catalog from items, keeping their order. Duplicate IDs are
// rejected.
func New(items []Item) (*Catalog, error) {
	c := &Catalog{
		items: make([]Item, 0, len(items)),
		byID:  make(map[string]int, len(items)),
	}
	for _, it := range items {
		if it.ID == "" {
			return nil, fmt.Errorf("catalog item with empty id: %q", it.Title)
		}
		if _, dup := c.byID[it.ID]; dup {
			return nil, fmt.Errorf("duplicate catalog item id: %s", it.ID)
		}
		c.byID[it.ID] = len(c.items)
		c.items = append(c.items, it.clone())
	}
	return c, nil
}

// All returns a copy of every item in seed order.
func (c *Catalog) All() []Item {
	out := make([]Item, len(c.items))
	for i, it := range c.items {
		out[i] = it.clone()
	}
	return out
}

// Get returns an item by ID.
func (c *Catalog) Get(id string) (Item, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Item{}, false
	}
	return c.items[i].clone(), true
}

// Len returns the number of items.
func (c *Catalog) Len() int {
	return len(c.items)
}

// Categories returns the distinct categories, sorted.
func (c *Catalog) Categories() []string {
	var out []string
	for _, it := range c.items {
		out = append(out, it.Category)
	}
	return sortedUnique(out)
}

// Tags returns the distinct tags, sorted.
func (c *Catalog) Tags() []string {
	var out []string
	for _, it := range c.items {
		out = append(out, it.Tags...)
	}
	return sortedUnique(out)
}

// Filter applies opts to the whole catalog.
func (c *Catalog) Filter(opts Options, progress ProgressLookup) []Item {
	return Filter(c.items, opts, progress)
}

func sortedUnique(values []string) []string {
	slices.Sort(values)
	out := slices.Compact(values)
	if len(out) > 0 && out[0] == "" {
		out = out[1:]
	}
	return out
}
