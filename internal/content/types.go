package content

import (
	"fmt"
	"strings"
	"time"
)

// Category is the kind of journal entry the source publishes.
// The set is fixed; Unspecified is reserved for failures that cannot be
// attributed to a single category.
type Category int

const (
	CategoryUnspecified Category = iota
	CategoryNotice
	CategoryReport
	CategoryAlbum
	CategoryMenu
	CategorySchedule
)

var categoryNames = map[Category]string{
	CategoryUnspecified: "unspecified",
	CategoryNotice:      "notice",
	CategoryReport:      "report",
	CategoryAlbum:       "album",
	CategoryMenu:        "menu",
	CategorySchedule:    "schedule",
}

func (c Category) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// DeepPaginate reports whether older pages should be requested for this
// category. Notices are high-volume and low-priority, so only the first
// page is ever fetched for them.
func (c Category) DeepPaginate() bool { return c != CategoryNotice }

func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, name := range categoryNames {
		if name == s && c != CategoryUnspecified {
			return c, nil
		}
	}
	return CategoryUnspecified, fmt.Errorf("unknown content category %q", s)
}

func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Item is one journal entry. IDs are assigned by the source and increase
// monotonically within a category; pages arrive newest-first.
type Item struct {
	ID       uint64    `json:"id"`
	Category Category  `json:"category"`
	Title    string    `json:"title"`
	Body     string    `json:"body,omitempty"`
	Author   string    `json:"author,omitempty"`
	PostedAt time.Time `json:"posted_at,omitempty"`
}

// Batch is the newly observed items of one check cycle, keyed by category.
// Sequences are newest-first. A category with nothing new is absent, never
// present with an empty slice.
type Batch map[Category][]Item

func (b Batch) Empty() bool { return len(b) == 0 }

func (b Batch) Total() int {
	n := 0
	for _, items := range b {
		n += len(items)
	}
	return n
}
