// Package routing resolves the broker destination of canonical records and
// parses the per-provider routing configuration.
package routing

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/YaganovValera/eventbus/services/eventbus/pkg/canonical"
)

// NormalizeKind folds case and drops punctuation, so "bookChange",
// "book_change" and "Book-Change" are the same kind.
func NormalizeKind(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Table maps record kinds to destinations. It is immutable after NewTable.
type Table struct {
	base      string
	overrides map[string]string // normalized kind -> destination
}

// NewTable builds a routing table. Override keys are normalized.
func NewTable(base string, overrides map[string]string) (*Table, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil, fmt.Errorf("routing: base destination is required")
	}
	t := &Table{base: base, overrides: make(map[string]string, len(overrides))}
	for k, v := range overrides {
		t.overrides[NormalizeKind(k)] = v
	}
	return t, nil
}

func (t *Table) Base() string { return t.base }

// Resolve returns the override for kind, or the base destination.
func (t *Table) Resolve(kind string) string {
	if len(t.overrides) > 0 {
		if d, ok := t.overrides[NormalizeKind(kind)]; ok {
			return d
		}
	}
	return t.base
}

// Destinations lists the base and every override destination once.
func (t *Table) Destinations() []string {
	seen := map[string]bool{t.base: true}
	out := []string{t.base}
	for _, d := range t.overrides {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

// Group is the slice of a batch bound for one destination.
type Group struct {
	Destination string
	Records     []canonical.Record
}

// Group splits records by destination. Groups appear in the order their
// first record appears; records keep their relative order inside a group.
func (t *Table) Group(records []canonical.Record) []Group {
	if len(records) == 0 {
		return nil
	}
	idx := make(map[string]int, 1+len(t.overrides))
	var groups []Group
	for _, r := range records {
		d := t.Resolve(r.Kind)
		i, ok := idx[d]
		if !ok {
			i = len(groups)
			idx[d] = i
			groups = append(groups, Group{Destination: d})
		}
		groups[i].Records = append(groups[i].Records, r)
	}
	return groups
}

// Filter is an allow-list of record kinds. A nil Filter allows everything.
type Filter struct {
	allowed map[string]struct{}
}

// NewFilter returns nil for an empty list.
func NewFilter(kinds []string) *Filter {
	if len(kinds) == 0 {
		return nil
	}
	f := &Filter{allowed: make(map[string]struct{}, len(kinds))}
	for _, k := range kinds {
		f.allowed[NormalizeKind(k)] = struct{}{}
	}
	return f
}

func (f *Filter) Allows(kind string) bool {
	if f == nil {
		return true
	}
	_, ok := f.allowed[NormalizeKind(kind)]
	return ok
}
