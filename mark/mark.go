// Package mark keeps the per-link markers shown to the user: a link is
// marked when its latest result is broken and unmarked when it is ok.
package mark

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/lukemcguire/zombiecheck/crawler"
	"github.com/lukemcguire/zombiecheck/result"
)

// Entry is a broken marker for one link.
type Entry struct {
	URL        string
	SourcePage string
	Reason     string
	Handle     any
}

// Set is an in-memory crawler.Marker. It is safe for concurrent use and
// idempotent: marking the same item with the same result twice is a no-op.
type Set struct {
	mu      sync.RWMutex
	broken  map[*crawler.Item]Entry
	checked map[*crawler.Item]struct{}
}

// NewSet creates an empty marker set.
func NewSet() *Set {
	return &Set{
		broken:  map[*crawler.Item]Entry{},
		checked: map[*crawler.Item]struct{}{},
	}
}

// Mark applies the marker for res to item. Ok clears any prior broken
// marker; skipped items are left untouched.
func (s *Set) Mark(item *crawler.Item, res result.LinkResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch res.Status {
	case result.StatusBroken:
		s.checked[item] = struct{}{}
		s.broken[item] = Entry{
			URL:        item.URL,
			SourcePage: item.SourcePage,
			Reason:     res.Error,
			Handle:     item.Handle,
		}
	case result.StatusOK:
		s.checked[item] = struct{}{}
		delete(s.broken, item)
	}
}

// Reset clears every marker.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.broken)
	clear(s.checked)
}

// isBroken reports whether item currently carries a broken marker.
func (s *Set) isBroken(item *crawler.Item) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.broken[item]
	return ok
}

// isChecked reports whether item has been probed since the last Reset.
func (s *Set) isChecked(item *crawler.Item) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.checked[item]
	return ok
}

// Broken returns the broken markers sorted by URL.
func (s *Set) Broken() []Entry {
	s.mu.RLock()
	entries := lo.Values(s.broken)
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].URL < entries[j].URL })
	return entries
}

var _ crawler.Marker = (*Set)(nil)
