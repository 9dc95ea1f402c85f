// Package cache implements the bounded least-recently-used prefix cache of
// previously produced completion candidates, queryable by prefix match.
package cache

import (
	"container/list"
	"log/slog"
	"strings"
	"sync"

	"github.com/tchap/go-patricia/v2/patricia"

	ghostline "github.com/velvetfork/ghostline"
)

// DefaultCapacity is the number of distinct prefix keys kept when no
// capacity is configured.
const DefaultCapacity = 100

// Stored is one cached candidate together with the document suffix that was
// present when it was generated.
type Stored struct {
	Suffix    string
	Candidate ghostline.Candidate
}

type entry struct {
	key    string
	elem   *list.Element
	stored []Stored
}

// PrefixCache maps a document-prefix string to candidates generated at that
// prefix. Lookup matches every cached key that is a prefix of the queried
// text, so a completion generated one keystroke ago keeps serving while the
// user types the suggested text verbatim. Keys are evicted in strict LRU
// order once more than capacity distinct prefixes are held.
type PrefixCache struct {
	mu       sync.Mutex
	capacity int
	trie     *patricia.Trie
	order    *list.List // front = most recently touched, values are *entry
	size     int
}

// New creates a prefix cache bounded to capacity distinct prefix keys.
// A non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *PrefixCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &PrefixCache{
		capacity: capacity,
		trie:     patricia.NewTrie(),
		order:    list.New(),
	}
}

// FindAll returns candidates from every cached key that is a prefix of
// prefix, restricted to candidates recorded against the same suffix. The
// portion of a stored text the user has already typed is sliced off, and the
// slice length is recorded on the candidate as ServedFromCache. Candidates
// from longer (more specific) keys come first. Matched keys are touched in
// LRU order.
func (c *PrefixCache) FindAll(prefix, suffix string) []ghostline.Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()

	var hits []*entry
	c.trie.VisitPrefixes(patricia.Prefix(prefix), func(p patricia.Prefix, item patricia.Item) error {
		hits = append(hits, item.(*entry))
		return nil
	})

	var out []ghostline.Candidate
	// VisitPrefixes yields shorter keys first; serve the longest match first.
	for i := len(hits) - 1; i >= 0; i-- {
		e := hits[i]
		remaining := prefix[len(e.key):]
		matched := false
		for _, st := range e.stored {
			if st.Suffix != suffix {
				continue
			}
			text := st.Candidate.Text
			if !strings.HasPrefix(text, remaining) || len(text) == len(remaining) {
				continue
			}
			cand := st.Candidate.WithText(text[len(remaining):])
			cand.ServedFromCache = len(remaining)
			out = append(out, cand)
			matched = true
		}
		if matched {
			c.order.MoveToFront(e.elem)
		}
	}
	return out
}

// Append inserts a candidate under the given prefix key, creating the key if
// needed and touching its recency. The least-recently-touched key is evicted
// in full once the cache exceeds its capacity.
func (c *PrefixCache) Append(prefix, suffix string, cand ghostline.Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if item := c.trie.Get(patricia.Prefix(prefix)); item != nil {
		e := item.(*entry)
		e.stored = append(e.stored, Stored{Suffix: suffix, Candidate: cand})
		c.order.MoveToFront(e.elem)
		return
	}

	e := &entry{key: prefix, stored: []Stored{{Suffix: suffix, Candidate: cand}}}
	e.elem = c.order.PushFront(e)
	c.trie.Set(patricia.Prefix(prefix), e)
	c.size++

	for c.size > c.capacity {
		c.evictOldest()
	}
}

func (c *PrefixCache) evictOldest() {
	back := c.order.Back()
	if back == nil {
		return
	}
	e := back.Value.(*entry)
	c.order.Remove(back)
	c.trie.Delete(patricia.Prefix(e.key))
	c.size--
	slog.Debug("evicted prefix cache key", "key_len", len(e.key), "candidates", len(e.stored))
}

// Clear drops all entries. Used when a model or endpoint change makes
// cached history invalid.
func (c *PrefixCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trie = patricia.NewTrie()
	c.order.Init()
	c.size = 0
}

// Len returns the number of distinct prefix keys currently held.
func (c *PrefixCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
