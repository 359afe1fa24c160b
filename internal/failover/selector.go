// Package failover picks the next provider when the current one must be
// abandoned (rate limit, auth failure, persistent API errors). Selection is
// advisory: nothing here mutates session state, the caller applies the
// result through the transport.
package failover

import (
	"errors"
	"sort"
	"sync"
)

// ErrNoAlternate is returned when no distinct provider is available.
var ErrNoAlternate = errors.New("no alternate provider available")

// Next returns the provider to fail over to. Providers are stable-sorted by
// their position in priority (unlisted providers sort last, keeping their
// input order). The walk moves forward circularly through the listed
// providers from the current one; unlisted providers are a last resort,
// chosen only when no listed alternate exists. A current provider that is
// itself unlisted fails over to the head of the sorted order.
func Next(providers []string, current string, priority []string) (string, error) {
	if len(providers) < 2 {
		return "", ErrNoAlternate
	}

	rank := make(map[string]int, len(priority))
	for i, p := range priority {
		rank[p] = i
	}
	pos := func(p string) int {
		if r, ok := rank[p]; ok {
			return r
		}
		return len(priority) // unlisted sort last
	}

	sorted := make([]string, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return pos(sorted[i]) < pos(sorted[j])
	})

	var listed, unlisted []string
	for _, p := range sorted {
		if _, ok := rank[p]; ok {
			listed = append(listed, p)
		} else {
			unlisted = append(unlisted, p)
		}
	}

	// Current provider unlisted (or absent): restart from the best candidate.
	cur := indexOf(listed, current)
	if cur < 0 {
		for _, p := range sorted {
			if p != current {
				return p, nil
			}
		}
		return "", ErrNoAlternate
	}

	// Circular walk through the listed providers.
	for i := 1; i < len(listed); i++ {
		p := listed[(cur+i)%len(listed)]
		if p != current {
			return p, nil
		}
	}

	// No listed alternate; fall back to the first unlisted provider.
	for _, p := range unlisted {
		if p != current {
			return p, nil
		}
	}
	return "", ErrNoAlternate
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}

// Selector holds the hot-reloadable per-assistant priority lists.
type Selector struct {
	mu         sync.RWMutex
	priorities map[string][]string // assistant type -> ordered provider ids
}

// NewSelector creates a selector with the given priority lists. The map may
// be nil.
func NewSelector(priorities map[string][]string) *Selector {
	s := &Selector{priorities: make(map[string][]string)}
	s.Replace(priorities)
	return s
}

// Replace swaps in a full new set of priority lists (config reload).
func (s *Selector) Replace(priorities map[string][]string) {
	cloned := make(map[string][]string, len(priorities))
	for k, v := range priorities {
		chain := make([]string, len(v))
		copy(chain, v)
		cloned[k] = chain
	}
	s.mu.Lock()
	s.priorities = cloned
	s.mu.Unlock()
}

// Priority returns a copy of the priority list for an assistant type.
func (s *Selector) Priority(assistantType string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.priorities[assistantType]
	out := make([]string, len(chain))
	copy(out, chain)
	return out
}

// SelectNext picks the next provider for an assistant type.
func (s *Selector) SelectNext(assistantType string, providers []string, current string) (string, error) {
	return Next(providers, current, s.Priority(assistantType))
}
