package suggest

import "sync"

// VariantSelector picks among alternative phrasings so that recently used
// ones are deprioritized. For a key with n variants, Pick returns the
// variant whose last use is oldest; never-used variants come first, lowest
// index first. Calling Pick n times therefore cycles through every variant
// before repeating any. Selection is deterministic.
type VariantSelector struct {
	mu       sync.Mutex
	clock    uint64
	lastUsed map[string][]uint64
}

// NewVariantSelector creates an empty selector
func NewVariantSelector() *VariantSelector {
	return &VariantSelector{lastUsed: make(map[string][]uint64)}
}

// Pick returns the index of the variant to use for key and records its use
func (s *VariantSelector) Pick(key string, n int) int {
	if n <= 1 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.lastUsed[key]
	if len(used) != n {
		// Variant list changed shape; start over
		used = make([]uint64, n)
		s.lastUsed[key] = used
	}

	best := 0
	for i := 1; i < n; i++ {
		if used[i] < used[best] {
			best = i
		}
	}
	s.clock++
	used[best] = s.clock
	return best
}

// Choose returns the selected variant text
func (s *VariantSelector) Choose(key string, variants []string) string {
	if len(variants) == 0 {
		return ""
	}
	return variants[s.Pick(key, len(variants))]
}
