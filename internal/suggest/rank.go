package suggest

import (
	"sort"
	"strings"
	"unicode"

	"github.com/lexiqai/consult-gateway/internal/model"
)

// Rank drops candidates below minConfidence and repeated content, orders the
// rest by priority (critical first) then confidence, and keeps at most max.
func Rank(candidates []model.Suggestion, minConfidence float64, max int) []model.Suggestion {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]model.Suggestion, 0, len(candidates))
	for _, c := range candidates {
		if c.Confidence < minConfidence {
			continue
		}
		key := contentKey(c.Content)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank(); ri != rj {
			return ri > rj
		}
		return out[i].Confidence > out[j].Confidence
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// contentKey normalizes suggestion text for duplicate detection
func contentKey(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}
