// Package knowledge holds the protocol snippets suggestions are grounded on.
package knowledge

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
	"gopkg.in/yaml.v3"

	"github.com/lexiqai/consult-gateway/internal/model"
)

//go:embed protocols.yaml
var builtinProtocols string

// fuzzyTagThreshold is the Jaro-Winkler score at which two tags are treated
// as the same, so "short_of_breath" still finds "shortness_of_breath".
const fuzzyTagThreshold = 0.92

// Protocol is one entry of the knowledge base file
type Protocol struct {
	ID       string   `yaml:"id"`
	Title    string   `yaml:"title"`
	Tags     []string `yaml:"tags"`
	Priority string   `yaml:"priority"`
	Source   string   `yaml:"source"`
	Steps    []string `yaml:"steps"`
}

type file struct {
	Version   int        `yaml:"version"`
	Protocols []Protocol `yaml:"protocols"`
}

// Snippet is a protocol matched against a set of symptom tags
type Snippet struct {
	ProtocolID  string
	Title       string
	Text        string
	Source      string
	Priority    model.Level
	MatchedTags []string
	Score       float64
}

// Base is an immutable, in-memory protocol knowledge base
type Base struct {
	protocols []Protocol
	limit     int
}

// Default returns the built-in knowledge base
func Default() *Base {
	b, err := LoadFromReader(strings.NewReader(builtinProtocols))
	if err != nil {
		panic(fmt.Sprintf("knowledge: built-in protocols are invalid: %v", err))
	}
	return b
}

// Load reads a knowledge base file; an empty path selects the built-in base
func Load(path string) (*Base, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open %q: %w", path, err)
	}
	defer f.Close()

	b, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("knowledge: parse %q: %w", path, err)
	}
	return b, nil
}

// LoadFromReader parses knowledge base YAML
func LoadFromReader(r io.Reader) (*Base, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("knowledge: decode yaml: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Protocols))
	for i := range f.Protocols {
		p := &f.Protocols[i]
		if p.ID == "" {
			return nil, fmt.Errorf("knowledge: protocol %d has no id", i)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("knowledge: duplicate protocol id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		if len(p.Tags) == 0 {
			return nil, fmt.Errorf("knowledge: protocol %q has no tags", p.ID)
		}
		p.Tags = model.NormalizeSet(p.Tags)
	}
	return &Base{protocols: f.Protocols, limit: 3}, nil
}

// WithLimit caps how many snippets FindByKeywords returns
func (b *Base) WithLimit(n int) *Base {
	if n > 0 {
		b.limit = n
	}
	return b
}

// Len returns the number of protocols
func (b *Base) Len() int { return len(b.protocols) }

// FindByKeywords returns the protocols whose tags overlap tags, best match
// first. Ties go to the higher priority protocol, then to file order.
func (b *Base) FindByKeywords(tags []string) []Snippet {
	query := model.NormalizeSet(tags)
	if len(query) == 0 {
		return nil
	}

	var out []Snippet
	for _, p := range b.protocols {
		matched := matchTags(query, p.Tags)
		if len(matched) == 0 {
			continue
		}
		out = append(out, Snippet{
			ProtocolID:  p.ID,
			Title:       p.Title,
			Text:        strings.Join(p.Steps, " "),
			Source:      p.Source,
			Priority:    model.ParseLevel(p.Priority, model.LevelMedium),
			MatchedTags: matched,
			Score:       float64(len(matched)) / float64(len(p.Tags)),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].MatchedTags) != len(out[j].MatchedTags) {
			return len(out[i].MatchedTags) > len(out[j].MatchedTags)
		}
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() > out[j].Priority.Rank()
		}
		return out[i].Score > out[j].Score
	})
	if len(out) > b.limit {
		out = out[:b.limit]
	}
	return out
}

// matchTags returns the protocol tags hit by the query, exactly or fuzzily
func matchTags(query, protocolTags []string) []string {
	var matched []string
	for _, pt := range protocolTags {
		for _, q := range query {
			if q == pt || matchr.JaroWinkler(q, pt, false) >= fuzzyTagThreshold {
				matched = append(matched, pt)
				break
			}
		}
	}
	return matched
}
