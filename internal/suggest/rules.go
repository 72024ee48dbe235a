package suggest

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lexiqai/consult-gateway/internal/model"
)

//go:embed rules.yaml
var builtinRules string

// Rule is one deterministic suggestion. A rule applies when every selector
// it sets matches: any of Tags among the symptoms, any of Concerns among the
// patient concerns, any of Missing among the missing history items, and the
// current phase among Phases.
type Rule struct {
	ID         string   `yaml:"id"`
	Tags       []string `yaml:"tags"`
	Concerns   []string `yaml:"concerns"`
	Missing    []string `yaml:"missing"`
	Phases     []string `yaml:"phases"`
	Type       string   `yaml:"type"`
	Priority   string   `yaml:"priority"`
	Confidence float64  `yaml:"confidence"`
	Variants   []string `yaml:"variants"`
}

func (r Rule) applies(c model.ClinicalContext) bool {
	if len(r.Phases) > 0 && !slices.Contains(r.Phases, string(c.Phase)) {
		return false
	}
	if len(r.Tags) > 0 && !overlaps(r.Tags, c.Symptoms) {
		return false
	}
	if len(r.Concerns) > 0 && !overlaps(r.Concerns, c.PatientConcerns) {
		return false
	}
	if len(r.Missing) > 0 && !overlaps(r.Missing, c.MissingInfo) {
		return false
	}
	return true
}

// Template is an emergency suggestion; untagged templates always apply
type Template struct {
	ID         string   `yaml:"id"`
	Type       string   `yaml:"type"`
	Tags       []string `yaml:"tags"`
	Confidence float64  `yaml:"confidence"`
	Variants   []string `yaml:"variants"`
}

// RuleTable is the parsed rules file
type RuleTable struct {
	Version   int                 `yaml:"version"`
	Emergency []Template          `yaml:"emergency"`
	Generic   map[string][]string `yaml:"generic"`
	Rules     []Rule              `yaml:"rules"`
}

// DefaultRules returns the built-in rule table
func DefaultRules() *RuleTable {
	t, err := LoadRules(strings.NewReader(builtinRules))
	if err != nil {
		panic(fmt.Sprintf("suggest: built-in rules are invalid: %v", err))
	}
	return t
}

// LoadRulesFile reads a rule table from disk; an empty path selects the built-in table
func LoadRulesFile(path string) (*RuleTable, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("suggest: open rules %q: %w", path, err)
	}
	defer f.Close()
	return LoadRules(f)
}

// LoadRules parses and validates rule table YAML
func LoadRules(r io.Reader) (*RuleTable, error) {
	var t RuleTable
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("suggest: decode rules: %w", err)
	}

	ids := make(map[string]struct{})
	unique := func(id string) error {
		if id == "" {
			return fmt.Errorf("suggest: rule without id")
		}
		if _, dup := ids[id]; dup {
			return fmt.Errorf("suggest: duplicate rule id %q", id)
		}
		ids[id] = struct{}{}
		return nil
	}

	if len(t.Emergency) == 0 {
		return nil, fmt.Errorf("suggest: no emergency templates")
	}
	for _, tpl := range t.Emergency {
		if err := unique(tpl.ID); err != nil {
			return nil, err
		}
		if len(tpl.Variants) == 0 {
			return nil, fmt.Errorf("suggest: emergency template %q has no variants", tpl.ID)
		}
	}
	for _, r := range t.Rules {
		if err := unique(r.ID); err != nil {
			return nil, err
		}
		if len(r.Variants) == 0 {
			return nil, fmt.Errorf("suggest: rule %q has no variants", r.ID)
		}
		if len(r.Tags)+len(r.Concerns)+len(r.Missing)+len(r.Phases) == 0 {
			return nil, fmt.Errorf("suggest: rule %q has no selector", r.ID)
		}
	}
	for _, p := range model.Phases {
		if len(t.Generic[string(p)]) == 0 {
			return nil, fmt.Errorf("suggest: no generic question for phase %q", p)
		}
	}
	return &t, nil
}

// Match returns the rules that apply to c in file order
func (t *RuleTable) Match(c model.ClinicalContext) []Rule {
	var out []Rule
	for _, r := range t.Rules {
		if r.applies(c) {
			out = append(out, r)
		}
	}
	return out
}

// EmergencyFor returns the emergency templates that apply to symptoms
func (t *RuleTable) EmergencyFor(symptoms []string) []Template {
	var out []Template
	for _, tpl := range t.Emergency {
		if len(tpl.Tags) == 0 || overlaps(tpl.Tags, symptoms) {
			out = append(out, tpl)
		}
	}
	return out
}

func overlaps(a, b []string) bool {
	for _, v := range a {
		if slices.Contains(b, v) {
			return true
		}
	}
	return false
}
