package suggest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/consult-gateway/internal/knowledge"
	"github.com/lexiqai/consult-gateway/internal/model"
)

func ruleIDs(rules []Rule) []string {
	var ids []string
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestDefaultRules(t *testing.T) {
	table := DefaultRules()
	assert.NotEmpty(t, table.Rules)
	for _, p := range model.Phases {
		assert.NotEmpty(t, table.Generic[string(p)], "phase %s", p)
	}
}

func TestRuleTable_Match(t *testing.T) {
	table := DefaultRules()

	c := model.DefaultClinicalContext()
	c.Symptoms = []string{"chest", "fever"}
	c.MissingInfo = []string{"allergies"}
	c.PatientConcerns = []string{"fear_of_heart_attack"}
	assert.Equal(t, []string{"chest-characterise", "fever", "missing-history", "patient-worries"}, ruleIDs(table.Match(c)))

	c.Phase = model.PhaseTreatment
	assert.Equal(t, []string{"chest-characterise", "fever", "treatment-safety", "patient-worries"}, ruleIDs(table.Match(c)),
		"phase-bound rules follow the phase")

	assert.Empty(t, table.Match(model.DefaultClinicalContext()))
}

func TestRuleTable_EmergencyFor(t *testing.T) {
	table := DefaultRules()
	ids := func(ts []Template) []string {
		var out []string
		for _, t := range ts {
			out = append(out, t.ID)
		}
		return out
	}
	assert.Equal(t, []string{"abc-vitals", "escalate"}, ids(table.EmergencyFor(nil)))
	assert.Equal(t, []string{"abc-vitals", "escalate", "cardiac-ecg"}, ids(table.EmergencyFor([]string{"chest"})))
	assert.Equal(t, []string{"abc-vitals", "escalate", "stroke-fast"}, ids(table.EmergencyFor([]string{"numbness", "confusion"})))
}

func TestLoadRules_Validation(t *testing.T) {
	generic := `
generic:
  history: [a]
  exam: [a]
  diagnosis: [a]
  treatment: [a]
  closing: [a]
`
	emergency := `
emergency:
  - id: e1
    type: alert
    confidence: 0.9
    variants: [x]
`
	cases := map[string]string{
		"unknown field": emergency + generic + "bogus: 1\n",
		"no emergency":  generic,
		"no variants":   emergency + generic + "rules:\n  - id: r1\n    tags: [chest]\n",
		"no selector":   emergency + generic + "rules:\n  - id: r1\n    variants: [x]\n",
		"duplicate id":  emergency + generic + "rules:\n  - id: e1\n    tags: [chest]\n    variants: [x]\n",
		"missing phase": emergency + "generic:\n  history: [a]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadRules(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}

	table, err := LoadRules(strings.NewReader(emergency + generic + "rules:\n  - id: r1\n    tags: [chest]\n    variants: [x]\n"))
	require.NoError(t, err)
	assert.Len(t, table.Rules, 1)
}

func TestLoadRulesFile_EmptyPathIsBuiltin(t *testing.T) {
	table, err := LoadRulesFile("")
	require.NoError(t, err)
	assert.Equal(t, len(DefaultRules().Rules), len(table.Rules))

	_, err = LoadRulesFile("/nonexistent/rules.yaml")
	assert.Error(t, err)
}

func TestVariantSelector_RoundRobin(t *testing.T) {
	sel := NewVariantSelector()
	var picks []int
	for i := 0; i < 7; i++ {
		picks = append(picks, sel.Pick("rule:a", 3))
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, picks)

	assert.Equal(t, 0, sel.Pick("rule:b", 2), "keys rotate independently")
	assert.Equal(t, 1, sel.Pick("rule:a", 3))
	assert.Equal(t, 0, sel.Pick("rule:a", 1))
}

func TestVariantSelector_ShapeChangeRestarts(t *testing.T) {
	sel := NewVariantSelector()
	sel.Pick("k", 2)
	sel.Pick("k", 2)
	assert.Equal(t, 0, sel.Pick("k", 4))
	assert.Equal(t, 1, sel.Pick("k", 4))
}

func TestVariantSelector_NeverRepeatsBeforeExhausting(t *testing.T) {
	sel := NewVariantSelector()
	variants := []string{"a", "b", "c", "d"}
	seen := map[string]bool{}
	for range variants {
		v := sel.Choose("k", variants)
		assert.False(t, seen[v], "variant %q repeated", v)
		seen[v] = true
	}
	assert.Empty(t, sel.Choose("empty", nil))
}

func TestParseCandidates(t *testing.T) {
	got, err := ParseCandidates("```json\n" + `{"suggestions":[
		{"type":"ALERT","content":" Check vitals now. ","confidence":"0.85","priority":"Critical","source":"ACS guideline"},
		{"type":"nonsense","text":"Ask about allergies.","confidence":80},
		{"type":"question","content":"","confidence":0.9},
		{"content":"Review medications.","confidence":null,"priority":"urgent"},
		{"content":"Bad confidence.","confidence":"high"}
	]}` + "\n```")
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, model.SuggestionAlert, got[0].Type)
	assert.Equal(t, "Check vitals now.", got[0].Content)
	assert.InDelta(t, 0.85, got[0].Confidence, 1e-9)
	assert.Equal(t, model.LevelCritical, got[0].Priority)
	assert.Equal(t, "ACS guideline", got[0].Source)

	assert.Equal(t, model.SuggestionQuestion, got[1].Type)
	assert.Equal(t, "Ask about allergies.", got[1].Content)
	assert.InDelta(t, 0.8, got[1].Confidence, 1e-9)
	assert.Equal(t, "llm", got[1].Source)

	assert.InDelta(t, defaultModelConfidence, got[2].Confidence, 1e-9)
	assert.Equal(t, model.LevelMedium, got[2].Priority)

	assert.Zero(t, got[3].Confidence)
}

func TestParseCandidates_BareArrayAndErrors(t *testing.T) {
	got, err := ParseCandidates(`Here: [{"content":"Ask about onset.","confidence":0.7}]`)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = ParseCandidates("Based on [the last 3 turns]:\n" + `{"suggestions":[{"content":"Ask about sputum.","confidence":0.8}]}`)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Ask about sputum.", got[0].Content)

	for _, in := range []string{"", "no json", `{"suggestions":[]}`, `{"suggestions":"x"}`, `[{"content":""}]`} {
		_, err := ParseCandidates(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestRank(t *testing.T) {
	in := []model.Suggestion{
		{Content: "Low but sure", Confidence: 0.99, Priority: model.LevelLow},
		{Content: "Below threshold", Confidence: 0.2, Priority: model.LevelCritical},
		{Content: "High", Confidence: 0.7, Priority: model.LevelHigh},
		{Content: "high!", Confidence: 0.9, Priority: model.LevelHigh},
		{Content: "Critical", Confidence: 0.6, Priority: model.LevelCritical},
	}
	got := Rank(in, 0.5, 3)
	require.Len(t, got, 3)
	assert.Equal(t, "Critical", got[0].Content)
	assert.Equal(t, "High", got[1].Content, "first of duplicate contents is kept")
	assert.Equal(t, "Low but sure", got[2].Content)

	assert.Empty(t, Rank(nil, 0.5, 5))
}

func TestBuildPrompt(t *testing.T) {
	c := model.DefaultClinicalContext()
	c.Symptoms = []string{"chest"}
	c.QuestionsAsked = []string{"when did it start"}
	snippets := knowledge.Default().FindByKeywords(c.Symptoms)
	require.NotEmpty(t, snippets)

	p := BuildPrompt(c, snippets, 5)
	assert.Equal(t, "suggestions", p.Purpose)
	assert.Contains(t, p.User, "Symptoms: chest")
	assert.Contains(t, p.User, "Patient concerns: none")
	assert.Contains(t, p.User, snippets[0].Title)
	assert.Contains(t, p.User, "- when did it start")
	assert.Contains(t, p.User, "at most 5 suggestions")
}
