package knowledge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/consult-gateway/internal/model"
)

func TestDefault_Loads(t *testing.T) {
	b := Default()
	assert.Equal(t, 10, b.Len())
}

func TestFindByKeywords_ChestAndBreathing(t *testing.T) {
	got := Default().FindByKeywords([]string{"chest", "shortness_of_breath"})
	require.NotEmpty(t, got)

	assert.Equal(t, "acs-initial", got[0].ProtocolID, "two tags matched, highest priority")
	assert.Equal(t, model.LevelCritical, got[0].Priority)
	assert.ElementsMatch(t, []string{"chest", "shortness_of_breath"}, got[0].MatchedTags)
	assert.Contains(t, got[0].Text, "12-lead ECG")
	assert.Equal(t, "dyspnea-assessment", got[1].ProtocolID)
}

func TestFindByKeywords_NormalizesAndFuzzyMatches(t *testing.T) {
	got := Default().FindByKeywords([]string{"  HEADACHE ", "shortness_of_breth"})
	require.NotEmpty(t, got)

	ids := make([]string, 0, len(got))
	for _, s := range got {
		ids = append(ids, s.ProtocolID)
	}
	assert.Contains(t, ids, "headache-red-flags")
	assert.Contains(t, ids, "dyspnea-assessment")
}

func TestFindByKeywords_NoMatch(t *testing.T) {
	b := Default()
	assert.Nil(t, b.FindByKeywords(nil))
	assert.Nil(t, b.FindByKeywords([]string{""}))
	assert.Empty(t, b.FindByKeywords([]string{"ingrown_toenail"}))
}

func TestFindByKeywords_Limit(t *testing.T) {
	b := Default()
	all := b.FindByKeywords([]string{"fever", "cough", "rash", "fatigue", "chest"})
	assert.Len(t, all, 3, "default limit")

	b.WithLimit(1)
	assert.Len(t, b.FindByKeywords([]string{"fever", "cough"}), 1)
}

func TestLoadFromReader_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		err  string
	}{
		{"unknown field", "protocols:\n  - id: a\n    tags: [x]\n    colour: red\n", "colour"},
		{"missing id", "protocols:\n  - title: nothing\n    tags: [x]\n", "no id"},
		{"duplicate id", "protocols:\n  - id: a\n    tags: [x]\n  - id: a\n    tags: [y]\n", "duplicate"},
		{"no tags", "protocols:\n  - id: a\n", "no tags"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	content := "version: 1\nprotocols:\n  - id: custom\n    title: Custom\n    tags: [Fever]\n    priority: high\n    steps: [Do it.]\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	b, err := Load(path)
	require.NoError(t, err)
	got := b.FindByKeywords([]string{"fever"})
	require.Len(t, got, 1)
	assert.Equal(t, model.LevelHigh, got[0].Priority)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	def, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10, def.Len())
}
