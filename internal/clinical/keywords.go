package clinical

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/lexiqai/consult-gateway/internal/model"
)

// Canonical symptom tags shared with the knowledge base and rule table
const (
	TagChest             = "chest"
	TagShortnessOfBreath = "shortness_of_breath"
	TagSyncope           = "syncope"
	TagConfusion         = "confusion"
	TagNumbness          = "numbness"
	TagHeadache          = "headache"
	TagVisionChanges     = "vision_changes"
	TagPalpitations      = "palpitations"
)

// symptomVocabulary maps canonical tags to the phrases that indicate them
var symptomVocabulary = map[string][]string{
	TagChest:             {"chest pain", "chest tightness", "chest pressure", "tight chest", "pain in my chest", "chest hurts", "chest"},
	TagShortnessOfBreath: {"shortness of breath", "short of breath", "can't breathe", "cannot breathe", "difficulty breathing", "trouble breathing", "breathless", "out of breath", "winded"},
	TagHeadache:          {"headache", "migraine", "head hurts", "head pain"},
	"fever":              {"fever", "feverish", "high temperature", "chills"},
	"cough":              {"cough", "coughing"},
	"abdominal_pain":     {"stomach ache", "stomach pain", "abdominal pain", "belly pain", "stomach hurts", "tummy pain"},
	"nausea":             {"nausea", "nauseous", "queasy", "sick to my stomach"},
	"vomiting":           {"vomiting", "throwing up", "threw up", "vomit"},
	"diarrhea":           {"diarrhea", "diarrhoea", "loose stools"},
	"dizziness":          {"dizzy", "dizziness", "lightheaded", "light headed", "vertigo"},
	TagSyncope:           {"fainted", "passed out", "blacked out", "fainting"},
	TagPalpitations:      {"palpitations", "heart racing", "racing heart", "heart pounding", "skipped beats"},
	"fatigue":            {"tired", "fatigue", "exhausted", "no energy"},
	"back_pain":          {"back pain", "back hurts", "lower back"},
	"rash":               {"rash", "hives", "itchy skin"},
	"sore_throat":        {"sore throat", "throat hurts"},
	TagNumbness:          {"numb", "numbness", "tingling", "pins and needles"},
	TagConfusion:         {"confused", "confusion", "disoriented"},
	"anxiety":            {"anxious", "anxiety", "panic attacks", "nervous"},
	"insomnia":           {"can't sleep", "insomnia", "trouble sleeping"},
	"sweating":           {"sweating", "sweaty", "night sweats", "clammy"},
	"wheezing":           {"wheezing", "wheeze"},
	TagVisionChanges:     {"blurred vision", "blurry vision", "double vision"},
	"low_mood":           {"depressed", "feeling down", "low mood", "hopeless"},
}

// concernVocabulary maps concern tags to the phrases that voice them
var concernVocabulary = map[string][]string{
	"fear_of_cancer":          {"cancer", "tumor", "tumour"},
	"fear_of_heart_attack":    {"heart attack"},
	"fear_of_stroke":          {"stroke"},
	"general_worry":           {"worried", "scared", "afraid", "frightened", "concerned"},
	"medication_side_effects": {"side effects", "side effect"},
	"work_impact":             {"miss work", "off work", "my job"},
	"cost":                    {"afford", "insurance", "cost"},
}

// scopeBreakers end the reach of a preceding negator ("no, but my chest hurts")
var scopeBreakers = map[string]struct{}{"but": {}, "however": {}, "although": {}, "except": {}}

var negators = map[string]struct{}{
	"no": {}, "not": {}, "don't": {}, "dont": {}, "didn't": {}, "haven't": {},
	"without": {}, "denies": {}, "never": {}, "isn't": {}, "wasn't": {},
}

const (
	negationWindow = 3    // tokens before a phrase that can negate it
	fuzzyMinLength = 6    // shorter single words only match exactly
	fuzzyThreshold = 0.95 // Jaro-Winkler score for misspelled single words
	fuzzyMaxDelta  = 2    // maximum length difference for a fuzzy match
)

type phrase struct {
	tag    string
	tokens []string
}

// Matcher finds vocabulary phrases in free text. It tolerates transcription
// misspellings of long single words and skips negated mentions.
type Matcher struct {
	phrases []phrase
}

func newMatcher(vocab map[string][]string) *Matcher {
	m := &Matcher{}
	for tag, list := range vocab {
		for _, p := range list {
			m.phrases = append(m.phrases, phrase{tag: tag, tokens: Tokenize(p)})
		}
	}
	return m
}

var (
	symptomMatcher = newMatcher(symptomVocabulary)
	concernMatcher = newMatcher(concernVocabulary)
)

// MatchSymptoms returns the canonical symptom tags mentioned in text
func MatchSymptoms(text string) []string { return symptomMatcher.Match(text) }

// MatchConcerns returns the concern tags voiced in text
func MatchConcerns(text string) []string { return concernMatcher.Match(text) }

// Match returns the sorted set of tags found in text
func (m *Matcher) Match(text string) []string {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	var tags []string
	for _, p := range m.phrases {
		if m.contains(tokens, p.tokens) {
			tags = append(tags, p.tag)
		}
	}
	return model.NormalizeSet(tags)
}

func (m *Matcher) contains(tokens, want []string) bool {
	for i := 0; i+len(want) <= len(tokens); i++ {
		if !tokensMatch(tokens[i:i+len(want)], want) {
			continue
		}
		if !negated(tokens, i) {
			return true
		}
	}
	return false
}

func tokensMatch(got, want []string) bool {
	if len(want) == 1 {
		return wordMatch(got[0], want[0])
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func wordMatch(got, want string) bool {
	if got == want {
		return true
	}
	if len(want) < fuzzyMinLength || abs(len(got)-len(want)) > fuzzyMaxDelta {
		return false
	}
	return matchr.JaroWinkler(got, want, false) >= fuzzyThreshold
}

func negated(tokens []string, at int) bool {
	for j := at - 1; j >= max(0, at-negationWindow); j-- {
		if _, ok := scopeBreakers[tokens[j]]; ok {
			return false
		}
		if _, ok := negators[tokens[j]]; ok {
			return true
		}
	}
	return false
}

// Tokenize lowercases text and splits it into words, keeping apostrophes
func Tokenize(text string) []string {
	text = strings.ReplaceAll(strings.ToLower(text), "’", "'")
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// CanonicalTags maps a free-form symptom name, such as one produced by a
// language model, onto the vocabulary. Unknown names are snake_cased.
func CanonicalTags(name string) []string {
	if tags := MatchSymptoms(name); len(tags) > 0 {
		return tags
	}
	if tag := strings.Join(Tokenize(name), "_"); tag != "" {
		return []string{tag}
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
