package stt

import (
	"math"
	"strings"
	"unicode"
)

var fillerWords = map[string]struct{}{
	"um": {}, "uh": {}, "erm": {}, "er": {}, "ah": {}, "hmm": {}, "mm": {},
	"like": {}, "yeah": {}, "okay": {}, "so": {},
}

// ScoreConfidence estimates transcription reliability in [0,1].
// Provider likelihoods are averaged when present; otherwise the base
// comes from word count. Repetition and filler density are penalized and
// punctuation is rewarded.
func ScoreConfidence(text string, segments []float64) float64 {
	words := tokenize(text)
	if len(words) == 0 {
		return 0
	}

	var base float64
	if len(segments) > 0 {
		var sum float64
		for _, s := range segments {
			sum += math.Max(0, math.Min(1, s))
		}
		base = sum / float64(len(segments))
	} else {
		// 1 word ~0.55, saturating near 0.9 around a dozen words
		base = 0.5 + 0.4*(1-math.Exp(-float64(len(words))/5))
	}

	score := base
	score -= 0.4 * repetitionRatio(words)
	score -= 0.3 * fillerDensity(words)
	if strings.ContainsAny(text, ".,!?;:") {
		score += 0.05
	}
	return math.Max(0, math.Min(1, score))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// repetitionRatio is the share of words that repeat an earlier word,
// ignoring very short texts where repetition is natural.
func repetitionRatio(words []string) float64 {
	if len(words) < 4 {
		return 0
	}
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[w] = struct{}{}
	}
	return 1 - float64(len(seen))/float64(len(words))
}

func fillerDensity(words []string) float64 {
	var n int
	for _, w := range words {
		if _, ok := fillerWords[w]; ok {
			n++
		}
	}
	return float64(n) / float64(len(words))
}
