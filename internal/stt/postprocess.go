package stt

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	// [inaudible], [MUSIC], (coughs), *laughs*
	annotationPattern = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)|\*[^*]*\*`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	spaceBeforePunct  = regexp.MustCompile(`\s+([,.;:!?])`)
)

// Clean normalizes provider text: strips bracketed non-speech annotations,
// collapses whitespace, capitalizes sentence starts and guarantees
// terminal punctuation. Text with no letters or digits cleans to "".
func Clean(text string) string {
	text = annotationPattern.ReplaceAllString(text, " ")
	text = whitespacePattern.ReplaceAllString(text, " ")
	text = spaceBeforePunct.ReplaceAllString(text, "$1")
	text = strings.TrimSpace(text)
	text = strings.TrimLeft(text, ",.;:!? ")
	if !hasWordChar(text) {
		return ""
	}

	text = capitalizeSentences(text)
	if !strings.ContainsRune(".!?", rune(text[len(text)-1])) {
		text = strings.TrimRight(text, ",;: ") + "."
	}
	return text
}

func hasWordChar(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func capitalizeSentences(s string) string {
	runes := []rune(s)
	upper := true
	for i, r := range runes {
		switch {
		case upper && unicode.IsLetter(r):
			runes[i] = unicode.ToUpper(r)
			upper = false
		case upper && unicode.IsDigit(r):
			upper = false
		case r == '.' || r == '!' || r == '?':
			upper = true
		}
	}
	return string(runes)
}
