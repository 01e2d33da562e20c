package command

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	// triggerOverlapRatio is the fraction of trigger tokens that must be
	// present for a match.
	triggerOverlapRatio = 0.66

	// tokenSimilarity is the Jaro-Winkler score at which two tokens are
	// considered the same word despite transcription drift.
	tokenSimilarity = 0.85

	// prefixSimilarity is the Jaro-Winkler score for recognizing the spoken
	// wake prefix among its common mis-transcriptions.
	prefixSimilarity = 0.80
)

// fillerWords are dropped from both sides before token comparison.
var fillerWords = map[string]struct{}{
	"a": {}, "the": {}, "um": {}, "uh": {}, "so": {},
}

// prefixWords is the wake-prefix set. Operators say a throwaway word before
// a command so VAD onset clipping eats the prefix instead of the trigger;
// the set covers how engines tend to hear it.
var prefixWords = []string{"clerk", "clark", "lurk", "plurk"}

// Matcher performs normalized fuzzy trigger matching.
type Matcher struct{}

// NewMatcher creates a Matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// MatchTrigger reports whether text contains the trigger phrase: both sides
// are normalized and filler-stripped, a fuzzy wake prefix is removed, and
// the trigger matches when at least triggerOverlapRatio of its tokens are
// present (fuzzy token equality).
func (m *Matcher) MatchTrigger(text, trigger string) bool {
	textTokens := stripPrefix(tokenize(text))
	triggerTokens := tokenize(trigger)
	if len(triggerTokens) == 0 || len(textTokens) == 0 {
		return false
	}

	matched := 0
	for _, want := range triggerTokens {
		for _, have := range textTokens {
			if tokensEqual(want, have) {
				matched++
				break
			}
		}
	}

	return float64(matched)/float64(len(triggerTokens)) >= triggerOverlapRatio
}

// tokenize lowercases, trims punctuation and drops filler words.
func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'")
		if f == "" {
			continue
		}
		if _, filler := fillerWords[f]; filler {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// stripPrefix drops a leading wake-prefix token when it fuzzily matches the
// prefix set.
func stripPrefix(tokens []string) []string {
	if len(tokens) == 0 {
		return tokens
	}
	for _, p := range prefixWords {
		if matchr.JaroWinkler(tokens[0], p, false) >= prefixSimilarity {
			return tokens[1:]
		}
	}
	return tokens
}

func tokensEqual(a, b string) bool {
	if a == b {
		return true
	}
	return matchr.JaroWinkler(a, b, false) >= tokenSimilarity
}
