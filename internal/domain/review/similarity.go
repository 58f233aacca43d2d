package review

import "strings"

// DefaultSimilarityThreshold is the documented cut-off for treating two
// finding descriptions as the same underlying issue: token-set Jaccard
// similarity of at least 0.5 (half the combined vocabulary shared).
const DefaultSimilarityThreshold = 0.5

// tokenize lowercases the text and splits it into alphanumeric word tokens.
func tokenize(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens[b.String()] = struct{}{}
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// Similarity returns the token-set Jaccard similarity of two descriptions,
// in [0, 1]. Two empty descriptions are not similar.
func Similarity(a, b string) float64 {
	ta, tb := tokenize(a), tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

// linesOverlapOrAdjacent reports whether two line ranges on the same file
// overlap or touch. A zero EndLine is treated as a single-line range.
func linesOverlapOrAdjacent(a, b *Finding) bool {
	aEnd := a.EndLine
	if aEnd == 0 {
		aEnd = a.StartLine
	}
	bEnd := b.EndLine
	if bEnd == 0 {
		bEnd = b.StartLine
	}
	// Adjacent counts: [3,5] and [6,8] belong together.
	return a.StartLine <= bEnd+1 && b.StartLine <= aEnd+1
}
