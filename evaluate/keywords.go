package evaluate

import (
	"strings"
	"unicode"
)

// stopwords excluded from criterion keyword sets. Scoring keys on the
// meaningful terms of a criterion, not its connective tissue.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "any": {}, "are": {}, "at": {}, "be": {},
	"beyond": {}, "by": {}, "could": {}, "did": {}, "does": {}, "for": {},
	"from": {}, "how": {}, "in": {}, "into": {}, "is": {}, "it": {},
	"its": {}, "just": {}, "least": {}, "meet": {}, "more": {}, "most": {},
	"must": {}, "no": {}, "not": {}, "of": {}, "on": {}, "one": {},
	"or": {}, "over": {}, "part": {}, "rather": {}, "should": {}, "show": {},
	"so": {}, "than": {}, "that": {}, "the": {}, "their": {}, "them": {},
	"this": {}, "to": {}, "under": {}, "was": {}, "with": {}, "would": {},
}

// Keywords extracts the lowercase keyword set of a criterion description:
// words of three or more letters that are not stopwords, deduplicated in
// order of appearance.
func Keywords(description string) []string {
	fields := strings.FieldsFunc(strings.ToLower(description), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// wordSet returns the distinct keyword set of a response.
func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, kw := range Keywords(text) {
		set[kw] = struct{}{}
	}
	return set
}

// divergence measures how complementary a group of responses is: one minus
// the mean pairwise Jaccard overlap of their keyword sets. Identical
// responses diverge 0; disjoint responses diverge 1.
func divergence(sets []map[string]struct{}) float64 {
	if len(sets) < 2 {
		return 0
	}
	var total float64
	var pairs int
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			total += jaccard(sets[i], sets[j])
			pairs++
		}
	}
	return 1 - total/float64(pairs)
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}
