// Package rank scores stored memories against a query by lexical overlap.
package rank

import (
	"strings"
	"unicode"
)

// minTokenLen is the shortest token kept; anything of length <= 2 is dropped.
const minTokenLen = 3

// stopWords are high-frequency function words excluded from matching:
// articles, pronouns, common prepositions, conjunctions and auxiliaries.
var stopWords = map[string]bool{
	// articles and determiners
	"the": true, "this": true, "that": true, "these": true, "those": true,
	"any": true, "some": true, "each": true, "every": true, "all": true,
	// pronouns
	"you": true, "your": true, "yours": true, "him": true, "his": true,
	"her": true, "hers": true, "she": true, "its": true, "our": true,
	"ours": true, "they": true, "them": true, "their": true, "theirs": true,
	"mine": true, "myself": true, "yourself": true, "himself": true,
	"herself": true, "itself": true, "ourselves": true, "themselves": true,
	"who": true, "whom": true, "whose": true, "which": true, "what": true,
	// prepositions
	"for": true, "from": true, "with": true, "into": true, "onto": true,
	"about": true, "above": true, "below": true, "over": true, "under": true,
	"between": true, "through": true, "during": true, "before": true,
	"after": true, "upon": true, "via": true, "per": true, "off": true,
	"out": true, "within": true, "without": true, "toward": true,
	"towards": true, "across": true, "along": true, "around": true,
	// conjunctions
	"and": true, "but": true, "nor": true, "yet": true, "because": true,
	"while": true, "although": true, "though": true, "unless": true,
	"since": true, "until": true, "whether": true, "either": true,
	"neither": true, "both": true, "than": true, "then": true,
	// auxiliaries and fillers
	"are": true, "was": true, "were": true, "been": true, "being": true,
	"has": true, "have": true, "had": true, "having": true, "does": true,
	"did": true, "doing": true, "will": true, "would": true, "shall": true,
	"should": true, "can": true, "could": true, "may": true, "might": true,
	"must": true, "not": true, "also": true, "just": true, "very": true,
	"here": true, "there": true, "when": true, "where": true, "why": true,
	"how": true, "please": true,
}

// isStopWord reports whether w (lowercase) is excluded from matching.
func isStopWord(w string) bool {
	return stopWords[w]
}

// normalize lowercases s and removes every rune that is not a letter, digit,
// underscore or whitespace.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Tokenize returns the distinct meaningful tokens of text in first-seen order.
func Tokenize(text string) []string {
	seen := map[string]bool{}
	var tokens []string
	for _, w := range strings.Fields(normalize(text)) {
		if len([]rune(w)) < minTokenLen || isStopWord(w) || seen[w] {
			continue
		}
		seen[w] = true
		tokens = append(tokens, w)
	}
	return tokens
}

// TokenSet returns Tokenize(text) as a set.
func TokenSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
