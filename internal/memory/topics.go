package memory

import (
	"sort"
	"strings"
	"unicode"
)

// Filler words stripped during topic normalization so "preference for pizza"
// and "pizza preferences" land on the same key.
var topicStopwords = map[string]bool{
	"a": true, "an": true, "the": true,
	"of": true, "for": true, "to": true, "in": true, "on": true,
	"and": true, "or": true, "with": true, "about": true,
	"his": true, "her": true, "their": true, "my": true, "your": true,
	"is": true, "are": true, "was": true, "were": true,
}

// NormalizeTopic reduces a free-text topic label to a canonical key:
// lowercased, punctuation stripped, stopwords removed, tokens singularized
// and sorted. An all-stopword topic falls back to the bare lowercased form.
func NormalizeTopic(topic string) string {
	tokens := topicTokens(topic)
	if len(tokens) == 0 {
		return strings.ToLower(strings.TrimSpace(topic))
	}
	return strings.Join(tokens, " ")
}

// topicTokens returns the normalized token set of a topic, sorted and
// deduplicated.
func topicTokens(topic string) []string {
	fields := strings.FieldsFunc(strings.ToLower(topic), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	seen := make(map[string]bool, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if topicStopwords[f] {
			continue
		}
		f = singularize(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		tokens = append(tokens, f)
	}
	sort.Strings(tokens)
	return tokens
}

// singularize applies a cheap English plural reduction. Good enough for
// coarse topic labels; not a lemmatizer.
func singularize(w string) string {
	switch {
	case len(w) > 3 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 3 && strings.HasSuffix(w, "ses"):
		return w[:len(w)-2]
	case len(w) > 2 && strings.HasSuffix(w, "s") &&
		!strings.HasSuffix(w, "ss") && !strings.HasSuffix(w, "us"):
		return w[:len(w)-1]
	}
	return w
}

// HintSimilarity scores how well a lookup hint covers a stored topic label,
// in [0,1]. Hints are derived from free conversation text and usually carry
// more tokens than a topic, so coverage of the topic's tokens is what counts:
// a topic wholly contained in the hint scores 1 regardless of hint length.
func HintSimilarity(hint, topic string) float64 {
	tt := topicTokens(topic)
	if len(tt) == 0 {
		return 0
	}
	th := topicTokens(hint)
	set := make(map[string]bool, len(th))
	for _, t := range th {
		set[t] = true
	}
	inter := 0
	for _, t := range tt {
		if set[t] {
			inter++
		}
	}
	return float64(inter) / float64(len(tt))
}

// TopicSimilarity scores two topic labels in [0,1] as the Jaccard overlap
// of their normalized token sets. Identical normalized forms score 1.
func TopicSimilarity(a, b string) float64 {
	na, nb := NormalizeTopic(a), NormalizeTopic(b)
	if na == nb && na != "" {
		return 1.0
	}

	ta, tb := topicTokens(a), topicTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	inter := 0
	for _, t := range tb {
		if set[t] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
