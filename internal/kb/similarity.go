package kb

import (
	"math"
	"strings"
	"unicode"
)

// Stop words carry no signal for lexical matching
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true, "by": true,
	"for": true, "from": true, "how": true, "i": true, "in": true, "is": true, "it": true, "of": true,
	"on": true, "or": true, "that": true, "the": true, "this": true, "to": true, "was": true,
	"what": true, "when": true, "where": true, "which": true, "who": true, "why": true, "with": true,
}

func terms(text string) map[string]float64 {
	tf := make(map[string]float64)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if stopWords[w] {
			continue
		}
		tf[w]++
	}
	return tf
}

// similarity is the cosine similarity of the term frequency vectors of query and text, in [0, 1]
func similarity(query map[string]float64, text string) float64 {
	if len(query) == 0 {
		return 0
	}
	doc := terms(text)

	var dot, qNorm, dNorm float64
	for t, qv := range query {
		dot += qv * doc[t]
		qNorm += qv * qv
	}
	for _, dv := range doc {
		dNorm += dv * dv
	}
	if dot == 0 {
		return 0
	}

	// Term frequency cosine punishes long chunks heavily, so blend it with query coverage
	var covered float64
	for t := range query {
		if doc[t] > 0 {
			covered++
		}
	}
	cosine := dot / (math.Sqrt(qNorm) * math.Sqrt(dNorm))
	coverage := covered / float64(len(query))
	return math.Min(1, 0.5*cosine+0.5*coverage)
}
