package search

import (
	"sort"
	"strings"
)

// Mode selects how a query string is matched against a field's text.
type Mode string

const (
	ModePartial Mode = "partial"
	ModePrefix  Mode = "prefix"
	ModeExact   Mode = "exact"
	ModeFuzzy   Mode = "fuzzy"
)

// Score weights from the published scoring table: name matches
// weigh double a description match, and each match mode has its own base
// score. Absolute numbers are deliberately not load-bearing — only the
// relative ordering they produce is — so these stay unexported constants
// rather than a public contract.
const (
	scoreExact       = 100.0
	scorePrefix      = 80.0
	scorePartialHigh = 70.0
	scorePartialLow  = 50.0
	scoreFuzzyMax    = 40.0
	fuzzyThreshold   = 0.6

	nameWeight = 2.0
	descWeight = 1.0
)

// Result is one scored catalog entry.
type Result struct {
	Doc   Document
	Score float64
}

// Options configures a Query call; zero value is the partial-match,
// case-insensitive, both-fields default.
type Options struct {
	Mode          Mode
	CaseSensitive bool
	// SearchFields restricts which fields contribute to the score: any
	// combination of "name" and "description". Empty means both.
	SearchFields []string
	Limit        int
	Offset       int
}

func (o Options) mode() Mode {
	if o.Mode == "" {
		return ModePartial
	}
	return o.Mode
}

func (o Options) fields() (name, description bool) {
	if len(o.SearchFields) == 0 {
		return true, true
	}
	for _, f := range o.SearchFields {
		switch f {
		case "name":
			name = true
		case "description":
			description = true
		}
	}
	return name, description
}

// Query scores every document against query and returns matches ordered by
// descending score, ties broken by qualified name for determinism. An
// empty query returns every document unscored, in catalog order, so
// callers can paginate the full list.
func Query(docs []Document, query string, opts Options) []Result {
	if strings.TrimSpace(query) == "" {
		results := make([]Result, len(docs))
		for i, d := range docs {
			results[i] = Result{Doc: d}
		}
		return results
	}

	useName, useDesc := opts.fields()
	mode := opts.mode()
	caseSensitive := opts.CaseSensitive

	var results []Result
	for _, doc := range docs {
		var score float64
		if useName {
			score += nameWeight * fieldScore(doc.Name, query, mode, caseSensitive)
		}
		if useDesc {
			score += descWeight * fieldScore(doc.Description, query, mode, caseSensitive)
		}
		if score > 0 {
			results = append(results, Result{Doc: doc, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Doc.QualifiedName < results[j].Doc.QualifiedName
	})

	return results
}

// fieldScore scores a single field's text against query under the given
// mode, returning 0 when there is no match.
func fieldScore(text, query string, mode Mode, caseSensitive bool) float64 {
	if text == "" {
		return 0
	}

	matchText, matchQuery := text, query
	if !caseSensitive {
		matchText = strings.ToLower(text)
		matchQuery = strings.ToLower(query)
	}

	switch mode {
	case ModeExact:
		if matchText == matchQuery {
			return scoreExact
		}
		return 0

	case ModePrefix:
		if matchText == matchQuery {
			return scoreExact
		}
		if strings.HasPrefix(matchText, matchQuery) {
			return scorePrefix
		}
		return 0

	case ModeFuzzy:
		return fuzzyScore(matchText, matchQuery)

	default: // ModePartial
		if matchText == matchQuery {
			return scoreExact
		}
		if strings.HasPrefix(matchText, matchQuery) {
			return scorePrefix
		}
		if strings.Contains(matchText, matchQuery) {
			return scorePartialHigh
		}
		if wordOverlap(matchText, matchQuery) {
			return scorePartialLow
		}
		return 0
	}
}

// wordOverlap reports whether any whitespace/underscore-separated word of
// query also appears as a word of text.
func wordOverlap(text, query string) bool {
	textWords := splitWords(text)
	for _, qw := range splitWords(query) {
		for _, tw := range textWords {
			if qw == tw {
				return true
			}
		}
	}
	return false
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '.'
	})
}

// fuzzyScore scores the best per-word Levenshtein similarity between
// query and text's words, scaled into [0, scoreFuzzyMax] and gated at
// fuzzyThreshold.
func fuzzyScore(text, query string) float64 {
	best := 0.0
	for _, word := range splitWords(text) {
		sim := levenshteinSimilarity(word, query)
		if sim > best {
			best = sim
		}
	}
	// also compare against the whole field, in case it's a single token
	if sim := levenshteinSimilarity(text, query); sim > best {
		best = sim
	}
	if best < fuzzyThreshold {
		return 0
	}
	return best * scoreFuzzyMax
}

// levenshteinSimilarity returns 1 - (editDistance / maxLen), in [0, 1].
func levenshteinSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	dist := levenshteinDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(dist)/float64(maxLen)
}

// levenshteinDistance computes classic single-character-edit distance
// with O(min(len(a),len(b))) space.
func levenshteinDistance(a, b string) int {
	ar, br := []rune(a), []rune(b)
	if len(ar) > len(br) {
		ar, br = br, ar
	}
	prev := make([]int, len(ar)+1)
	for i := range prev {
		prev[i] = i
	}
	curr := make([]int, len(ar)+1)

	for j := 1; j <= len(br); j++ {
		curr[0] = j
		for i := 1; i <= len(ar); i++ {
			cost := 1
			if ar[i-1] == br[j-1] {
				cost = 0
			}
			del := prev[i] + 1
			ins := curr[i-1] + 1
			sub := prev[i-1] + cost
			curr[i] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(ar)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
