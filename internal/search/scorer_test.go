package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocs() []Document {
	return []Document{
		{QualifiedName: "echo.say", Name: "say", Backend: "echo", Description: "echoes text back to the caller"},
		{QualifiedName: "files.search_files", Name: "search_files", Backend: "files", Description: "search for files by name"},
		{QualifiedName: "files.list_files", Name: "list_files", Backend: "files", Description: "list files in a directory"},
	}
}

func TestQueryEmptyReturnsAllUnscored(t *testing.T) {
	results := Query(sampleDocs(), "", Options{})
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Zero(t, r.Score)
	}
}

func TestQueryExactModeOnlyExactMatches(t *testing.T) {
	results := Query(sampleDocs(), "say", Options{Mode: ModeExact})
	require.Len(t, results, 1)
	assert.Equal(t, "echo.say", results[0].Doc.QualifiedName)
}

func TestQueryPartialModeOrdersExactAboveSubstring(t *testing.T) {
	results := Query(sampleDocs(), "search_files", Options{})
	require.NotEmpty(t, results)
	assert.Equal(t, "files.search_files", results[0].Doc.QualifiedName)
}

func TestQueryNameMatchOutscoresDescriptionOnlyMatch(t *testing.T) {
	docs := []Document{
		{QualifiedName: "a.search", Name: "search", Backend: "a", Description: "unrelated"},
		{QualifiedName: "b.other", Name: "other", Backend: "b", Description: "a tool to search things"},
	}
	results := Query(docs, "search", Options{})
	require.Len(t, results, 2)
	assert.Equal(t, "a.search", results[0].Doc.QualifiedName)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestQueryPrefixMode(t *testing.T) {
	results := Query(sampleDocs(), "search", Options{Mode: ModePrefix})
	require.Len(t, results, 1)
	assert.Equal(t, "files.search_files", results[0].Doc.QualifiedName)
}

func TestQueryFuzzyModeMatchesCloseMisspelling(t *testing.T) {
	results := Query(sampleDocs(), "serch_files", Options{Mode: ModeFuzzy})
	require.NotEmpty(t, results)
	assert.Equal(t, "files.search_files", results[0].Doc.QualifiedName)
}

func TestQueryFuzzyModeRejectsUnrelatedQuery(t *testing.T) {
	results := Query(sampleDocs(), "zzzzzzzzzz", Options{Mode: ModeFuzzy})
	assert.Empty(t, results)
}

func TestQueryCaseInsensitiveByDefault(t *testing.T) {
	results := Query(sampleDocs(), "SAY", Options{Mode: ModeExact})
	require.Len(t, results, 1)
}

func TestQueryCaseSensitiveRejectsMismatch(t *testing.T) {
	results := Query(sampleDocs(), "SAY", Options{Mode: ModeExact, CaseSensitive: true})
	assert.Empty(t, results)
}

func TestQuerySearchFieldsRestrictsToName(t *testing.T) {
	docs := []Document{
		{QualifiedName: "a.x", Name: "x", Backend: "a", Description: "contains keyword"},
	}
	results := Query(docs, "keyword", Options{SearchFields: []string{"name"}})
	assert.Empty(t, results)
}

func TestLevenshteinDistance(t *testing.T) {
	assert.Equal(t, 0, levenshteinDistance("abc", "abc"))
	assert.Equal(t, 1, levenshteinDistance("abc", "abd"))
	assert.Equal(t, 3, levenshteinDistance("", "abc"))
}
