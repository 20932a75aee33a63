package web_search

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/fupingyezi/mini-DeepResearch/tools/web_search/models"
)

var strictPolicy = bluemonday.StrictPolicy()

// SanitizeText strips markup from provider snippets (brave wraps matches in
// <strong>) and collapses whitespace.
func SanitizeText(s string) string {
	if s == "" {
		return ""
	}
	cleaned := html.UnescapeString(strictPolicy.Sanitize(s))
	return strings.Join(strings.Fields(cleaned), " ")
}

// Sanitize cleans the title and snippet of every result in place.
func Sanitize(results []models.Result) []models.Result {
	for i := range results {
		results[i].Title = SanitizeText(results[i].Title)
		results[i].Snippet = SanitizeText(results[i].Snippet)
	}
	return results
}
