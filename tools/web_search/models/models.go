package models

// Result is one hit returned by a search provider.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	// Content is the page text when an enricher fetched it.
	Content string  `json:"content,omitempty"`
	Score   float64 `json:"score"`
}

// Text returns the best available body of r.
func (r Result) Text() string {
	if r.Content != "" {
		return r.Content
	}
	return r.Snippet
}
