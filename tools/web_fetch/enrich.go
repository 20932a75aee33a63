package web_fetch

import (
	"context"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	searchmodels "github.com/fupingyezi/mini-DeepResearch/tools/web_search/models"
)

// Enricher fetches the page behind every result whose snippet is shorter
// than MinContentChars runes and stores the readable text as its content.
// Fetch failures leave the result untouched.
type Enricher struct {
	Fetcher         WebFetcher
	MinContentChars int
	Concurrency     int
	Logger          *zap.Logger
}

func (e *Enricher) Enrich(ctx context.Context, results []searchmodels.Result) []searchmodels.Result {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := e.Concurrency
	if limit <= 0 {
		limit = 4
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i := range results {
		r := results[i]
		if r.URL == "" || r.Content != "" || utf8.RuneCountInString(r.Snippet) >= e.MinContentChars {
			continue
		}
		g.Go(func() error {
			page, err := e.Fetcher.Exec(ctx, r.URL)
			if err != nil {
				logger.Debug("enrich fetch failed", zap.String("url", r.URL), zap.Error(err))
				return nil
			}
			if page.Text != "" {
				// each goroutine owns index i
				results[i].Content = page.Text
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
