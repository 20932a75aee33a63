package web_search

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/fupingyezi/mini-DeepResearch/internal/circuitbreaker"
	"github.com/fupingyezi/mini-DeepResearch/internal/metrics"
	"github.com/fupingyezi/mini-DeepResearch/internal/research"
	mdl "github.com/fupingyezi/mini-DeepResearch/models"
	"github.com/fupingyezi/mini-DeepResearch/tools/web_search/models"
	"github.com/fupingyezi/mini-DeepResearch/tools/web_search/rank"
)

// ErrEmptyQuestion is returned when the model calls the tool without a question.
var ErrEmptyQuestion = errors.New("empty search question")

// Enricher replaces thin snippets with fetched page text.
type Enricher interface {
	Enrich(ctx context.Context, results []models.Result) []models.Result
}

// Tool is the search_web_tool the research workflow binds to the model.
type Tool struct {
	Searcher   WebSearcher
	Provider   Provider
	MaxResults int
	Rerank     bool
	Enricher   Enricher
	Breaker    *circuitbreaker.Breaker
	Logger     *zap.Logger
}

// Search runs question against the provider and renders the surviving
// results in the block format the model reads.
func (t *Tool) Search(ctx context.Context, question string) (string, error) {
	results, err := t.Results(ctx, question)
	if err != nil {
		return "", err
	}
	return research.FormatSearchResults(results), nil
}

// Results runs the search pipeline: discover, sanitize, dedupe, optional
// enrichment and optional re-ranking.
func (t *Tool) Results(ctx context.Context, question string) ([]mdl.SearchResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	logger := t.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	k := t.MaxResults
	if k <= 0 {
		k = 5
	}

	found, err := circuitbreaker.Do(ctx, t.Breaker, func(ctx context.Context) ([]models.Result, error) {
		return t.Searcher.Discover(ctx, question, k, nil, 0)
	})
	if err != nil {
		metrics.SearchRequests.WithLabelValues(string(t.Provider), "error").Inc()
		logger.Warn("web search failed", zap.String("provider", string(t.Provider)), zap.Error(err))
		return nil, err
	}
	metrics.SearchRequests.WithLabelValues(string(t.Provider), "ok").Inc()

	found = Dedupe(Sanitize(found))
	if t.Enricher != nil {
		found = t.Enricher.Enrich(ctx, found)
	}
	if t.Rerank {
		ranked, err := rank.Rerank(question, found)
		if err != nil {
			logger.Warn("rerank failed, keeping provider order", zap.Error(err))
		} else {
			found = ranked
		}
	}
	logger.Debug("web search", zap.String("question", question), zap.Int("results", len(found)))

	out := make([]mdl.SearchResult, 0, len(found))
	for _, r := range found {
		out = append(out, mdl.SearchResult{
			Title:         r.Title,
			SourceURL:     r.URL,
			Content:       r.Text(),
			RelativeScore: r.Score,
		})
	}
	return out, nil
}

var _ research.Searcher = (*Tool)(nil)
