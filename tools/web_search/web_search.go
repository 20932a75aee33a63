package web_search

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fupingyezi/mini-DeepResearch/tools/web_search/brave"
	"github.com/fupingyezi/mini-DeepResearch/tools/web_search/models"
	"github.com/fupingyezi/mini-DeepResearch/tools/web_search/serper"
	"github.com/fupingyezi/mini-DeepResearch/tools/web_search/tavily"
)

type WebSearcher interface {
	Discover(ctx context.Context, q string, k int, sites []string, recency int) ([]models.Result, error)
}

type Provider string

const (
	TavilyProvider Provider = "tavily"
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var ErrUnsupportedProvider = errors.New("unsupported provider")

// NewWebSearcher returns the searcher for provider. An empty baseURL keeps
// the provider's public endpoint; a nil client uses http.DefaultClient.
func NewWebSearcher(provider Provider, apiKey, baseURL string, client *http.Client) (WebSearcher, error) {
	switch provider {
	case TavilyProvider:
		return tavily.Search{ApiKey: apiKey, BaseURL: baseURL, Client: client}, nil
	case SerperProvider:
		return serper.Search{ApiKey: apiKey, BaseURL: baseURL, Client: client}, nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey, BaseURL: baseURL, Client: client}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
}
