package web_fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fupingyezi/mini-DeepResearch/tools/web_fetch/chromedp"
	"github.com/fupingyezi/mini-DeepResearch/tools/web_fetch/models"
	"github.com/fupingyezi/mini-DeepResearch/tools/web_fetch/readability"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
)

type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	ReadabilityFetcherType FetcherType = "readability"
	ChromedpFetcherType    FetcherType = "chromedp"
)

// NewWebFetcher builds a fetcher. client is only used by the readability
// fetcher and may be nil.
func NewWebFetcher(fetcherType FetcherType, timeout time.Duration, maxChars int, client *http.Client) (WebFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	switch fetcherType {
	case ReadabilityFetcherType, "":
		return readability.Fetch{Client: client, Timeout: timeout, MaxChars: maxChars}, nil
	case ChromedpFetcherType:
		return chromedp.Fetch{Timeout: timeout, MaxChars: maxChars}, nil
	default:
		return nil, fmt.Errorf("unsupported fetcher type %q", fetcherType)
	}
}
