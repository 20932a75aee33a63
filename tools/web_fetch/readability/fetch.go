// Package readability fetches pages over plain HTTP and extracts the
// article text. It suits static pages; script-rendered sites need the
// chromedp fetcher.
package readability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fupingyezi/mini-DeepResearch/tools/web_fetch/article"
	"github.com/fupingyezi/mini-DeepResearch/tools/web_fetch/models"
)

const maxBodyBytes = 4 << 20

type Fetch struct {
	Client   *http.Client
	Timeout  time.Duration
	MaxChars int
}

func (f Fetch) Exec(ctx context.Context, url string) (models.Result, error) {
	if strings.TrimSpace(url) == "" {
		return models.Result{}, errors.New("invalid url")
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	t0 := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Result{}, err
	}
	req.Header.Set("User-Agent", "mini-DeepResearch/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.Result{URL: url}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Result{URL: url, Status: resp.StatusCode}, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.Result{URL: url, Status: resp.StatusCode}, err
	}

	res, err := article.Extract(string(body), url, f.MaxChars)
	res.Status = resp.StatusCode
	res.RenderMS = int(time.Since(t0) / time.Millisecond)
	return res, err
}
