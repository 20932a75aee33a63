package brave

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/fupingyezi/mini-DeepResearch/tools/web_search/models"
)

const defaultBaseURL = "https://api.search.brave.com"

type Search struct {
	ApiKey  string
	BaseURL string
	Client  *http.Client
}

func (s Search) Discover(ctx context.Context, q string, k int, sites []string, recency int) ([]models.Result, error) {
	// https://api.search.brave.com/app/documentation/web-search
	query := q
	if len(sites) > 0 {
		parts := make([]string, 0, len(sites))
		for _, site := range sites {
			parts = append(parts, "site:"+site)
		}
		query += " (" + strings.Join(parts, " OR ") + ")"
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(k))
	if recency > 0 {
		params.Set("freshness", freshness(recency))
	}
	base := s.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/res/v1/web/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.ApiKey)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("brave: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var raw struct {
		Web struct {
			Results []struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("brave: decode: %w", err)
	}
	var out []models.Result
	for i, r := range raw.Web.Results {
		if i >= k {
			break
		}
		// Brave has no relevance score; rank order stands in for it.
		out = append(out, models.Result{Title: r.Title, URL: r.URL, Snippet: r.Snippet, Score: positionScore(i, k)})
	}
	return out, nil
}

func freshness(days int) string {
	switch {
	case days <= 1:
		return "pd"
	case days <= 7:
		return "pw"
	case days <= 31:
		return "pm"
	default:
		return "py"
	}
}

func positionScore(i, k int) float64 {
	if k <= 0 {
		return 0
	}
	return 1 - float64(i)/float64(k)
}
