// Package article turns raw HTML into readable text.
package article

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"

	"github.com/fupingyezi/mini-DeepResearch/tools/web_fetch/models"
)

var ErrNoContent = errors.New("no readable content")

// Extract runs readability over html and truncates the text to maxChars
// runes. maxChars <= 0 disables truncation.
func Extract(html, rawURL string, maxChars int) (models.Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		u = &url.URL{}
	}
	art, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return models.Result{URL: rawURL}, err
	}
	text := strings.TrimSpace(art.TextContent)
	if text == "" {
		return models.Result{URL: rawURL}, ErrNoContent
	}
	sum := sha1.Sum([]byte(html))
	return models.Result{
		URL:      rawURL,
		Title:    strings.TrimSpace(art.Title),
		Byline:   strings.TrimSpace(art.Byline),
		SiteName: art.SiteName,
		Text:     Truncate(text, maxChars),
		HTMLHash: hex.EncodeToString(sum[:]),
	}, nil
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
