package web_search

import (
	"errors"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/fupingyezi/mini-DeepResearch/tools/web_search/models"
)

var trackingQueryParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"utm_id":       {},
	"gclid":        {},
	"dclid":        {},
	"fbclid":       {},
	"msclkid":      {},
	"igshid":       {},
	"spm":          {},
}

// CanonicalURL normalises a result URL so that mirrors of one page compare
// equal. Scheme and host are lowercased, default ports and fragments are
// dropped, the path is cleaned and tracking parameters are removed. The
// remaining query is sorted. A schemeless input is treated as https.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch {
	case u.Scheme == "" && u.Host != "":
		// protocol-relative, "//host/path"
		u.Scheme = "https"
	case u.Scheme == "" && u.Host == "":
		if u, err = url.Parse("https://" + raw); err != nil {
			return "", err
		}
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if host == "" {
		return "", errors.New("url missing host")
	}
	if h, port, ok := strings.Cut(host, ":"); ok {
		if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
			host = h
		}
	}
	u.Host = host

	p := path.Clean("/" + u.Path)
	if p != "/" && strings.HasSuffix(u.Path, "/") {
		p += "/"
	}
	u.Path = p
	u.RawPath = ""
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		if _, drop := trackingQueryParams[strings.ToLower(k)]; drop {
			q.Del(k)
		}
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), q[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			if v != "" {
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
	}
	u.RawQuery = b.String()
	return u.String(), nil
}

// Dedupe drops results whose canonical URL was already seen, keeping the
// first occurrence and the input order. Results with an unparsable URL are
// kept as is.
func Dedupe(results []models.Result) []models.Result {
	seen := make(map[string]struct{}, len(results))
	out := make([]models.Result, 0, len(results))
	for _, r := range results {
		key, err := CanonicalURL(r.URL)
		if err != nil {
			out = append(out, r)
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}
