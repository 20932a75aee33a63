package research

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	labelResult  = "结果"
	labelTitle   = "标题:"
	labelSource  = "来源:"
	labelContent = "内容:"
	labelScore   = "相关性评分:"
	blockEnd     = "---"
)

// FormatSearchResults renders results in the text block format the search
// tool hands to the model.
func FormatSearchResults(results []SearchResult) string {
	blocks := make([]string, 0, len(results))
	for i, r := range results {
		blocks = append(blocks, fmt.Sprintf("%s %d:\n%s %s\n%s %s\n%s %s\n%s %s\n%s",
			labelResult, i+1,
			labelTitle, r.Title,
			labelSource, r.SourceURL,
			labelContent, r.Content,
			labelScore, strconv.FormatFloat(r.RelativeScore, 'g', -1, 64),
			blockEnd,
		))
	}
	return strings.Join(blocks, "\n")
}

// ParseSearchResults parses the text block format back into structured
// entries. Blocks without a title are dropped, a missing content yields "",
// a missing or malformed score yields 0. Empty input yields an empty slice.
func ParseSearchResults(text string) []SearchResult {
	out := []SearchResult{}
	var block []string
	flush := func() {
		if r, ok := parseBlock(block); ok {
			out = append(out, r)
		}
		block = block[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == blockEnd {
			flush()
			continue
		}
		block = append(block, line)
	}
	flush()
	return out
}

func parseBlock(lines []string) (SearchResult, bool) {
	var (
		r         SearchResult
		hasTitle  bool
		inContent bool
		content   []string
	)
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, labelTitle):
			r.Title = strings.TrimSpace(strings.TrimPrefix(line, labelTitle))
			hasTitle = true
			inContent = false
		case strings.HasPrefix(line, labelSource):
			r.SourceURL = strings.TrimSpace(strings.TrimPrefix(line, labelSource))
			inContent = false
		case strings.HasPrefix(line, labelContent):
			content = append(content[:0], strings.TrimSpace(strings.TrimPrefix(line, labelContent)))
			inContent = true
		case strings.HasPrefix(line, labelScore):
			score, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, labelScore)), 64)
			if err == nil {
				r.RelativeScore = score
			}
			inContent = false
		case strings.HasPrefix(line, labelResult) && strings.HasSuffix(line, ":"):
			inContent = false
		case inContent:
			content = append(content, line)
		}
	}
	if !hasTitle {
		return SearchResult{}, false
	}
	r.Content = strings.TrimSpace(strings.Join(content, "\n"))
	return r, true
}
