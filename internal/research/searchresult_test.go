package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchResultsRoundTrip(t *testing.T) {
	in := []SearchResult{
		{Title: "蜂鸟", SourceURL: "https://a.example/1", Content: "最高时速约 90 公里", RelativeScore: 0.91},
		{Title: "Hummingbird", SourceURL: "https://b.example/2", Content: "line one\nline two", RelativeScore: 0.5},
	}
	text := FormatSearchResults(in)
	assert.Contains(t, text, "结果 1:\n标题: 蜂鸟\n来源: https://a.example/1\n内容: 最高时速约 90 公里\n相关性评分: 0.91\n---")
	assert.Equal(t, in, ParseSearchResults(text))
}

func TestParseSearchResultsEmpty(t *testing.T) {
	out := ParseSearchResults("")
	require.NotNil(t, out)
	assert.Empty(t, out)
}

func TestParseSearchResultsTolerant(t *testing.T) {
	text := `结果 1:
        标题: Indented
        来源: https://c.example
        内容: indented content
        相关性评分: not-a-number
        ---
结果 2:
来源: https://no-title.example
内容: dropped
---
结果 3:
标题: No content
来源: https://d.example
内容:
---`
	out := ParseSearchResults(text)
	require.Len(t, out, 2)
	assert.Equal(t, SearchResult{Title: "Indented", SourceURL: "https://c.example", Content: "indented content"}, out[0])
	assert.Equal(t, "No content", out[1].Title)
	assert.Equal(t, "", out[1].Content)
	assert.Zero(t, out[1].RelativeScore)
}
