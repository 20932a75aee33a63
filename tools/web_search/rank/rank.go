// Package rank re-orders search results by lexical relevance to the
// question using an in-memory bleve index.
package rank

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/blevesearch/bleve"

	"github.com/fupingyezi/mini-DeepResearch/tools/web_search/models"
)

// ProviderWeight is the share of the final score kept from the provider.
const ProviderWeight = 0.5

type doc struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Rerank blends each result's provider score with its normalised BM25 score
// for query and sorts by the blend, highest first. Ties keep input order.
// Score on the returned results is the blended value.
func Rerank(query string, results []models.Result) ([]models.Result, error) {
	if len(results) < 2 || query == "" {
		return results, nil
	}
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("rank: new index: %w", err)
	}
	defer idx.Close()

	batch := idx.NewBatch()
	for i, r := range results {
		if err := batch.Index(strconv.Itoa(i), doc{Title: r.Title, Body: r.Text()}); err != nil {
			return nil, fmt.Errorf("rank: index: %w", err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return nil, fmt.Errorf("rank: batch: %w", err)
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), len(results), 0, false)
	res, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("rank: search: %w", err)
	}
	lexical := make([]float64, len(results))
	var top float64
	for _, hit := range res.Hits {
		i, err := strconv.Atoi(hit.ID)
		if err != nil || i < 0 || i >= len(results) {
			continue
		}
		lexical[i] = hit.Score
		if hit.Score > top {
			top = hit.Score
		}
	}

	out := make([]models.Result, len(results))
	copy(out, results)
	for i := range out {
		var norm float64
		if top > 0 {
			norm = lexical[i] / top
		}
		out[i].Score = ProviderWeight*out[i].Score + (1-ProviderWeight)*norm
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	return out, nil
}
