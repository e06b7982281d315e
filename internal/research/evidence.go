package research

import (
	"fmt"
	"strconv"

	"github.com/blevesearch/bleve"
)

type evidenceDoc struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// evidenceIndex ranks search hits against each query with BM25 over an
// in-memory bleve index.
type evidenceIndex struct {
	index bleve.Index
	docs  map[string]Evidence
}

func newEvidenceIndex() (*evidenceIndex, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("evidence index: %w", err)
	}
	return &evidenceIndex{index: index, docs: make(map[string]Evidence)}, nil
}

func (x *evidenceIndex) add(e Evidence) error {
	id := strconv.Itoa(len(x.docs))
	x.docs[id] = e
	return x.index.Index(id, evidenceDoc{Title: e.Title, Text: e.Text})
}

// top returns up to k documents matching q, best first.
func (x *evidenceIndex) top(q string, k int) ([]Evidence, error) {
	query := bleve.NewMatchQuery(q)
	req := bleve.NewSearchRequestOptions(query, k, 0, false)
	res, err := x.index.Search(req)
	if err != nil {
		return nil, err
	}
	out := make([]Evidence, 0, len(res.Hits))
	for _, hit := range res.Hits {
		e, ok := x.docs[hit.ID]
		if !ok {
			continue
		}
		e.Score = hit.Score
		out = append(out, e)
	}
	return out, nil
}

func (x *evidenceIndex) close() error {
	return x.index.Close()
}
