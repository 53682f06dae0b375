// Package search implements the catalog text index behind the search_tools
// and advanced_search internal tools: a persistent bleve index that tracks
// every aggregated tool, queried through a deterministic scorer whose
// weights match the published scoring table exactly (scorer.go).
package search

import (
	"fmt"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevemapping "github.com/blevesearch/bleve/v2/mapping"
	"go.uber.org/zap"
)

// Document is one tool's indexed form: the qualified name clients use,
// split for the scorer's name/description weighting, plus the backend it
// came from so advanced_search can restrict to it.
type Document struct {
	QualifiedName string `json:"qualifiedName"`
	Name          string `json:"name"` // the raw tool name, without "<backend>."
	Backend       string `json:"backend"`
	Description   string `json:"description"`
}

// Index wraps a bleve full-text index over the aggregated catalog. It is
// kept in sync by the backend manager on every catalog refresh
// and exists so health_check has a concrete "search index" sub-check to
// report on, and so document counts survive process restarts.
type Index struct {
	bleve  bleve.Index
	logger *zap.Logger
}

// Open opens (or creates) the bleve index rooted at dataDir/search.bleve.
func Open(dataDir string, logger *zap.Logger) (*Index, error) {
	path := filepath.Join(dataDir, "search.bleve")

	idx, err := bleve.Open(path)
	if err != nil {
		logger.Info("creating new search index", zap.String("path", path))
		idx, err = newBleveIndex(path)
		if err != nil {
			return nil, fmt.Errorf("create search index: %w", err)
		}
	} else {
		logger.Info("opened existing search index", zap.String("path", path))
	}

	return &Index{bleve: idx, logger: logger}, nil
}

func newBleveIndex(path string) (bleve.Index, error) {
	mapping := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	keywordField := func(index bool) *blevemapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.Store = true
		f.Index = index
		return f
	}
	textField := func() *blevemapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = standard.Name
		f.Store = true
		f.Index = true
		return f
	}

	docMapping.AddFieldMappingsAt("qualifiedName", keywordField(true))
	docMapping.AddFieldMappingsAt("name", keywordField(true))
	docMapping.AddFieldMappingsAt("backend", keywordField(true))
	docMapping.AddFieldMappingsAt("description", textField())

	mapping.AddDocumentMapping("tool", docMapping)
	mapping.DefaultMapping = docMapping

	return bleve.New(path, mapping)
}

// Close closes the underlying bleve index.
func (idx *Index) Close() error {
	return idx.bleve.Close()
}

// Put indexes or reindexes one tool document.
func (idx *Index) Put(doc Document) error {
	return idx.bleve.Index(doc.QualifiedName, doc)
}

// PutBatch indexes every given document in one batch, overwriting any
// document already stored under the same qualified name. Documents whose
// names are absent from docs are not removed from the index.
func (idx *Index) PutBatch(docs []Document) error {
	batch := idx.bleve.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.QualifiedName, doc); err != nil {
			return err
		}
	}
	return idx.bleve.Batch(batch)
}

// Delete removes a tool document by qualified name.
func (idx *Index) Delete(qualifiedName string) error {
	return idx.bleve.Delete(qualifiedName)
}

// DocCount reports how many tool documents are currently indexed, the
// figure health_check's "search index" sub-check surfaces.
func (idx *Index) DocCount() (uint64, error) {
	return idx.bleve.DocCount()
}
