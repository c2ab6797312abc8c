// Package retrieval gathers the schema context a question is planned against: sampled
// collections for document stores, nearest catalog entries for relational databases.
package retrieval

import (
	"context"
	"fmt"
	"time"

	apperrors "nlquery/internal/common/errors"
	"nlquery/internal/common/logger"
	"nlquery/internal/common/metrics"
	"nlquery/internal/models"
)

// DefaultTopK is the number of catalog entries returned when none is configured.
const DefaultTopK = 10

// DocumentSource enumerates and samples the collections of one document database.
type DocumentSource interface {
	ListUnits(ctx context.Context) ([]string, error)
	SampleUnit(ctx context.Context, name string) (map[string]interface{}, error)
}

// DocumentRetriever builds descriptors for a document database.
type DocumentRetriever struct {
	logger logger.Logger
}

func NewDocumentRetriever(log logger.Logger) *DocumentRetriever {
	return &DocumentRetriever{logger: logger.Component(log, "document-retriever")}
}

// Units lists every collection of the source.
func (r *DocumentRetriever) Units(ctx context.Context, src DocumentSource) ([]string, error) {
	names, err := src.ListUnits(ctx)
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Retrieve samples one document per named collection, keeping the order of names. Empty
// collections get an empty sample.
func (r *DocumentRetriever) Retrieve(ctx context.Context, src DocumentSource, storeID string, names []string) ([]models.SchemaDescriptor, error) {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues("document_retrieval").Observe(time.Since(start).Seconds())
	}()

	out := make([]models.SchemaDescriptor, 0, len(names))
	for _, name := range names {
		sample, err := src.SampleUnit(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrRetrieval, err)
		}
		if sample == nil {
			sample = map[string]interface{}{}
		}
		out = append(out, models.SchemaDescriptor{
			StoreID:  storeID,
			UnitName: name,
			Sample:   sample,
		})
	}

	r.logger.Debug("sampled collections", map[string]interface{}{
		"store":       storeID,
		"collections": len(out),
	})
	return out, nil
}

// Samples maps unit name to sample.
func Samples(descs []models.SchemaDescriptor) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{}, len(descs))
	for _, d := range descs {
		out[d.UnitName] = d.Sample
	}
	return out
}

// QueryEmbedder turns a question into a search vector.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex answers nearest-neighbour queries over the table catalog.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, k int) ([]models.SchemaDescriptor, error)
}

// CatalogRetriever finds the tables most similar to a question.
type CatalogRetriever struct {
	embedder QueryEmbedder
	index    VectorIndex
	topK     int
	logger   logger.Logger
}

func NewCatalogRetriever(embedder QueryEmbedder, index VectorIndex, topK int, log logger.Logger) *CatalogRetriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &CatalogRetriever{
		embedder: embedder,
		index:    index,
		topK:     topK,
		logger:   logger.Component(log, "catalog-retriever"),
	}
}

// Retrieve searches with the configured k.
func (r *CatalogRetriever) Retrieve(ctx context.Context, question string) ([]models.SchemaDescriptor, error) {
	return r.Search(ctx, question, r.topK)
}

// Search returns up to k descriptors, best first. No match is an empty slice, not an error.
func (r *CatalogRetriever) Search(ctx context.Context, question string, k int) ([]models.SchemaDescriptor, error) {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues("catalog_retrieval").Observe(time.Since(start).Seconds())
	}()

	vector, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%w: embed question: %v", apperrors.ErrRetrieval, err)
	}

	descs, err := r.index.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrRetrieval, err)
	}
	if descs == nil {
		descs = []models.SchemaDescriptor{}
	}

	r.logger.Info("catalog search finished", map[string]interface{}{
		"k":       k,
		"matches": len(descs),
	})
	return descs, nil
}
