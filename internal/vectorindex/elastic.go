// Package vectorindex stores table descriptions with their embeddings in Elasticsearch and
// answers k-nearest-neighbour queries over them.
package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"

	"nlquery/internal/common/logger"
	"nlquery/internal/models"
)

const embeddingField = "embedding"

// Document is one indexed table.
type Document struct {
	TableName   string    `json:"table_name"`
	Columns     []string  `json:"columns"`
	DBName      string    `json:"db_name"`
	DBURL       string    `json:"db_url"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// DocumentID is stable per table so re-indexing overwrites instead of duplicating.
func DocumentID(dbURL, table string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(dbURL+"#"+table)).String()
}

// ElasticIndex is a dense_vector index with cosine similarity.
type ElasticIndex struct {
	client     *elasticsearch.Client
	index      string
	dimensions int
	logger     logger.Logger
}

func NewElasticIndex(client *elasticsearch.Client, index string, dimensions int, log logger.Logger) *ElasticIndex {
	return &ElasticIndex{
		client:     client,
		index:      index,
		dimensions: dimensions,
		logger:     logger.Component(log, "vector-index"),
	}
}

// EnsureIndex creates the index with the catalog mapping when it does not exist.
func (e *ElasticIndex) EnsureIndex(ctx context.Context) error {
	res, err := e.client.Indices.Exists([]string{e.index}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", e.index, err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("check index %s: %s", e.index, res.Status())
	}

	body, err := json.Marshal(e.mapping())
	if err != nil {
		return err
	}
	res, err = e.client.Indices.Create(
		e.index,
		e.client.Indices.Create.WithContext(ctx),
		e.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", e.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %s: %s", e.index, res.String())
	}

	e.logger.Info("created vector index", map[string]interface{}{
		"index":      e.index,
		"dimensions": e.dimensions,
	})
	return nil
}

func (e *ElasticIndex) mapping() map[string]interface{} {
	return map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				models.MetaTableName:   map[string]interface{}{"type": "keyword"},
				models.MetaColumns:     map[string]interface{}{"type": "keyword"},
				models.MetaDBName:      map[string]interface{}{"type": "keyword"},
				models.MetaDBURL:       map[string]interface{}{"type": "keyword"},
				models.MetaDescription: map[string]interface{}{"type": "text"},
				models.MetaContent:     map[string]interface{}{"type": "text"},
				embeddingField: map[string]interface{}{
					"type":       "dense_vector",
					"dims":       e.dimensions,
					"index":      true,
					"similarity": "cosine",
				},
			},
		},
	}
}

// Upsert writes doc under its stable id.
func (e *ElasticIndex) Upsert(ctx context.Context, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	res, err := e.client.Index(
		e.index,
		bytes.NewReader(body),
		e.client.Index.WithContext(ctx),
		e.client.Index.WithDocumentID(DocumentID(doc.DBURL, doc.TableName)),
		e.client.Index.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("index %s.%s: %w", doc.DBName, doc.TableName, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index %s.%s: %s", doc.DBName, doc.TableName, res.String())
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string   `json:"_id"`
			Score  float64  `json:"_score"`
			Source Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search returns the k nearest tables to vector, best first.
func (e *ElasticIndex) Search(ctx context.Context, vector []float32, k int) ([]models.SchemaDescriptor, error) {
	if k <= 0 {
		return []models.SchemaDescriptor{}, nil
	}

	candidates := k * 10
	if candidates < 100 {
		candidates = 100
	}
	query := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          embeddingField,
			"query_vector":   vector,
			"k":              k,
			"num_candidates": candidates,
		},
		"size":    k,
		"_source": map[string]interface{}{"excludes": []string{embeddingField}},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		// nothing indexed yet
		_, _ = io.Copy(io.Discard, res.Body)
		return []models.SchemaDescriptor{}, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("knn search: %s", res.String())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode knn response: %w", err)
	}

	out := make([]models.SchemaDescriptor, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		src := hit.Source
		out = append(out, models.SchemaDescriptor{
			StoreID:     src.DBURL,
			DBName:      src.DBName,
			UnitName:    src.TableName,
			Columns:     src.Columns,
			Description: src.Description,
			Content:     src.Content,
			Score:       hit.Score,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}
