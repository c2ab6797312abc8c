package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "nlquery/internal/common/errors"
	"nlquery/internal/common/logger"
	"nlquery/internal/models"
)

type fakeSource struct {
	units   []string
	samples map[string]map[string]interface{}
	failOn  string
}

func (f *fakeSource) ListUnits(ctx context.Context) ([]string, error) {
	return f.units, nil
}

func (f *fakeSource) SampleUnit(ctx context.Context, name string) (map[string]interface{}, error) {
	if name == f.failOn {
		return nil, errors.New("cursor killed")
	}
	return f.samples[name], nil
}

type fakeEmbedder struct {
	text string
	err  error
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.text = text
	return []float32{1, 0}, f.err
}

type fakeIndex struct {
	k     int
	descs []models.SchemaDescriptor
	err   error
}

func (f *fakeIndex) Search(ctx context.Context, vector []float32, k int) ([]models.SchemaDescriptor, error) {
	f.k = k
	return f.descs, f.err
}

// ==========================
// Document variant
// ==========================

func TestDocumentRetriever_Retrieve(t *testing.T) {
	src := &fakeSource{
		units: []string{"orders", "users"},
		samples: map[string]map[string]interface{}{
			"users": {"status": "active", "name": "Alice"},
		},
	}
	r := NewDocumentRetriever(logger.NewTestLogger(t))

	units, err := r.Units(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, units)

	descs, err := r.Retrieve(context.Background(), src, "shop", []string{"users", "orders"})
	require.NoError(t, err)
	require.Len(t, descs, 2)

	assert.Equal(t, "users", descs[0].UnitName)
	assert.Equal(t, "shop", descs[0].StoreID)
	assert.Equal(t, "Alice", descs[0].Sample["name"])
	assert.Equal(t, "orders", descs[1].UnitName)
	assert.NotNil(t, descs[1].Sample, "empty collection gets a placeholder")
	assert.Empty(t, descs[1].Sample)

	samples := Samples(descs)
	assert.Len(t, samples, 2)
	assert.Equal(t, "active", samples["users"]["status"])
}

func TestDocumentRetriever_SampleFailure(t *testing.T) {
	src := &fakeSource{failOn: "users"}
	r := NewDocumentRetriever(nil)

	_, err := r.Retrieve(context.Background(), src, "shop", []string{"users"})
	assert.ErrorIs(t, err, apperrors.ErrRetrieval)
}

// ==========================
// Relational variant
// ==========================

func TestCatalogRetriever_Retrieve(t *testing.T) {
	emb := &fakeEmbedder{}
	idx := &fakeIndex{descs: []models.SchemaDescriptor{
		{StoreID: "postgresql://sales", UnitName: "orders", Score: 0.9},
	}}
	r := NewCatalogRetriever(emb, idx, 0, logger.NewTestLogger(t))

	descs, err := r.Retrieve(context.Background(), "total revenue last month")
	require.NoError(t, err)

	assert.Equal(t, DefaultTopK, idx.k)
	assert.Equal(t, "total revenue last month", emb.text)
	require.Len(t, descs, 1)
	assert.Equal(t, "orders", descs[0].UnitName)

	_, err = r.Search(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, idx.k)
}

func TestCatalogRetriever_ZeroResultsIsNotAnError(t *testing.T) {
	r := NewCatalogRetriever(&fakeEmbedder{}, &fakeIndex{}, 5, nil)

	descs, err := r.Retrieve(context.Background(), "weather on mars")
	require.NoError(t, err)
	assert.NotNil(t, descs)
	assert.Empty(t, descs)
}

func TestCatalogRetriever_Failures(t *testing.T) {
	tests := []struct {
		name     string
		embedder *fakeEmbedder
		index    *fakeIndex
	}{
		{"embedding", &fakeEmbedder{err: errors.New("quota")}, &fakeIndex{}},
		{"index", &fakeEmbedder{}, &fakeIndex{err: errors.New("cluster red")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCatalogRetriever(tt.embedder, tt.index, 5, nil)
			_, err := r.Retrieve(context.Background(), "q")
			assert.ErrorIs(t, err, apperrors.ErrRetrieval)
		})
	}
}
