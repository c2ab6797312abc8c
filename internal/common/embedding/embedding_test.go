package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlquery/internal/common/config"
	"nlquery/internal/common/logger"
)

// ==========================
// Helpers
// ==========================

type stubEmbedder struct {
	calls int
	vec   []float32
	err   error
}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	s.calls++
	return s.vec, s.err
}

func (s *stubEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	s.calls++
	return s.vec, s.err
}

func (s *stubEmbedder) Dimensions() int { return len(s.vec) }

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// ==========================
// OpenAI
// ==========================

func TestOpenAIEmbedder_EmbedQuery(t *testing.T) {
	var got openAIEmbeddingRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(srv.URL+"/", "sk-test", "text-embedding-ada-002", 3, time.Second)

	vec, err := e.EmbedQuery(context.Background(), "orders per customer")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "text-embedding-ada-002", got.Model)
	assert.Equal(t, "orders per customer", got.Input)
	assert.Equal(t, 3, e.Dimensions())
}

func TestOpenAIEmbedder_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"down"}`, "unexpected status 500"},
		{"empty data", http.StatusOK, `{"data":[]}`, "empty embedding"},
		{"wrong dimensions", http.StatusOK, `{"data":[{"embedding":[1,2]}]}`, "got 2 dimensions, want 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			e := NewOpenAIEmbedder(srv.URL, "", "m", 3, time.Second)
			_, err := e.EmbedDocument(context.Background(), "x")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// ==========================
// Cache
// ==========================

func TestCachedEmbedder_HitAfterMiss(t *testing.T) {
	mr, rdb := newRedis(t)
	inner := &stubEmbedder{vec: []float32{1, 2}}
	c := NewCachedEmbedder(inner, rdb, "openai:m", time.Minute, logger.NewTestLogger(t))

	first, err := c.EmbedQuery(context.Background(), "top products")
	require.NoError(t, err)
	second, err := c.EmbedQuery(context.Background(), "top products")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)

	key := c.key("top products")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Minute, mr.TTL(key))
}

func TestCachedEmbedder_DocumentsBypassCache(t *testing.T) {
	mr, rdb := newRedis(t)
	inner := &stubEmbedder{vec: []float32{1}}
	c := NewCachedEmbedder(inner, rdb, "openai:m", time.Minute, nil)

	_, err := c.EmbedDocument(context.Background(), "users table")
	require.NoError(t, err)
	_, err = c.EmbedDocument(context.Background(), "users table")
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
	assert.Empty(t, mr.Keys())
}

func TestCachedEmbedder_InnerErrorNotCached(t *testing.T) {
	mr, rdb := newRedis(t)
	inner := &stubEmbedder{err: errors.New("quota")}
	c := NewCachedEmbedder(inner, rdb, "openai:m", time.Minute, nil)

	_, err := c.EmbedQuery(context.Background(), "q")
	require.Error(t, err)
	assert.Empty(t, mr.Keys())
}

func TestCachedEmbedder_RedisDownFallsThrough(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()
	inner := &stubEmbedder{vec: []float32{4}}
	c := NewCachedEmbedder(inner, rdb, "openai:m", time.Minute, logger.NewTestLogger(t))

	vec, err := c.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{4}, vec)
}

// ==========================
// Factory
// ==========================

func TestNew(t *testing.T) {
	_, rdb := newRedis(t)

	e, err := New(context.Background(), config.EmbeddingConfig{Provider: config.ProviderOpenAI, Model: "m", CacheTTL: 60}, rdb, nil)
	require.NoError(t, err)
	assert.IsType(t, &CachedEmbedder{}, e)

	e, err = New(context.Background(), config.EmbeddingConfig{Provider: config.ProviderOpenAI, Model: "m"}, rdb, nil)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIEmbedder{}, e)

	_, err = New(context.Background(), config.EmbeddingConfig{Provider: config.ProviderGemini}, nil, nil)
	assert.Error(t, err)

	_, err = New(context.Background(), config.EmbeddingConfig{Provider: "cohere"}, nil, nil)
	assert.Error(t, err)
}
