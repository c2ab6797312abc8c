package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlquery/internal/common/config"
	apperrors "nlquery/internal/common/errors"
	"nlquery/internal/common/llm"
	"nlquery/internal/common/logger"
	"nlquery/internal/models"
	"nlquery/internal/nlq/executor"
	"nlquery/internal/nlq/summarizer"
	"nlquery/internal/nlq/synthesis"
)

// ==========================
// Test doubles
// ==========================

type scriptedLLM struct {
	mu      sync.Mutex
	replies map[string]string
	calls   []string
	prompts map[string]llm.PromptData
}

func (s *scriptedLLM) Run(ctx context.Context, stage string, data llm.PromptData) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, stage)
	if s.prompts == nil {
		s.prompts = map[string]llm.PromptData{}
	}
	s.prompts[stage] = data
	reply, ok := s.replies[stage]
	if !ok {
		return "", fmt.Errorf("%w: no reply scripted for %s", apperrors.ErrCompletion, stage)
	}
	return reply, nil
}

type memoryDB struct {
	collections map[string][]map[string]interface{}
	aggregated  models.Pipeline
	released    int
}

func (m *memoryDB) Release() { m.released++ }

func (m *memoryDB) ListUnits(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(m.collections))
	for n := range m.collections {
		names = append(names, n)
	}
	// deterministic order for assertions
	if len(names) == 2 && names[0] > names[1] {
		names[0], names[1] = names[1], names[0]
	}
	return names, nil
}

func (m *memoryDB) SampleUnit(ctx context.Context, name string) (map[string]interface{}, error) {
	docs := m.collections[name]
	if len(docs) == 0 {
		return map[string]interface{}{}, nil
	}
	return docs[0], nil
}

func (m *memoryDB) HasUnit(ctx context.Context, name string) (bool, error) {
	_, ok := m.collections[name]
	return ok, nil
}

// Aggregate understands a single equality $match, which is all the scenarios need.
func (m *memoryDB) Aggregate(ctx context.Context, collection string, pipeline models.Pipeline) ([]map[string]interface{}, error) {
	m.aggregated = pipeline
	docs := m.collections[collection]
	if len(pipeline) == 0 {
		return docs, nil
	}
	match, ok := pipeline[0]["$match"].(map[string]interface{})
	if !ok {
		return nil, errors.New("unsupported stage")
	}
	var out []map[string]interface{}
	for _, d := range docs {
		keep := true
		for k, v := range match {
			if d[k] != v {
				keep = false
			}
		}
		if keep {
			out = append(out, d)
		}
	}
	return out, nil
}

type fakeConnector struct {
	db  DocumentDatabase
	err error
}

func (f *fakeConnector) Connect(ctx context.Context, dbURL, dbName string) (DocumentDatabase, error) {
	return f.db, f.err
}

type memoryHistory struct {
	entries []models.HistoryEntry
}

func (m *memoryHistory) Record(ctx context.Context, e models.HistoryEntry) (models.HistoryEntry, error) {
	m.entries = append(m.entries, e)
	return e, nil
}

type staticCatalog struct {
	tables []models.SchemaDescriptor
	err    error
}

func (s *staticCatalog) Retrieve(ctx context.Context, question string) ([]models.SchemaDescriptor, error) {
	return s.tables, s.err
}

type mapRunner map[string]string

func (m mapRunner) Run(ctx context.Context, dbURL, query string) (string, error) {
	if out, ok := m[dbURL]; ok {
		return out, nil
	}
	return "", errors.New("dial tcp: connection refused")
}

func newMongoPipeline(t *testing.T, runner *scriptedLLM, conn DocumentConnector, hist Recorder) *MongoPipeline {
	log := logger.NewTestLogger(t)
	return NewMongoPipeline(conn, synthesis.New(runner, log), summarizer.New(runner, log), hist, nil, log)
}

// ==========================
// Document flow
// ==========================

func TestMongoPipeline_ActiveUsersScenario(t *testing.T) {
	db := &memoryDB{collections: map[string][]map[string]interface{}{
		"users": {
			{"status": "active", "name": "Alice"},
			{"status": "inactive", "name": "Bob"},
		},
		"orders": {},
	}}
	runner := &scriptedLLM{replies: map[string]string{
		config.StageCollectionSelection: "```json\n[\"users\"]\n```",
		config.StageMongoPlan:           `{"collection":"users","query":{"status":"active"}}`,
		config.StageMongoSummary:        "There is 1 active user: Alice.",
	}}
	hist := &memoryHistory{}
	p := newMongoPipeline(t, runner, &fakeConnector{db: db}, hist)

	answer, err := p.Query(context.Background(), MongoRequest{
		Nickname: "shop",
		DBURL:    "mongodb://localhost:27017",
		DBName:   "shop",
		Question: "list all active users",
	})
	require.NoError(t, err)

	assert.Equal(t, models.Pipeline{{"$match": map[string]interface{}{"status": "active"}}}, answer.Pipeline)
	assert.Equal(t, answer.Pipeline, db.aggregated)
	assert.Equal(t, []string{"users"}, answer.RelevantCollections)
	assert.Equal(t, []string{"orders", "users"}, answer.CollectionNames)
	require.Len(t, answer.Documents, 1)
	assert.Equal(t, "Alice", answer.Documents[0]["name"])
	assert.JSONEq(t, `[{"status":"active","name":"Alice"}]`, answer.Results)
	assert.NotEmpty(t, answer.Response)
	assert.Contains(t, answer.Response, "Alice")

	assert.Equal(t, []string{config.StageCollectionSelection, config.StageMongoPlan, config.StageMongoSummary}, runner.calls)
	assert.Contains(t, runner.prompts[config.StageMongoPlan].Schemas, `"name":"Alice"`)
	assert.Equal(t, answer.Results, runner.prompts[config.StageMongoSummary].Results)

	require.Len(t, hist.entries, 1)
	assert.Equal(t, "shop", hist.entries[0].Nickname)
	assert.Equal(t, models.PipelineMongo, hist.entries[0].Pipeline)
	assert.Equal(t, 1, db.released)
}

func TestMongoPipeline_NoRelevantCollectionsReturnsEarly(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{name: "empty selection", reply: `[]`},
		{name: "only unknown collections", reply: `["customers", "invoices"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &memoryDB{collections: map[string][]map[string]interface{}{"users": {{"name": "Alice"}}}}
			runner := &scriptedLLM{replies: map[string]string{
				config.StageCollectionSelection: tt.reply,
				config.StageMongoPlan:           `{"collection":"users"}`,
			}}
			hist := &memoryHistory{}
			p := newMongoPipeline(t, runner, &fakeConnector{db: db}, hist)

			answer, err := p.Query(context.Background(), MongoRequest{Nickname: "shop", Question: "how many invoices?"})
			require.NoError(t, err)

			assert.Equal(t, NoRelevantCollections, answer.Response)
			assert.Equal(t, []string{"users"}, answer.CollectionNames)
			assert.Empty(t, answer.RelevantCollections)
			assert.Empty(t, answer.Pipeline)
			assert.Equal(t, "[]", answer.Results)
			assert.Equal(t, []string{config.StageCollectionSelection}, runner.calls)
			assert.Nil(t, db.aggregated)
			assert.Empty(t, hist.entries)
			assert.Equal(t, 1, db.released)
		})
	}
}

func TestMongoPipeline_DropsUnknownSelections(t *testing.T) {
	db := &memoryDB{collections: map[string][]map[string]interface{}{"users": {{"name": "Alice"}}}}
	runner := &scriptedLLM{replies: map[string]string{
		config.StageCollectionSelection: `["customers", "users"]`,
		config.StageMongoPlan:           `{"collection":"users"}`,
		config.StageMongoSummary:        "Alice is the only user.",
	}}
	p := newMongoPipeline(t, runner, &fakeConnector{db: db}, nil)

	answer, err := p.Query(context.Background(), MongoRequest{Question: "who are the users?"})
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, answer.RelevantCollections)
	assert.Empty(t, answer.Pipeline)
}

func TestMongoPipeline_Failures(t *testing.T) {
	db := &memoryDB{collections: map[string][]map[string]interface{}{"users": {{"name": "Alice"}}}}

	tests := []struct {
		name    string
		conn    *fakeConnector
		replies map[string]string
		wantErr error
	}{
		{
			name:    "connection",
			conn:    &fakeConnector{err: fmt.Errorf("%w: no reachable servers", apperrors.ErrConnection)},
			wantErr: apperrors.ErrConnection,
		},
		{
			name: "unparseable plan",
			conn: &fakeConnector{db: db},
			replies: map[string]string{
				config.StageCollectionSelection: `["users"]`,
				config.StageMongoPlan:           "Sorry, I cannot help with that.",
			},
			wantErr: apperrors.ErrPlanParse,
		},
		{
			name: "plan targets irrelevant collection",
			conn: &fakeConnector{db: db},
			replies: map[string]string{
				config.StageCollectionSelection: `["users"]`,
				config.StageMongoPlan:           `{"collection":"orders"}`,
			},
			wantErr: apperrors.ErrTargetNotFound,
		},
		{
			name: "completion failure",
			conn: &fakeConnector{db: db},
			replies: map[string]string{
				config.StageCollectionSelection: `["users"]`,
			},
			wantErr: apperrors.ErrCompletion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hist := &memoryHistory{}
			p := newMongoPipeline(t, &scriptedLLM{replies: tt.replies}, tt.conn, hist)

			_, err := p.Query(context.Background(), MongoRequest{Nickname: "n", Question: "q"})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, hist.entries)
		})
	}
}

func TestMongoPipeline_Connect(t *testing.T) {
	db := &memoryDB{collections: map[string][]map[string]interface{}{"users": nil, "orders": nil}}
	p := newMongoPipeline(t, &scriptedLLM{}, &fakeConnector{db: db}, nil)

	conn, err := p.Connect(context.Background(), "local", "mongodb://localhost", "shop")
	require.NoError(t, err)
	assert.Equal(t, "local", conn.Nickname)
	assert.Equal(t, []string{"orders", "users"}, conn.CollectionNames)
	assert.Equal(t, 1, db.released)

	p = newMongoPipeline(t, &scriptedLLM{}, &fakeConnector{err: apperrors.ErrConnection}, nil)
	_, err = p.Connect(context.Background(), "local", "bad", "shop")
	assert.ErrorIs(t, err, apperrors.ErrConnection)
}

func TestRenderDocuments(t *testing.T) {
	assert.Equal(t, "[]", RenderDocuments(nil))
	assert.JSONEq(t, `[{"a":1}]`, RenderDocuments([]map[string]interface{}{{"a": 1}}))
}

// ==========================
// Relational flow
// ==========================

func newSQLPipeline(t *testing.T, runner *scriptedLLM, catalog CatalogSearcher, sql executor.SQLRunner, hist Recorder) *SQLPipeline {
	log := logger.NewTestLogger(t)
	return NewSQLPipeline(
		catalog,
		synthesis.New(runner, log),
		executor.NewRelationalExecutor(sql, 2, log),
		summarizer.New(runner, log),
		hist,
		nil,
		log,
	)
}

func TestSQLPipeline_EmptyRelevanceReturnsEarly(t *testing.T) {
	runner := &scriptedLLM{}
	hist := &memoryHistory{}
	p := newSQLPipeline(t, runner, &staticCatalog{tables: []models.SchemaDescriptor{}}, mapRunner{}, hist)

	answer, err := p.Ask(context.Background(), "what is the weather on mars?", "cli")
	require.NoError(t, err)

	assert.Equal(t, NoRelevantTables, answer.Response)
	assert.Empty(t, answer.Queries)
	assert.NotNil(t, answer.Queries)
	assert.Empty(t, answer.Results)
	assert.Empty(t, runner.calls, "no model call without context")
	assert.Empty(t, hist.entries)
}

func TestSQLPipeline_IsolatesFailingDatabase(t *testing.T) {
	runner := &scriptedLLM{replies: map[string]string{
		config.StageSQLPlan: `[
			{"db_url":"postgresql://down","query":"SELECT count(*) FROM customers;"},
			{"db_url":"sqlite:///sales.db","query":"SELECT count(*) AS n FROM orders;"}
		]`,
		config.StageSummary: "There are 12 orders. The customers database could not be reached.",
	}}
	catalog := &staticCatalog{tables: []models.SchemaDescriptor{
		{StoreID: "postgresql://down", UnitName: "customers", Columns: []string{"id"}},
		{StoreID: "sqlite:///sales.db", UnitName: "orders", Columns: []string{"id"}},
	}}
	hist := &memoryHistory{}
	p := newSQLPipeline(t, runner, catalog, mapRunner{"sqlite:///sales.db": `[{"n":12}]`}, hist)

	answer, err := p.Ask(context.Background(), "how many orders and customers?", "cli")
	require.NoError(t, err)

	require.Len(t, answer.Results, 2)
	assert.True(t, answer.Results[0].Failed())
	assert.True(t, strings.HasPrefix(answer.Results[0].Result, "Error: "))
	assert.Equal(t, `[{"n":12}]`, answer.Results[1].Result)
	assert.Len(t, answer.RelevantTables, 2)
	assert.Len(t, answer.Queries, 2)
	assert.NotEmpty(t, answer.Response)

	assert.Contains(t, runner.prompts[config.StageSummary].Results, "connection refused")
	require.Len(t, hist.entries, 1)
	assert.Equal(t, models.PipelineSQL, hist.entries[0].Pipeline)
}

func TestSQLPipeline_Failures(t *testing.T) {
	tables := []models.SchemaDescriptor{{StoreID: "sqlite:///a.db", UnitName: "t"}}

	t.Run("retrieval", func(t *testing.T) {
		p := newSQLPipeline(t, &scriptedLLM{}, &staticCatalog{err: fmt.Errorf("%w: index down", apperrors.ErrRetrieval)}, mapRunner{}, nil)
		_, err := p.Ask(context.Background(), "q", "")
		assert.ErrorIs(t, err, apperrors.ErrRetrieval)
	})

	t.Run("plan parse", func(t *testing.T) {
		runner := &scriptedLLM{replies: map[string]string{config.StageSQLPlan: "SELECT * FROM t"}}
		p := newSQLPipeline(t, runner, &staticCatalog{tables: tables}, mapRunner{}, nil)
		_, err := p.Ask(context.Background(), "q", "")
		assert.ErrorIs(t, err, apperrors.ErrPlanParse)
	})
}
