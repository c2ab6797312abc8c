package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"nlquery/internal/common/database"
	"nlquery/internal/common/logger"
	"nlquery/internal/common/metrics"
	"nlquery/internal/common/observability"
	"nlquery/internal/models"
	"nlquery/internal/nlq/compiler"
	"nlquery/internal/nlq/executor"
	"nlquery/internal/nlq/retrieval"
	"nlquery/internal/nlq/summarizer"
	"nlquery/internal/nlq/synthesis"
)

// NoRelevantCollections is the answer when collection selection finds nothing the database has.
const NoRelevantCollections = "No relevant collections were found for this question. Try rephrasing it or naming the data you need."

// DocumentDatabase is everything the document flow needs from one connected database.
type DocumentDatabase interface {
	retrieval.DocumentSource
	executor.DocumentTarget
	// Release hands the connection back once the request is done with it.
	Release()
}

// DocumentConnector opens a database by URL and name. Failures wrap ErrConnection.
type DocumentConnector interface {
	Connect(ctx context.Context, dbURL, dbName string) (DocumentDatabase, error)
}

type poolConnector struct {
	pool *database.MongoPool
}

// PoolConnector adapts a MongoPool to DocumentConnector.
func PoolConnector(pool *database.MongoPool) DocumentConnector {
	return poolConnector{pool: pool}
}

func (c poolConnector) Connect(ctx context.Context, dbURL, dbName string) (DocumentDatabase, error) {
	store, err := c.pool.Connect(ctx, dbURL, dbName)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// MongoRequest is one question against a document database.
type MongoRequest struct {
	Nickname string
	DBURL    string
	DBName   string
	Question string
}

// MongoConnection describes a verified database.
type MongoConnection struct {
	Nickname        string   `json:"connection_nickname"`
	DBURL           string   `json:"db_url"`
	DBName          string   `json:"db_name"`
	CollectionNames []string `json:"collection_names"`
}

// MongoAnswer is the outcome of a document question.
type MongoAnswer struct {
	Response            string
	CollectionNames     []string
	RelevantCollections []string
	Plan                models.QueryPlan
	Pipeline            models.Pipeline
	Documents           []map[string]interface{}
	Results             string
}

// MongoPipeline answers questions over a document database.
type MongoPipeline struct {
	connector   DocumentConnector
	retriever   *retrieval.DocumentRetriever
	synthesizer *synthesis.Synthesizer
	executor    *executor.DocumentExecutor
	summarizer  *summarizer.Summarizer
	history     Recorder
	obs         *observability.Observability
	logger      logger.Logger
}

func NewMongoPipeline(
	connector DocumentConnector,
	synth *synthesis.Synthesizer,
	summ *summarizer.Summarizer,
	history Recorder,
	obs *observability.Observability,
	log logger.Logger,
) *MongoPipeline {
	return &MongoPipeline{
		connector:   connector,
		retriever:   retrieval.NewDocumentRetriever(log),
		synthesizer: synth,
		executor:    executor.NewDocumentExecutor(log),
		summarizer:  summ,
		history:     history,
		obs:         obs,
		logger:      logger.Component(log, "mongo-pipeline"),
	}
}

// Connect verifies the database and lists its collections.
func (p *MongoPipeline) Connect(ctx context.Context, nickname, dbURL, dbName string) (*MongoConnection, error) {
	db, err := p.connector.Connect(ctx, dbURL, dbName)
	if err != nil {
		return nil, err
	}
	defer db.Release()

	names, err := p.retriever.Units(ctx, db)
	if err != nil {
		return nil, err
	}
	return &MongoConnection{
		Nickname:        nickname,
		DBURL:           dbURL,
		DBName:          dbName,
		CollectionNames: names,
	}, nil
}

// Query runs the full document flow: select collections, sample them, plan, compile, run and
// summarize. When no known collection is selected it returns early without planning.
func (p *MongoPipeline) Query(ctx context.Context, req MongoRequest) (answer *MongoAnswer, err error) {
	t := track(models.PipelineMongo, p.obs)
	status := ""
	defer func() {
		if status == "" {
			status = statusOf(err)
		}
		t.done(ctx, status)
	}()

	db, err := p.connector.Connect(ctx, req.DBURL, req.DBName)
	if err != nil {
		return nil, err
	}
	defer db.Release()

	names, err := p.retriever.Units(ctx, db)
	if err != nil {
		return nil, err
	}

	selected, err := p.synthesizer.SelectUnits(ctx, req.Question, names)
	if err != nil {
		return nil, err
	}
	relevant := p.knownOnly(selected, names)
	if len(relevant) == 0 {
		status = metrics.StatusEmpty
		p.logger.Info("no relevant collections", map[string]interface{}{
			"nickname": req.Nickname,
			"question": req.Question,
		})
		return &MongoAnswer{
			Response:            NoRelevantCollections,
			CollectionNames:     names,
			RelevantCollections: []string{},
			Pipeline:            models.Pipeline{},
			Documents:           []map[string]interface{}{},
			Results:             RenderDocuments(nil),
		}, nil
	}

	descs, err := p.retriever.Retrieve(ctx, db, req.Nickname, relevant)
	if err != nil {
		return nil, err
	}

	plan, err := p.synthesizer.DocumentPlan(ctx, req.Question, descs)
	if err != nil {
		return nil, err
	}

	stages := compiler.Compile(plan)

	docs, err := p.executor.Execute(ctx, db, relevant, plan, stages)
	if err != nil {
		return nil, err
	}

	rendered := RenderDocuments(docs)
	response, err := p.summarizer.Documents(ctx, req.Question, rendered)
	if err != nil {
		return nil, err
	}

	p.logger.Info("document question answered", map[string]interface{}{
		"nickname":   req.Nickname,
		"collection": plan.Collection,
		"stages":     len(stages),
		"documents":  len(docs),
	})

	record(ctx, p.history, p.logger, models.HistoryEntry{
		Nickname: req.Nickname,
		Pipeline: models.PipelineMongo,
		Question: req.Question,
		Answer:   response,
		Query: map[string]interface{}{
			"collection":           plan.Collection,
			"aggregation_pipeline": stages,
		},
	})

	return &MongoAnswer{
		Response:            response,
		CollectionNames:     names,
		RelevantCollections: relevant,
		Plan:                plan,
		Pipeline:            stages,
		Documents:           docs,
		Results:             rendered,
	}, nil
}

// knownOnly drops selected names the database does not have, keeping order.
func (p *MongoPipeline) knownOnly(selected, names []string) []string {
	known := make(map[string]struct{}, len(names))
	for _, n := range names {
		known[n] = struct{}{}
	}

	out := make([]string, 0, len(selected))
	var dropped []string
	for _, s := range selected {
		if _, ok := known[s]; ok {
			out = append(out, s)
		} else {
			dropped = append(dropped, s)
		}
	}
	if len(dropped) > 0 {
		p.logger.Warn("ignoring unknown collections from selection", map[string]interface{}{
			"dropped": dropped,
		})
	}
	return out
}

// RenderDocuments renders aggregation output as JSON for the summary prompt and the response.
func RenderDocuments(docs []map[string]interface{}) string {
	if docs == nil {
		docs = []map[string]interface{}{}
	}
	encoded, err := json.Marshal(docs)
	if err != nil {
		return fmt.Sprint(docs)
	}
	return string(encoded)
}
