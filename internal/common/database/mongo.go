// internal/common/database/mongo.go
package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"nlquery/internal/common/config"
	apperrors "nlquery/internal/common/errors"
	"nlquery/internal/common/logger"
	"nlquery/internal/models"
)

// MongoPool caches one client per connection URL. Requests carry their own URL, so clients
// are created lazily. Once the pool is full the least recently used client is evicted; an
// evicted client stays connected until every store handed out on it is released.
type MongoPool struct {
	cfg    config.MongoConfig
	logger logger.Logger

	mu      sync.Mutex
	clients map[string]*pooledClient
	order   []string // least recently used first

	closeClient func(*mongo.Client)
}

type pooledClient struct {
	client  *mongo.Client
	refs    int
	evicted bool
	closed  bool
}

func NewMongoPool(cfg config.MongoConfig, log logger.Logger) *MongoPool {
	p := &MongoPool{
		cfg:     cfg,
		logger:  logger.Component(log, "mongo-pool"),
		clients: make(map[string]*pooledClient),
	}
	p.closeClient = p.disconnect
	return p
}

// Connect returns a store for dbName. The database must be listed by the server; anything
// else wraps ErrConnection. The caller must Release the store when done with it.
func (p *MongoPool) Connect(ctx context.Context, dbURL, dbName string) (*MongoStore, error) {
	pc, err := p.acquire(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConnection, err)
	}
	store := &MongoStore{db: pc.client.Database(dbName), pool: p, entry: pc}

	names, err := pc.client.ListDatabaseNames(ctx, bson.D{}, options.ListDatabases().SetNameOnly(true))
	if err != nil {
		store.Release()
		p.evict(dbURL)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConnection, err)
	}
	for _, name := range names {
		if name == dbName {
			return store, nil
		}
	}
	store.Release()
	return nil, fmt.Errorf("%w: database %q not found on server", apperrors.ErrConnection, dbName)
}

// acquire returns the cached client for dbURL, creating it when missing, and takes a
// reference on it.
func (p *MongoPool) acquire(ctx context.Context, dbURL string) (*pooledClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pc, ok := p.clients[dbURL]; ok {
		pc.refs++
		p.touch(dbURL)
		return pc, nil
	}

	opts := options.Client().ApplyURI(dbURL)
	if p.cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(time.Duration(p.cfg.ConnectTimeout) * time.Millisecond)
	}
	if p.cfg.ServerSelectionTimeout > 0 {
		opts.SetServerSelectionTimeout(time.Duration(p.cfg.ServerSelectionTimeout) * time.Millisecond)
	}

	c, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}

	if max := p.cfg.MaxCachedClients; max > 0 && len(p.order) >= max {
		p.removeLocked(p.order[0])
	}
	pc := &pooledClient{client: c, refs: 1}
	p.clients[dbURL] = pc
	p.order = append(p.order, dbURL)
	return pc, nil
}

// release drops one reference and disconnects an evicted client once nothing uses it.
func (p *MongoPool) release(pc *pooledClient) {
	p.mu.Lock()
	if pc.refs > 0 {
		pc.refs--
	}
	closeNow := pc.evicted && !pc.closed && pc.refs == 0
	p.mu.Unlock()

	if closeNow {
		go p.closeClient(pc.client)
	}
}

// touch moves dbURL to the most recently used end. Callers hold p.mu.
func (p *MongoPool) touch(dbURL string) {
	for i, u := range p.order {
		if u == dbURL {
			p.order = append(append(p.order[:i:i], p.order[i+1:]...), dbURL)
			return
		}
	}
}

// removeLocked drops dbURL from the cache. Callers hold p.mu.
func (p *MongoPool) removeLocked(dbURL string) {
	pc, ok := p.clients[dbURL]
	if !ok {
		return
	}
	delete(p.clients, dbURL)
	for i, u := range p.order {
		if u == dbURL {
			p.order = append(p.order[:i:i], p.order[i+1:]...)
			break
		}
	}

	pc.evicted = true
	if pc.refs == 0 {
		go p.closeClient(pc.client)
		return
	}
	p.logger.Debug("deferring disconnect of busy mongo client", map[string]interface{}{"refs": pc.refs})
}

func (p *MongoPool) evict(dbURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(dbURL)
}

func (p *MongoPool) disconnect(c *mongo.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Disconnect(ctx); err != nil {
		p.logger.Warn("mongo disconnect failed", map[string]interface{}{"error": err.Error()})
	}
}

// Close disconnects every cached client, including ones still in use.
func (p *MongoPool) Close(ctx context.Context) error {
	p.mu.Lock()
	clients := p.clients
	for _, pc := range clients {
		pc.closed = true
	}
	p.clients = make(map[string]*pooledClient)
	p.order = nil
	p.mu.Unlock()

	var errs []error
	for _, pc := range clients {
		if err := pc.client.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MongoStore is one database on a connected server. It holds a reference on its pooled
// client until Release.
type MongoStore struct {
	db    *mongo.Database
	pool  *MongoPool
	entry *pooledClient
	once  sync.Once
}

// Release returns the store's client to the pool. It is safe to call more than once.
func (s *MongoStore) Release() {
	if s.pool == nil {
		return
	}
	s.once.Do(func() { s.pool.release(s.entry) })
}

// Name returns the database name.
func (s *MongoStore) Name() string { return s.db.Name() }

// ListUnits returns the collection names, sorted.
func (s *MongoStore) ListUnits(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("%w: list collections: %v", apperrors.ErrConnection, err)
	}
	sort.Strings(names)
	return names, nil
}

// SampleUnit returns one document of the collection, or an empty map when it has none.
func (s *MongoStore) SampleUnit(ctx context.Context, name string) (map[string]interface{}, error) {
	var doc bson.M
	err := s.db.Collection(name).FindOne(ctx, bson.D{}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", name, err)
	}
	return map[string]interface{}(doc), nil
}

// HasUnit reports whether the collection exists.
func (s *MongoStore) HasUnit(ctx context.Context, name string) (bool, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

// Aggregate runs pipeline against collection and materializes every document.
func (s *MongoStore) Aggregate(ctx context.Context, collection string, pipeline models.Pipeline) ([]map[string]interface{}, error) {
	stages := make(bson.A, 0, len(pipeline))
	for _, stage := range pipeline {
		stages = append(stages, bson.M(stage))
	}

	cursor, err := s.db.Collection(collection).Aggregate(ctx, stages)
	if err != nil {
		return nil, err
	}

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]map[string]interface{}, 0, len(docs))
	for _, d := range docs {
		out = append(out, map[string]interface{}(d))
	}
	return out, nil
}
