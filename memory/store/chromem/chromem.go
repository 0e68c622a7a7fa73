package chromem

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/becomeliminal/grace/memory"
)

// ChromemStore wraps chromem-go for vector storage.
// chromem-go is a pure Go, embedded vector database with Chroma-style
// collections.
type ChromemStore struct {
	db          *chromem.DB
	embed       chromem.EmbeddingFunc
	logger      *zap.Logger
	collections map[string]*Collection
	mu          sync.RWMutex
}

// maxQueryAttempts bounds retries of a query racing concurrent deletes.
const maxQueryAttempts = 8

// Config configures the store.
type Config struct {
	// PersistPath enables chromem's persistent DB at this directory.
	// Empty keeps everything in memory.
	PersistPath string

	// Compress gzips persisted documents.
	Compress bool

	// Logger defaults to the named global logger.
	Logger *zap.Logger
}

// New creates a new chromem-based store. Every collection embeds documents
// and queries with embedder.
func New(embedder memory.Embedder, cfg Config) (*ChromemStore, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open persistent db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.L().Named("chromem")
	}

	return &ChromemStore{
		db:          db,
		embed:       embedder.Embed,
		logger:      logger,
		collections: make(map[string]*Collection),
	}, nil
}

// Collection returns the named collection, creating it if needed.
func (s *ChromemStore) Collection(ctx context.Context, name string) (memory.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[name]
	s.mu.RUnlock()

	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := s.collections[name]; exists {
		return col, nil
	}

	c, err := s.db.GetOrCreateCollection(name, nil, s.embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	col = &Collection{name: name, col: c, embed: s.embed, logger: s.logger}
	s.collections[name] = col
	s.logger.Debug("opened collection", zap.String("name", name), zap.Int("documents", c.Count()))
	return col, nil
}

// CollectionNames lists every collection in the database, including ones
// restored from disk that have not been opened yet.
func (s *ChromemStore) CollectionNames() []string {
	all := s.db.ListCollections()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases resources.
func (s *ChromemStore) Close() error {
	// chromem-go persists on every write, nothing to flush
	return nil
}

// Collection adapts a chromem collection to memory.Collection.
type Collection struct {
	name   string
	col    *chromem.Collection
	embed  chromem.EmbeddingFunc
	logger *zap.Logger
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// Count returns the number of documents.
func (c *Collection) Count() int {
	return c.col.Count()
}

// Add stores documents, embedding their text with the store's embedder.
func (c *Collection) Add(ctx context.Context, ids []string, documents []string, metadatas []map[string]string) error {
	if len(ids) != len(documents) || (metadatas != nil && len(metadatas) != len(ids)) {
		return fmt.Errorf("add %s: ids, documents and metadatas must have the same length", c.name)
	}
	if len(ids) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(ids))
	for i, id := range ids {
		var md map[string]string
		if metadatas != nil {
			md = metadatas[i]
		}
		docs[i] = chromem.Document{
			ID:       id,
			Content:  documents[i],
			Metadata: md,
		}
	}

	if len(docs) == 1 {
		if err := c.col.AddDocument(ctx, docs[0]); err != nil {
			return fmt.Errorf("add document: %w", err)
		}
		return nil
	}
	if err := c.col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	return nil
}

// Query retrieves documents by similarity to text, closest first.
func (c *Collection) Query(ctx context.Context, text string, nResults int, where map[string]string) ([]memory.Hit, error) {
	if nResults <= 0 {
		return nil, nil
	}

	if c.col.Count() == 0 {
		return nil, nil
	}
	embedding, err := c.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := c.queryClamped(ctx, embedding, nResults, where)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	hits := make([]memory.Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, memory.Hit{
			ID:       r.ID,
			Text:     r.Content,
			Metadata: r.Metadata,
			Distance: 1 - float64(r.Similarity),
		})
	}
	return hits, nil
}

// Get returns documents by id, skipping missing ones. With no ids it returns
// every document whose metadata matches where.
func (c *Collection) Get(ctx context.Context, ids []string, where map[string]string) ([]memory.Document, error) {
	if len(ids) > 0 {
		docs := make([]memory.Document, 0, len(ids))
		for _, id := range ids {
			doc, err := c.col.GetByID(ctx, id)
			if err != nil {
				if isNotFoundError(err) {
					continue
				}
				return nil, fmt.Errorf("get %s: %w", id, err)
			}
			if !matches(doc.Metadata, where) {
				continue
			}
			docs = append(docs, memory.Document{ID: doc.ID, Text: doc.Content, Metadata: doc.Metadata})
		}
		return docs, nil
	}

	return c.scan(ctx, where)
}

// scan lists documents matching where. chromem-go has no listing API, so this
// runs a filtered query sized to the whole collection; the filter is applied
// before ranking, so every match is returned.
func (c *Collection) scan(ctx context.Context, where map[string]string) ([]memory.Document, error) {
	count := c.col.Count()
	if count == 0 {
		return nil, nil
	}

	anchor, err := c.embed(ctx, c.name)
	if err != nil {
		return nil, fmt.Errorf("embed scan anchor: %w", err)
	}
	results, err := c.queryClamped(ctx, anchor, count, where)
	if err != nil {
		return nil, fmt.Errorf("chromem scan: %w", err)
	}

	docs := make([]memory.Document, 0, len(results))
	for _, r := range results {
		docs = append(docs, memory.Document{ID: r.ID, Text: r.Content, Metadata: r.Metadata})
	}
	return docs, nil
}

// queryClamped runs a similarity query with nResults capped to the current
// collection size. chromem-go rejects nResults above the size, so when a
// concurrent delete shrinks the collection between the count and the query
// the size is read again and the query retried.
func (c *Collection) queryClamped(ctx context.Context, embedding []float32, nResults int, where map[string]string) ([]chromem.Result, error) {
	var err error
	for attempt := 0; attempt < maxQueryAttempts; attempt++ {
		n := min(nResults, c.col.Count())
		if n == 0 {
			return nil, nil
		}
		var results []chromem.Result
		results, err = c.col.QueryEmbedding(ctx, embedding, n, nilIfEmpty(where), nil)
		if err == nil || !isShrunkError(err) {
			return results, err
		}
	}
	c.logger.Warn("collection kept shrinking during query",
		zap.String("collection", c.name),
		zap.Int("attempts", maxQueryAttempts),
	)
	return nil, err
}

// Delete removes documents by id.
func (c *Collection) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	c.logger.Debug("deleted documents", zap.String("collection", c.name), zap.Int("count", len(ids)))
	return nil
}

func matches(md, where map[string]string) bool {
	for k, v := range where {
		if md[k] != v {
			return false
		}
	}
	return true
}

func nilIfEmpty(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}

// isNotFoundError checks if error is chromem's missing-document error.
func isNotFoundError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}

// isShrunkError reports whether chromem-go refused a query because the
// collection had fewer documents than requested.
func isShrunkError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "nResults must be <=") || strings.Contains(msg, "nResults must be > 0")
}
