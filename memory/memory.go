package memory

import (
	"context"
)

// Store is the vector collection backend.
// Implementations: ChromemStore (store/chromem).
//
// A Store owns named collections. Collection must behave as get-or-create:
// calling it twice with the same name returns the same underlying collection.
type Store interface {
	// Collection returns the named collection, creating it if needed.
	Collection(ctx context.Context, name string) (Collection, error)

	// CollectionNames lists every collection the store currently holds,
	// including ones restored from persistent storage.
	CollectionNames() []string

	// Close releases resources.
	Close() error
}

// Collection is a named bucket of (id, document, metadata) triples.
type Collection interface {
	Name() string

	// Add stores documents. ids, documents and metadatas are parallel slices.
	Add(ctx context.Context, ids []string, documents []string, metadatas []map[string]string) error

	// Query returns up to nResults hits ranked by similarity to text (closest
	// first). where restricts hits to documents whose metadata matches every
	// key exactly.
	Query(ctx context.Context, text string, nResults int, where map[string]string) ([]Hit, error)

	// Get returns the documents with the given ids, skipping ids that do not
	// exist. With no ids it returns every document matching where.
	Get(ctx context.Context, ids []string, where map[string]string) ([]Document, error)

	// Delete removes documents by id. Unknown ids are ignored.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of documents in the collection.
	Count() int
}

// Document is a stored record as returned by Collection.Get.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// Hit is a single ranked query result.
// Distance is 1 - cosine similarity, so 0 means identical.
type Hit struct {
	ID       string
	Text     string
	Metadata map[string]string
	Distance float64
}

// Embedder converts text to embedding vectors.
// Implementations: mock.Embedder (deterministic token hashing), cache.Embedder
// (ristretto-backed decorator around any Embedder).
type Embedder interface {
	// Embed converts a single text to embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns embedding vector size.
	Dimensions() int
}

// AuditLogger receives the append-only audit trail of memory mutations and
// errors. Implementations live in package eventlog.
type AuditLogger interface {
	Log(ctx context.Context, eventType string, data map[string]any)
}

// Audit event types.
const (
	EventMemoryAdded        = "memory_added"
	EventMemoryDeleted      = "memory_deleted"
	EventMemoryPruned       = "memory_pruned"
	EventMemoryMerged       = "memory_merged"
	EventCommandLearn       = "command_learn"
	EventUnauthorizedAccess = "unauthorized_access"
	EventCollectionCreated  = "collection_created"
	EventError              = "error"
)

type nopAudit struct{}

func (nopAudit) Log(context.Context, string, map[string]any) {}
