package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Combined-score weights used by GetRelevantContext.
const (
	RelevanceWeight = 0.6
	RecencyWeight   = 0.3
	ShortTermBonus  = 0.2
	MediumTermBonus = 0.1

	// RecencyWindow is the age at which recency reaches zero.
	RecencyWindow = 30 * 24 * time.Hour

	// DefaultContextItems is the number of memories rendered into a prompt.
	DefaultContextItems = 5

	// entityQueryLimit is the per-entity result count in GetRelevantContext.
	entityQueryLimit = 3
)

// Bridge turns a query and the user's memory scopes into a ranked, bounded
// context block for prompt injection. It also records conversation turns and
// maintains the entity co-occurrence graph.
type Bridge struct {
	manager   *Manager
	extractor EntityExtractor
	graph     *EntityGraph
	logger    *zap.Logger
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithEntityExtractor replaces the default regex extractor.
func WithEntityExtractor(e EntityExtractor) BridgeOption {
	return func(b *Bridge) {
		if e != nil {
			b.extractor = e
		}
	}
}

// NewBridge creates a Bridge over manager.
func NewBridge(manager *Manager, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		manager:   manager,
		extractor: EntityExtractorFunc(ExtractEntities),
		graph:     NewEntityGraph(),
		logger:    manager.logger.Named("bridge"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Graph returns the entity co-occurrence graph.
func (b *Bridge) Graph() *EntityGraph {
	return b.graph
}

// ExtractEntities runs the configured extractor.
func (b *Bridge) ExtractEntities(text string) []string {
	return b.extractor.Extract(text)
}

// GetRelevantContext returns up to maxItems memories ranked by combined score.
//
// It queries every scope with maxItems*2 results for headroom, adds up to 3
// results per entity found in the query, drops duplicate ids and scores each
// memory as
//
//	0.6*relevance + 0.3*recency + type bonus
//
// where recency falls linearly to zero over 30 days and the type bonus is 0.2
// for short-term, 0.1 for medium-term and 0 for long-term memories.
func (b *Bridge) GetRelevantContext(ctx context.Context, query, userID string, maxItems int) []MemoryResult {
	if maxItems <= 0 {
		maxItems = DefaultContextItems
	}

	candidates := b.manager.QueryMemory(ctx, query, QueryOptions{
		UserID: userID,
		Limit:  maxItems * 2,
	}).All()
	for _, entity := range b.ExtractEntities(query) {
		rs := b.manager.QueryMemory(ctx, entity, QueryOptions{
			UserID: userID,
			Limit:  entityQueryLimit,
		})
		candidates = append(candidates, rs.All()...)
	}

	// De-duplicate by id, keeping the closest hit.
	index := make(map[string]int, len(candidates))
	unique := make([]MemoryResult, 0, len(candidates))
	for _, c := range candidates {
		if i, ok := index[c.ID]; ok {
			if c.Distance < unique[i].Distance {
				unique[i] = c
			}
			continue
		}
		index[c.ID] = len(unique)
		unique = append(unique, c)
	}

	now := b.manager.now()
	for i := range unique {
		unique[i].Score = CombinedScore(unique[i], now)
	}
	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].Score > unique[j].Score
	})
	if len(unique) > maxItems {
		unique = unique[:maxItems]
	}
	return unique
}

// CombinedScore scores a memory for context ranking at time now.
func CombinedScore(r MemoryResult, now time.Time) float64 {
	return RelevanceWeight*r.Relevance + RecencyWeight*Recency(r.Metadata.Timestamp(), now) + TypeBonus(r.MemoryType())
}

// Recency maps a float Unix timestamp to [0, 1]: 1 when brand new, 0 at or
// beyond RecencyWindow.
func Recency(timestamp float64, now time.Time) float64 {
	if timestamp <= 0 {
		return 0
	}
	age := float64(now.UnixNano())/1e9 - timestamp
	r := 1 - age/RecencyWindow.Seconds()
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// TypeBonus biases conversational memories upward.
func TypeBonus(t MemoryType) float64 {
	switch t {
	case ShortTerm:
		return ShortTermBonus
	case MediumTerm:
		return MediumTermBonus
	}
	return 0
}

// GenerateContextForPrompt renders the relevant context for query as a
// numbered list. It returns "" when nothing relevant was found.
func (b *Bridge) GenerateContextForPrompt(ctx context.Context, query, userID string, maxItems int) string {
	return RenderContext(b.GetRelevantContext(ctx, query, userID, maxItems))
}

// RenderContext formats ranked memories as
//
//	1. [Entity] text (Source: User, Type: short_term)
//
// User-scope memories are sourced "User", everything else "Grace".
func RenderContext(results []MemoryResult) string {
	if len(results) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteByte('\n')
		}
		prefix := ""
		if e := r.Metadata.Entity(); e != "" {
			prefix = "[" + e + "] "
		}
		source := "Grace"
		if r.Scope == ScopeUser {
			source = "User"
		}
		fmt.Fprintf(&sb, "%d. %s%s (Source: %s, Type: %s)", i+1, prefix, r.Text, source, r.MemoryType())
	}
	return sb.String()
}

// ProcessedMessage is the outcome of ProcessMessage.
type ProcessedMessage struct {
	ShortTermID  string   `json:"short_term_id"`
	MediumTermID string   `json:"medium_term_id,omitempty"`
	Entities     []string `json:"entities"`
	Significant  bool     `json:"significant"`
}

// ProcessMessage records a conversation turn. The message always goes to
// short-term memory with its extracted entities; significant messages are
// also kept as medium-term memory.
func (b *Bridge) ProcessMessage(ctx context.Context, userID, text, role string) (*ProcessedMessage, error) {
	id, entities, err := b.RecordShortTerm(ctx, userID, text, role)
	if err != nil {
		return nil, err
	}
	out := &ProcessedMessage{
		ShortTermID: id,
		Entities:    entities,
		Significant: IsSignificant(text, entities),
	}
	if !out.Significant {
		return out, nil
	}

	md := Metadata{KeyRole: role, KeySource: "bridge"}
	md.SetEntities(entities)
	if len(entities) > 0 {
		md[KeyEntity] = entities[0]
	}
	out.MediumTermID, err = b.manager.AddToMediumTerm(ctx, userID, text, md)
	if err != nil {
		return out, err
	}
	return out, nil
}

// RecordShortTerm stores text as short-term memory tagged with its entities.
// The graph picks the entities up on the next UpdateEntityRelationships.
func (b *Bridge) RecordShortTerm(ctx context.Context, userID, text, role string) (string, []string, error) {
	entities := b.ExtractEntities(text)
	md := Metadata{KeyRole: role}
	md.SetEntities(entities)
	id, err := b.manager.AddToShortTerm(ctx, userID, text, md)
	if err != nil {
		return "", entities, err
	}
	return id, entities, nil
}

// UpdateEntityRelationships rebuilds the co-occurrence graph from the
// entities metadata of every user's short-term memories.
func (b *Bridge) UpdateEntityRelationships(ctx context.Context) error {
	var (
		lists [][]string
		errs  []error
	)
	for _, name := range b.manager.userCollectionNames() {
		col, err := b.manager.store.Collection(ctx, name)
		if err != nil {
			errs = append(errs, &StorageError{Op: "open", Collection: name, Err: err})
			continue
		}
		docs, err := col.Get(ctx, nil, map[string]string{KeyMemoryType: string(ShortTerm)})
		if err != nil {
			errs = append(errs, &StorageError{Op: "scan", Collection: name, Err: err})
			continue
		}
		for _, doc := range docs {
			if entities := Metadata(doc.Metadata).Entities(); len(entities) > 1 {
				lists = append(lists, entities)
			}
		}
	}
	b.graph.Rebuild(lists)

	b.logger.Debug("rebuilt entity graph", zap.Int("entities", b.graph.Len()), zap.Int("messages", len(lists)))
	return errors.Join(errs...)
}

// GetRelatedEntities returns the entities that most often co-occur with
// entity, highest count first.
func (b *Bridge) GetRelatedEntities(entity string, maxEntities int) []RelatedEntity {
	if maxEntities <= 0 {
		maxEntities = 5
	}
	return b.graph.Related(entity, maxEntities)
}
