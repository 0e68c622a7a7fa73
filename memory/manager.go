package memory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Manager owns collection access and the CRUD operations for the three
// memory tiers. All authorization and TTL policy is enforced here.
//
// Collections:
//   - global: long-term knowledge visible to all users
//   - system: configuration-type entries, queried as the "core" scope
//   - user_<md5(username)>: one per user, created on first access
type Manager struct {
	store  Store
	allow  *AllowList
	audit  AuditLogger
	logger *zap.Logger
	tracer trace.Tracer
	config *Config
	now    func() time.Time

	global Collection
	system Collection

	mu    sync.RWMutex
	users map[string]Collection // username -> collection
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithAudit sets the audit logger that receives every mutation and error.
func WithAudit(a AuditLogger) Option {
	return func(m *Manager) {
		if a != nil {
			m.audit = a
		}
	}
}

// WithClock overrides the time source used for timestamps, pruning and
// recency scoring.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// NewManager creates a Manager and eagerly opens the global and system
// collections. It must complete before any other call.
func NewManager(ctx context.Context, store Store, allow *AllowList, config *Config, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if allow == nil {
		allow = NewAllowList()
	}
	m := &Manager{
		store:  store,
		allow:  allow,
		audit:  nopAudit{},
		logger: zap.L().Named("memory"),
		tracer: otel.Tracer("github.com/becomeliminal/grace/memory"),
		config: config.withDefaults(),
		now:    time.Now,
		users:  make(map[string]Collection),
	}
	for _, opt := range opts {
		opt(m)
	}

	var err error
	if m.global, err = store.Collection(ctx, m.config.GlobalCollection); err != nil {
		return nil, &StorageError{Op: "open", Collection: m.config.GlobalCollection, Err: err}
	}
	if m.system, err = store.Collection(ctx, m.config.SystemCollection); err != nil {
		return nil, &StorageError{Op: "open", Collection: m.config.SystemCollection, Err: err}
	}

	m.logger.Info("memory manager ready",
		zap.String("global", m.global.Name()),
		zap.String("system", m.system.Name()),
		zap.Int("authorized_users", len(m.allow.Users())))
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return *m.config
}

// AllowList returns the authorized-user allow-list.
func (m *Manager) AllowList() *AllowList {
	return m.allow
}

// IsAuthorized reports whether userID may write global knowledge.
func (m *Manager) IsAuthorized(userID string) bool {
	return m.allow.Contains(userID)
}

// Now returns the manager's current time.
func (m *Manager) Now() time.Time {
	return m.now()
}

// UserCollectionName returns the deterministic collection name for a user.
func (m *Manager) UserCollectionName(username string) string {
	sum := md5.Sum([]byte(username))
	return m.config.UserCollectionPrefix + hex.EncodeToString(sum[:])
}

// UserCollection returns the collection for a user, creating it on first
// access. Concurrent first accesses resolve to the same collection.
func (m *Manager) UserCollection(ctx context.Context, username string) (Collection, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}

	m.mu.RLock()
	col, exists := m.users[username]
	m.mu.RUnlock()
	if exists {
		return col, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := m.users[username]; exists {
		return col, nil
	}

	name := m.UserCollectionName(username)
	col, err := m.store.Collection(ctx, name)
	if err != nil {
		return nil, &StorageError{Op: "open", Collection: name, Err: err}
	}
	m.users[username] = col

	m.logger.Debug("opened user collection", zap.String("user", username), zap.String("collection", name))
	m.audit.Log(ctx, EventCollectionCreated, map[string]any{
		"user_id":    username,
		"collection": name,
	})
	return col, nil
}

// userCollectionNames returns every per-user collection name the manager
// knows about: those opened in this process and those already in the store.
func (m *Manager) userCollectionNames() []string {
	seen := make(map[string]struct{})
	var names []string

	m.mu.RLock()
	for _, col := range m.users {
		if _, ok := seen[col.Name()]; !ok {
			seen[col.Name()] = struct{}{}
			names = append(names, col.Name())
		}
	}
	m.mu.RUnlock()

	for _, name := range m.store.CollectionNames() {
		if !strings.HasPrefix(name, m.config.UserCollectionPrefix) {
			continue
		}
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

// AddToShortTerm stores text in the user's short-term memory.
func (m *Manager) AddToShortTerm(ctx context.Context, userID, text string, md Metadata) (string, error) {
	col, err := m.UserCollection(ctx, userID)
	if err != nil {
		return "", m.writeFailed(ctx, "add_to_short_term", err, userID)
	}
	return m.add(ctx, col, text, md, ShortTerm, userID)
}

// AddToMediumTerm stores text in the user's medium-term memory. It differs
// from short-term only in the TTL applied during pruning.
func (m *Manager) AddToMediumTerm(ctx context.Context, userID, text string, md Metadata) (string, error) {
	col, err := m.UserCollection(ctx, userID)
	if err != nil {
		return "", m.writeFailed(ctx, "add_to_medium_term", err, userID)
	}
	return m.add(ctx, col, text, md, MediumTerm, userID)
}

// LongTermOptions describes a global write.
type LongTermOptions struct {
	// Entity is the subject the memory is attached to.
	Entity string
	// Metadata is merged into the stored record.
	Metadata Metadata
	// UserID identifies the caller. When set it must be in the allow-list.
	// When empty the caller is trusted (internal and system callers).
	UserID string
}

// AddToLongTerm stores text in the global collection.
// Returns a *PermissionError when opts.UserID is set and not authorized.
func (m *Manager) AddToLongTerm(ctx context.Context, text string, opts LongTermOptions) (string, error) {
	if opts.UserID != "" && !m.allow.Contains(opts.UserID) {
		m.logger.Warn("unauthorized long-term write", zap.String("user", opts.UserID))
		m.audit.Log(ctx, EventUnauthorizedAccess, map[string]any{
			"user_id": opts.UserID,
			"action":  "add_to_long_term",
		})
		return "", &PermissionError{UserID: opts.UserID, Action: "write long-term memory"}
	}

	md := opts.Metadata.Clone()
	if opts.Entity != "" {
		md[KeyEntity] = opts.Entity
	}
	if md[KeyAuthor] == "" {
		md[KeyAuthor] = opts.UserID
		if opts.UserID == "" {
			md[KeyAuthor] = AuthorSystem
		}
	}
	return m.add(ctx, m.global, text, md, LongTerm, opts.UserID)
}

// AddToCore stores a configuration-type entry in the system collection.
// Only trusted internal callers reach this path.
func (m *Manager) AddToCore(ctx context.Context, text string, md Metadata) (string, error) {
	md = md.Clone()
	if md[KeyAuthor] == "" {
		md[KeyAuthor] = AuthorSystem
	}
	return m.add(ctx, m.system, text, md, LongTerm, "")
}

// CommandLearn is the authorized fast path behind "!grace.learn entity:update".
// It returns false (not an error) when author is not authorized; errors are
// reserved for storage failures.
func (m *Manager) CommandLearn(ctx context.Context, entity, update, author string) (bool, error) {
	if !m.allow.Contains(author) {
		m.logger.Warn("unauthorized learn command", zap.String("author", author), zap.String("entity", entity))
		m.audit.Log(ctx, EventUnauthorizedAccess, map[string]any{
			"user_id": author,
			"action":  "command_learn",
			"entity":  entity,
		})
		return false, nil
	}

	text := fmt.Sprintf("%s: %s", entity, update)
	md := Metadata{
		KeyEntity:   entity,
		KeyAuthor:   author,
		KeyCommand:  "learn",
		KeyPriority: PriorityHigh,
	}
	id, err := m.add(ctx, m.global, text, md, LongTerm, author)
	if err != nil {
		return false, err
	}

	m.logger.Info("learned global knowledge", zap.String("entity", entity), zap.String("author", author), zap.String("id", id))
	m.audit.Log(ctx, EventCommandLearn, map[string]any{
		"id":     id,
		"entity": entity,
		"author": author,
	})
	return true, nil
}

// GetMemoryByID looks up a single record. It returns nil, nil when the id does
// not exist in the requested tier.
func (m *Manager) GetMemoryByID(ctx context.Context, id string, memType MemoryType, userID string) (*MemoryResult, error) {
	if !memType.Valid() {
		return nil, fmt.Errorf("%w: unknown memory type %q", ErrInvalidInput, memType)
	}
	if memType != LongTerm && userID == "" {
		return nil, nil
	}

	col, scope, err := m.collectionFor(ctx, memType, userID)
	if err != nil {
		return nil, err
	}
	docs, err := col.Get(ctx, []string{id}, nil)
	if err != nil {
		return nil, &StorageError{Op: "get", Collection: col.Name(), Err: err}
	}
	for _, doc := range docs {
		md := Metadata(doc.Metadata)
		if doc.ID != id || md.MemoryType() != memType {
			continue
		}
		result := m.formatResults([]Hit{{ID: doc.ID, Text: doc.Text, Metadata: doc.Metadata}}, scope)
		return &result[0], nil
	}
	return nil, nil
}

// DeleteMemory removes a record. Long-term records may only be deleted by an
// authorized actor; user records by their owner or an authorized actor.
func (m *Manager) DeleteMemory(ctx context.Context, id string, memType MemoryType, userID, actor string) error {
	if !memType.Valid() {
		return fmt.Errorf("%w: unknown memory type %q", ErrInvalidInput, memType)
	}
	allowed := m.allow.Contains(actor) || (memType != LongTerm && actor != "" && actor == userID)
	if !allowed {
		m.audit.Log(ctx, EventUnauthorizedAccess, map[string]any{
			"user_id": actor,
			"action":  "delete_memory",
			"id":      id,
		})
		return &PermissionError{UserID: actor, Action: "delete " + string(memType) + " memory"}
	}

	existing, err := m.GetMemoryByID(ctx, id, memType, userID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	col, _, err := m.collectionFor(ctx, memType, userID)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, []string{id}); err != nil {
		return m.writeFailed(ctx, "delete", &StorageError{Op: "delete", Collection: col.Name(), Err: err}, userID)
	}
	m.audit.Log(ctx, EventMemoryDeleted, map[string]any{
		"id":          id,
		"memory_type": string(memType),
		"collection":  col.Name(),
		"actor":       actor,
	})
	return nil
}

// collectionFor maps a tier to its collection and scope.
func (m *Manager) collectionFor(ctx context.Context, memType MemoryType, userID string) (Collection, Scope, error) {
	if memType == LongTerm {
		return m.global, ScopeGlobal, nil
	}
	col, err := m.UserCollection(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	return col, ScopeUser, nil
}

// add stamps timestamp and memory_type and writes a single record.
func (m *Manager) add(ctx context.Context, col Collection, text string, md Metadata, memType MemoryType, userID string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty memory text", ErrInvalidInput)
	}

	id := uuid.New().String()
	md = md.Clone()
	md[KeyTimestamp] = FormatTimestamp(m.now())
	md[KeyMemoryType] = string(memType)

	if err := col.Add(ctx, []string{id}, []string{text}, []map[string]string{md}); err != nil {
		return "", m.writeFailed(ctx, "add_to_"+string(memType), &StorageError{Op: "add", Collection: col.Name(), Err: err}, userID)
	}

	m.logger.Debug("stored memory",
		zap.String("id", id),
		zap.String("memory_type", string(memType)),
		zap.String("collection", col.Name()),
		zap.String("text", truncateLog(text, 50)))
	m.audit.Log(ctx, EventMemoryAdded, map[string]any{
		"id":          id,
		"memory_type": string(memType),
		"collection":  col.Name(),
		"user_id":     userID,
	})
	return id, nil
}

// writeFailed logs and audits a write failure and returns it for the caller
// to surface or retry.
func (m *Manager) writeFailed(ctx context.Context, op string, err error, userID string) error {
	m.logger.Error("memory write failed", zap.String("op", op), zap.String("user", userID), zap.Error(err))
	m.audit.Log(ctx, EventError, map[string]any{
		"op":      op,
		"user_id": userID,
		"error":   err.Error(),
	})
	var serr *StorageError
	if errors.As(err, &serr) || errors.Is(err, ErrInvalidInput) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// truncateLog shortens text to maxLen runes for logging.
func truncateLog(s string, maxLen int) string {
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

// Config holds Manager configuration.
type Config struct {
	// ShortTermTTL is how long short-term memories survive pruning.
	// Default: 24h.
	ShortTermTTL time.Duration

	// MediumTermTTL is how long medium-term memories survive pruning.
	// Default: 30 days.
	MediumTermTTL time.Duration

	// GlobalCollection names the long-term collection.
	// Default: "grace_global".
	GlobalCollection string

	// SystemCollection names the configuration collection queried as "core".
	// Default: "grace_system".
	SystemCollection string

	// UserCollectionPrefix prefixes the md5 of each username.
	// Default: "user_".
	UserCollectionPrefix string

	// DefaultLimit is the per-scope result count when a query gives none.
	// Default: 5.
	DefaultLimit int

	// MergeThreshold is the similarity above which long-term memories about
	// the same entity are merged. Default: 0.85.
	MergeThreshold float64
}

// DefaultConfig returns the reference defaults.
func DefaultConfig() *Config {
	return &Config{
		ShortTermTTL:         24 * time.Hour,
		MediumTermTTL:        30 * 24 * time.Hour,
		GlobalCollection:     "grace_global",
		SystemCollection:     "grace_system",
		UserCollectionPrefix: "user_",
		DefaultLimit:         5,
		MergeThreshold:       0.85,
	}
}

// withDefaults returns a copy with zero fields filled from DefaultConfig.
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.ShortTermTTL <= 0 {
		out.ShortTermTTL = d.ShortTermTTL
	}
	if out.MediumTermTTL <= 0 {
		out.MediumTermTTL = d.MediumTermTTL
	}
	if out.GlobalCollection == "" {
		out.GlobalCollection = d.GlobalCollection
	}
	if out.SystemCollection == "" {
		out.SystemCollection = d.SystemCollection
	}
	if out.UserCollectionPrefix == "" {
		out.UserCollectionPrefix = d.UserCollectionPrefix
	}
	if out.DefaultLimit <= 0 {
		out.DefaultLimit = d.DefaultLimit
	}
	if out.MergeThreshold <= 0 || out.MergeThreshold > 1 {
		out.MergeThreshold = d.MergeThreshold
	}
	return &out
}
