package memory

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// EntityLinker retrieves context for a piece of text and records new
// information tagged with what it was found to relate to.
type EntityLinker struct {
	manager *Manager
	logger  *zap.Logger
}

// NewEntityLinker creates an EntityLinker over manager.
func NewEntityLinker(manager *Manager) *EntityLinker {
	return &EntityLinker{
		manager: manager,
		logger:  manager.logger.Named("linker"),
	}
}

// DefaultRelatedLimit is the per-scope limit used by FindRelatedMemories.
const DefaultRelatedLimit = 3

// FindRelatedMemories looks up memories related to text across core, global
// and, when username is set, the user's own collection. It never fails:
// store errors degrade to empty results for the affected scope.
func (l *EntityLinker) FindRelatedMemories(ctx context.Context, text, username string, limit int) ScopedResults {
	if limit <= 0 {
		limit = DefaultRelatedLimit
	}
	return l.manager.QueryMemory(ctx, text, QueryOptions{
		UserID: username,
		Limit:  limit,
	})
}

// Connection is the outcome of ConnectNewInformation.
type Connection struct {
	MemoryID string        `json:"memory_id"`
	Related  ScopedResults `json:"related_memories"`
}

// ConnectNewInformation finds memories related to text and then stores text,
// recording the related ids in its metadata. The lookup happens before the
// write so a memory never matches itself.
//
// With a username the text goes to that user's medium-term memory; without
// one it goes to global memory under author "system".
func (l *EntityLinker) ConnectNewInformation(ctx context.Context, text, username string) (*Connection, error) {
	related := l.FindRelatedMemories(ctx, text, username, DefaultRelatedLimit)

	md := Metadata{KeySource: "entity_linker"}
	if ids := related.IDs(); len(ids) > 0 {
		b, err := json.Marshal(ids)
		if err == nil {
			md[KeyRelatedMemories] = string(b)
		}
	}

	var (
		id  string
		err error
	)
	if username != "" {
		id, err = l.manager.AddToMediumTerm(ctx, username, text, md)
	} else {
		md[KeyAuthor] = AuthorSystem
		id, err = l.manager.AddToLongTerm(ctx, text, LongTermOptions{Metadata: md})
	}
	if err != nil {
		return nil, err
	}

	l.logger.Debug("connected new information",
		zap.String("id", id),
		zap.String("user", username),
		zap.Int("related", related.Len()))
	return &Connection{MemoryID: id, Related: related}, nil
}
