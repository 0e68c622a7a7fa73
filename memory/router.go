package memory

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/becomeliminal/grace/core"
)

// CommandPrefix is the user-facing prefix of the global learn command:
//
//	!grace.learn <entity>:<update>
const CommandPrefix = "!grace.learn"

// SignificantTokenCount is the token count a message must exceed before the
// router persists it as new information.
const SignificantTokenCount = 10

// RouteResult is the outcome of Router.ProcessInput.
type RouteResult struct {
	// Processed is false only when processing failed.
	Processed bool `json:"processed"`
	// IsCommand echoes whether the input was treated as a command.
	IsCommand bool `json:"is_command"`
	// CommandProcessed is true when a learn command was parsed and accepted.
	CommandProcessed bool `json:"command_processed"`
	// MemoryUpdated is true when a new record was written.
	MemoryUpdated bool `json:"memory_updated"`
	// MemoryID is the id of the written record, if any.
	MemoryID string `json:"memory_id,omitempty"`
	// Related holds the related memories found for ordinary messages.
	Related *ScopedResults `json:"related_memories,omitempty"`
	// Error describes a processing failure.
	Error string `json:"error,omitempty"`
}

// Router is the single entry point for inbound text. It separates authorized
// learn commands from ordinary messages that need context retrieval.
type Router struct {
	manager *Manager
	linker  *EntityLinker
	logger  *zap.Logger
}

// NewRouter creates a Router.
func NewRouter(manager *Manager, linker *EntityLinker) *Router {
	if linker == nil {
		linker = NewEntityLinker(manager)
	}
	return &Router{
		manager: manager,
		linker:  linker,
		logger:  manager.logger.Named("router"),
	}
}

// ProcessInput routes one inbound message. It never returns an error: a
// failure is logged, audited and reported through RouteResult.Error so the
// calling chat loop can carry on.
func (r *Router) ProcessInput(ctx context.Context, in core.Input) RouteResult {
	if in.IsCommand && strings.HasPrefix(in.Text, CommandPrefix) {
		return r.processCommand(ctx, in)
	}
	return r.processMessage(ctx, in)
}

func (r *Router) processCommand(ctx context.Context, in core.Input) RouteResult {
	result := RouteResult{Processed: true, IsCommand: true}

	entity, update, ok := ParseLearnCommand(in.Text)
	if !ok {
		r.logger.Debug("malformed learn command", zap.String("user", in.Username), zap.String("text", truncateLog(in.Text, 50)))
		return result
	}

	accepted, err := r.manager.CommandLearn(ctx, entity, update, in.Username)
	if err != nil {
		return r.failed(ctx, result, in, err)
	}
	result.CommandProcessed = accepted
	result.MemoryUpdated = accepted
	return result
}

func (r *Router) processMessage(ctx context.Context, in core.Input) RouteResult {
	result := RouteResult{Processed: true, IsCommand: in.IsCommand}

	related := r.linker.FindRelatedMemories(ctx, in.Text, in.Username, DefaultRelatedLimit)
	result.Related = &related

	if len(strings.Fields(in.Text)) > SignificantTokenCount {
		conn, err := r.linker.ConnectNewInformation(ctx, in.Text, in.Username)
		if err != nil {
			return r.failed(ctx, result, in, err)
		}
		result.MemoryUpdated = true
		result.MemoryID = conn.MemoryID
	}
	return result
}

func (r *Router) failed(ctx context.Context, result RouteResult, in core.Input, err error) RouteResult {
	r.logger.Error("input processing failed", zap.String("user", in.Username), zap.Error(err))
	r.manager.audit.Log(ctx, EventError, map[string]any{
		"op":      "process_input",
		"user_id": in.Username,
		"error":   err.Error(),
	})
	result.Processed = false
	result.CommandProcessed = false
	result.MemoryUpdated = false
	result.Error = err.Error()
	return result
}

// ParseLearnCommand parses "!grace.learn <entity>:<update>". The prefix is
// dropped at the first space and the remainder is split at the first colon.
// Entity and update are trimmed and must both be non-empty.
func ParseLearnCommand(text string) (entity, update string, ok bool) {
	if !strings.HasPrefix(text, CommandPrefix) {
		return "", "", false
	}
	_, rest, found := strings.Cut(text, " ")
	if !found {
		return "", "", false
	}
	entity, update, found = strings.Cut(rest, ":")
	if !found {
		return "", "", false
	}
	entity, update = strings.TrimSpace(entity), strings.TrimSpace(update)
	if entity == "" || update == "" {
		return "", "", false
	}
	return entity, update, true
}
