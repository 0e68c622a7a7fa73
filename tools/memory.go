package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/becomeliminal/grace/core"
	"github.com/becomeliminal/grace/memory"
)

// Memory tool names.
const (
	SearchMemoryTool    = "search_memory"
	RelatedEntitiesTool = "related_entities"
)

// MemoryToolDefinitions returns the definitions for the memory tools.
// Both are read-only; the thought field is optional.
func MemoryToolDefinitions() []core.ToolDefinition {
	return []core.ToolDefinition{
		{
			ToolName:        SearchMemoryTool,
			ToolDescription: "Search Grace's memory for facts relevant to a query. Returns matches from core configuration, shared global knowledge and the current user's own conversation history, ranked by relevance.",
			InputSchema: BuildSchemaWithThought(map[string]interface{}{
				"query": StringProperty("What to look for"),
				"limit": IntegerProperty("Maximum results per scope (default: 5)"),
				"memory_types": ArrayProperty("Optional: restrict to these memory tiers",
					StringEnumProperty("Memory tier",
						string(memory.ShortTerm), string(memory.MediumTerm), string(memory.LongTerm))),
				"min_relevance": NumberProperty("Optional: drop results below this relevance (0 to 1)"),
			}, false, "query"),
		},
		{
			ToolName:        RelatedEntitiesTool,
			ToolDescription: "List the entities users most often mention together with the given entity, most frequent first.",
			InputSchema: BuildSchemaWithThought(map[string]interface{}{
				"entity": StringProperty("Entity name, e.g. 'Solana'"),
				"limit":  IntegerProperty("Maximum entities to return (default: 5)"),
			}, false, "entity"),
		},
	}
}

// MemoryTools creates Tool instances for the memory tools.
func MemoryTools(executor *MemoryExecutor) []core.Tool {
	definitions := MemoryToolDefinitions()
	tools := make([]core.Tool, len(definitions))
	for i, def := range definitions {
		tools[i] = core.NewExecutorTool(def, executor)
	}
	return tools
}

// MemoryExecutor answers memory tool calls from a Manager and Bridge.
type MemoryExecutor struct {
	manager *memory.Manager
	bridge  *memory.Bridge
	logger  *zap.Logger
}

// NewMemoryExecutor creates an executor. bridge may be nil, in which case
// related_entities reports an error result.
func NewMemoryExecutor(manager *memory.Manager, bridge *memory.Bridge) *MemoryExecutor {
	return &MemoryExecutor{manager: manager, bridge: bridge, logger: zap.L().Named("tools")}
}

// WithLogger sets the logger used for tool calls and returns e.
func (e *MemoryExecutor) WithLogger(l *zap.Logger) *MemoryExecutor {
	if l != nil {
		e.logger = l
	}
	return e
}

type searchMemoryInput struct {
	core.BaseInput
	Query        string   `json:"query"`
	Limit        int      `json:"limit,omitempty"`
	MemoryTypes  []string `json:"memory_types,omitempty"`
	MinRelevance float64  `json:"min_relevance,omitempty"`
}

type relatedEntitiesInput struct {
	core.BaseInput
	Entity string `json:"entity"`
	Limit  int    `json:"limit,omitempty"`
}

// SearchHit is one search_memory result as shown to the model.
type SearchHit struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Scope      string  `json:"scope"`
	MemoryType string  `json:"memory_type"`
	Entity     string  `json:"entity,omitempty"`
	Relevance  float64 `json:"relevance"`
	Priority   string  `json:"priority"`
}

// Execute runs the named tool.
func (e *MemoryExecutor) Execute(ctx context.Context, toolName string, params *core.ToolParams) (*core.ToolResult, error) {
	switch toolName {
	case SearchMemoryTool:
		var in searchMemoryInput
		if err := json.Unmarshal(params.Input, &in); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
		return e.searchMemory(ctx, params.UserID, in), nil

	case RelatedEntitiesTool:
		var in relatedEntitiesInput
		if err := json.Unmarshal(params.Input, &in); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
		return e.relatedEntities(in), nil
	}
	return nil, fmt.Errorf("unknown tool: %s", toolName)
}

func (e *MemoryExecutor) searchMemory(ctx context.Context, userID string, in searchMemoryInput) *core.ToolResult {
	if in.Query == "" {
		return &core.ToolResult{Success: false, Error: "query is required"}
	}
	opts := memory.QueryOptions{UserID: userID, Limit: in.Limit}
	for _, name := range in.MemoryTypes {
		t := memory.MemoryType(name)
		if !t.Valid() {
			e.logger.Warn("search_memory rejected memory type", zap.String("user", userID), zap.String("type", name))
			return &core.ToolResult{Success: false, Error: fmt.Sprintf("unknown memory type %q", name)}
		}
		opts.MemoryTypes = append(opts.MemoryTypes, t)
	}

	results := e.manager.QueryMemory(ctx, in.Query, opts).All()
	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		if r.Relevance < in.MinRelevance {
			continue
		}
		hits = append(hits, SearchHit{
			ID:         r.ID,
			Text:       r.Text,
			Scope:      string(r.Scope),
			MemoryType: string(r.MemoryType()),
			Entity:     r.Metadata.Entity(),
			Relevance:  r.Relevance,
			Priority:   r.Priority,
		})
	}
	e.logger.Debug("searched memory",
		zap.String("user", userID),
		zap.String("query", in.Query),
		zap.Int("results", len(results)),
		zap.Int("hits", len(hits)),
	)
	return &core.ToolResult{Success: true, Data: hits}
}

func (e *MemoryExecutor) relatedEntities(in relatedEntitiesInput) *core.ToolResult {
	if in.Entity == "" {
		return &core.ToolResult{Success: false, Error: "entity is required"}
	}
	if e.bridge == nil {
		return &core.ToolResult{Success: false, Error: "entity graph unavailable"}
	}
	related := e.bridge.GetRelatedEntities(in.Entity, in.Limit)
	e.logger.Debug("looked up related entities", zap.String("entity", in.Entity), zap.Int("related", len(related)))
	return &core.ToolResult{Success: true, Data: related}
}
