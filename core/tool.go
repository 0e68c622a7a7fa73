package core

import (
	"context"
	"encoding/json"
)

// ToolDefinition describes a tool the model can call.
type ToolDefinition struct {
	ToolName        string
	ToolDescription string
	InputSchema     map[string]interface{}
}

// ToolParams is one tool invocation.
type ToolParams struct {
	// UserID is the username of the conversation the call belongs to.
	UserID string

	// Input is the raw JSON the model produced.
	Input json.RawMessage

	// RequestID correlates the call with its session.
	RequestID string
}

// ToolResult is a tool's answer. Data is marshalled back to the model.
type ToolResult struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Tool is a callable tool.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]interface{}
	Execute(ctx context.Context, params *ToolParams) (*ToolResult, error)
}

// ToolExecutor runs tools by name. One executor typically backs a family of
// tool definitions.
type ToolExecutor interface {
	Execute(ctx context.Context, toolName string, params *ToolParams) (*ToolResult, error)
}

// NewExecutorTool binds a definition to the executor that runs it.
func NewExecutorTool(def ToolDefinition, executor ToolExecutor) Tool {
	return &executorTool{def: def, executor: executor}
}

type executorTool struct {
	def      ToolDefinition
	executor ToolExecutor
}

func (t *executorTool) Name() string                   { return t.def.ToolName }
func (t *executorTool) Description() string            { return t.def.ToolDescription }
func (t *executorTool) Schema() map[string]interface{} { return t.def.InputSchema }

func (t *executorTool) Execute(ctx context.Context, params *ToolParams) (*ToolResult, error) {
	return t.executor.Execute(ctx, t.def.ToolName, params)
}

// ToolExecution records one tool call made during a chat turn.
type ToolExecution struct {
	Tool       string          `json:"tool"`
	Input      json.RawMessage `json:"input"`
	Result     interface{}     `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}

// TokenUsage tracks model token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
