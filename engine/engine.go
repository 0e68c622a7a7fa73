package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/becomeliminal/grace/core"
	"github.com/becomeliminal/grace/memory"
	"github.com/becomeliminal/grace/tools"
)

// ErrNoModel is returned for chat messages when no model client is configured.
var ErrNoModel = errors.New("no model client configured")

// MessageClient is the subset of the Anthropic Messages API the engine uses.
// *anthropic.MessageService satisfies it.
type MessageClient interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Engine runs Grace's chat loop: commands go straight to the memory router,
// everything else is answered by Claude with relevant memories injected into
// the system prompt and memory tools available.
type Engine struct {
	client   MessageClient
	registry *ToolRegistry
	manager  *memory.Manager
	router   *memory.Router
	bridge   *memory.Bridge
	logger   *zap.Logger

	model        string
	maxTokens    int64
	maxTurns     int
	contextItems int
	maxHistory   int
	systemPrompt string
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithBridge replaces the default memory bridge.
func WithBridge(b *memory.Bridge) Option {
	return func(e *Engine) {
		if b != nil {
			e.bridge = b
		}
	}
}

// WithModel sets the Claude model.
func WithModel(model string) Option {
	return func(e *Engine) {
		if model != "" {
			e.model = model
		}
	}
}

// WithMaxTokens sets the maximum response tokens.
func WithMaxTokens(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// WithMaxTurns bounds the model calls made for a single message.
func WithMaxTurns(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTurns = n
		}
	}
}

// WithContextItems sets how many memories are injected into the prompt.
func WithContextItems(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.contextItems = n
		}
	}
}

// WithMaxHistory bounds the messages a session keeps between turns.
// n <= 0 keeps the whole conversation.
func WithMaxHistory(n int) Option {
	return func(e *Engine) {
		e.maxHistory = n
	}
}

// WithSystemPrompt replaces DefaultSystemPrompt.
func WithSystemPrompt(p string) Option {
	return func(e *Engine) {
		if p != "" {
			e.systemPrompt = p
		}
	}
}

// WithTools registers additional tools next to the memory tools.
func WithTools(ts ...core.Tool) Option {
	return func(e *Engine) {
		e.registry.Register(ts...)
	}
}

// NewEngine creates an engine over manager. client may be nil, in which case
// only commands are served.
func NewEngine(client MessageClient, manager *memory.Manager, opts ...Option) *Engine {
	e := &Engine{
		client:       client,
		registry:     NewToolRegistry(),
		manager:      manager,
		logger:       zap.L().Named("engine"),
		model:        "claude-sonnet-4-20250514",
		maxTokens:    1024,
		maxTurns:     8,
		contextItems: memory.DefaultContextItems,
		maxHistory:   DefaultMaxHistory,
		systemPrompt: DefaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bridge == nil {
		e.bridge = memory.NewBridge(manager)
	}
	e.router = memory.NewRouter(manager, memory.NewEntityLinker(manager))
	e.registry.Register(tools.MemoryTools(tools.NewMemoryExecutor(manager, e.bridge).WithLogger(e.logger.Named("tools")))...)
	return e
}

// Registry returns the engine's tool registry.
func (e *Engine) Registry() *ToolRegistry {
	return e.registry
}

// Bridge returns the memory bridge used for context and recording.
func (e *Engine) Bridge() *memory.Bridge {
	return e.bridge
}

// Output is the result of one chat turn.
type Output struct {
	// Text is Grace's reply.
	Text string `json:"text"`

	// Command is true when the message was a command answered without the
	// model.
	Command bool `json:"command"`

	// Route is the memory router's outcome for the message.
	Route memory.RouteResult `json:"route"`

	// Context is the memory block injected into the system prompt.
	Context string `json:"context,omitempty"`

	// ToolsUsed records the tools invoked during this turn.
	ToolsUsed []core.ToolExecution `json:"tools_used,omitempty"`

	// TokensUsed tracks Claude API token consumption for this turn.
	TokensUsed core.TokenUsage `json:"tokens_used"`
}

// Chat handles one message from the session's user. Messages starting with
// the learn command prefix are treated as commands.
func (e *Engine) Chat(ctx context.Context, s *Session, message string) (*Output, error) {
	message = strings.TrimSpace(message)
	return e.handle(ctx, s, core.Input{
		Text:      message,
		Username:  sessionUser(s),
		IsCommand: strings.HasPrefix(message, memory.CommandPrefix),
	})
}

// Command handles text the client explicitly submitted as a command. It never
// calls the model.
func (e *Engine) Command(ctx context.Context, s *Session, text string) (*Output, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, memory.CommandPrefix) {
		return &Output{Text: "Unknown command. Try: " + memory.CommandPrefix + " <entity>: <update>", Command: true}, nil
	}
	return e.handle(ctx, s, core.Input{Text: text, Username: sessionUser(s), IsCommand: true})
}

func sessionUser(s *Session) string {
	if s == nil {
		return ""
	}
	return s.UserID
}

func (e *Engine) handle(ctx context.Context, s *Session, in core.Input) (*Output, error) {
	if s == nil || s.UserID == "" {
		return nil, fmt.Errorf("%w: username is required", memory.ErrInvalidInput)
	}
	if in.Text == "" {
		return nil, fmt.Errorf("%w: empty message", memory.ErrInvalidInput)
	}

	if in.IsCommand {
		route := e.router.ProcessInput(ctx, in)
		return &Output{Text: commandReply(in.Text, route), Command: true, Route: route}, nil
	}

	if e.client == nil {
		return nil, ErrNoModel
	}

	// Context is gathered before anything about this message is stored.
	contextBlock := e.bridge.GenerateContextForPrompt(ctx, in.Text, s.UserID, e.contextItems)
	route := e.router.ProcessInput(ctx, in)
	e.recordUserMessage(ctx, s.UserID, in.Text, route)

	system := e.systemPrompt
	if contextBlock != "" {
		system += "\n\nRelevant memories:\n" + contextBlock
	}

	mark := s.Len()
	out, err := e.run(ctx, s, in.Text, system)
	if err != nil {
		s.truncate(mark)
		return nil, err
	}
	if dropped := s.Trim(e.maxHistory); dropped > 0 {
		e.logger.Debug("trimmed session history",
			zap.String("session", s.ID),
			zap.Int("dropped", dropped),
			zap.Int("kept", s.Len()),
		)
	}
	out.Route = route
	out.Context = contextBlock

	if out.Text != "" {
		if _, _, err := e.bridge.RecordShortTerm(ctx, s.UserID, out.Text, "assistant"); err != nil {
			e.logger.Warn("failed to record reply", zap.String("user", s.UserID), zap.Error(err))
		}
	}
	return out, nil
}

// recordUserMessage stores the user's message. When the router already kept
// it as new information only the short-term copy is added.
func (e *Engine) recordUserMessage(ctx context.Context, userID, text string, route memory.RouteResult) {
	var err error
	if route.MemoryUpdated {
		_, _, err = e.bridge.RecordShortTerm(ctx, userID, text, "user")
	} else {
		_, err = e.bridge.ProcessMessage(ctx, userID, text, "user")
	}
	if err != nil {
		e.logger.Warn("failed to record message", zap.String("user", userID), zap.Error(err))
	}
}

// run is the tool_use loop.
func (e *Engine) run(ctx context.Context, s *Session, message, system string) (*Output, error) {
	s.AddUserMessage(message)
	apiTools := e.registry.ToAPITools()

	var (
		totalTokens core.TokenUsage
		toolsUsed   []core.ToolExecution
	)
	for turn := 0; ; turn++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("timed out: %w", ctx.Err())
		}
		if turn >= e.maxTurns {
			return nil, fmt.Errorf("exceeded maximum turns (%d)", e.maxTurns)
		}

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(e.model),
			MaxTokens: e.maxTokens,
			Messages:  s.Messages(),
			System: []anthropic.TextBlockParam{
				{Text: system},
			},
		}
		if len(apiTools) > 0 {
			params.Tools = apiTools
		}

		resp, err := e.client.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("claude API error: %w", err)
		}
		totalTokens.InputTokens += int(resp.Usage.InputTokens)
		totalTokens.OutputTokens += int(resp.Usage.OutputTokens)

		var (
			toolResults  []anthropic.ContentBlockParamUnion
			textResponse string
		)
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				textResponse += block.Text
			case "tool_use":
				result, execution := e.executeTool(ctx, s, block)
				toolResults = append(toolResults, result)
				toolsUsed = append(toolsUsed, execution)
			}
		}

		// No tool calls means the model is done.
		if len(toolResults) == 0 {
			s.AddAssistantMessage(textResponse)
			return &Output{
				Text:       textResponse,
				ToolsUsed:  toolsUsed,
				TokensUsed: totalTokens,
			}, nil
		}

		s.AddAssistantResponse(resp)
		s.AddToolResults(toolResults)
	}
}

// executeTool runs one tool_use block and builds its tool_result.
func (e *Engine) executeTool(ctx context.Context, s *Session, block anthropic.ContentBlockUnion) (anthropic.ContentBlockParamUnion, core.ToolExecution) {
	execution := core.ToolExecution{Tool: block.Name, Input: block.Input}

	tool, ok := e.registry.Get(block.Name)
	if !ok {
		execution.Error = "unknown tool"
		return anthropic.NewToolResultBlock(block.ID, fmt.Sprintf("unknown tool: %s", block.Name), true), execution
	}

	var base core.BaseInput
	if err := json.Unmarshal(block.Input, &base); err != nil {
		execution.Error = err.Error()
		return anthropic.NewToolResultBlock(block.ID, fmt.Sprintf("invalid tool input JSON: %s", err.Error()), true), execution
	}

	start := time.Now()
	result, err := tool.Execute(ctx, &core.ToolParams{
		UserID:    s.UserID,
		Input:     block.Input,
		RequestID: s.ID,
	})
	execution.DurationMs = time.Since(start).Milliseconds()

	e.logger.Debug("tool call",
		zap.String("tool", block.Name),
		zap.String("user", s.UserID),
		zap.String("thought", strings.TrimSpace(base.Thought)),
		zap.Int64("duration_ms", execution.DurationMs),
		zap.Bool("ok", err == nil && result != nil && result.Success))

	switch {
	case err != nil:
		execution.Error = err.Error()
		return anthropic.NewToolResultBlock(block.ID, err.Error(), true), execution
	case result == nil:
		execution.Error = "no result returned"
		return anthropic.NewToolResultBlock(block.ID, "no result returned", true), execution
	case !result.Success:
		execution.Error = result.Error
		return anthropic.NewToolResultBlock(block.ID, result.Error, true), execution
	}

	execution.Result = result.Data
	resultBytes, _ := json.Marshal(result.Data)
	return anthropic.NewToolResultBlock(block.ID, string(resultBytes), false), execution
}

// commandReply renders the router's verdict on a learn command.
func commandReply(text string, route memory.RouteResult) string {
	switch {
	case !route.Processed:
		return "Could not process command: " + route.Error
	case route.CommandProcessed:
		entity, _, _ := memory.ParseLearnCommand(text)
		return fmt.Sprintf("Learned new information about %s.", entity)
	}
	if _, _, ok := memory.ParseLearnCommand(text); !ok {
		return "Usage: " + memory.CommandPrefix + " <entity>: <update>"
	}
	return "You are not authorized to update global knowledge."
}

// DefaultSystemPrompt introduces Grace and explains the memory block.
const DefaultSystemPrompt = `You are Grace, a helpful assistant with a long-term memory.

Relevant memories, when there are any, are listed below this prompt. Each one
notes whether it came from the user or from Grace's own knowledge and which
memory tier it belongs to. Prefer recent and high-priority facts, and say so
when memories disagree.

Use search_memory when the listed memories are not enough, and
related_entities to explore what a topic is usually discussed with. Never
claim to remember something that is not in your memories.`
