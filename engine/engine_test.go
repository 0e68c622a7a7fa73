package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/becomeliminal/grace/memory"
	"github.com/becomeliminal/grace/memory/embedder/mock"
	"github.com/becomeliminal/grace/memory/store/chromem"
	"github.com/becomeliminal/grace/tools"
)

const admin = "admin@example.com"

// scriptedClient replays canned responses and records every request.
type scriptedClient struct {
	mu        sync.Mutex
	responses []*anthropic.Message
	repeat    *anthropic.Message
	err       error
	calls     []anthropic.MessageNewParams
}

func (c *scriptedClient) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, params)
	if c.err != nil {
		return nil, c.err
	}
	if c.repeat != nil {
		return c.repeat, nil
	}
	if len(c.responses) == 0 {
		return nil, errors.New("no scripted response left")
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func message(t *testing.T, content string) *anthropic.Message {
	t.Helper()
	var msg anthropic.Message
	raw := fmt.Sprintf(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
		"content":%s,"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`, content)
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	return &msg
}

func textMessage(t *testing.T, text string) *anthropic.Message {
	b, _ := json.Marshal(text)
	return message(t, `[{"type":"text","text":`+string(b)+`}]`)
}

func toolUseMessage(t *testing.T, id, name, input string) *anthropic.Message {
	return message(t, fmt.Sprintf(`[{"type":"text","text":"Let me check."},{"type":"tool_use","id":%q,"name":%q,"input":%s}]`, id, name, input))
}

func newTestManager(t *testing.T) *memory.Manager {
	t.Helper()
	store, err := chromem.New(mock.New(0), chromem.Config{Logger: zap.NewNop()})
	require.NoError(t, err)
	m, err := memory.NewManager(context.Background(), store, memory.NewAllowList(admin), nil, memory.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	return m
}

func newTestEngine(t *testing.T, client MessageClient, opts ...Option) (*Engine, *memory.Manager) {
	t.Helper()
	m := newTestManager(t)
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	return NewEngine(client, m, opts...), m
}

func TestChat_InjectsContextAndRecordsTurn(t *testing.T) {
	client := &scriptedClient{responses: []*anthropic.Message{
		textMessage(t, "Solana is a fast chain."),
	}}
	e, m := newTestEngine(t, client)
	ctx := context.Background()

	_, err := m.AddToLongTerm(ctx, "Solana processes thousands of transactions", memory.LongTermOptions{Entity: "Solana"})
	require.NoError(t, err)

	s := NewSession("alice")
	out, err := e.Chat(ctx, s, "  What do you know about Solana?  ")
	require.NoError(t, err)
	assert.Equal(t, "Solana is a fast chain.", out.Text)
	assert.False(t, out.Command)
	assert.True(t, out.Route.Processed)
	assert.Contains(t, out.Context, "[Solana] Solana processes thousands of transactions (Source: Grace, Type: long_term)")
	assert.Equal(t, 10, out.TokensUsed.InputTokens)
	assert.Equal(t, 5, out.TokensUsed.OutputTokens)

	require.Len(t, client.calls, 1)
	call := client.calls[0]
	assert.Equal(t, anthropic.Model("claude-sonnet-4-20250514"), call.Model)
	assert.Equal(t, int64(1024), call.MaxTokens)
	require.Len(t, call.System, 1)
	assert.True(t, strings.HasPrefix(call.System[0].Text, DefaultSystemPrompt))
	assert.Contains(t, call.System[0].Text, "Relevant memories:\n1. ")
	assert.Len(t, call.Tools, 2)
	assert.Equal(t, 2, s.Len())

	// Both sides of the turn are remembered for alice only.
	results := m.QueryMemory(ctx, "fast chain", memory.QueryOptions{UserID: "alice", Scopes: []memory.Scope{memory.ScopeUser}})
	texts := make([]string, 0, len(results.User))
	for _, r := range results.User {
		texts = append(texts, r.Text)
	}
	assert.Contains(t, texts, "Solana is a fast chain.")
	assert.Contains(t, texts, "What do you know about Solana?")
}

func TestChat_ContextExcludesCurrentMessage(t *testing.T) {
	client := &scriptedClient{repeat: textMessage(t, "ok")}
	e, _ := newTestEngine(t, client)

	out, err := e.Chat(context.Background(), NewSession("alice"), "remember my cat is called Miso")
	require.NoError(t, err)
	assert.Empty(t, out.Context)
	assert.Equal(t, DefaultSystemPrompt, client.calls[0].System[0].Text)
}

func TestChat_ToolUseRoundTrip(t *testing.T) {
	client := &scriptedClient{}
	e, m := newTestEngine(t, client)
	ctx := context.Background()
	client.responses = []*anthropic.Message{
		toolUseMessage(t, "toolu_1", tools.SearchMemoryTool, `{"query":"Bitcoin","thought":"look it up"}`),
		textMessage(t, "Bitcoin launched in 2009."),
	}

	_, err := m.AddToLongTerm(ctx, "Bitcoin launched in 2009", memory.LongTermOptions{Entity: "Bitcoin"})
	require.NoError(t, err)

	s := NewSession("alice")
	out, err := e.Chat(ctx, s, "when did it launch")
	require.NoError(t, err)
	assert.Equal(t, "Bitcoin launched in 2009.", out.Text)
	require.Len(t, out.ToolsUsed, 1)
	assert.Equal(t, tools.SearchMemoryTool, out.ToolsUsed[0].Tool)
	assert.Empty(t, out.ToolsUsed[0].Error)
	assert.Equal(t, 20, out.TokensUsed.InputTokens)

	require.Len(t, client.calls, 2)
	second := client.calls[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, second[1].Role)
	require.Len(t, second[1].Content, 2)
	require.NotNil(t, second[1].Content[1].OfToolUse)
	assert.Equal(t, "toolu_1", second[1].Content[1].OfToolUse.ID)

	require.Len(t, second[2].Content, 1)
	result := second[2].Content[0].OfToolResult
	require.NotNil(t, result)
	assert.Equal(t, "toolu_1", result.ToolUseID)
	assert.False(t, result.IsError.Value)
	assert.Equal(t, 4, s.Len())
}

func TestChat_UnknownToolReportsError(t *testing.T) {
	client := &scriptedClient{}
	e, _ := newTestEngine(t, client)
	client.responses = []*anthropic.Message{
		toolUseMessage(t, "toolu_9", "send_money", `{}`),
		textMessage(t, "I can't do that."),
	}

	out, err := e.Chat(context.Background(), NewSession("alice"), "pay bob")
	require.NoError(t, err)
	require.Len(t, out.ToolsUsed, 1)
	assert.Equal(t, "unknown tool", out.ToolsUsed[0].Error)

	result := client.calls[1].Messages[2].Content[0].OfToolResult
	require.NotNil(t, result)
	assert.True(t, result.IsError.Value)
}

func TestChat_MaxTurns(t *testing.T) {
	client := &scriptedClient{}
	client.repeat = toolUseMessage(t, "toolu_1", tools.SearchMemoryTool, `{"query":"loop"}`)
	e, _ := newTestEngine(t, client, WithMaxTurns(2))

	s := NewSession("alice")
	_, err := e.Chat(context.Background(), s, "keep going")
	assert.ErrorContains(t, err, "exceeded maximum turns (2)")
	assert.Len(t, client.calls, 2)
	assert.Equal(t, 0, s.Len())
}

func TestChat_APIErrorRollsBackSession(t *testing.T) {
	client := &scriptedClient{err: errors.New("overloaded")}
	e, _ := newTestEngine(t, client)

	s := NewSession("alice")
	_, err := e.Chat(context.Background(), s, "hello")
	assert.ErrorContains(t, err, "overloaded")
	assert.Equal(t, 0, s.Len())
}

func TestChat_RequiresUserAndText(t *testing.T) {
	e, _ := newTestEngine(t, &scriptedClient{})

	_, err := e.Chat(context.Background(), NewSession(""), "hello")
	assert.ErrorIs(t, err, memory.ErrInvalidInput)
	_, err = e.Chat(context.Background(), nil, "hello")
	assert.ErrorIs(t, err, memory.ErrInvalidInput)
	_, err = e.Chat(context.Background(), NewSession("alice"), "   ")
	assert.ErrorIs(t, err, memory.ErrInvalidInput)
}

func TestChat_WithoutModel(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	_, err := e.Chat(context.Background(), NewSession("alice"), "hello")
	assert.ErrorIs(t, err, ErrNoModel)

	out, err := e.Chat(context.Background(), NewSession(admin), "!grace.learn Solana: fast")
	require.NoError(t, err)
	assert.True(t, out.Command)
	assert.Equal(t, "Learned new information about Solana.", out.Text)
}

func TestCommands(t *testing.T) {
	client := &scriptedClient{}
	e, m := newTestEngine(t, client)
	ctx := context.Background()

	tests := []struct {
		name string
		user string
		text string
		want string
	}{
		{"learn", admin, "!grace.learn Solana: is fast", "Learned new information about Solana."},
		{"unauthorized", "mallory", "!grace.learn Solana: is slow", "You are not authorized to update global knowledge."},
		{"malformed", admin, "!grace.learn Solana is fast", "Usage: !grace.learn <entity>: <update>"},
		{"unknown", admin, "!grace.forget Solana", "Unknown command. Try: !grace.learn <entity>: <update>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Command(ctx, NewSession(tt.user), tt.text)
			require.NoError(t, err)
			assert.True(t, out.Command)
			assert.Equal(t, tt.want, out.Text)
		})
	}
	assert.Empty(t, client.calls)

	results := m.QueryMemory(ctx, "Solana", memory.QueryOptions{})
	require.Len(t, results.Global, 1)
	assert.Equal(t, "Solana: is fast", results.Global[0].Text)
}

func TestNewEngine_Options(t *testing.T) {
	m := newTestManager(t)
	bridge := memory.NewBridge(m)
	extra := &stubTool{name: "echo"}

	e := NewEngine(nil, m,
		WithLogger(zap.NewNop()),
		WithBridge(bridge),
		WithModel("claude-other"),
		WithMaxTokens(2048),
		WithContextItems(3),
		WithSystemPrompt("be brief"),
		WithTools(extra),
	)
	assert.Same(t, bridge, e.Bridge())
	assert.Equal(t, "claude-other", e.model)
	assert.Equal(t, int64(2048), e.maxTokens)
	assert.Equal(t, 3, e.contextItems)
	assert.Equal(t, "be brief", e.systemPrompt)
	assert.Equal(t, []string{"echo", tools.SearchMemoryTool, tools.RelatedEntitiesTool}, e.Registry().Names())
}
