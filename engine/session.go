package engine

import (
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
)

// DefaultMaxHistory is how many messages a session keeps between turns.
const DefaultMaxHistory = 40

// Session is one user's conversation with Grace. It is not safe for
// concurrent use; each connection owns its own session.
type Session struct {
	ID     string
	UserID string

	messages []anthropic.MessageParam
}

// NewSession creates an empty session for userID.
func NewSession(userID string) *Session {
	return &Session{
		ID:     uuid.New().String(),
		UserID: userID,
	}
}

// SetUser switches the session to another user and clears the history.
func (s *Session) SetUser(userID string) {
	s.UserID = userID
	s.ID = uuid.New().String()
	s.messages = nil
}

// Messages returns the conversation so far.
func (s *Session) Messages() []anthropic.MessageParam {
	return s.messages
}

// Len returns the number of messages in the history.
func (s *Session) Len() int {
	return len(s.messages)
}

// AddUserMessage appends a user text message.
func (s *Session) AddUserMessage(text string) {
	s.messages = append(s.messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
}

// AddAssistantMessage appends an assistant text message.
func (s *Session) AddAssistantMessage(text string) {
	s.messages = append(s.messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
}

// AddAssistantResponse appends a model response including its tool calls.
func (s *Session) AddAssistantResponse(resp *anthropic.Message) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(resp.Content))
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(block.Text))
			}
		case "tool_use":
			blocks = append(blocks, anthropic.NewToolUseBlock(block.ID, block.Input, block.Name))
		}
	}
	s.messages = append(s.messages, anthropic.NewAssistantMessage(blocks...))
}

// AddToolResults appends tool results as a user message.
func (s *Session) AddToolResults(results []anthropic.ContentBlockParamUnion) {
	s.messages = append(s.messages, anthropic.NewUserMessage(results...))
}

// truncate drops messages past n, undoing a failed turn.
func (s *Session) truncate(n int) {
	if n < len(s.messages) {
		s.messages = s.messages[:n]
	}
}

// Trim drops the oldest messages so that at most limit remain and returns how
// many were dropped. The kept history always starts at a plain user message,
// so tool calls stay next to their results. When the latest exchange alone is
// longer than limit it is kept whole.
func (s *Session) Trim(limit int) int {
	if limit <= 0 || len(s.messages) <= limit {
		return 0
	}

	start := -1
	for i := len(s.messages) - limit; i < len(s.messages); i++ {
		if startsExchange(s.messages[i]) {
			start = i
			break
		}
	}
	if start < 0 {
		for i := len(s.messages) - limit - 1; i > 0; i-- {
			if startsExchange(s.messages[i]) {
				start = i
				break
			}
		}
	}
	if start <= 0 {
		return 0
	}

	s.messages = append([]anthropic.MessageParam(nil), s.messages[start:]...)
	return start
}

// startsExchange reports whether m is a user message that is not a batch of
// tool results.
func startsExchange(m anthropic.MessageParam) bool {
	if m.Role != anthropic.MessageParamRoleUser {
		return false
	}
	for _, block := range m.Content {
		if block.OfToolResult != nil {
			return false
		}
	}
	return true
}
