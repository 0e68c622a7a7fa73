package core

// Input is one inbound message handed to the memory router.
// The calling layer resolves the user; the memory core only ever sees the
// username string.
type Input struct {
	// Text is the raw message or command text.
	Text string `json:"text"`

	// Username identifies the sender. Empty means an anonymous or system
	// message, which routes new information to global memory.
	Username string `json:"username,omitempty"`

	// IsCommand marks text the client submitted as a command. Only commands
	// are checked for the "!grace.learn" prefix.
	IsCommand bool `json:"is_command,omitempty"`
}

// BaseInput provides common fields for all tool inputs.
// Tools embed this struct so the model can explain why it called them.
type BaseInput struct {
	// Thought contains the agent's reasoning about why it's using this tool.
	Thought string `json:"thought,omitempty"`
}
