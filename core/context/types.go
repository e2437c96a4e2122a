// Package context holds the conversation data model (messages, tool
// calls, the system-prompt blocks) and the Context Store that assembles
// them into what an LLM call needs. It is a sibling of the standard
// library's context package, not a replacement for it; callers that need
// both import this one under an alias, conventionally "convctx".
package context

import "time"

// Role is the speaker of a Message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// ToolCall is one LLM-requested tool invocation.
type ToolCall struct {
	ID    string
	Name  string
	Input any
}

// ToolResult is the outcome of executing a ToolCall.
type ToolResult struct {
	ID     string
	Output any
	Err    error
}

// Tool is a callable exposed to the LLM.
type Tool struct {
	Name        string
	Description string
	Schema      any
	Call        func(input any) (any, error)
}

// ContentBlock is one element of a Message's structured content
// sequence. Exactly one of Text, ToolUse, ToolResult is set.
type ContentBlock struct {
	Text       string
	ToolUse    *ToolCall
	ToolResult *ToolResult
}

// TextBlock returns a plain-text content sequence of one block.
func TextBlock(text string) []ContentBlock {
	return []ContentBlock{{Text: text}}
}

// Message is one entry in the context log. Messages append monotonically
// and are never mutated after append.
type Message struct {
	Role      Role
	Content   []ContentBlock
	Timestamp time.Time
}

// Text concatenates every text block in Content, ignoring tool blocks.
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		out += b.Text
	}
	return out
}

// HasToolUse reports whether Content carries at least one tool_use block.
func (m Message) HasToolUse() bool {
	for _, b := range m.Content {
		if b.ToolUse != nil {
			return true
		}
	}
	return false
}

// HasToolResult reports whether Content carries at least one tool_result
// block.
func (m Message) HasToolResult() bool {
	for _, b := range m.Content {
		if b.ToolResult != nil {
			return true
		}
	}
	return false
}

// ToolUses returns every tool_use block in Content, in order.
func (m Message) ToolUses() []ToolCall {
	var out []ToolCall
	for _, b := range m.Content {
		if b.ToolUse != nil {
			out = append(out, *b.ToolUse)
		}
	}
	return out
}

// NewUserMessage builds a user Message with plain text content.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: TextBlock(text), Timestamp: time.Now()}
}

// NewAssistantMessage builds an assistant Message from arbitrary content
// blocks (text and/or tool_use).
func NewAssistantMessage(content []ContentBlock) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: time.Now()}
}

// NewToolResultMessage builds a tool_result Message for one tool call
// result.
func NewToolResultMessage(result ToolResult) Message {
	return Message{
		Role:      RoleToolResult,
		Content:   []ContentBlock{{ToolResult: &result}},
		Timestamp: time.Now(),
	}
}

// SystemBlockKind names the three ordered system-prompt blocks.
type SystemBlockKind int

const (
	BlockPersona SystemBlockKind = iota
	BlockRetrievedContext
	BlockDynamic
)

// SystemBlock is one of the three ordered system-prompt blocks. Dynamic
// content is never cache-eligible; Persona and RetrievedContext may be.
type SystemBlock struct {
	Kind          SystemBlockKind
	Text          string
	CacheEligible bool
}
