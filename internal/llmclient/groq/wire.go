package groq

import (
	"encoding/json"

	convctx "github.com/voxloop/conductor/core/context"
)

type messageRole string

const (
	roleSystem    messageRole = "system"
	roleUser      messageRole = "user"
	roleAssistant messageRole = "assistant"
	roleTool      messageRole = "tool"
)

type wireMessage struct {
	Role       messageRole    `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	ID       string               `json:"id"`
	Type     string               `json:"type"`
	Function wireToolCallFunction `json:"function"`
}

type wireToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// toWireMessages renders the ordered system blocks and the message log
// into the flat role/content list this wire protocol expects. Per
// spec.md's cacheability note, the last system block (always Dynamic) is
// never marked cache-eligible; it is simply appended after the
// cache-eligible blocks, preserving persona -> retrieved -> dynamic order.
func toWireMessages(blocks []convctx.SystemBlock, messages []convctx.Message) []wireMessage {
	out := make([]wireMessage, 0, len(blocks)+len(messages))
	for _, b := range blocks {
		if b.Text == "" {
			continue
		}
		out = append(out, wireMessage{Role: roleSystem, Content: b.Text})
	}
	for _, m := range messages {
		switch m.Role {
		case convctx.RoleUser:
			out = append(out, wireMessage{Role: roleUser, Content: m.Text()})
		case convctx.RoleAssistant:
			msg := wireMessage{Role: roleAssistant, Content: m.Text()}
			for _, tc := range m.ToolUses() {
				args, _ := json.Marshal(tc.Input)
				msg.ToolCalls = append(msg.ToolCalls, wireToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: wireToolCallFunction{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, msg)
		case convctx.RoleToolResult:
			for _, blk := range m.Content {
				if blk.ToolResult == nil {
					continue
				}
				content := ""
				if blk.ToolResult.Err != nil {
					content = blk.ToolResult.Err.Error()
				} else if b, err := json.Marshal(blk.ToolResult.Output); err == nil {
					content = string(b)
				}
				out = append(out, wireMessage{Role: roleTool, Content: content, ToolCallID: blk.ToolResult.ID})
			}
		}
	}
	return out
}

func toWireTools(tools []convctx.Tool) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema,
			},
		})
	}
	return out
}

type requestBody struct {
	Model           string        `json:"model"`
	Messages        []wireMessage `json:"messages"`
	Stream          bool          `json:"stream"`
	Tools           []wireTool    `json:"tools,omitempty"`
	ToolChoice      *string       `json:"tool_choice,omitempty"`
	MaxTokens       int           `json:"max_tokens,omitempty"`
	ReasoningEffort string        `json:"reasoning_effort,omitempty"`
}

type streamingResponseBody struct {
	Choices []struct {
		Delta struct {
			Content      string         `json:"content,omitempty"`
			ToolCalls    []wireToolCall `json:"tool_calls,omitempty"`
			FinishReason *string        `json:"finish_reason,omitempty"`
		} `json:"delta"`
	} `json:"choices"`
}
