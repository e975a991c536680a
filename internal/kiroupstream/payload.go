// Package kiroupstream defines the wire shape of the upstream Kiro
// (CodeWhisperer) conversationState/history protocol that the request
// transformer (C5) produces and the retry driver (C8) sends as the
// generateAssistantResponse body (spec §3, §6).
package kiroupstream

// Payload is the complete generateAssistantResponse request body
// produced by the request transformer (C5).
type Payload struct {
	ConversationID     string              `json:"conversationId"`
	ProfileArn         string              `json:"profileArn,omitempty"`
	History            []Turn              `json:"history"`
	CurrentMessage     *Turn               `json:"currentMessage"`
	ModelID            string              `json:"modelId"`
	ToolSpecifications []ToolSpecification `json:"toolSpecifications,omitempty"`
}

// Role enumerates the two turn roles the upstream accepts. Adjacent
// same-role turns are forbidden — the transformer merges them before
// they ever reach here.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one exchange in the conversation: plain text, tool-use
// blocks (assistant requesting calls), tool-result blocks (user
// returning results), or text together with the blocks of its role.
// An assistant turn may both speak and call a tool; a user turn may
// carry text and tool results once adjacent user-role messages are
// merged.
type Turn struct {
	Role        string            `json:"role"`
	Content     string            `json:"content,omitempty"`
	ToolUses    []ToolUseBlock    `json:"toolUses,omitempty"`
	ToolResults []ToolResultBlock `json:"toolResults,omitempty"`
}

// HasToolContent reports whether the turn carries tool-use or
// tool-result blocks (as opposed to being a pure text turn).
func (t Turn) HasToolContent() bool {
	return len(t.ToolUses) > 0 || len(t.ToolResults) > 0
}

// ToolUseBlock is an assistant-issued tool invocation.
type ToolUseBlock struct {
	ToolUseID string                 `json:"toolUseId"`
	Name      string                 `json:"name"`
	Input     map[string]interface{} `json:"input"`
}

// ToolResultBlock is a tool's result being returned to the model.
type ToolResultBlock struct {
	ToolUseID string `json:"toolUseId"`
	Content   string `json:"content"`
}

// ToolSpecification is one tool definition sent to the upstream. Its
// Description may have been rewritten by the Reference Pattern (spec
// §4.5 step 4) when the original exceeded D_max.
type ToolSpecification struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}
