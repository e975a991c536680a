// Package transform implements the request transformer (spec §4.5,
// component C5): turning a validated OpenAI chat-completions request
// into the upstream's conversationState/history shape, including the
// Reference Pattern rewrite for oversized tool descriptions.
package transform

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sad1droid/kiro-openai-gateway/internal/kiroupstream"
	"github.com/sad1droid/kiro-openai-gateway/internal/modelmap"
	"github.com/sad1droid/kiro-openai-gateway/internal/openaiapi"
)

// Transformer converts OpenAI requests into upstream payloads.
type Transformer struct {
	// MaxDescriptionLen is D_max (TOOL_DESCRIPTION_MAX_LENGTH, default 10000).
	MaxDescriptionLen int
}

// NewTransformer builds a Transformer with the given D_max.
func NewTransformer(maxDescriptionLen int) *Transformer {
	return &Transformer{MaxDescriptionLen: maxDescriptionLen}
}

// Result is the transformer's output: the upstream payload plus the
// resolved model's max input tokens, threaded through to the
// transcoder (C7) for usage synthesis — it has no place in the
// upstream payload itself.
type Result struct {
	Payload        *kiroupstream.Payload
	MaxInputTokens int
}

// Transform runs steps 1–9 of spec §4.5. profileArn and
// maxInputTokens are resolved by the caller before calling in (the
// model-info cache lookup happens in the chat use case); the model
// name itself is normalized here via C2, and each call draws a fresh
// random conversation ID.
func (t *Transformer) Transform(req openaiapi.ChatCompletionRequest, profileArn string, maxInputTokens int) (*Result, error) {
	working, err := toWorkingMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	systemPrompt, rest := extractLeadingSystem(working)

	rewrittenTools, extraDocs, orderedExtraNames := processToolsWithLongDescriptions(req.Tools, t.MaxDescriptionLen)

	effectiveSystem := composeEffectiveSystemPrompt(systemPrompt, extraDocs, orderedExtraNames)

	hadUserMessage := prependSystemToFirstUser(rest, effectiveSystem)

	merged := mergeAdjacent(rest)

	var current *kiroupstream.Turn
	var history []kiroupstream.Turn
	if len(merged) > 0 {
		last := merged[len(merged)-1]
		current = &last
		history = merged[:len(merged)-1]
	}

	if !hadUserMessage && effectiveSystem != "" {
		// Edge case (spec §4.5): zero user-role messages — the system
		// prompt becomes the current_message text outright.
		current = &kiroupstream.Turn{Role: kiroupstream.RoleUser, Content: effectiveSystem}
	}

	payload := &kiroupstream.Payload{
		ConversationID:     uuid.New().String(),
		ProfileArn:         profileArn,
		History:            history,
		CurrentMessage:     current,
		ModelID:            modelmap.InternalID(req.Model),
		ToolSpecifications: rewrittenTools,
	}

	return &Result{Payload: payload, MaxInputTokens: maxInputTokens}, nil
}

// workingMessage is an intermediate representation that keeps the
// original OpenAI role around (needed to tell a genuine user message
// apart from a tool-result message that will become a user-role turn)
// while already carrying upstream-shaped tool blocks.
type workingMessage struct {
	origRole    string
	text        string
	toolUses    []kiroupstream.ToolUseBlock
	toolResults []kiroupstream.ToolResultBlock
}

func (w workingMessage) effectiveRole() string {
	if w.origRole == "assistant" {
		return kiroupstream.RoleAssistant
	}
	return kiroupstream.RoleUser // user and tool both become user-role turns
}

func toWorkingMessages(messages []openaiapi.Message) ([]workingMessage, error) {
	out := make([]workingMessage, 0, len(messages))
	for _, m := range messages {
		wm := workingMessage{origRole: m.Role}

		switch m.Role {
		case "assistant":
			wm.text = openaiapi.ExtractText(m.Content)
			for _, tc := range m.ToolCalls {
				wm.toolUses = append(wm.toolUses, kiroupstream.ToolUseBlock{
					ToolUseID: tc.ID,
					Name:      tc.Function.Name,
					Input:     decodeToolArguments(tc.Function.Arguments),
				})
			}
		case "tool":
			wm.toolResults = append(wm.toolResults, kiroupstream.ToolResultBlock{
				ToolUseID: m.ToolCallID,
				Content:   openaiapi.ExtractText(m.Content),
			})
		default: // "user", "system"
			wm.text = openaiapi.ExtractText(m.Content)
		}

		out = append(out, wm)
	}
	return out, nil
}

func decodeToolArguments(arguments string) map[string]interface{} {
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(arguments), &decoded); err == nil {
		return decoded
	}
	return map[string]interface{}{"raw": arguments}
}

// extractLeadingSystem concatenates the text of all contiguous
// system-role messages at the start of the list and drops them,
// returning the remaining working messages (spec §4.5 step 2).
func extractLeadingSystem(messages []workingMessage) (string, []workingMessage) {
	i := 0
	var parts []string
	for i < len(messages) && messages[i].origRole == "system" {
		if messages[i].text != "" {
			parts = append(parts, messages[i].text)
		}
		i++
	}
	return strings.Join(parts, "\n\n"), messages[i:]
}

// processToolsWithLongDescriptions applies the Reference Pattern: any
// tool description over maxLen is replaced with a sentinel pointing
// into the system prompt, and the original text is collected for
// rendering there (spec §4.5 step 4).
func processToolsWithLongDescriptions(tools []openaiapi.Tool, maxLen int) ([]kiroupstream.ToolSpecification, map[string]string, []string) {
	rewritten := make([]kiroupstream.ToolSpecification, 0, len(tools))
	extraDocs := map[string]string{}
	var orderedNames []string

	for _, tool := range tools {
		name := tool.Function.Name
		description := tool.Function.Description
		params := decodeParameters(tool.Function.Parameters)

		if len(description) > maxLen {
			extraDocs[name] = description
			orderedNames = append(orderedNames, name)
			description = fmt.Sprintf("[Full documentation in system prompt under '## Tool: %s']", name)
		}

		rewritten = append(rewritten, kiroupstream.ToolSpecification{
			Name:        name,
			Description: description,
			Parameters:  params,
		})
	}

	return rewritten, extraDocs, orderedNames
}

func decodeParameters(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	var params map[string]interface{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return params
}

// composeEffectiveSystemPrompt renders extra docs in their original
// tool order and appends them to the system prompt (spec §4.5 step 5).
func composeEffectiveSystemPrompt(systemPrompt string, extraDocs map[string]string, orderedNames []string) string {
	if len(orderedNames) == 0 {
		return systemPrompt
	}
	rendered := make([]string, 0, len(orderedNames))
	for _, name := range orderedNames {
		rendered = append(rendered, "## Tool: "+name+"\n"+extraDocs[name])
	}
	docsBlock := strings.Join(rendered, "\n\n")
	if systemPrompt == "" {
		return docsBlock
	}
	return systemPrompt + "\n\n" + docsBlock
}

// prependSystemToFirstUser prepends the effective system prompt to the
// first user-role message in the list, by string concatenation with a
// blank line separator (spec §4.5 step 6). Returns whether a user-role
// message was found at all.
func prependSystemToFirstUser(messages []workingMessage, effectiveSystem string) bool {
	for i := range messages {
		if messages[i].origRole == "user" {
			if effectiveSystem != "" {
				if messages[i].text != "" {
					messages[i].text = effectiveSystem + "\n\n" + messages[i].text
				} else {
					messages[i].text = effectiveSystem
				}
			}
			return true
		}
	}
	return false
}

// mergeAdjacent merges consecutive same-effective-role messages by
// concatenating text and union-ing tool blocks, preserving order
// (spec §4.5 step 7). Applying it twice is a no-op the second time,
// since no two adjacent turns share a role after the first pass. A
// message with neither text nor tool content (an empty system/user
// message, or an assistant message with no text and no tool calls) is
// skipped before merging, so it is never sent upstream as an empty
// turn and never keeps two same-role turns apart.
func mergeAdjacent(messages []workingMessage) []kiroupstream.Turn {
	var out []kiroupstream.Turn
	for _, m := range messages {
		if m.text == "" && len(m.toolUses) == 0 && len(m.toolResults) == 0 {
			continue
		}
		role := m.effectiveRole()
		if len(out) > 0 && out[len(out)-1].Role == role {
			last := &out[len(out)-1]
			if m.text != "" {
				if last.Content != "" {
					last.Content += "\n" + m.text
				} else {
					last.Content = m.text
				}
			}
			last.ToolUses = append(last.ToolUses, m.toolUses...)
			last.ToolResults = append(last.ToolResults, m.toolResults...)
			continue
		}
		out = append(out, kiroupstream.Turn{
			Role:        role,
			Content:     m.text,
			ToolUses:    append([]kiroupstream.ToolUseBlock{}, m.toolUses...),
			ToolResults: append([]kiroupstream.ToolResultBlock{}, m.toolResults...),
		})
	}
	return dropEmptyTurns(out)
}

// dropEmptyTurns removes turns with no text and no tool content. It is
// a final check on mergeAdjacent's output, which already skips blank
// messages before merging.
func dropEmptyTurns(turns []kiroupstream.Turn) []kiroupstream.Turn {
	out := turns[:0]
	for _, t := range turns {
		if t.Content == "" && !t.HasToolContent() {
			continue
		}
		out = append(out, t)
	}
	return out
}
