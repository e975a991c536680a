package transform

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/sad1droid/kiro-openai-gateway/internal/kiroupstream"
	"github.com/sad1droid/kiro-openai-gateway/internal/openaiapi"
)

func msg(role, content string) openaiapi.Message {
	return openaiapi.Message{Role: role, Content: json.RawMessage(`"` + content + `"`)}
}

func TestTransformExtractsLeadingSystemAndPrepends(t *testing.T) {
	req := openaiapi.ChatCompletionRequest{
		Model: "gpt-4",
		Messages: []openaiapi.Message{
			msg("system", "be terse"),
			msg("user", "hello"),
		},
	}

	tr := NewTransformer(10000)
	result, err := tr.Transform(req, "arn:aws:iam::1:role/x", 200000)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}

	if result.Payload.CurrentMessage == nil {
		t.Fatal("expected a current message")
	}
	if !strings.Contains(result.Payload.CurrentMessage.Content, "be terse") {
		t.Errorf("expected system prompt prepended, got %q", result.Payload.CurrentMessage.Content)
	}
	if !strings.Contains(result.Payload.CurrentMessage.Content, "hello") {
		t.Errorf("expected user text retained, got %q", result.Payload.CurrentMessage.Content)
	}
}

func TestTransformMergeAdjacentIsIdempotent(t *testing.T) {
	req := openaiapi.ChatCompletionRequest{
		Model: "gpt-4",
		Messages: []openaiapi.Message{
			msg("user", "first"),
			msg("user", "second"),
			msg("assistant", "reply"),
		},
	}

	tr := NewTransformer(10000)
	result, err := tr.Transform(req, "", 200000)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}

	// Two adjacent user messages should have merged into one history
	// turn (current_message is the trailing assistant turn).
	if len(result.Payload.History) != 1 {
		t.Fatalf("expected 1 merged history turn, got %d: %+v", len(result.Payload.History), result.Payload.History)
	}
	if !strings.Contains(result.Payload.History[0].Content, "first") || !strings.Contains(result.Payload.History[0].Content, "second") {
		t.Errorf("expected merged content, got %q", result.Payload.History[0].Content)
	}

	// Applying mergeAdjacent again to an already-merged list changes nothing:
	// no two adjacent turns share a role after the first pass.
	working, _ := toWorkingMessages(req.Messages)
	_, rest := extractLeadingSystem(working)
	once := mergeAdjacent(rest)
	twice := mergeAdjacent(turnsToWorking(once))
	if len(once) != len(twice) {
		t.Fatalf("merge not idempotent: once=%d twice=%d", len(once), len(twice))
	}
	for i := range once {
		if once[i].Content != twice[i].Content {
			t.Fatalf("merge not idempotent at %d: %q vs %q", i, once[i].Content, twice[i].Content)
		}
	}
}

// turnsToWorking re-wraps already-merged turns as workingMessages so
// mergeAdjacent can be run a second time, to check idempotence.
func turnsToWorking(turns []kiroupstream.Turn) []workingMessage {
	out := make([]workingMessage, len(turns))
	for i, tn := range turns {
		out[i] = workingMessage{
			origRole:    tn.Role,
			text:        tn.Content,
			toolUses:    tn.ToolUses,
			toolResults: tn.ToolResults,
		}
	}
	return out
}

func TestProcessToolsWithLongDescriptionsRewritesOversized(t *testing.T) {
	longDesc := strings.Repeat("x", 10001)
	tools := []openaiapi.Tool{
		{Type: "function", Function: openaiapi.FuncSpec{Name: "search", Description: longDesc}},
		{Type: "function", Function: openaiapi.FuncSpec{Name: "short", Description: "fine"}},
	}

	rewritten, extraDocs, ordered := processToolsWithLongDescriptions(tools, 10000)

	if rewritten[0].Description == longDesc {
		t.Fatal("expected oversized description to be rewritten")
	}
	if !strings.Contains(rewritten[0].Description, "search") {
		t.Errorf("expected sentinel to reference tool name, got %q", rewritten[0].Description)
	}
	if rewritten[1].Description != "fine" {
		t.Errorf("expected short description untouched, got %q", rewritten[1].Description)
	}
	if extraDocs["search"] != longDesc {
		t.Error("expected original description preserved for system prompt rendering")
	}
	if len(ordered) != 1 || ordered[0] != "search" {
		t.Errorf("expected ordered names [search], got %v", ordered)
	}
}

func TestComposeEffectiveSystemPromptRendersToolSections(t *testing.T) {
	out := composeEffectiveSystemPrompt("base prompt", map[string]string{"search": "full docs"}, []string{"search"})
	if !strings.Contains(out, "## Tool: search") {
		t.Errorf("expected tool section header, got %q", out)
	}
	if !strings.Contains(out, "full docs") {
		t.Errorf("expected full docs rendered, got %q", out)
	}
	if !strings.Contains(out, "base prompt") {
		t.Errorf("expected base prompt retained, got %q", out)
	}
}

func TestTransformZeroUserMessagesUsesSystemAsCurrent(t *testing.T) {
	req := openaiapi.ChatCompletionRequest{
		Model:    "gpt-4",
		Messages: []openaiapi.Message{msg("system", "only system here")},
	}

	tr := NewTransformer(10000)
	result, err := tr.Transform(req, "", 200000)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if result.Payload.CurrentMessage == nil {
		t.Fatal("expected current message to be synthesized from system prompt")
	}
	if result.Payload.CurrentMessage.Content != "only system here" {
		t.Errorf("got %q", result.Payload.CurrentMessage.Content)
	}
}

func TestTransformToolRoleBecomesUserTurn(t *testing.T) {
	req := openaiapi.ChatCompletionRequest{
		Model: "gpt-4",
		Messages: []openaiapi.Message{
			msg("user", "run the tool"),
			{Role: "assistant", ToolCalls: []openaiapi.ToolCall{
				{ID: "call_1", Type: "function", Function: openaiapi.ToolCallFunc{Name: "search", Arguments: `{"q":"x"}`}},
			}},
			{Role: "tool", ToolCallID: "call_1", Content: json.RawMessage(`"result text"`)},
		},
	}

	tr := NewTransformer(10000)
	result, err := tr.Transform(req, "", 200000)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if result.Payload.CurrentMessage.Role != "user" {
		t.Fatalf("expected tool result lifted as user-role turn, got %q", result.Payload.CurrentMessage.Role)
	}
	if len(result.Payload.CurrentMessage.ToolResults) != 1 {
		t.Fatalf("expected 1 tool result, got %d", len(result.Payload.CurrentMessage.ToolResults))
	}
	if result.Payload.CurrentMessage.ToolResults[0].ToolUseID != "call_1" {
		t.Errorf("tool_use_id mismatch: %q", result.Payload.CurrentMessage.ToolResults[0].ToolUseID)
	}
}

func TestMergeAdjacentDropsEmptyTurns(t *testing.T) {
	messages := []workingMessage{
		{origRole: "user", text: ""},
		{origRole: "assistant", text: "reply"},
	}

	turns := mergeAdjacent(messages)
	if len(turns) != 1 {
		t.Fatalf("expected the empty leading turn to be dropped, got %d turns: %+v", len(turns), turns)
	}
	if turns[0].Content != "reply" {
		t.Errorf("got %q", turns[0].Content)
	}
}
