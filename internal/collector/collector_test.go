package collector

import (
	"testing"

	"github.com/sad1droid/kiro-openai-gateway/internal/openaiapi"
)

func strPtr(s string) *string { return &s }

func TestCollectorConcatenatesContent(t *testing.T) {
	c := New()
	c.Add(openaiapi.ChatCompletionChunk{ID: "chatcmpl-1", Created: 10, Model: "m", Choices: []openaiapi.ChunkChoice{
		{Delta: openaiapi.ChunkDelta{Role: "assistant"}},
	}})
	c.Add(openaiapi.ChatCompletionChunk{Choices: []openaiapi.ChunkChoice{
		{Delta: openaiapi.ChunkDelta{Content: "Hello"}},
	}})
	c.Add(openaiapi.ChatCompletionChunk{Choices: []openaiapi.ChunkChoice{
		{Delta: openaiapi.ChunkDelta{Content: ", world"}, FinishReason: strPtr("stop")},
	}})

	result := c.Result()
	if result.ID != "chatcmpl-1" || result.Created != 10 {
		t.Fatalf("expected id/created from first chunk, got %+v", result)
	}
	if result.Choices[0].Message.Content != "Hello, world" {
		t.Fatalf("unexpected content: %q", result.Choices[0].Message.Content)
	}
	if result.Choices[0].FinishReason != "stop" {
		t.Fatalf("unexpected finish_reason: %q", result.Choices[0].FinishReason)
	}
}

func TestCollectorReconstructsToolCallsByIndex(t *testing.T) {
	c := New()
	c.Add(openaiapi.ChatCompletionChunk{ID: "chatcmpl-2", Choices: []openaiapi.ChunkChoice{
		{Delta: openaiapi.ChunkDelta{ToolCalls: []openaiapi.ToolCallDelta{
			{Index: 0, ID: "call_abc", Type: "function", Function: &openaiapi.FuncCallDelta{Name: "get_weather", Arguments: ""}},
		}}},
	}})
	c.Add(openaiapi.ChatCompletionChunk{Choices: []openaiapi.ChunkChoice{
		{Delta: openaiapi.ChunkDelta{ToolCalls: []openaiapi.ToolCallDelta{
			{Index: 0, Function: &openaiapi.FuncCallDelta{Arguments: `{"loc":`}},
		}}},
	}})
	c.Add(openaiapi.ChatCompletionChunk{Choices: []openaiapi.ChunkChoice{
		{Delta: openaiapi.ChunkDelta{ToolCalls: []openaiapi.ToolCallDelta{
			{Index: 0, Function: &openaiapi.FuncCallDelta{Arguments: `"NYC"}`}},
		}}, FinishReason: strPtr("tool_calls")},
	}})

	result := c.Result()
	if len(result.Choices[0].Message.ToolCalls) != 1 {
		t.Fatalf("expected 1 reconstructed tool call, got %d", len(result.Choices[0].Message.ToolCalls))
	}
	tc := result.Choices[0].Message.ToolCalls[0]
	if tc.ID != "call_abc" || tc.Function.Name != "get_weather" {
		t.Fatalf("unexpected tool call identity: %+v", tc)
	}
	if tc.Function.Arguments != `{"loc":"NYC"}` {
		t.Fatalf("expected concatenated arguments, got %q", tc.Function.Arguments)
	}
}

func TestCollectorCarriesUsage(t *testing.T) {
	c := New()
	c.Add(openaiapi.ChatCompletionChunk{ID: "chatcmpl-3", Choices: []openaiapi.ChunkChoice{{Delta: openaiapi.ChunkDelta{Content: "hi"}}}})
	c.Add(openaiapi.ChatCompletionChunk{Choices: []openaiapi.ChunkChoice{}, Usage: &openaiapi.Usage{PromptTokens: 5, CompletionTokens: 1, TotalTokens: 6}})

	result := c.Result()
	if result.Usage == nil || result.Usage.TotalTokens != 6 {
		t.Fatalf("expected usage carried through, got %+v", result.Usage)
	}
}
