// Package transcoder implements the stream transcoder (spec §4.7,
// component C7): driving the event-stream parser (C6) and rendering
// its events as OpenAI-compatible SSE chunks.
package transcoder

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/sad1droid/kiro-openai-gateway/internal/eventstream"
	"github.com/sad1droid/kiro-openai-gateway/internal/identity"
	"github.com/sad1droid/kiro-openai-gateway/internal/openaiapi"
)

// Transcoder holds one response's worth of chunk-emission state (spec
// §3 "Transcoder state"). Never shared across requests.
type Transcoder struct {
	completionID   string
	created        int64
	model          string
	maxInputTokens int

	emittedRole    bool
	toolCallIndex  int
	toolCallSeen   bool
	totalCharsSent int

	// toolIDAssignment maps an upstream toolUseId to the index/id pair
	// already allocated for it, so ToolInput deltas reuse the same
	// index without re-resolving the passthrough rule.
	toolIDAssignment map[string]toolSlot
}

type toolSlot struct {
	index int
	id    string
}

// New creates a transcoder for one response. created is the Unix
// timestamp shared by every chunk; callers stamp it themselves since
// this package may not call time.Now() when driven from a workflow
// harness — in production it is simply time.Now().Unix().
func New(completionID string, created int64, model string, maxInputTokens int) *Transcoder {
	return &Transcoder{
		completionID:     completionID,
		created:          created,
		model:            model,
		maxInputTokens:   maxInputTokens,
		toolIDAssignment: map[string]toolSlot{},
	}
}

// Render converts one parser event into zero or more outbound chunks.
// Call Render for every eventstream.Event in order, including the
// terminal End event (which yields the finish chunk and, if usage
// data is available, the usage chunk — callers append the literal
// "data: [DONE]\n\n" line themselves after the last chunk).
func (t *Transcoder) Render(e eventstream.Event, contextUsagePercent *float64, credits *float64) []openaiapi.ChatCompletionChunk {
	var chunks []openaiapi.ChatCompletionChunk

	if !t.emittedRole {
		chunks = append(chunks, t.newChunk(openaiapi.ChunkDelta{Role: "assistant"}, nil))
		t.emittedRole = true
	}

	switch e.Kind {
	case eventstream.KindContent:
		t.totalCharsSent += len(e.Text)
		chunks = append(chunks, t.newChunk(openaiapi.ChunkDelta{Content: e.Text}, nil))

	case eventstream.KindToolStart:
		slot := toolSlot{index: t.toolCallIndex, id: toolCallIDOrPassthrough(e.ToolID)}
		t.toolIDAssignment[e.ToolID] = slot
		t.toolCallIndex++
		t.toolCallSeen = true
		chunks = append(chunks, t.newChunk(openaiapi.ChunkDelta{
			ToolCalls: []openaiapi.ToolCallDelta{{
				Index: slot.index,
				ID:    slot.id,
				Type:  "function",
				Function: &openaiapi.FuncCallDelta{
					Name:      e.ToolName,
					Arguments: "",
				},
			}},
		}, nil))

	case eventstream.KindToolInput:
		slot, ok := t.toolIDAssignment[e.ToolID]
		if !ok {
			break
		}
		t.totalCharsSent += len(e.Text)
		chunks = append(chunks, t.newChunk(openaiapi.ChunkDelta{
			ToolCalls: []openaiapi.ToolCallDelta{{
				Index:    slot.index,
				Function: &openaiapi.FuncCallDelta{Arguments: e.Text},
			}},
		}, nil))

	case eventstream.KindToolStop:
		// No chunk: stop is implicit (spec §4.7 rule 5).

	case eventstream.KindContextUsage, eventstream.KindUsage:
		// Folded into the usage chunk emitted on End; no chunk here.

	case eventstream.KindEnd:
		finishReason := "stop"
		if t.toolCallSeen {
			finishReason = "tool_calls"
		}
		chunks = append(chunks, t.newChunk(openaiapi.ChunkDelta{}, &finishReason))

		if contextUsagePercent != nil || credits != nil {
			chunks = append(chunks, t.usageChunk(contextUsagePercent, credits))
		}
	}

	return chunks
}

func (t *Transcoder) newChunk(delta openaiapi.ChunkDelta, finishReason *string) openaiapi.ChatCompletionChunk {
	return openaiapi.ChatCompletionChunk{
		ID:      t.completionID,
		Object:  "chat.completion.chunk",
		Created: t.created,
		Model:   t.model,
		Choices: []openaiapi.ChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}
}

// usageChunk synthesizes token and credit usage per spec §4.7 rule 7.
// Token counts are estimates: the upstream never reports real counts.
func (t *Transcoder) usageChunk(contextUsagePercent *float64, credits *float64) openaiapi.ChatCompletionChunk {
	completionTokens := t.totalCharsSent / 4

	promptTokens := 0
	if contextUsagePercent != nil && t.maxInputTokens > 0 {
		promptTokens = int(math.Round(*contextUsagePercent * float64(t.maxInputTokens) / 100))
	}

	var creditsUsed float64
	if credits != nil {
		creditsUsed = *credits
	}

	return openaiapi.ChatCompletionChunk{
		ID:      t.completionID,
		Object:  "chat.completion.chunk",
		Created: t.created,
		Model:   t.model,
		Choices: []openaiapi.ChunkChoice{},
		Usage: &openaiapi.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
			CreditsUsed:      creditsUsed,
		},
	}
}

// toolCallIDOrPassthrough uses the upstream toolUseId verbatim when it
// already looks like an OpenAI-style tool call id, and mints a fresh
// one otherwise — OpenAI clients generally tolerate any opaque id, but
// some SDKs pattern-match on the "call_" prefix.
func toolCallIDOrPassthrough(upstreamID string) string {
	if strings.HasPrefix(upstreamID, "call_") {
		return upstreamID
	}
	return identity.ToolCallID()
}

// FormatSSE renders a chunk as a `data: {json}\n\n` line.
func FormatSSE(chunk openaiapi.ChatCompletionChunk) (string, error) {
	b, err := json.Marshal(chunk)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("data: %s\n\n", b), nil
}

// DoneLine is the terminal SSE line closing every stream.
const DoneLine = "data: [DONE]\n\n"
