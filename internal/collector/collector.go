// Package collector implements the non-stream collector (spec §4.9,
// component C9): reducing a chunk stream produced by the transcoder
// (C7) into a single OpenAI-compatible chat-completion response.
package collector

import (
	"strings"

	"github.com/sad1droid/kiro-openai-gateway/internal/openaiapi"
)

// Collector accumulates chunks for one response.
type Collector struct {
	id            string
	created       int64
	model         string
	content       strings.Builder
	toolCalls     map[int]*toolCallBuilder
	toolCallOrder []int
	finishReason  string
	usage         *openaiapi.Usage
}

type toolCallBuilder struct {
	id        string
	name      string
	arguments strings.Builder
}

// New creates an empty collector.
func New() *Collector {
	return &Collector{toolCalls: map[int]*toolCallBuilder{}}
}

// Add folds one chunk into the accumulated response. id, created, and
// model are taken verbatim from the first chunk seen (spec §4.7: "Every
// chunk uses the same completion_id... The id survives non-streaming
// collection unchanged").
func (c *Collector) Add(chunk openaiapi.ChatCompletionChunk) {
	if c.id == "" {
		c.id = chunk.ID
		c.created = chunk.Created
		c.model = chunk.Model
	}

	if chunk.Usage != nil {
		c.usage = chunk.Usage
	}

	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		c.content.WriteString(choice.Delta.Content)
	}

	for _, tc := range choice.Delta.ToolCalls {
		b, ok := c.toolCalls[tc.Index]
		if !ok {
			b = &toolCallBuilder{}
			c.toolCalls[tc.Index] = b
			c.toolCallOrder = append(c.toolCallOrder, tc.Index)
		}
		if tc.ID != "" {
			b.id = tc.ID
		}
		if tc.Function != nil {
			if tc.Function.Name != "" {
				b.name = tc.Function.Name
			}
			b.arguments.WriteString(tc.Function.Arguments)
		}
	}

	if choice.FinishReason != nil {
		c.finishReason = *choice.FinishReason
	}
}

// Result produces the final response object.
func (c *Collector) Result() openaiapi.ChatCompletionResponse {
	msg := openaiapi.ResponseMessage{
		Role:    "assistant",
		Content: c.content.String(),
	}
	for _, idx := range c.toolCallOrder {
		b := c.toolCalls[idx]
		msg.ToolCalls = append(msg.ToolCalls, openaiapi.ToolCall{
			ID:   b.id,
			Type: "function",
			Function: openaiapi.ToolCallFunc{
				Name:      b.name,
				Arguments: b.arguments.String(),
			},
		})
	}

	return openaiapi.ChatCompletionResponse{
		ID:      c.id,
		Object:  "chat.completion",
		Created: c.created,
		Model:   c.model,
		Choices: []openaiapi.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: c.finishReason,
		}},
		Usage: c.usage,
	}
}
