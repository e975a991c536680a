// Package usecase wires the driver (C8), request transformer (C5),
// model-info cache (C4), event-stream parser (C6), transcoder (C7) and
// non-stream collector (C9) into the two inbound operations the HTTP
// surface exposes: chat completions and model listing. This mirrors
// the teacher's application/usecase layer (ProcessMessageUseCase),
// generalized from a single-shot LLM call to a streaming one.
package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/sad1droid/kiro-openai-gateway/internal/collector"
	"github.com/sad1droid/kiro-openai-gateway/internal/credentials"
	"github.com/sad1droid/kiro-openai-gateway/internal/driver"
	"github.com/sad1droid/kiro-openai-gateway/internal/eventstream"
	"github.com/sad1droid/kiro-openai-gateway/internal/identity"
	"github.com/sad1droid/kiro-openai-gateway/internal/infrastructure/debug"
	"github.com/sad1droid/kiro-openai-gateway/internal/modelinfo"
	"github.com/sad1droid/kiro-openai-gateway/internal/modelmap"
	"github.com/sad1droid/kiro-openai-gateway/internal/openaiapi"
	"github.com/sad1droid/kiro-openai-gateway/internal/transcoder"
	"github.com/sad1droid/kiro-openai-gateway/internal/transform"
)

// readChunkSize is the buffer size used to read the upstream event
// stream incrementally — large enough to avoid a syscall per byte,
// small enough that the transcoder yields eagerly (spec §9: "must
// yield eagerly enough to avoid buffering full responses").
const readChunkSize = 4096

// ChatCompletionUseCase drives one /v1/chat/completions request end to
// end. It holds no per-request state of its own — all of that lives in
// the eventstream.Parser and transcoder.Transcoder the Stream method
// creates fresh for each call (spec §5: "never shared across tasks").
type ChatCompletionUseCase struct {
	driver      *driver.Driver
	creds       *credentials.Manager
	models      *modelinfo.Cache
	transformer *transform.Transformer
	dumper      *debug.Dumper
	logger      *zap.Logger
}

// NewChatCompletionUseCase builds the use-case around its collaborators.
func NewChatCompletionUseCase(
	d *driver.Driver,
	creds *credentials.Manager,
	models *modelinfo.Cache,
	transformer *transform.Transformer,
	dumper *debug.Dumper,
	logger *zap.Logger,
) *ChatCompletionUseCase {
	return &ChatCompletionUseCase{
		driver:      d,
		creds:       creds,
		models:      models,
		transformer: transformer,
		dumper:      dumper,
		logger:      logger,
	}
}

// ChunkFunc receives each rendered chunk in order, stopping the stream
// early by returning an error (a client disconnect, for instance).
type ChunkFunc func(openaiapi.ChatCompletionChunk) error

// Stream transforms req, sends it to the upstream generateAssistantResponse
// endpoint, and invokes onChunk for every OpenAI-compatible chunk the
// transcoder renders from the upstream's event-stream, in order. It
// does not write the terminal "data: [DONE]\n\n" line — callers own
// the wire framing.
func (uc *ChatCompletionUseCase) Stream(ctx context.Context, req openaiapi.ChatCompletionRequest, onChunk ChunkFunc) error {
	done := uc.dumper.PrepareNewRequest()
	defer done()

	payload, maxInputTokens, err := uc.buildPayload(req)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal upstream payload: %w", err)
	}
	uc.dumper.LogKiroRequestBody(payload)

	url := "https://" + uc.creds.APIHost() + "/generateAssistantResponse"
	resp, err := uc.driver.Do(ctx, "POST", url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tc := transcoder.New(identity.CompletionID(), time.Now().Unix(), req.Model, maxInputTokens)
	parser := eventstream.NewParser()

	stopped, err := uc.pump(resp.Body, parser, tc, onChunk)
	if err != nil || stopped {
		return err
	}

	for _, ev := range parser.End() {
		if uc.emit(parser, tc, ev, onChunk) {
			return nil
		}
	}
	return nil
}

// pump reads the upstream body incrementally, feeding each raw chunk
// to the parser and rendering any resulting events immediately — the
// "lazy iterator" shape spec §9 calls for. The bool return reports
// whether onChunk asked to stop (a client disconnect).
func (uc *ChatCompletionUseCase) pump(body io.Reader, parser *eventstream.Parser, tc *transcoder.Transcoder, onChunk ChunkFunc) (bool, error) {
	buf := make([]byte, readChunkSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			raw := append([]byte(nil), buf[:n]...)
			uc.dumper.LogRawChunk(raw)

			for _, ev := range parser.Feed(raw) {
				if uc.emit(parser, tc, ev, onChunk) {
					return true, nil
				}
			}
		}
		if readErr == io.EOF {
			return false, nil
		}
		if readErr != nil {
			return false, readErr
		}
	}
}

// emit renders ev into chunks and delivers each to onChunk, logging the
// rendered SSE line. Returns true if onChunk asked to stop early.
func (uc *ChatCompletionUseCase) emit(parser *eventstream.Parser, tc *transcoder.Transcoder, ev eventstream.Event, onChunk ChunkFunc) bool {
	var pctPtr, creditsPtr *float64
	if pct, ok := parser.ContextUsagePercent(); ok {
		pctPtr = &pct
	}
	if credits, ok := parser.Credits(); ok {
		creditsPtr = &credits
	}

	for _, chunk := range tc.Render(ev, pctPtr, creditsPtr) {
		if line, err := transcoder.FormatSSE(chunk); err == nil {
			uc.dumper.LogModifiedChunk(line)
		}
		if err := onChunk(chunk); err != nil {
			return true // client disconnected; not an upstream error (spec §7)
		}
	}
	return false
}

// Collect runs Stream and reduces the resulting chunks into a single
// non-streaming response via the C9 collector.
func (uc *ChatCompletionUseCase) Collect(ctx context.Context, req openaiapi.ChatCompletionRequest) (openaiapi.ChatCompletionResponse, error) {
	c := collector.New()
	err := uc.Stream(ctx, req, func(chunk openaiapi.ChatCompletionChunk) error {
		c.Add(chunk)
		return nil
	})
	if err != nil {
		return openaiapi.ChatCompletionResponse{}, err
	}
	return c.Result(), nil
}

func (uc *ChatCompletionUseCase) buildPayload(req openaiapi.ChatCompletionRequest) (interface{}, int, error) {
	maxInputTokens := uc.models.GetMaxInputTokens(modelmap.InternalID(req.Model))

	uc.dumper.LogRequestBody(req)

	result, err := uc.transformer.Transform(req, uc.creds.ProfileArn(), maxInputTokens)
	if err != nil {
		return nil, 0, err
	}
	return result.Payload, result.MaxInputTokens, nil
}
