// Package handlers implements the gin handlers for the OpenAI-compatible
// surface, translating use-case errors into the status codes spec §6/§7
// name and framing the SSE wire format for streaming responses.
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sad1droid/kiro-openai-gateway/internal/application/usecase"
	"github.com/sad1droid/kiro-openai-gateway/internal/openaiapi"
	"github.com/sad1droid/kiro-openai-gateway/internal/transcoder"
	"github.com/sad1droid/kiro-openai-gateway/pkg/kerrors"
)

// OpenAIHandler implements /v1/chat/completions and /v1/models.
type OpenAIHandler struct {
	chat   *usecase.ChatCompletionUseCase
	models *usecase.ModelsUseCase
	logger *zap.Logger
}

// NewOpenAIHandler builds the handler around its use-cases.
func NewOpenAIHandler(chat *usecase.ChatCompletionUseCase, models *usecase.ModelsUseCase, logger *zap.Logger) *OpenAIHandler {
	return &OpenAIHandler{chat: chat, models: models, logger: logger}
}

// ListModels handles GET /v1/models.
func (h *OpenAIHandler) ListModels(c *gin.Context) {
	models := h.models.List(c.Request.Context())
	c.JSON(http.StatusOK, openaiapi.ModelsResponse{
		Object: "list",
		Data:   models,
	})
}

// ChatCompletions handles POST /v1/chat/completions, dispatching to the
// streaming or non-streaming path per the request's stream field.
func (h *OpenAIHandler) ChatCompletions(c *gin.Context) {
	var req openaiapi.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, validationError(err))
		return
	}

	if req.Stream {
		h.streamChatCompletions(c, req)
		return
	}
	h.collectChatCompletions(c, req)
}

func (h *OpenAIHandler) collectChatCompletions(c *gin.Context, req openaiapi.ChatCompletionRequest) {
	resp, err := h.chat.Collect(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *OpenAIHandler) streamChatCompletions(c *gin.Context, req openaiapi.ChatCompletionRequest) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, _ := c.Writer.(http.Flusher)
	wroteAny := false

	err := h.chat.Stream(c.Request.Context(), req, func(chunk openaiapi.ChatCompletionChunk) error {
		line, formatErr := transcoder.FormatSSE(chunk)
		if formatErr != nil {
			return formatErr
		}
		if _, writeErr := c.Writer.WriteString(line); writeErr != nil {
			return writeErr // client disconnected
		}
		wroteAny = true
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})

	if err != nil {
		// Once any byte has reached the client, an upstream error can
		// only be surfaced as a truncated stream, not an HTTP status
		// (spec §7 "Propagation policy").
		if !wroteAny {
			h.writeError(c, err)
			return
		}
		h.logger.Warn("stream truncated after first byte", zap.Error(err))
	}

	c.Writer.WriteString(transcoder.DoneLine)
	if flusher != nil {
		flusher.Flush()
	}
}

// writeError maps a classified GatewayError (or a generic error) to the
// HTTP status spec §7 names.
func (h *OpenAIHandler) writeError(c *gin.Context, err error) {
	var ge *kerrors.GatewayError
	if !errors.As(err, &ge) {
		c.JSON(http.StatusBadGateway, errorBody(err.Error(), "upstream_error"))
		return
	}

	status := ge.Kind.HTTPStatus()
	errType := string(ge.Kind)
	message := ge.Message
	if ge.Body != "" {
		message = fmt.Sprintf("%s: %s", ge.Message, ge.Body)
	}
	c.JSON(status, errorBody(message, errType))
}

func validationError(err error) gin.H {
	return errorBody(err.Error(), "invalid_request_error")
}

func errorBody(message, errType string) gin.H {
	return gin.H{
		"error": gin.H{
			"message": message,
			"type":    errType,
		},
	}
}
