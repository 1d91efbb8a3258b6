// Package handlers implements the gateway's OpenAI-compatible HTTP surface:
// admission (auth, rate limiting, validation), mode resolution, and the
// non-streaming/SSE response paths that wire backend callbacks to the wire.
package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/claude-code/gateway/internal/backend/cla"
	"github.com/claude-code/gateway/internal/backend/proxy"
	"github.com/claude-code/gateway/internal/clarequest"
	"github.com/claude-code/gateway/internal/domain/apierr"
	"github.com/claude-code/gateway/internal/domain/reqid"
	"github.com/claude-code/gateway/internal/moderouter"
	"github.com/claude-code/gateway/internal/ratelimit"
	"github.com/claude-code/gateway/internal/streamadapter"
)

const (
	headerRequestID     = "X-Request-ID"
	headerClaudeCode    = "X-Claude-Code"
	headerSessionID     = "X-Claude-Session-ID"
	headerClientAPIKey  = "X-OpenAI-API-Key"
	headerAuthorization = "Authorization"
)

// Config holds the route handler's admission tunables.
type Config struct {
	APIKeys         []string // non-empty enables Bearer-key authentication
	MaxMessages     int
	MaxContentChars int
	MaxModelChars   int
	MaxBodyBytes    int64
}

// ChatHandler implements POST /v1/chat/completions per the gateway's
// admission pipeline: request-id issuance, auth, rate limiting, validation,
// mode resolution, and the non-streaming/SSE response paths.
type ChatHandler struct {
	cfg         Config
	cla         *cla.Backend
	proxy       *proxy.Backend
	ipLimiter   *ratelimit.Window
	sessLimiter *ratelimit.Window
	concurrency *ratelimit.Concurrency
	logger      *zap.Logger
	models      []OpenAIModel
}

// NewChatHandler constructs the chat-completions handler.
func NewChatHandler(cfg Config, claBackend *cla.Backend, proxyBackend *proxy.Backend, ipLimiter, sessLimiter *ratelimit.Window, concurrency *ratelimit.Concurrency, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		cfg:         cfg,
		cla:         claBackend,
		proxy:       proxyBackend,
		ipLimiter:   ipLimiter,
		sessLimiter: sessLimiter,
		concurrency: concurrency,
		logger:      logger,
		models: []OpenAIModel{
			{ID: "gpt-4o", Object: "model", Created: time.Now().Unix(), OwnedBy: "claude-code-gateway"},
			{ID: "claude-3-5-sonnet", Object: "model", Created: time.Now().Unix(), OwnedBy: "claude-code-gateway"},
		},
	}
}

// ListModels handles GET /v1/models.
func (h *ChatHandler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, ModelsResponse{Object: "list", Data: h.models})
}

// ChatCompletions runs the full admission pipeline and dispatches to
// whichever backend the mode router selects.
func (h *ChatHandler) ChatCompletions(c *gin.Context) {
	clientRequestID := c.GetHeader(headerRequestID)
	requestID := reqid.ResolveRequestID(clientRequestID, clientRequestID != "")
	c.Header(headerRequestID, requestID)
	logger := h.logger.With(zap.String("request_id", requestID))

	clientAPIKey, clientKeyPresent := bearerFromRequest(c)

	if len(h.cfg.APIKeys) > 0 {
		if !clientKeyPresent {
			h.writeError(c, apierr.MissingAPIKey())
			return
		}
		if !h.keyMatches(clientAPIKey) {
			logger.Warn("rejected request with invalid API key", zap.String("key", reqid.MaskAPIKey(clientAPIKey)))
			h.writeError(c, apierr.InvalidAPIKey())
			return
		}
	}

	clientIP := c.ClientIP()
	ipResult := h.ipLimiter.Record(clientIP)
	h.setRateLimitHeaders(c, ipResult)
	if !ipResult.Allowed {
		logger.Info("rejected request over per-IP rate limit", zap.String("ip", clientIP))
		h.writeRateLimited(c, ipResult)
		return
	}

	concurrencyKey := clientAPIKey
	if concurrencyKey == "" {
		concurrencyKey = clientIP
	}
	if !h.concurrency.Acquire(concurrencyKey) {
		logger.Info("rejected request over concurrency ceiling", zap.String("key", concurrencyKey))
		h.writeRateLimited(c, ipResult)
		return
	}
	var releaseOnce sync.Once
	release := func() { releaseOnce.Do(func() { h.concurrency.Release(concurrencyKey) }) }
	defer release()

	sessionIDValues := c.Request.Header.Values(headerSessionID)
	sessionID, sessionIDPresent := reqid.HeaderValue(sessionIDValues)
	if sessionIDPresent {
		sessResult := h.sessLimiter.Record(sessionID)
		if !sessResult.Allowed {
			logger.Info("rejected request over per-session rate limit", zap.String("session_id", sessionID))
			release()
			h.writeRateLimited(c, sessResult)
			return
		}
	}

	if ct := c.ContentType(); ct != "application/json" {
		h.writeError(c, apierr.UnsupportedMediaType())
		return
	}

	req, apiErr := h.decodeRequest(c)
	if apiErr != nil {
		h.writeError(c, apiErr)
		return
	}

	if apiErr := h.validateRequest(req); apiErr != nil {
		h.writeError(c, apiErr)
		return
	}

	claudeCodeValues := c.Request.Header.Values(headerClaudeCode)
	backend, err := moderouter.Resolve(claudeCodeValues, sessionIDValues)
	if err != nil {
		h.writeError(c, asAPIError(err))
		return
	}

	created := time.Now().Unix()
	streaming := req.Stream != nil && *req.Stream

	switch backend {
	case moderouter.BackendCLA:
		claMessages, apiErr := req.claMessages()
		if apiErr != nil {
			h.writeError(c, apiErr)
			return
		}
		claReq := cla.Request{
			RequestID: requestID,
			Model:     req.Model,
			SessionID: sessionID,
			ClientID:  clientAPIKey,
			Messages:  claMessages,
			Params:    req.claParams(),
		}
		if streaming {
			h.streamCLA(c, requestID, sessionID, claReq, created)
			return
		}
		h.completeCLA(c, claReq, created)

	case moderouter.BackendProxy:
		upstreamKey := c.GetHeader(headerClientAPIKey)
		proxyReq := proxy.Request{Body: req.toOpenAI(streaming), ClientKey: upstreamKey, ClientKeyPresent: upstreamKey != ""}
		if streaming {
			h.streamProxy(c, requestID, proxyReq)
			return
		}
		h.completeProxy(c, proxyReq)
	}
}

func (h *ChatHandler) completeCLA(c *gin.Context, req cla.Request, created int64) {
	resp, headers, err := h.cla.Complete(c.Request.Context(), req, created)
	if err != nil {
		h.writeError(c, asAPIError(err))
		return
	}
	for k, v := range headers {
		c.Header(k, v)
	}
	h.writeSecurityHeaders(c, false)
	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) completeProxy(c *gin.Context, req proxy.Request) {
	resp, headers, err := h.proxy.Complete(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, asAPIError(err))
		return
	}
	for k, v := range headers {
		c.Header(k, v)
	}
	h.writeSecurityHeaders(c, false)
	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) streamCLA(c *gin.Context, requestID, resumedSessionID string, req cla.Request, created int64) {
	cb := h.commitSSE(c, requestID, "claude-code", resumedSessionID)
	h.cla.Stream(c.Request.Context(), req, created, cb)
}

func (h *ChatHandler) streamProxy(c *gin.Context, requestID string, req proxy.Request) {
	cb := h.commitSSE(c, requestID, "openai-passthrough", "")
	h.proxy.Stream(c.Request.Context(), req, cb)
}

// commitSSE eagerly writes the SSE status and header set, then returns
// callbacks that write each backend event as a wire-format SSE frame. A
// stream_ended flag guards against writing more than one terminal frame.
func (h *ChatHandler) commitSSE(c *gin.Context, requestID, backendMode, resumedSessionID string) streamadapter.Callbacks {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Backend-Mode", backendMode)
	if resumedSessionID != "" {
		c.Header(headerSessionID, resumedSessionID)
	}
	h.writeSecurityHeaders(c, true)
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	var mu sync.Mutex
	ended := false
	guard := func(fn func()) {
		mu.Lock()
		defer mu.Unlock()
		if ended {
			return
		}
		ended = true
		fn()
	}

	return streamadapter.Callbacks{
		OnChunk: func(line string) {
			mu.Lock()
			done := ended
			mu.Unlock()
			if done {
				return
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", line)
			c.Writer.Flush()
		},
		OnDone: func(info streamadapter.DoneInfo) {
			guard(func() {
				io.WriteString(c.Writer, "data: [DONE]\n\n")
				c.Writer.Flush()
			})
		},
		OnError: func(apiErr *apierr.APIError) {
			guard(func() {
				data, _ := json.Marshal(apiErr.Envelope())
				fmt.Fprintf(c.Writer, "data: %s\n\n", data)
				io.WriteString(c.Writer, "data: [DONE]\n\n")
				c.Writer.Flush()
			})
		},
	}
}

func (h *ChatHandler) decodeRequest(c *gin.Context) (*ChatCompletionRequest, *apierr.APIError) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxBodyBytes)

	var req ChatCompletionRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			return nil, apierr.PayloadTooLarge()
		}
		return nil, apierr.MalformedBody(err)
	}
	return &req, nil
}

func (h *ChatHandler) validateRequest(req *ChatCompletionRequest) *apierr.APIError {
	if req.Model == "" {
		return apierr.InvalidRequestParam("model", "model is required")
	}
	if len(req.Model) > h.cfg.MaxModelChars {
		return apierr.InvalidRequestParam("model", "model name exceeds %d characters", h.cfg.MaxModelChars)
	}
	if len(req.Messages) == 0 {
		return apierr.InvalidRequestParam("messages", "messages must not be empty")
	}
	if len(req.Messages) > h.cfg.MaxMessages {
		return apierr.InvalidRequestParam("messages", "too many messages (max %d)", h.cfg.MaxMessages)
	}
	for _, m := range req.Messages {
		if err := validateContentLength(m.Content, h.cfg.MaxContentChars); err != nil {
			return err
		}
	}
	return nil
}

func (h *ChatHandler) keyMatches(presented string) bool {
	for _, k := range h.cfg.APIKeys {
		if reqid.ConstantTimeEqual(presented, k) {
			return true
		}
	}
	return false
}

func (h *ChatHandler) setRateLimitHeaders(c *gin.Context, r ratelimit.WindowResult) {
	c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", r.Limit))
	c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", r.Remaining))
	c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", r.ResetMS/1000))
}

func (h *ChatHandler) writeRateLimited(c *gin.Context, r ratelimit.WindowResult) {
	retryAfter := (r.ResetMS - time.Now().UnixMilli()) / 1000
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
	h.writeError(c, apierr.RateLimitExceeded("rate limit exceeded"))
}

func (h *ChatHandler) writeError(c *gin.Context, err *apierr.APIError) {
	if err.Status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", "Bearer")
	}
	h.writeSecurityHeaders(c, false)
	c.JSON(err.Status, err.Envelope())
}

func (h *ChatHandler) writeSecurityHeaders(c *gin.Context, streaming bool) {
	c.Header("X-Content-Type-Options", "nosniff")
	if streaming {
		c.Header("Cache-Control", "no-cache")
	} else {
		c.Header("Cache-Control", "no-store")
	}
	c.Header("X-Frame-Options", "DENY")
	c.Header("Content-Security-Policy", "default-src 'none'")
	c.Header("Referrer-Policy", "no-referrer")
}

func bearerFromRequest(c *gin.Context) (string, bool) {
	auth := c.GetHeader(headerAuthorization)
	if auth == "" {
		return "", false
	}
	return reqid.BearerToken(auth)
}

func asAPIError(err error) *apierr.APIError {
	if apiErr, ok := apierr.As(err); ok {
		return apiErr
	}
	return apierr.Internal(err)
}

func validateContentLength(raw json.RawMessage, max int) *apierr.APIError {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return apierr.InvalidRequestParam("messages", "malformed message content: %v", err)
	}
	switch t := v.(type) {
	case string:
		if len(t) > max {
			return apierr.InvalidRequestParam("messages", "message content exceeds %d characters", max)
		}
	case []any:
		for _, part := range t {
			m, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := m["text"].(string); ok && len(text) > max {
				return apierr.InvalidRequestParam("messages", "message content part exceeds %d characters", max)
			}
		}
	}
	return nil
}

// OpenAI API types

// ChatCompletionRequest mirrors OpenAI's request format; Tier-2/Tier-3
// parameters are kept as an open bag (pointers/RawMessage) so CLA-path
// validation can distinguish "absent" from "zero value".
type ChatCompletionRequest struct {
	Model            string          `json:"model"`
	Messages         []ChatMessage   `json:"messages"`
	Stream           *bool           `json:"stream,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	Stop             json.RawMessage `json:"stop,omitempty"`
	Seed             *int            `json:"seed,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	N                *int            `json:"n,omitempty"`
	Tools            json.RawMessage `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
	Functions        json.RawMessage `json:"functions,omitempty"`
	FunctionCall     json.RawMessage `json:"function_call,omitempty"`
	ResponseFormat   json.RawMessage `json:"response_format,omitempty"`
	Logprobs         *bool           `json:"logprobs,omitempty"`
	TopLogprobs      *int            `json:"top_logprobs,omitempty"`
	LogitBias        json.RawMessage `json:"logit_bias,omitempty"`
	User             string          `json:"user,omitempty"`
}

// ChatMessage is a single message; Content is kept raw so it can be either
// a plain string or a structured multi-part array.
type ChatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// OpenAIModel represents a model in the /v1/models response.
type OpenAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse mirrors OpenAI's models list response.
type ModelsResponse struct {
	Object string        `json:"object"`
	Data   []OpenAIModel `json:"data"`
}

func (r *ChatCompletionRequest) claParams() clarequest.Params {
	return clarequest.Params{
		Tools: r.Tools, ToolChoice: r.ToolChoice, Functions: r.Functions, FunctionCall: r.FunctionCall,
		ResponseFormat: r.ResponseFormat, Logprobs: r.Logprobs, TopLogprobs: r.TopLogprobs, LogitBias: r.LogitBias,
		N: r.N, Temperature: r.Temperature, TopP: r.TopP, MaxTokens: r.MaxTokens, Stop: r.Stop, Seed: r.Seed,
		FrequencyPenalty: r.FrequencyPenalty, PresencePenalty: r.PresencePenalty,
	}
}

func (r *ChatCompletionRequest) claMessages() ([]clarequest.Message, *apierr.APIError) {
	out := make([]clarequest.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		var content any
		if err := json.Unmarshal(m.Content, &content); err != nil {
			return nil, apierr.InvalidRequestParam("messages", "malformed message content: %v", err)
		}
		out = append(out, clarequest.Message{Role: m.Role, Content: content})
	}
	return out, nil
}

// toOpenAI converts the inbound request into the upstream SDK's request
// type for the proxy backend, which forwards every field verbatim rather
// than validating CLA-specific tiers.
func (r *ChatCompletionRequest) toOpenAI(stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(r.Messages))
	for _, m := range r.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: rawContentString(m.Content)})
	}

	out := openai.ChatCompletionRequest{Model: r.Model, Messages: messages, User: r.User, Stream: stream}
	if r.Temperature != nil {
		out.Temperature = float32(*r.Temperature)
	}
	if r.TopP != nil {
		out.TopP = float32(*r.TopP)
	}
	if r.MaxTokens != nil {
		out.MaxTokens = *r.MaxTokens
	}
	if r.N != nil {
		out.N = *r.N
	}
	if r.Seed != nil {
		out.Seed = r.Seed
	}
	if r.FrequencyPenalty != nil {
		out.FrequencyPenalty = float32(*r.FrequencyPenalty)
	}
	if r.PresencePenalty != nil {
		out.PresencePenalty = float32(*r.PresencePenalty)
	}
	if len(r.Stop) > 0 {
		var stops []string
		if json.Unmarshal(r.Stop, &stops) == nil {
			out.Stop = stops
		}
	}
	if len(r.LogitBias) > 0 {
		var bias map[string]int
		if json.Unmarshal(r.LogitBias, &bias) == nil {
			out.LogitBias = bias
		}
	}
	if r.Logprobs != nil {
		out.LogProbs = *r.Logprobs
	}
	if r.TopLogprobs != nil {
		out.TopLogProbs = *r.TopLogprobs
	}
	if len(r.Tools) > 0 {
		var tools []openai.Tool
		if json.Unmarshal(r.Tools, &tools) == nil {
			out.Tools = tools
		}
	}
	if len(r.ToolChoice) > 0 {
		var choice any
		if json.Unmarshal(r.ToolChoice, &choice) == nil {
			out.ToolChoice = choice
		}
	}
	if len(r.Functions) > 0 {
		var fns []openai.FunctionDefinition
		if json.Unmarshal(r.Functions, &fns) == nil {
			out.Functions = fns
		}
	}
	if len(r.FunctionCall) > 0 {
		var call any
		if json.Unmarshal(r.FunctionCall, &call) == nil {
			out.FunctionCall = call
		}
	}
	if len(r.ResponseFormat) > 0 {
		var format openai.ChatCompletionResponseFormat
		if json.Unmarshal(r.ResponseFormat, &format) == nil {
			out.ResponseFormat = &format
		}
	}
	return out
}

func rawContentString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}
