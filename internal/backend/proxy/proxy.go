// Package proxy implements the backend that transparently forwards a
// chat-completion request to an upstream OpenAI-compatible HTTP API.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"

	openai "github.com/sashabaranov/go-openai"

	"github.com/claude-code/gateway/internal/domain/apierr"
	"github.com/claude-code/gateway/internal/streamadapter"
)

// Config holds the proxy backend's tunables.
type Config struct {
	APIKey         string // may be empty
	BaseURL        string
	Enabled        bool
	AllowClientKey bool
}

// Backend wraps an upstream OpenAI-compatible HTTP client.
type Backend struct {
	cfg           Config
	defaultClient *openai.Client
}

// New constructs a proxy backend with its default client built once, from
// the server-configured API key and base URL.
func New(cfg Config) *Backend {
	return &Backend{
		cfg:           cfg,
		defaultClient: buildClient(cfg.APIKey, cfg.BaseURL),
	}
}

func buildClient(apiKey, baseURL string) *openai.Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(config)
}

// Request is the subset of an inbound chat-completion request this backend
// forwards, plus any client-supplied upstream key.
type Request struct {
	Body             openai.ChatCompletionRequest
	ClientKey        string
	ClientKeyPresent bool
}

// clientFor resolves the client for one call. The base URL always comes
// from server configuration, even when a client-supplied key is used — the
// client must never be able to redirect the upstream call.
func (b *Backend) clientFor(req Request) (*openai.Client, error) {
	if b.cfg.AllowClientKey && req.ClientKeyPresent {
		return buildClient(req.ClientKey, b.cfg.BaseURL), nil
	}
	if b.cfg.APIKey == "" {
		return nil, apierr.PassthroughNotConfigured()
	}
	return b.defaultClient, nil
}

// Complete forwards req non-streaming, forcing stream=false regardless of
// the caller's input, and returns the upstream response verbatim.
func (b *Backend) Complete(ctx context.Context, req Request) (*openai.ChatCompletionResponse, map[string]string, error) {
	if !b.cfg.Enabled {
		return nil, nil, apierr.PassthroughDisabled()
	}
	client, err := b.clientFor(req)
	if err != nil {
		return nil, nil, err
	}

	body := req.Body
	body.Stream = false

	resp, err := client.CreateChatCompletion(ctx, body)
	if err != nil {
		return nil, nil, mapUpstreamError(err)
	}

	return &resp, map[string]string{"X-Backend-Mode": "openai-passthrough"}, nil
}

// Stream forwards req streaming, forcing stream=true regardless of the
// caller's input. Each upstream chunk is serialized and handed to
// cb.OnChunk; the last chunk's usage (if present) is captured into
// cb.OnDone. Every failure routes through cb.OnError.
func (b *Backend) Stream(ctx context.Context, req Request, cb streamadapter.Callbacks) {
	if !b.cfg.Enabled {
		cb.OnError(apierr.PassthroughDisabled())
		return
	}
	client, err := b.clientFor(req)
	if err != nil {
		cb.OnError(asAPIError(err))
		return
	}

	body := req.Body
	body.Stream = true
	body.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := client.CreateChatCompletionStream(ctx, body)
	if err != nil {
		cb.OnError(mapUpstreamError(err))
		return
	}
	defer stream.Close()

	var usage streamadapter.Usage
	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			cb.OnError(mapUpstreamError(err))
			return
		}

		if chunk.Usage != nil {
			usage = streamadapter.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}

		data, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		cb.OnChunk(string(data))
	}

	cb.OnDone(streamadapter.DoneInfo{
		Headers: map[string]string{"X-Backend-Mode": "openai-passthrough"},
		Usage:   usage,
	})
}

func asAPIError(err error) *apierr.APIError {
	if apiErr, ok := apierr.As(err); ok {
		return apiErr
	}
	return apierr.Internal(err)
}

// mapUpstreamError classifies an error from the go-openai client: a typed
// API error preserves the upstream status and body verbatim; a request
// error wrapping a timeout maps to timeout(504); any other request or
// network error maps to connection_error(502); anything else is internal.
func mapUpstreamError(err error) *apierr.APIError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		var param *string
		if apiErr.Param != nil {
			param = apiErr.Param
		}
		return apierr.Upstream(apiErr.HTTPStatusCode, apiErr.Message, apiErr.Type, codeString(apiErr.Code), param)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if isTimeout(reqErr.Err) {
			return apierr.Timeout("upstream proxy request")
		}
		return apierr.ConnectionError(reqErr.Err)
	}

	if isTimeout(err) {
		return apierr.Timeout("upstream proxy request")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apierr.ConnectionError(err)
	}

	return apierr.Internal(err)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func codeString(code any) string {
	if code == nil {
		return ""
	}
	if s, ok := code.(string); ok {
		return s
	}
	return "upstream_error"
}
