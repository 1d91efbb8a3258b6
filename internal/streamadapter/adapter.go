// Package streamadapter turns a CLA child's NDJSON stream-json event lines
// into OpenAI-compatible chat-completion-chunk JSON, one event at a time.
package streamadapter

import (
	"encoding/json"
	"fmt"

	"github.com/claude-code/gateway/internal/domain/apierr"
	"github.com/claude-code/gateway/internal/domain/redact"
)

// Chunk is a single OpenAI chat.completion.chunk.
type Chunk struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// Choice is the sole choice carried by every chunk this adapter emits.
type Choice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta is the incremental content of a chunk's single choice.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// Usage is the token accounting reported once the stream completes.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// DoneInfo is delivered to OnDone once the stream reaches a terminal result.
type DoneInfo struct {
	Headers map[string]string
	Usage   Usage
}

// Callbacks are invoked as the adapter processes each line.
type Callbacks struct {
	OnChunk func(jsonLine string)
	OnDone  func(DoneInfo)
	OnError func(*apierr.APIError)
}

// Adapter holds the per-stream state needed to turn NDJSON lines into
// chunks: the frozen identity fields every chunk carries, and the flags
// tracking whether the role chunk and terminal result have been seen.
type Adapter struct {
	requestID string
	model     string
	created   int64

	firstContentBlockSeen bool
	done                  bool
	sessionID             string

	cb Callbacks
}

// New constructs a stream adapter for a single request/response exchange.
// created is the frozen unix timestamp every emitted chunk carries.
func New(requestID, model string, created int64, cb Callbacks) *Adapter {
	return &Adapter{requestID: requestID, model: model, created: created, cb: cb}
}

// envelope is the outer shape shared by every NDJSON line this adapter
// consumes; Event is left raw until the inner event.type is known.
type envelope struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	Event     json.RawMessage `json:"event"`
	IsError   bool            `json:"is_error"`
	Result    string          `json:"result"`
	Usage     struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type innerEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
}

// Process decodes one NDJSON line and dispatches it. Malformed JSON is
// silently skipped.
func (a *Adapter) Process(line string) {
	var env envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return
	}

	switch env.Type {
	case "system":
		if env.Subtype == "init" {
			a.sessionID = env.SessionID
		}
	case "stream_event":
		a.processStreamEvent(env)
	case "result":
		a.processResult(env)
	}
}

func (a *Adapter) processStreamEvent(env envelope) {
	var inner innerEvent
	if err := json.Unmarshal(env.Event, &inner); err != nil {
		return
	}

	switch inner.Type {
	case "content_block_start":
		if a.firstContentBlockSeen {
			return
		}
		a.firstContentBlockSeen = true
		a.emit(Delta{Role: "assistant"}, nil)
	case "content_block_delta":
		if inner.Delta.Type != "text_delta" {
			return
		}
		a.emit(Delta{Content: redact.Text(inner.Delta.Text)}, nil)
	case "content_block_stop", "message_stop":
		// no-op
	case "message_delta":
		reason := mapStopReason(inner.Delta.StopReason)
		a.emit(Delta{}, &reason)
	}
}

func (a *Adapter) processResult(env envelope) {
	a.sessionID = env.SessionID

	if env.IsError {
		a.HandleError(redact.Text(env.Result))
		return
	}

	if a.done {
		return
	}
	a.done = true

	headers := map[string]string{"X-Backend-Mode": "claude-code"}
	if a.sessionID != "" {
		headers["X-Claude-Session-ID"] = a.sessionID
	}

	a.cb.OnDone(DoneInfo{
		Headers: headers,
		Usage: Usage{
			PromptTokens:     env.Usage.InputTokens,
			CompletionTokens: env.Usage.OutputTokens,
			TotalTokens:      env.Usage.InputTokens + env.Usage.OutputTokens,
		},
	})
}

// HandleError is a one-shot: if the stream already reached a terminal
// state it is a no-op; otherwise it marks the stream done, emits a finish
// chunk, and reports a stream_error to OnError.
func (a *Adapter) HandleError(reason string) {
	if a.done {
		return
	}
	a.done = true

	stop := "stop"
	a.emit(Delta{}, &stop)
	a.cb.OnError(apierr.StreamError(fmt.Sprintf("Stream interrupted: %s", reason)))
}

// Done reports whether the stream has reached a terminal state.
func (a *Adapter) Done() bool {
	return a.done
}

// SessionID returns the session id captured so far, if any.
func (a *Adapter) SessionID() string {
	return a.sessionID
}

func (a *Adapter) emit(delta Delta, finishReason *string) {
	data, err := json.Marshal(Chunk{
		ID:      "chatcmpl-" + a.requestID,
		Object:  "chat.completion.chunk",
		Created: a.created,
		Model:   a.model,
		Choices: []Choice{{Index: 0, Delta: delta, FinishReason: finishReason}},
	})
	if err != nil {
		return
	}
	a.cb.OnChunk(string(data))
}

func mapStopReason(stopReason string) string {
	if stopReason == "max_tokens" {
		return "length"
	}
	return "stop"
}
