package cla

import "github.com/claude-code/gateway/internal/streamadapter"

// Response is the OpenAI-compatible non-streaming chat-completion response
// this backend produces from a CLA "result" object.
type Response struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Created int64               `json:"created"`
	Model   string              `json:"model"`
	Choices []ResponseChoice    `json:"choices"`
	Usage   streamadapter.Usage `json:"usage"`
}

// ResponseChoice is the sole choice a non-streaming CLA response carries.
type ResponseChoice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage is the assistant message of a non-streaming response.
type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// resultEnvelope is the single JSON object a CLA child writes to stdout
// under --output-format json; it mirrors the streaming adapter's "result"
// line shape.
type resultEnvelope struct {
	Type      string `json:"type"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
	Usage     struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
