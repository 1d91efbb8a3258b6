// Package clarequest transforms an OpenAI chat-completion request into the
// inputs the CLA backend needs: validated/ignored parameters, an aggregated
// prompt, a CLI argument vector, and the child's environment.
package clarequest

import (
	"encoding/json"

	"github.com/claude-code/gateway/internal/domain/apierr"
)

// tier3Params reject the request outright when present.
var tier3Params = []string{
	"tools", "tool_choice", "functions", "function_call",
	"response_format", "logprobs", "top_logprobs", "logit_bias",
}

// tier2Params are accepted but silently ignored by the CLA backend; their
// names are recorded for the X-Claude-Ignored-Params response header.
var tier2Params = []string{
	"temperature", "top_p", "max_tokens", "stop", "seed",
	"frequency_penalty", "presence_penalty",
}

// Params mirrors the subset of an OpenAI chat-completion request body this
// package cares about; presence is tracked with pointers/RawMessage so a
// zero value is distinguishable from an absent field.
type Params struct {
	Tools          json.RawMessage
	ToolChoice     json.RawMessage
	Functions      json.RawMessage
	FunctionCall   json.RawMessage
	ResponseFormat json.RawMessage
	Logprobs       *bool
	TopLogprobs    *int
	LogitBias      json.RawMessage
	N              *int

	Temperature      *float64
	TopP             *float64
	MaxTokens        *int
	Stop             json.RawMessage
	Seed             *int
	FrequencyPenalty *float64
	PresencePenalty  *float64
}

// ValidateParams rejects Tier-3 parameters with unsupported_parameter(400)
// and returns the names of any Tier-2 parameters present, for the
// X-Claude-Ignored-Params response header.
func ValidateParams(p Params) ([]string, error) {
	if len(p.Tools) > 0 && !isJSONNull(p.Tools) {
		return nil, apierr.UnsupportedParameter("tools")
	}
	if len(p.ToolChoice) > 0 && !isJSONNull(p.ToolChoice) {
		return nil, apierr.UnsupportedParameter("tool_choice")
	}
	if len(p.Functions) > 0 && !isJSONNull(p.Functions) {
		return nil, apierr.UnsupportedParameter("functions")
	}
	if len(p.FunctionCall) > 0 && !isJSONNull(p.FunctionCall) {
		return nil, apierr.UnsupportedParameter("function_call")
	}
	if len(p.ResponseFormat) > 0 && !isJSONNull(p.ResponseFormat) {
		return nil, apierr.UnsupportedParameter("response_format")
	}
	if p.Logprobs != nil {
		return nil, apierr.UnsupportedParameter("logprobs")
	}
	if p.TopLogprobs != nil {
		return nil, apierr.UnsupportedParameter("top_logprobs")
	}
	if len(p.LogitBias) > 0 && !isJSONNull(p.LogitBias) {
		return nil, apierr.UnsupportedParameter("logit_bias")
	}
	if p.N != nil && *p.N > 1 {
		return nil, apierr.UnsupportedParameter("n")
	}

	var ignored []string
	if p.Temperature != nil {
		ignored = append(ignored, "temperature")
	}
	if p.TopP != nil {
		ignored = append(ignored, "top_p")
	}
	if p.MaxTokens != nil {
		ignored = append(ignored, "max_tokens")
	}
	if len(p.Stop) > 0 && !isJSONNull(p.Stop) {
		ignored = append(ignored, "stop")
	}
	if p.Seed != nil {
		ignored = append(ignored, "seed")
	}
	if p.FrequencyPenalty != nil {
		ignored = append(ignored, "frequency_penalty")
	}
	if p.PresencePenalty != nil {
		ignored = append(ignored, "presence_penalty")
	}
	if p.N != nil && *p.N == 1 {
		ignored = append(ignored, "n")
	}

	return ignored, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}
