package clarequest

import (
	"encoding/json"
	"strings"

	"github.com/claude-code/gateway/internal/domain/apierr"
)

const (
	roleSystem    = "system"
	roleUser      = "user"
	roleAssistant = "assistant"
)

// Message is the subset of a chat message this package transforms. Content
// may be a string or arbitrary JSON (e.g. a multi-part content array);
// non-string content is serialized to compact JSON when aggregated.
type Message struct {
	Role    string
	Content any
}

// Prompt is the result of aggregating a message list into the single
// prompt string (and optional system prompt) the CLA backend consumes.
type Prompt struct {
	Text         string
	SystemPrompt string
	HasSystem    bool
}

// BuildPrompt aggregates system messages into a blank-line-joined system
// prompt, then reduces the remaining messages to a single prompt string:
// the last user message's content when resuming, the sole message's
// content when there is exactly one, or a "User: "/"Assistant: "-prefixed
// multi-turn transcript otherwise.
func BuildPrompt(messages []Message, isResume bool) (Prompt, error) {
	var systemParts []string
	var rest []Message
	for _, m := range messages {
		if m.Role == roleSystem {
			s, err := contentString(m.Content)
			if err != nil {
				return Prompt{}, err
			}
			systemParts = append(systemParts, s)
			continue
		}
		rest = append(rest, m)
	}

	out := Prompt{}
	if len(systemParts) > 0 {
		out.SystemPrompt = strings.Join(systemParts, "\n\n")
		out.HasSystem = true
	}

	if isResume {
		for i := len(rest) - 1; i >= 0; i-- {
			if rest[i].Role == roleUser {
				text, err := contentString(rest[i].Content)
				if err != nil {
					return Prompt{}, err
				}
				out.Text = text
				return out, nil
			}
		}
		return Prompt{}, apierr.InvalidRequest("no user messages found to resume from")
	}

	if len(rest) == 1 {
		text, err := contentString(rest[0].Content)
		if err != nil {
			return Prompt{}, err
		}
		if text == "" {
			return Prompt{}, apierr.InvalidRequest("message content must not be empty")
		}
		out.Text = text
		return out, nil
	}

	var lines []string
	for _, m := range rest {
		text, err := contentString(m.Content)
		if err != nil {
			return Prompt{}, err
		}
		prefix := "Assistant: "
		if m.Role == roleUser {
			prefix = "User: "
		}
		lines = append(lines, prefix+text)
	}
	out.Text = strings.Join(lines, "\n")
	return out, nil
}

func contentString(content any) (string, error) {
	if s, ok := content.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(content)
	if err != nil {
		return "", apierr.InvalidRequest("malformed message content: %v", err)
	}
	return string(data), nil
}
