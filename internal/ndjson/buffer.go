// Package ndjson frames a byte stream of newline-delimited JSON into
// complete lines, carrying a partial line across chunk boundaries.
package ndjson

import "strings"

// Buffer accumulates chunks of text and splits them into complete lines.
type Buffer struct {
	tail string
}

// Feed appends chunk to the tail, splits on '\n', and returns the complete
// lines found — CRLF-stripped and with whitespace-only lines dropped —
// retaining the final incomplete element as the new tail.
func (b *Buffer) Feed(chunk string) []string {
	b.tail += chunk
	parts := strings.Split(b.tail, "\n")
	b.tail = parts[len(parts)-1]

	lines := make([]string, 0, len(parts)-1)
	for _, line := range parts[:len(parts)-1] {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// Flush returns the trimmed tail and resets it, or ("", false) when the
// tail is empty or whitespace-only.
func (b *Buffer) Flush() (string, bool) {
	tail := strings.TrimSpace(b.tail)
	b.tail = ""
	if tail == "" {
		return "", false
	}
	return tail, true
}
