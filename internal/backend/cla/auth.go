package cla

import "strings"

// authFailurePatterns are matched case-insensitively against a non-zero
// exit's sanitized stderr to distinguish an auth failure (invalid_api_key,
// 401) from a generic backend failure (backend_error, 500).
var authFailurePatterns = []string{
	"invalid api key",
	"anthropic_api_key",
	"authentication",
	"unauthorized",
}

func isAuthFailure(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, pat := range authFailurePatterns {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}
