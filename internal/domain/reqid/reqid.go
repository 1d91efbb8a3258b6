// Package reqid provides header coercion, request-ID validation, Bearer
// token extraction, and API-key masking.
package reqid

import (
	"crypto/subtle"
	"strings"

	"github.com/google/uuid"
)

const maxRequestIDLen = 128

// HeaderValue coerces a header lookup result that may be absent, a single
// string, or an ordered sequence of strings into the first string, or
// ("", false) when absent or empty.
func HeaderValue(values []string) (string, bool) {
	if len(values) == 0 || values[0] == "" {
		return "", false
	}
	return values[0], true
}

// ValidRequestID reports whether id is non-empty, at most 128 bytes, and
// composed only of printable non-space ASCII (0x21-0x7E).
func ValidRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c < 0x21 || c > 0x7E {
			return false
		}
	}
	return true
}

// NewRequestID mints a fresh request id used whenever a client-supplied
// value is absent or invalid.
func NewRequestID() string {
	return uuid.New().String()
}

// ResolveRequestID returns a validated client-supplied request id, or a
// freshly generated one when absent or invalid.
func ResolveRequestID(clientValue string, present bool) string {
	if present && ValidRequestID(clientValue) {
		return clientValue
	}
	return NewRequestID()
}

// bearerPrefix is matched case-insensitively, with exactly one separating space.
const bearerPrefix = "bearer "

// BearerToken extracts the token portion of an Authorization header value.
// It returns ("", false) unless the header begins with exactly "Bearer "
// (case-insensitive scheme, single space separator).
func BearerToken(authorization string) (string, bool) {
	if len(authorization) <= len(bearerPrefix) {
		return "", false
	}
	if !strings.EqualFold(authorization[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := authorization[len(bearerPrefix):]
	if token == "" || token[0] == ' ' {
		return "", false
	}
	return token, true
}

// MaskAPIKey preserves the prefix up to the second hyphen and the last four
// characters, replacing the middle with "****". Inputs of length <= 8
// collapse entirely to "****".
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}

	prefixEnd := -1
	hyphens := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '-' {
			hyphens++
			if hyphens == 2 {
				prefixEnd = i
				break
			}
		}
	}

	suffixStart := len(key) - 4
	if prefixEnd < 0 || prefixEnd >= suffixStart {
		return "****" + key[suffixStart:]
	}
	return key[:prefixEnd] + "****" + key[suffixStart:]
}

// ConstantTimeEqual compares a and b without leaking a timing signal from
// their length or content. Unequal lengths are rejected only after padding
// both to the same length and running the comparison, so a mismatched
// length takes the same time as a full-length mismatch.
func ConstantTimeEqual(a, b string) bool {
	lengthsMatch := len(a) == len(b)

	padded := b
	if len(a) > len(b) {
		padded = b + strings.Repeat("\x00", len(a)-len(b))
	} else if len(b) > len(a) {
		a = a + strings.Repeat("\x00", len(b)-len(a))
	}

	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(padded)) == 1
	return lengthsMatch && cmp
}

// IsValidSessionID reports whether id parses as a UUID and is version 4.
func IsValidSessionID(id string) bool {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return parsed.Version() == 4
}
