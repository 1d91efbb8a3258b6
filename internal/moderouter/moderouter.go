// Package moderouter picks a completion backend from a request's headers.
package moderouter

import (
	"strings"

	"github.com/claude-code/gateway/internal/domain/apierr"
	"github.com/claude-code/gateway/internal/domain/reqid"
)

// Backend names the two completion backends a request can be routed to.
type Backend string

const (
	BackendCLA   Backend = "cla"
	BackendProxy Backend = "proxy"
)

var falsyValues = map[string]bool{"false": true, "0": true, "no": true}
var truthyValues = map[string]bool{"true": true, "1": true, "yes": true}

// Resolve picks a backend from the claude-code toggle header and the
// session-id header (each collapsed to its first value if sent as a
// sequence). Priority: an explicit falsy toggle always selects the proxy
// backend; an explicit truthy toggle always selects the CLA backend; any
// other toggle value is invalid_header_value(400); a present session id
// with no toggle selects the CLA backend; otherwise the proxy backend.
func Resolve(claudeCodeHeader, sessionIDHeader []string) (Backend, error) {
	if v, ok := reqid.HeaderValue(claudeCodeHeader); ok {
		lower := strings.ToLower(v)
		switch {
		case falsyValues[lower]:
			return BackendProxy, nil
		case truthyValues[lower]:
			return BackendCLA, nil
		default:
			return "", apierr.InvalidHeaderValue("invalid value for X-Claude-Code header: %q", v)
		}
	}

	if _, ok := reqid.HeaderValue(sessionIDHeader); ok {
		return BackendCLA, nil
	}

	return BackendProxy, nil
}
