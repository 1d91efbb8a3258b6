// Package modelmap resolves an OpenAI or CLA-native model name to the CLA
// alias the child process should be invoked with.
package modelmap

import (
	"sort"
	"strings"

	"github.com/claude-code/gateway/internal/domain/apierr"
)

// exactMap is tried first: a direct name to CLA-alias lookup.
var exactMap = map[string]string{
	"gpt-4o":                "sonnet",
	"gpt-4o-mini":            "haiku",
	"gpt-4-turbo":            "sonnet",
	"gpt-4":                  "opus",
	"gpt-3.5-turbo":          "haiku",
	"claude-3-opus":          "opus",
	"claude-3-sonnet":        "sonnet",
	"claude-3-haiku":         "haiku",
	"claude-3-5-sonnet":      "sonnet",
	"opus":                   "opus",
	"sonnet":                 "sonnet",
	"haiku":                  "haiku",
}

// prefixPatterns are tried in order after an exact-map miss.
var prefixPatterns = []struct {
	prefix string
	alias  string
}{
	{"gpt-4o-2024-", "sonnet"},
	{"gpt-4-turbo-2024-", "sonnet"},
	{"gpt-3.5-turbo-", "haiku"},
}

// Resolve maps name to a CLA model alias. It fails with model_not_found(400)
// listing every exact-map key when no exact or prefix match exists.
func Resolve(name string) (string, error) {
	if alias, ok := exactMap[name]; ok {
		return alias, nil
	}
	for _, p := range prefixPatterns {
		if strings.HasPrefix(name, p.prefix) {
			return p.alias, nil
		}
	}
	return "", apierr.ModelNotFound("unknown model %q; supported models: %s", name, knownModels())
}

func knownModels() string {
	names := make([]string, 0, len(exactMap))
	for k := range exactMap {
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
