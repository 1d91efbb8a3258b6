package clarequest

import (
	"os"
	"strings"
	"testing"
)

func TestBuildEnvAlwaysSetsTermDumb(t *testing.T) {
	env := BuildEnv()
	if !contains(env, "TERM=dumb") {
		t.Fatalf("expected TERM=dumb, got %v", env)
	}
}

func TestBuildEnvCopiesAllowlistedVar(t *testing.T) {
	os.Setenv("ANTHROPIC_API_KEY", "sk-test-key")
	defer os.Unsetenv("ANTHROPIC_API_KEY")

	env := BuildEnv()
	if !contains(env, "ANTHROPIC_API_KEY=sk-test-key") {
		t.Fatalf("expected ANTHROPIC_API_KEY copied, got %v", env)
	}
}

func TestBuildEnvDropsDisallowedVars(t *testing.T) {
	os.Setenv("LD_PRELOAD", "/tmp/evil.so")
	defer os.Unsetenv("LD_PRELOAD")

	env := BuildEnv()
	for _, e := range env {
		if strings.HasPrefix(e, "LD_PRELOAD=") {
			t.Fatal("expected LD_PRELOAD to be dropped")
		}
	}
}

func TestBuildEnvFallsBackWhenHomeAbsent(t *testing.T) {
	old, had := os.LookupEnv("HOME")
	os.Unsetenv("HOME")
	defer func() {
		if had {
			os.Setenv("HOME", old)
		}
	}()

	env := BuildEnv()
	if !contains(env, "HOME=/tmp") {
		t.Fatalf("expected fallback HOME, got %v", env)
	}
}

func contains(env []string, want string) bool {
	for _, e := range env {
		if e == want {
			return true
		}
	}
	return false
}
