package cla

import (
	"strings"
	"testing"

	"github.com/claude-code/gateway/internal/domain/apierr"
	"github.com/claude-code/gateway/internal/session"
	"github.com/claude-code/gateway/internal/streamadapter"
)

func TestIsAuthFailureMatchesKnownPatterns(t *testing.T) {
	cases := []string{
		"Error: Invalid API key provided",
		"missing ANTHROPIC_API_KEY environment variable",
		"Authentication failed for this request",
		"401 Unauthorized",
	}
	for _, stderr := range cases {
		if !isAuthFailure(stderr) {
			t.Errorf("expected auth failure match for %q", stderr)
		}
	}
}

func TestIsAuthFailureIgnoresUnrelatedStderr(t *testing.T) {
	if isAuthFailure("panic: runtime error: index out of range") {
		t.Fatal("expected no auth-failure match")
	}
}

func TestCappedBufferWriteWithinCapSucceeds(t *testing.T) {
	buf := newCappedBuffer(16, nil)
	if _, err := buf.Write([]byte("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.String() != "hello" {
		t.Fatalf("got %q", buf.String())
	}
	if buf.Exceeded() {
		t.Fatal("should not be marked exceeded")
	}
}

func TestCappedBufferWriteExceedingCapInvokesOnExceededOnce(t *testing.T) {
	calls := 0
	done := make(chan struct{}, 4)
	buf := newCappedBuffer(4, func() {
		calls++
		done <- struct{}{}
	})

	if _, err := buf.Write([]byte("toolong")); err == nil {
		t.Fatal("expected error on over-cap write")
	}
	if _, err := buf.Write([]byte("more")); err == nil {
		t.Fatal("expected error on second over-cap write")
	}
	<-done
	if !buf.Exceeded() {
		t.Fatal("expected Exceeded() to report true")
	}
}

func TestResponseHeadersIncludesSessionCreatedOnlyWhenCreated(t *testing.T) {
	b := &Backend{}

	created := b.responseHeaders(session.Resolution{Action: session.ActionCreated, SessionID: "abc"}, "", nil)
	if created["X-Claude-Session-Created"] != "true" {
		t.Fatalf("expected session-created header, got %+v", created)
	}
	if created["X-Claude-Session-ID"] != "abc" {
		t.Fatalf("expected session id abc, got %+v", created)
	}

	resumed := b.responseHeaders(session.Resolution{Action: session.ActionResumed, SessionID: "abc"}, "", nil)
	if _, ok := resumed["X-Claude-Session-Created"]; ok {
		t.Fatalf("did not expect session-created header on resume, got %+v", resumed)
	}
}

func TestResponseHeadersPrefersResultSessionIDOverResolutionID(t *testing.T) {
	b := &Backend{}
	headers := b.responseHeaders(session.Resolution{SessionID: "resolved"}, "from-result", nil)
	if headers["X-Claude-Session-ID"] != "from-result" {
		t.Fatalf("expected result session id to win, got %+v", headers)
	}
}

func TestResponseHeadersOmitsIgnoredParamsWhenEmpty(t *testing.T) {
	b := &Backend{}
	headers := b.responseHeaders(session.Resolution{}, "sid", nil)
	if _, ok := headers["X-Claude-Ignored-Params"]; ok {
		t.Fatalf("did not expect ignored-params header, got %+v", headers)
	}
}

func TestResponseHeadersJoinsIgnoredParams(t *testing.T) {
	b := &Backend{}
	headers := b.responseHeaders(session.Resolution{}, "sid", []string{"temperature", "top_p"})
	if headers["X-Claude-Ignored-Params"] != "temperature,top_p" {
		t.Fatalf("got %q", headers["X-Claude-Ignored-Params"])
	}
}

func TestDecorateCallbacksAddsHeadersOnDone(t *testing.T) {
	b := &Backend{}
	var gotHeaders map[string]string
	cb := streamadapter.Callbacks{
		OnChunk: func(string) {},
		OnDone: func(info streamadapter.DoneInfo) {
			gotHeaders = info.Headers
		},
		OnError: func(*apierr.APIError) {},
	}

	dcb := b.decorateCallbacks(cb, session.Resolution{Action: session.ActionCreated}, []string{"seed"})
	dcb.OnDone(streamadapter.DoneInfo{Headers: map[string]string{"X-Backend-Mode": "claude-code"}})

	if gotHeaders["X-Claude-Session-Created"] != "true" {
		t.Fatalf("expected session-created header, got %+v", gotHeaders)
	}
	if gotHeaders["X-Claude-Ignored-Params"] != "seed" {
		t.Fatalf("expected ignored-params header, got %+v", gotHeaders)
	}
}

func TestDecorateCallbacksPassesThroughChunkAndError(t *testing.T) {
	b := &Backend{}
	var chunk string
	var errOut *apierr.APIError

	cb := streamadapter.Callbacks{
		OnChunk: func(s string) { chunk = s },
		OnDone:  func(streamadapter.DoneInfo) {},
		OnError: func(e *apierr.APIError) { errOut = e },
	}
	dcb := b.decorateCallbacks(cb, session.Resolution{}, nil)

	dcb.OnChunk("line")
	if chunk != "line" {
		t.Fatalf("expected chunk passthrough, got %q", chunk)
	}

	dcb.OnError(apierr.StreamError("boom"))
	if errOut == nil || !strings.Contains(errOut.Message, "boom") {
		t.Fatalf("expected error passthrough, got %v", errOut)
	}
}

func TestEmitErrWrapsNonAPIError(t *testing.T) {
	var got *apierr.APIError
	cb := streamadapter.Callbacks{
		OnChunk: func(string) {},
		OnDone:  func(streamadapter.DoneInfo) {},
		OnError: func(e *apierr.APIError) { got = e },
	}

	emitErr(cb, errPlain("boom"))
	if got == nil || got.Code != apierr.CodeInternal {
		t.Fatalf("expected internal_error wrapping, got %v", got)
	}
}

func TestEmitErrPreservesAPIError(t *testing.T) {
	var got *apierr.APIError
	cb := streamadapter.Callbacks{
		OnChunk: func(string) {},
		OnDone:  func(streamadapter.DoneInfo) {},
		OnError: func(e *apierr.APIError) { got = e },
	}

	emitErr(cb, apierr.SessionBusy())
	if got == nil || got.Code != apierr.CodeSessionBusy {
		t.Fatalf("expected session_busy to pass through unwrapped, got %v", got)
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
