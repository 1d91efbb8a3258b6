// Package cla implements the backend that dispatches a chat-completion
// request to a local CLA child process, non-streaming or streaming.
package cla

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/claude-code/gateway/internal/clarequest"
	"github.com/claude-code/gateway/internal/domain/apierr"
	"github.com/claude-code/gateway/internal/domain/redact"
	"github.com/claude-code/gateway/internal/ndjson"
	"github.com/claude-code/gateway/internal/pool"
	"github.com/claude-code/gateway/internal/session"
	"github.com/claude-code/gateway/internal/modelmap"
	"github.com/claude-code/gateway/internal/streamadapter"
	"github.com/claude-code/gateway/pkg/safego"
)

const (
	readChunkSize  = 32 * 1024
	stdoutReadBuf  = 64 * 1024
)

// Config holds the CLA backend's tunables.
type Config struct {
	BinaryPath           string
	StdinPromptThreshold int // bytes; above this the prompt is written to stdin instead of argv
	MaxStdoutBytes       int
	MaxStderrBytes       int
}

// Request is the subset of an inbound chat-completion request this backend
// needs to drive a CLA invocation.
type Request struct {
	RequestID string
	Model     string
	SessionID string
	ClientID  string
	Messages  []clarequest.Message
	Params    clarequest.Params
}

// Backend orchestrates the session registry, process pool, request
// transformer, and model mapper to run a single chat-completion request
// against a CLA child process.
type Backend struct {
	cfg      Config
	pool     *pool.Pool
	sessions *session.Registry
	logger   *zap.Logger
}

// New constructs a CLA backend.
func New(cfg Config, p *pool.Pool, sessions *session.Registry, logger *zap.Logger) *Backend {
	return &Backend{cfg: cfg, pool: p, sessions: sessions, logger: logger}
}

// prepare runs the steps common to both flows: parameter validation, model
// mapping, session resolution and locking, and prompt aggregation. The
// returned release func unlocks the session; callers must call it on every
// exit path.
func (b *Backend) prepare(req Request) (alias string, res session.Resolution, prompt clarequest.Prompt, ignored []string, release func(), err error) {
	ignored, err = clarequest.ValidateParams(req.Params)
	if err != nil {
		return
	}

	alias, err = modelmap.Resolve(req.Model)
	if err != nil {
		return
	}

	res, err = b.sessions.Resolve(req.SessionID, req.ClientID, req.Model)
	if err != nil {
		return
	}

	if err = b.sessions.AcquireLock(res.SessionID); err != nil {
		return
	}

	var once sync.Once
	release = func() {
		once.Do(func() { b.sessions.ReleaseLock(res.SessionID) })
	}

	prompt, err = clarequest.BuildPrompt(req.Messages, res.Action == session.ActionResumed)
	if err != nil {
		release()
		return
	}

	return alias, res, prompt, ignored, release, nil
}

// Complete runs the non-streaming flow and returns the OpenAI response
// body plus the headers the route handler must set.
func (b *Backend) Complete(ctx context.Context, req Request, created int64) (*Response, map[string]string, error) {
	alias, res, prompt, ignored, release, err := b.prepare(req)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	deliverStdin := len(prompt.Text) > b.cfg.StdinPromptThreshold
	argv := clarequest.BuildCLIArgs(clarequest.ArgvOptions{
		OutputFormat: clarequest.OutputFormatJSON,
		Model:        alias,
		SessionID:    res.SessionID,
		NewSession:   res.Action == session.ActionCreated,
		SystemPrompt: prompt.SystemPrompt,
		HasSystem:    prompt.HasSystem,
		Streaming:    false,
		Prompt:       prompt.Text,
		DeliverStdin: deliverStdin,
	})

	if err := b.pool.Acquire(ctx); err != nil {
		return nil, nil, apierr.BackendError(fmt.Sprintf("no CLA capacity available: %v", err))
	}
	defer b.pool.Release()

	var child *execChild
	stdout := newCappedBuffer(b.cfg.MaxStdoutBytes, func() {
		if child != nil {
			_ = child.Kill()
		}
	})
	stderr := newCappedBuffer(b.cfg.MaxStderrBytes, func() {
		if child != nil {
			_ = child.Kill()
		}
	})

	child, stdin, err := startChild(b.cfg.BinaryPath, argv, clarequest.BuildEnv(), stdout, stderr, deliverStdin)
	if err != nil {
		return nil, nil, apierr.CLISpawnError(err)
	}
	b.pool.Track(child)

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	safego.Go(b.logger, "cla-complete-cancel-watch", func() {
		select {
		case <-ctx.Done():
			_ = child.Terminate()
		case <-stopWatch:
		}
	})

	if deliverStdin {
		go func() {
			_, _ = io.WriteString(stdin, prompt.Text)
			_ = stdin.Close()
		}()
	}

	<-child.Done()

	if stdout.Exceeded() {
		return nil, nil, apierr.OutputLimitExceeded("stdout")
	}
	if stderr.Exceeded() {
		return nil, nil, apierr.OutputLimitExceeded("stderr")
	}

	if exitCode := child.ExitCode(); exitCode != 0 {
		stderrText := stderr.String()
		if isAuthFailure(stderrText) {
			return nil, nil, apierr.InvalidAPIKey()
		}
		return nil, nil, apierr.BackendError(fmt.Sprintf("CLA exited with code %d: %s", exitCode, redact.Stderr(stderrText)))
	}

	var env resultEnvelope
	if err := json.Unmarshal([]byte(stdout.String()), &env); err != nil {
		return nil, nil, apierr.BackendError("malformed CLA result output")
	}
	if env.IsError {
		return nil, nil, apierr.BackendError(redact.Text(env.Result))
	}

	headers := b.responseHeaders(res, env.SessionID, ignored)

	resp := &Response{
		ID:      "chatcmpl-" + req.RequestID,
		Object:  "chat.completion",
		Created: created,
		Model:   req.Model,
		Choices: []ResponseChoice{{
			Index:        0,
			Message:      ResponseMessage{Role: "assistant", Content: redact.Text(env.Result)},
			FinishReason: "stop",
		}},
		Usage: streamadapter.Usage{
			PromptTokens:     env.Usage.InputTokens,
			CompletionTokens: env.Usage.OutputTokens,
			TotalTokens:      env.Usage.InputTokens + env.Usage.OutputTokens,
		},
	}
	return resp, headers, nil
}

// Stream runs the streaming flow. It never returns an error: every failure
// is routed through cb.OnError.
func (b *Backend) Stream(ctx context.Context, req Request, created int64, cb streamadapter.Callbacks) {
	alias, res, prompt, ignored, release, err := b.prepare(req)
	if err != nil {
		emitErr(cb, err)
		return
	}
	defer release()

	deliverStdin := len(prompt.Text) > b.cfg.StdinPromptThreshold
	argv := clarequest.BuildCLIArgs(clarequest.ArgvOptions{
		OutputFormat: clarequest.OutputFormatStreamJSON,
		Model:        alias,
		SessionID:    res.SessionID,
		NewSession:   res.Action == session.ActionCreated,
		SystemPrompt: prompt.SystemPrompt,
		HasSystem:    prompt.HasSystem,
		Streaming:    true,
		Prompt:       prompt.Text,
		DeliverStdin: deliverStdin,
	})

	if err := b.pool.Acquire(ctx); err != nil {
		emitErr(cb, apierr.BackendError(fmt.Sprintf("no CLA capacity available: %v", err)))
		return
	}
	defer b.pool.Release()

	dcb := b.decorateCallbacks(cb, res, ignored)
	adapter := streamadapter.New(req.RequestID, req.Model, created, dcb)

	var child *execChild
	stderr := newCappedBuffer(b.cfg.MaxStderrBytes, func() {
		if child != nil {
			_ = child.Kill()
		}
	})

	pr, pw := io.Pipe()
	child, stdin, err := startChild(b.cfg.BinaryPath, argv, clarequest.BuildEnv(), pw, stderr, deliverStdin)
	if err != nil {
		emitErr(cb, apierr.CLISpawnError(err))
		return
	}
	b.pool.Track(child)

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	safego.Go(b.logger, "cla-stream-cancel-watch", func() {
		select {
		case <-ctx.Done():
			_ = child.Terminate()
		case <-stopWatch:
		}
	})

	if deliverStdin {
		go func() {
			_, _ = io.WriteString(stdin, prompt.Text)
			_ = stdin.Close()
		}()
	}

	var mu sync.Mutex
	stdoutExceeded := false

	stdoutDone := make(chan struct{})
	safego.Go(b.logger, "cla-stream-stdout-reader", func() {
		defer close(stdoutDone)
		defer pr.Close()

		var lines ndjson.Buffer
		reader := bufio.NewReaderSize(pr, stdoutReadBuf)
		chunk := make([]byte, readChunkSize)
		total := 0

		for {
			n, rerr := reader.Read(chunk)
			if n > 0 {
				total += n
				if total > b.cfg.MaxStdoutBytes {
					mu.Lock()
					stdoutExceeded = true
					mu.Unlock()
					_ = child.Kill()
					return
				}
				for _, line := range lines.Feed(string(chunk[:n])) {
					adapter.Process(line)
				}
			}
			if rerr != nil {
				if tail, ok := lines.Flush(); ok {
					adapter.Process(tail)
				}
				return
			}
		}
	})

	<-child.Done()
	_ = pw.Close()
	<-stdoutDone

	mu.Lock()
	limitHit := stdoutExceeded
	mu.Unlock()

	if limitHit {
		adapter.HandleError("stdout output limit exceeded")
		return
	}
	if stderr.Exceeded() {
		adapter.HandleError("stderr output limit exceeded")
		return
	}

	if adapter.Done() {
		return
	}

	exitCode := child.ExitCode()
	if exitCode != 0 {
		stderrText := stderr.String()
		if isAuthFailure(stderrText) {
			dcb.OnError(apierr.InvalidAPIKey())
		} else {
			dcb.OnError(apierr.BackendError(fmt.Sprintf("CLA exited with code %d: %s", exitCode, redact.Stderr(stderrText))))
		}
		return
	}

	// Exit was clean but the adapter never saw a "result" line: synthesize
	// a minimal terminal event so the client still gets [DONE].
	dcb.OnDone(streamadapter.DoneInfo{
		Headers: b.responseHeaders(res, adapter.SessionID(), nil),
	})
}

func (b *Backend) responseHeaders(res session.Resolution, resultSessionID string, ignored []string) map[string]string {
	headers := map[string]string{"X-Backend-Mode": "claude-code"}

	sid := resultSessionID
	if sid == "" {
		sid = res.SessionID
	}
	if sid != "" {
		headers["X-Claude-Session-ID"] = sid
	}
	if res.Action == session.ActionCreated {
		headers["X-Claude-Session-Created"] = "true"
	}
	if len(ignored) > 0 {
		headers["X-Claude-Ignored-Params"] = strings.Join(ignored, ",")
	}
	return headers
}

// decorateCallbacks wraps cb so the adapter's own on_done is augmented with
// the session-created and ignored-params headers the adapter has no
// knowledge of.
func (b *Backend) decorateCallbacks(cb streamadapter.Callbacks, res session.Resolution, ignored []string) streamadapter.Callbacks {
	return streamadapter.Callbacks{
		OnChunk: cb.OnChunk,
		OnDone: func(info streamadapter.DoneInfo) {
			if res.Action == session.ActionCreated {
				info.Headers["X-Claude-Session-Created"] = "true"
			}
			if len(ignored) > 0 {
				info.Headers["X-Claude-Ignored-Params"] = strings.Join(ignored, ",")
			}
			cb.OnDone(info)
		},
		OnError: cb.OnError,
	}
}

func emitErr(cb streamadapter.Callbacks, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		apiErr = apierr.Internal(err)
	}
	cb.OnError(apiErr)
}
