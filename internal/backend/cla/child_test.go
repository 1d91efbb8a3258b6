package cla

import (
	"bytes"
	"testing"
	"time"

	"github.com/claude-code/gateway/internal/pool"
)

func TestStartChildCapturesStdout(t *testing.T) {
	var stdout, stderr bytes.Buffer
	child, _, err := startChild("/bin/sh", []string{"-c", "echo hello"}, nil, &stdout, &stderr, false)
	if err != nil {
		t.Fatalf("startChild: %v", err)
	}

	select {
	case <-child.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("child did not exit in time")
	}

	if stdout.String() != "hello\n" {
		t.Fatalf("got stdout %q", stdout.String())
	}
	if child.ExitCode() != 0 {
		t.Fatalf("expected exit code 0, got %d", child.ExitCode())
	}
}

func TestStartChildDeliversStdin(t *testing.T) {
	var stdout, stderr bytes.Buffer
	child, stdin, err := startChild("/bin/sh", []string{"-c", "cat"}, nil, &stdout, &stderr, true)
	if err != nil {
		t.Fatalf("startChild: %v", err)
	}

	if _, err := stdin.Write([]byte("ping")); err != nil {
		t.Fatalf("write stdin: %v", err)
	}
	_ = stdin.Close()

	select {
	case <-child.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("child did not exit in time")
	}

	if stdout.String() != "ping" {
		t.Fatalf("got stdout %q", stdout.String())
	}
}

func TestExecChildSatisfiesPoolChild(t *testing.T) {
	var _ pool.Child = (*execChild)(nil)
}

func TestTerminateKillsLongRunningChild(t *testing.T) {
	var stdout, stderr bytes.Buffer
	child, _, err := startChild("/bin/sh", []string{"-c", "sleep 30"}, nil, &stdout, &stderr, false)
	if err != nil {
		t.Fatalf("startChild: %v", err)
	}

	if err := child.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	select {
	case <-child.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("child did not exit after Terminate")
	}

	if child.ExitCode() == 0 {
		t.Fatal("expected non-zero exit code after termination")
	}
}

func TestNonZeroExitCodeIsReported(t *testing.T) {
	var stdout, stderr bytes.Buffer
	child, _, err := startChild("/bin/sh", []string{"-c", "exit 7"}, nil, &stdout, &stderr, false)
	if err != nil {
		t.Fatalf("startChild: %v", err)
	}

	<-child.Done()
	if child.ExitCode() != 7 {
		t.Fatalf("expected exit code 7, got %d", child.ExitCode())
	}
}
