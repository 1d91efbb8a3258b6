package moderouter

import (
	"testing"

	"github.com/claude-code/gateway/internal/domain/apierr"
)

func TestResolveFalsyToggleSelectsProxyEvenWithSessionID(t *testing.T) {
	got, err := Resolve([]string{"false"}, []string{"3fa85f64-5717-4562-b3fc-2c963f66afa6"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != BackendProxy {
		t.Fatalf("expected proxy backend, got %v", got)
	}
}

func TestResolveTruthyToggleSelectsCLA(t *testing.T) {
	for _, v := range []string{"true", "1", "yes", "TRUE", "Yes"} {
		got, err := Resolve([]string{v}, nil)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", v, err)
		}
		if got != BackendCLA {
			t.Fatalf("value %q: expected cla backend, got %v", v, got)
		}
	}
}

func TestResolveFalsyToggleCaseInsensitive(t *testing.T) {
	for _, v := range []string{"false", "0", "no", "FALSE", "No"} {
		got, err := Resolve([]string{v}, nil)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", v, err)
		}
		if got != BackendProxy {
			t.Fatalf("value %q: expected proxy backend, got %v", v, got)
		}
	}
}

func TestResolveOtherToggleValueIsInvalid(t *testing.T) {
	_, err := Resolve([]string{"maybe"}, nil)
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Code != apierr.CodeInvalidHeaderValue {
		t.Fatalf("expected invalid_header_value, got %v", err)
	}
	if apiErr.Status != 400 {
		t.Fatalf("expected 400, got %d", apiErr.Status)
	}
}

func TestResolveSessionIDWithNoToggleSelectsCLA(t *testing.T) {
	got, err := Resolve(nil, []string{"3fa85f64-5717-4562-b3fc-2c963f66afa6"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != BackendCLA {
		t.Fatalf("expected cla backend, got %v", got)
	}
}

func TestResolveNoHeadersDefaultsToProxy(t *testing.T) {
	got, err := Resolve(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != BackendProxy {
		t.Fatalf("expected proxy backend, got %v", got)
	}
}

func TestResolveCollapsesSequenceToFirstElement(t *testing.T) {
	got, err := Resolve([]string{"true", "false"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != BackendCLA {
		t.Fatalf("expected first element (true) to win, got %v", got)
	}
}

func TestResolveEmptySessionIDHeaderValueIsIgnored(t *testing.T) {
	got, err := Resolve(nil, []string{""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != BackendProxy {
		t.Fatalf("expected proxy backend for absent session id, got %v", got)
	}
}
