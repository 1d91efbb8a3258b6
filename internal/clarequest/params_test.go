package clarequest

import (
	"encoding/json"
	"testing"

	"github.com/claude-code/gateway/internal/domain/apierr"
)

func ptrInt(i int) *int { return &i }
func ptrFloat(f float64) *float64 { return &f }

func TestValidateParamsRejectsTier3(t *testing.T) {
	_, err := ValidateParams(Params{Tools: json.RawMessage(`[{"type":"function"}]`)})
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Code != apierr.CodeUnsupportedParameter {
		t.Fatalf("expected unsupported_parameter, got %v", err)
	}
}

func TestValidateParamsRejectsNGreaterThanOne(t *testing.T) {
	_, err := ValidateParams(Params{N: ptrInt(2)})
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Code != apierr.CodeUnsupportedParameter {
		t.Fatalf("expected unsupported_parameter for n>1, got %v", err)
	}
}

func TestValidateParamsAllowsNEqualOne(t *testing.T) {
	ignored, err := ValidateParams(Params{N: ptrInt(1)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ignored) != 1 || ignored[0] != "n" {
		t.Fatalf("expected n recorded as ignored, got %v", ignored)
	}
}

func TestValidateParamsRecordsTier2(t *testing.T) {
	ignored, err := ValidateParams(Params{Temperature: ptrFloat(0.5), MaxTokens: ptrInt(100)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ignored) != 2 {
		t.Fatalf("expected 2 ignored params, got %v", ignored)
	}
}

func TestValidateParamsIgnoresUnrelatedFields(t *testing.T) {
	ignored, err := ValidateParams(Params{})
	if err != nil || len(ignored) != 0 {
		t.Fatalf("expected no error and no ignored params, got %v, %v", ignored, err)
	}
}

func TestValidateParamsTreatsJSONNullAsAbsent(t *testing.T) {
	ignored, err := ValidateParams(Params{Tools: json.RawMessage(`null`), Stop: json.RawMessage(`null`)})
	if err != nil {
		t.Fatalf("unexpected error for null tools: %v", err)
	}
	if len(ignored) != 0 {
		t.Fatalf("expected null stop to not be recorded, got %v", ignored)
	}
}
