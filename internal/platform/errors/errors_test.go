package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	base := New(CodeConflictStaleVersion, "wallet version is stale")
	wrapped := fmt.Errorf("apply request: %w", base)

	if !stderrors.Is(wrapped, New(CodeConflictStaleVersion, "other message")) {
		t.Fatal("expected match by code regardless of message")
	}
	if stderrors.Is(wrapped, New(CodeForbidden, "wallet version is stale")) {
		t.Fatal("expected no match for different code")
	}
}

func TestGetCodeUnwrapsChain(t *testing.T) {
	cause := stderrors.New("row not found")
	err := fmt.Errorf("load wallet: %w", Wrap(CodeNotFound, "wallet not found", cause))

	if got := GetCode(err); got != CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %s", got)
	}
	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause to remain in the chain")
	}
}

func TestGetCodeUnknownForPlainErrors(t *testing.T) {
	if got := GetCode(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("expected UNKNOWN, got %s", got)
	}
	if got := GetCode(nil); got != CodeUnknown {
		t.Fatalf("expected UNKNOWN for nil, got %s", got)
	}
}

func TestWireCategoryCoversTaxonomy(t *testing.T) {
	cases := map[Code]WireCategory{
		CodeAuthInvalidCode:             WireAuth,
		CodeAuthTooManyAttempts:         WireAuth,
		CodeProtocolVersionMismatch:     WireProtocol,
		CodeProtocolMalformed:           WireProtocol,
		CodeForbidden:                   WirePermission,
		CodePolicyThresholdExceedsKeys:  WireValidation,
		CodePolicyTimelockNotIncreasing: WireValidation,
		CodePolicyIncomplete:            WireValidation,
		CodeKeyDuplicateAssignment:      WireValidation,
		CodeConflictStaleVersion:        WireConflict,
		CodeConnQueueOverflow:           WireConnection,
		CodeNotFound:                    WireNotFound,
		CodeInternal:                    WireInternal,
		CodeUnknown:                     WireInternal,
	}
	for code, want := range cases {
		if got := code.WireCategory(); got != want {
			t.Fatalf("code %s: expected category %s, got %s", code, want, got)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeAuthInvalidCode:      http.StatusUnauthorized,
		CodeAuthRateLimited:      http.StatusTooManyRequests,
		CodeAuthTooManyAttempts:  http.StatusTooManyRequests,
		CodeForbidden:            http.StatusForbidden,
		CodeConflictStaleVersion: http.StatusConflict,
		CodeNotFound:             http.StatusNotFound,
		CodePolicyEmpty:          http.StatusBadRequest,
		CodeInternal:             http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := code.HTTPStatus(); got != want {
			t.Fatalf("code %s: expected status %d, got %d", code, want, got)
		}
	}
}

func TestWithMetadata(t *testing.T) {
	err := WithMetadata(CodePolicyThresholdExceedsKeys, "threshold 3 exceeds 2 keys", map[string]string{
		"threshold": "3",
		"keys":      "2",
	})

	meta := GetMetadata(fmt.Errorf("validate: %w", err))
	if meta["threshold"] != "3" || meta["keys"] != "2" {
		t.Fatalf("unexpected metadata: %v", meta)
	}
	if GetMetadata(stderrors.New("plain")) != nil {
		t.Fatal("expected nil metadata for plain error")
	}
}
