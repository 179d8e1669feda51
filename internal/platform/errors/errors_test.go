package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := New(CodeInsufficientFunds, "balance too low")
	if !errors.Is(err, New(CodeInsufficientFunds, "other message")) {
		t.Fatal("expected errors with the same code to match")
	}
	if errors.Is(err, New(CodeStaleRevision, "balance too low")) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(CodeUnknown, "write snapshot", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be found in chain")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"domain error", New(CodeNotYourTurn, "wait"), CodeNotYourTurn},
		{"wrapped domain error", fmt.Errorf("submit: %w", New(CodeStaleRevision, "stale")), CodeStaleRevision},
		{"plain error", errors.New("boom"), CodeUnknown},
		{"nil", nil, CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Fatalf("expected code %q, got %q", tt.want, got)
			}
		})
	}
}

func TestWithMetadata(t *testing.T) {
	err := WithMetadata(CodeInsufficientFunds, "balance too low", map[string]string{
		"balance": "40",
		"needed":  "50",
	})
	if err.Metadata["needed"] != "50" {
		t.Fatalf("expected metadata to be preserved, got %v", err.Metadata)
	}
}
