package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"conveyor/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "writer", "complete", "llm call failed", base)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"writer", "complete", "llm call failed", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestDetailsSurvivesFurtherWrapping(t *testing.T) {
	err := services.Wrap(services.ErrValidation, "scorer", "decode", "missing score", errors.New("eof"))
	err = fmt.Errorf("execute stage: %w", err)

	details := services.Details(err)
	if details.Kind != "validation" {
		t.Fatalf("unexpected kind %q", details.Kind)
	}
	if details.Stage != "scorer" || details.Operation != "decode" {
		t.Fatalf("unexpected stage/op: %+v", details)
	}
	if details.Message != "missing score" || details.Cause != "eof" {
		t.Fatalf("unexpected message/cause: %+v", details)
	}
}

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", services.Wrap(services.ErrTransient, "writer", "call", "", nil), true},
		{"timeout marker", services.Wrap(services.ErrTimeout, "writer", "call", "", nil), true},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"validation", services.Wrap(services.ErrValidation, "writer", "decode", "", nil), false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := services.Retryable(tt.err); got != tt.want {
				t.Fatalf("Retryable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient default, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
