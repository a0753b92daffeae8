package apperr

import (
	"context"
	"errors"
	"testing"
)

func TestStoreUnavailableKeepsCause(t *testing.T) {
	err := StoreUnavailable("hget", context.DeadlineExceeded)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}
}

func TestValidationErrorMatchesSentinel(t *testing.T) {
	var err error = &ValidationError{Fields: []string{"requesterId"}}
	if !errors.Is(err, ErrValidation) {
		t.Fatal("expected ValidationError to match ErrValidation")
	}
	if got := err.Error(); got != "validation failed: requesterId" {
		t.Fatalf("unexpected message %q", got)
	}
}
