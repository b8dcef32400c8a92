package firestore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		notFound    bool
		unavailable bool
	}{
		{name: "not found", err: status.Error(codes.NotFound, "missing"), notFound: true},
		{name: "unavailable", err: status.Error(codes.Unavailable, "down"), unavailable: true},
		{name: "exhausted", err: status.Error(codes.ResourceExhausted, "quota"), unavailable: true},
		{name: "other", err: errors.New("boom")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("state: %w", WrapError("checkout_state.get", tc.err))
			if IsNotFound(wrapped) != tc.notFound {
				t.Fatalf("IsNotFound: expected %v", tc.notFound)
			}
			if IsUnavailable(wrapped) != tc.unavailable {
				t.Fatalf("IsUnavailable: expected %v", tc.unavailable)
			}
		})
	}
}

func TestWrapErrorPassesCancellation(t *testing.T) {
	if err := WrapError("op", status.Error(codes.Canceled, "x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if WrapError("op", nil) != nil {
		t.Fatalf("expected nil")
	}
	if got := WrapError("checkout_state.get", errors.New("boom")).Error(); got != "checkout_state.get: boom" {
		t.Fatalf("unexpected message %q", got)
	}
}
