package types

import (
	"context"
	"testing"
)

func TestUserIDRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := WithUserID(context.Background(), "admin")
	if got, ok := UserID(ctx); !ok || got != "admin" {
		t.Fatalf("UserID mismatch: %v %v", got, ok)
	}
}

func TestUserIDMissing(t *testing.T) {
	t.Parallel()

	if got, ok := UserID(context.Background()); ok {
		t.Fatalf("expected no user ID, got %q", got)
	}
}

func TestUserIDEmpty(t *testing.T) {
	t.Parallel()

	ctx := WithUserID(context.Background(), "")
	if _, ok := UserID(ctx); ok {
		t.Fatal("empty user ID must not report ok")
	}
}
