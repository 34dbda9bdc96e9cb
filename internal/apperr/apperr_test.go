package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindStatus(t *testing.T) {
	t.Parallel()

	cases := map[*Error]int{
		Unauthenticated("x"): http.StatusUnauthorized,
		Forbidden("x"):       http.StatusForbidden,
		Validation("x", nil): http.StatusBadRequest,
		Conflict("x"):        http.StatusBadRequest,
		NotFound("x"):        http.StatusNotFound,
		Upstream("x", nil):   http.StatusInternalServerError,
	}
	for e, want := range cases {
		if got := e.Status(); got != want {
			t.Fatalf("%v status=%d, want %d", e.Kind, got, want)
		}
	}
}

func TestAs_WrappedSentinel(t *testing.T) {
	t.Parallel()

	sentinel := Conflict("Email is already taken")
	wrapped := fmt.Errorf("create user: %w", sentinel)
	if !errors.Is(wrapped, sentinel) {
		t.Fatalf("expected errors.Is to match sentinel")
	}
	if got := As(wrapped); got != sentinel {
		t.Fatalf("As returned %v", got)
	}
	if As(errors.New("plain")) != nil {
		t.Fatalf("expected nil for plain error")
	}
}

func TestUpstreamDetails(t *testing.T) {
	t.Parallel()

	e := Upstream("Failed to create user", errors.New("db down"))
	if e.Details["details"] != "db down" {
		t.Fatalf("details=%v", e.Details)
	}
	if !errors.Is(e, e.Err) {
		t.Fatalf("expected Unwrap to expose cause")
	}
}
