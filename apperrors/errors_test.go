package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestSentinelMatching(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := fmt.Errorf("decode: %w", NewInvalidImageError("failed to decode image", cause))

	if !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected errors.Is to match ErrInvalidImage")
	}
	if errors.Is(err, ErrDetectorFailure) {
		t.Fatalf("invalid image must not match detector failure")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable through Unwrap")
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing input", NewMissingInputError("no image"), http.StatusBadRequest},
		{"invalid image", NewInvalidImageError("bad", nil), http.StatusBadRequest},
		{"detector failure", NewDetectorFailureError("boom", nil), http.StatusInternalServerError},
		{"data unavailable", NewDataUnavailableError("gone", nil), http.StatusServiceUnavailable},
		{"not found", NewNotFoundError("nope"), http.StatusNotFound},
		{"payload too large", NewPayloadTooLargeError("too big", nil), http.StatusRequestEntityTooLarge},
		{"internal", NewInternalError("oops", errors.New("plain")), http.StatusInternalServerError},
		{"foreign", errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusCode(tt.err); got != tt.want {
				t.Errorf("StatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsTypeAndTypeOf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewMissingInputError("empty"))
	if !IsType(err, TypeMissingInput) {
		t.Errorf("IsType should see through wrapping")
	}
	if TypeOf(errors.New("x")) != TypeInternal {
		t.Errorf("foreign errors should report internal")
	}
}
