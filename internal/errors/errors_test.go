package apperrors

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestTransportErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")

	withStatus := TransportError{URL: "https://example.com/a.png", StatusCode: 503}
	if !strings.Contains(withStatus.Error(), "503") {
		t.Fatalf("message missing status: %q", withStatus.Error())
	}

	withCause := TransportError{URL: "https://example.com/a.png", Cause: cause}
	if !errors.Is(withCause, cause) {
		t.Fatal("errors.Is must reach the cause through Unwrap")
	}
}

func TestDecodingErrorUnwrap(t *testing.T) {
	cause := errors.New("bad magic")
	err := DecodingError{URL: "u", Cause: cause}
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is must reach the cause")
	}
	if (DecodingError{URL: "u"}).Error() == "" {
		t.Fatal("empty message for cause-less error")
	}
}

func TestProcessingErrorUnwrap(t *testing.T) {
	cause := errors.New("unsupported geometry")
	err := ProcessingError{Stage: "0:resize", Cause: cause}
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is must reach the cause")
	}
	if !strings.Contains(err.Error(), "0:resize") {
		t.Fatalf("message missing stage: %q", err.Error())
	}
}

func TestNewConfigErrorFormats(t *testing.T) {
	err := NewConfigError("bad value %d for %s", 42, "width")
	var ce ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %T", err)
	}
	if ce.Message != "bad value 42 for width" {
		t.Fatalf("message = %q", ce.Message)
	}
}

func TestWrapError(t *testing.T) {
	if WrapError(nil, "context") != nil {
		t.Fatal("wrapping nil must return nil")
	}
	cause := errors.New("root")
	wrapped := WrapError(cause, "loading %s", "a.png")
	if !errors.Is(wrapped, cause) {
		t.Fatal("wrapped error lost its cause")
	}
	if !strings.Contains(wrapped.Error(), "loading a.png") {
		t.Fatalf("message = %q", wrapped.Error())
	}
}

func TestIsContextError(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{"canceled", context.Canceled, true},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped canceled", WrapError(context.Canceled, "fetch"), true},
		{"other", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsContextError(tc.err); got != tc.want {
				t.Fatalf("IsContextError = %v, want %v", got, tc.want)
			}
		})
	}
}
