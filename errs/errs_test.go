package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesHTTPAndCause(t *testing.T) {
	err := New(
		"fetch",
		CodeForbidden,
		WithHTTP(403),
		WithMessage("access denied"),
		WithCause(errors.New("upstream said no")),
	)

	out := err.Error()
	if !strings.Contains(out, "component=fetch") {
		t.Fatalf("expected component marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=forbidden") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "http=403") {
		t.Fatalf("expected http status in error string: %s", out)
	}
	if !strings.Contains(out, `message="access denied"`) {
		t.Fatalf("expected message in error string: %s", out)
	}
	if !strings.Contains(out, `cause="upstream said no"`) {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestEmptyComponentAndCodeRenderUnknown(t *testing.T) {
	out := New("  ", "").Error()
	if out != "component=unknown code=unknown" {
		t.Fatalf("unexpected rendering %q", out)
	}
}

func TestUnwrapAndHelpers(t *testing.T) {
	root := errors.New("connection reset")
	wrapped := fmt.Errorf("page 3: %w", New("fetch", CodeNetwork, WithHTTP(502), WithCause(root)))

	if !errors.Is(wrapped, root) {
		t.Fatalf("expected errors.Is to reach the cause")
	}
	if !IsCode(wrapped, CodeNetwork) {
		t.Fatalf("expected IsCode to match network")
	}
	if IsCode(wrapped, CodeForbidden) {
		t.Fatalf("unexpected forbidden match")
	}
	if got := HTTPStatus(wrapped); got != 502 {
		t.Fatalf("expected http 502, got %d", got)
	}
	if got := HTTPStatus(root); got != 0 {
		t.Fatalf("expected 0 for plain errors, got %d", got)
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
}
