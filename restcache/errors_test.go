package restcache

import (
	"errors"
	"testing"
)

func TestErrorHTTPMessage(t *testing.T) {
	err := &Error{Kind: ErrHTTP, Status: 404, StatusText: "Not Found"}
	want := "restcache: HTTP 404 Not Found"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorWrappedMessage(t *testing.T) {
	inner := errors.New("boom")
	err := &Error{Kind: ErrTransport, Err: inner}
	want := "restcache: Transport: boom"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to unwrap to inner error")
	}
}

func TestErrorKindString(t *testing.T) {
	cases := map[ErrorKind]string{
		ErrHTTP:      "HTTP",
		ErrTransport: "Transport",
		ErrHook:      "Hook",
		ErrorKind(99): "Unknown",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("ErrorKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}

func TestErrorAsBatchResults(t *testing.T) {
	rerr := &Error{
		Kind:    ErrTransport,
		Err:     errors.New("first failure"),
		Results: []map[string]any{{"id": 1}, nil},
		Errors:  []error{nil, errors.New("second failure")},
	}
	var target *Error
	if !errors.As(error(rerr), &target) {
		t.Fatal("expected errors.As to match *Error")
	}
	if len(target.Results) != 2 || len(target.Errors) != 2 {
		t.Error("expected batch Results/Errors to stay full-length")
	}
}
