package apperr

import (
	"errors"
	"testing"
)

func TestNewFormatsMessage(t *testing.T) {
	err := New(KindFileNotFound, "missing %s", "report.txt")
	if err.Kind != KindFileNotFound {
		t.Fatalf("Kind = %v, want %v", err.Kind, KindFileNotFound)
	}
	want := "missing report.txt"
	if err.Message != want {
		t.Fatalf("Message = %q, want %q", err.Message, want)
	}
}

func TestErrorString(t *testing.T) {
	err := &Error{Kind: KindAccessDenied, Message: "nope"}
	want := "access_denied: nope"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestAsPassesThroughOwnType(t *testing.T) {
	src := New(KindFileInUse, "locked")
	if As(src) != src {
		t.Fatalf("As should return the same *Error instance unchanged")
	}
}

func TestAsWrapsForeignErrors(t *testing.T) {
	foreign := errors.New("boom")
	wrapped := As(foreign)
	if wrapped.Kind != KindInternal {
		t.Fatalf("Kind = %v, want %v", wrapped.Kind, KindInternal)
	}
	if wrapped.Message != "boom" {
		t.Fatalf("Message = %q, want %q", wrapped.Message, "boom")
	}
}

func TestAsNil(t *testing.T) {
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestIsTransport(t *testing.T) {
	transport := []Kind{KindConnectionClosed, KindRecvFailed, KindSendFailed}
	for _, k := range transport {
		if !k.IsTransport() {
			t.Errorf("%v.IsTransport() = false, want true", k)
		}
	}

	nonTransport := []Kind{KindAccessDenied, KindFileNotFound, KindInternal, KindPermissionDenied}
	for _, k := range nonTransport {
		if k.IsTransport() {
			t.Errorf("%v.IsTransport() = true, want false", k)
		}
	}
}
