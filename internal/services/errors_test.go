package services

import (
	"errors"
	"testing"
)

func TestWrapTagsMarker(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(ErrExternalService, "extract", "dispatch", "chunk c1", cause)
	if !errors.Is(err, ErrExternalService) {
		t.Fatalf("expected marker to survive wrapping: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to survive wrapping: %v", err)
	}
	want := "external service error: extract: dispatch: chunk c1: boom"
	if err.Error() != want {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := Wrap(nil, "", "", "", nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if err.Error() != "transient failure: service failure" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestIsBatchFatal(t *testing.T) {
	if !IsBatchFatal(Wrap(ErrConfiguration, "resolve", "", "missing scope", nil)) {
		t.Fatal("configuration errors should be batch fatal")
	}
	if IsBatchFatal(Wrap(ErrTransient, "extract", "", "", errors.New("x"))) {
		t.Fatal("transient errors should not be batch fatal")
	}
	if IsBatchFatal(Wrap(ErrValidation, "extract", "", "bad mention", nil)) {
		t.Fatal("validation errors stay per-item, not batch fatal")
	}
}
