package corruption

import (
	"errors"
	"testing"
)

func TestWrapNilCauseReturnsNil(t *testing.T) {
	if err := Wrap(nil, "store", "should not happen"); err != nil {
		t.Fatalf("Wrap(nil, ...) = %v, want nil", err)
	}
}

func TestWrapUnwrapsToCause(t *testing.T) {
	cause := errors.New("disk on fire")
	err := Wrap(cause, "ldb", "get failed")
	if !errors.Is(err, cause) {
		t.Fatalf("errors.Is did not find the wrapped cause through Unwrap")
	}
}

func TestIsDistinguishesCorruptionFromOtherErrors(t *testing.T) {
	if Is(errors.New("plain error")) {
		t.Fatalf("Is matched a non-corruption error")
	}
	if !Is(New("headergraphstore", "dangling edge")) {
		t.Fatalf("Is did not match a corruption.Error")
	}
}

func TestErrorMessageIncludesComponentAndDetail(t *testing.T) {
	err := New("accumulators", "replay diverged")
	got := err.Error()
	if got != "corruption in accumulators: replay diverged" {
		t.Fatalf("Error() = %q", got)
	}
}
