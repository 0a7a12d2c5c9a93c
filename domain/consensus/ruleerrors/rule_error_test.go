package ruleerrors

import (
	"errors"
	"testing"
)

func TestNewProducesBareCodeMessage(t *testing.T) {
	err := New(ErrBadTimestamp)
	if err.Error() != string(ErrBadTimestamp) {
		t.Fatalf("Error() = %q, want bare code %q", err.Error(), ErrBadTimestamp)
	}
}

func TestNewfIncludesFormattedDetail(t *testing.T) {
	err := Newf(ErrImmatureInput, "wanted maturity %d, got %d", 10, 3)
	want := "ErrImmatureInput: wanted maturity 10, got 3"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestAsRejectsForeignErrors(t *testing.T) {
	if _, ok := As(nil); ok {
		t.Fatalf("As(nil) reported ok")
	}
	if _, ok := As(errors.New("foreign")); ok {
		t.Fatalf("As reported ok for a foreign error")
	}
}

func TestIsMatchesCodeNotMessage(t *testing.T) {
	err := Newf(ErrDuplicateKernel, "kernel %x already live", []byte{1, 2, 3})
	if !Is(err, ErrDuplicateKernel) {
		t.Fatalf("Is did not match the error's own code")
	}
	if Is(err, ErrBadTimestamp) {
		t.Fatalf("Is matched an unrelated code")
	}
}
