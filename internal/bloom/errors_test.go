package bloom

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestCodeString(t *testing.T) {
	want := map[Code]string{
		Success:         "Success",
		OutOfMemory:     "Out of memory",
		OpenFailed:      "Unable to open file",
		ReadFailed:      "Unable to read file",
		WriteFailed:     "Unable to write to file",
		StatFailed:      "Unable to stat file",
		InvalidFormat:   "Invalid file format",
		InvalidArgument: "Invalid argument",
		StackLimit:      "Maximum stack count reached",
		Code(100):       "Unknown error",
	}
	for code, msg := range want {
		if got := code.String(); got != msg {
			t.Errorf("Code(%d).String() = %q, want %q", code, got, msg)
		}
	}
}

func TestStrerrorAndCodeOf(t *testing.T) {
	if CodeOf(nil) != Success || Strerror(nil) != "Success" {
		t.Error("nil error should map to Success")
	}

	err := newError(ReadFailed, "load", "/tmp/x", io.ErrUnexpectedEOF)
	wrapped := fmt.Errorf("loading cache: %w", err)

	if CodeOf(wrapped) != ReadFailed {
		t.Errorf("CodeOf(wrapped) = %v", CodeOf(wrapped))
	}
	if Strerror(wrapped) != "Unable to read file" {
		t.Errorf("Strerror(wrapped) = %q", Strerror(wrapped))
	}
	if Strerror(errors.New("foreign")) != "Unknown error" {
		t.Error("foreign errors should be unknown")
	}
}

func TestErrorIsAndMessage(t *testing.T) {
	err := newError(InvalidFormat, "load", "/tmp/cache", errBadMagic)

	if !errors.Is(err, ErrInvalidFormat) {
		t.Error("errors.Is by code failed")
	}
	if errors.Is(err, ErrRead) {
		t.Error("errors.Is matched a different code")
	}
	if !errors.Is(err, errBadMagic) {
		t.Error("cause not reachable through Unwrap")
	}

	testCases := []struct {
		err  *Error
		want string
	}{
		{err, "bloom: load /tmp/cache: Invalid file format: header magic invalid"},
		{newError(OutOfMemory, "grow", "", nil), "bloom: grow: Out of memory"},
		{newError(StatFailed, "", "/tmp/x", nil), "bloom: /tmp/x: Unable to stat file"},
		{ErrStackLimit, "bloom: Maximum stack count reached"},
	}
	for _, tc := range testCases {
		if got := tc.err.Error(); got != tc.want {
			t.Errorf("Error() = %q, want %q", got, tc.want)
		}
	}
}
