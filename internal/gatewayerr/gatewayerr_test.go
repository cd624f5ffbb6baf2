package gatewayerr

import (
	"errors"
	"testing"
)

func TestNewHasNoCause(t *testing.T) {
	err := New(KindProtocolError, "bad frame")
	if err.Cause != nil {
		t.Fatalf("expected nil cause, got %v", err.Cause)
	}
	if err.Code() != "ProtocolError" {
		t.Fatalf("unexpected code: %s", err.Code())
	}
	if err.Error() != "ProtocolError: bad frame" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindTranscriptWriteFailed, "append transcript", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
	want := "TranscriptWriteFailed: append transcript: disk full"
	if err.Error() != want {
		t.Fatalf("unexpected message: got %q want %q", err.Error(), want)
	}
}

func TestErrorsAsRecoversKind(t *testing.T) {
	var err error = Wrap(KindLockTimeout, "acquire lock", errors.New("timeout"))

	var ge *Error
	if !errors.As(err, &ge) {
		t.Fatal("expected errors.As to recover *Error")
	}
	if ge.Kind != KindLockTimeout {
		t.Fatalf("unexpected kind: %s", ge.Kind)
	}
}
