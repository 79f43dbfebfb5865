package qerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewNil(t *testing.T) {
	if err := New(CodeValidation, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestCodeOfWrapped(t *testing.T) {
	base := errors.New("no file")
	err := fmt.Errorf("parse: %w", New(CodeMissingOutput, base))

	if got := CodeOf(err); got != CodeMissingOutput {
		t.Errorf("CodeOf() = %q, want %q", got, CodeMissingOutput)
	}
	if !IsCode(err, CodeMissingOutput) {
		t.Error("IsCode() = false, want true")
	}
	if IsCode(err, CodeValidation) {
		t.Error("IsCode(validation) = true, want false")
	}
	if !errors.Is(err, base) {
		t.Error("errors.Is() lost the underlying error")
	}
	if CodeOf(base) != CodeUnknown {
		t.Errorf("CodeOf(plain) = %q, want unknown", CodeOf(base))
	}
}

func TestExitStatus(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:       2,
		CodeMissingOutput:    100,
		CodeMissingResultKey: 500,
		CodeExecution:        1,
		Code("whatever"):     1,
	}
	for code, want := range cases {
		if got := ExitStatus(code); got != want {
			t.Errorf("ExitStatus(%q) = %d, want %d", code, got, want)
		}
	}
}

func TestErrorString(t *testing.T) {
	err := New(CodeExecution, errors.New("exit status 1"))
	if got := err.Error(); got != "execution: exit status 1" {
		t.Errorf("Error() = %q", got)
	}
}
