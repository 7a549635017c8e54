package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := Newf(CodeInvalidState, "cannot lock from %s", "ACTIVE")
	if !stderrors.Is(err, ErrInvalidState) {
		t.Fatal("expected errors.Is to match ErrInvalidState")
	}
	if stderrors.Is(err, ErrValidation) {
		t.Fatal("did not expect ErrValidation to match")
	}
}

func TestCodeOfWrapped(t *testing.T) {
	cause := fmt.Errorf("dial tcp: refused")
	err := fmt.Errorf("submit prompt: %w", Wrap(CodeUpstream, "generation failed", cause))

	if got := CodeOf(err); got != CodeUpstream {
		t.Fatalf("expected %s, got %s", CodeUpstream, got)
	}
	if !stderrors.Is(err, cause) {
		t.Error("expected cause to stay reachable")
	}
	if CodeOf(fmt.Errorf("plain")) != CodeUnknown {
		t.Error("plain errors should map to UNKNOWN")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeInvalidState: http.StatusConflict,
		CodeValidation:   http.StatusBadRequest,
		CodeUpstream:     http.StatusBadGateway,
		CodeNotFound:     http.StatusNotFound,
		CodeUnknown:      http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := code.HTTPStatus(); got != want {
			t.Errorf("%s: expected %d, got %d", code, want, got)
		}
	}
}
