package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", Validation("problem text is required"), http.StatusBadRequest, "validation_error"},
		{"not found", NotFound("session"), http.StatusNotFound, "not_found"},
		{"stale round", &StaleRoundError{Expected: 1, Actual: 2}, http.StatusConflict, "stale_round"},
		{"wrapped stale round", fmt.Errorf("submit: %w", &StaleRoundError{Expected: 2, Actual: 3}), http.StatusConflict, "stale_round"},
		{"not ready", NotReady("active"), http.StatusConflict, "session_not_ready"},
		{"collaborator", Collaborator("report", errors.New("timeout")), http.StatusBadGateway, "collaborator_error"},
		{"internal", Internal("save session", errors.New("disk full")), http.StatusInternalServerError, "internal_error"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := Classify(tt.err)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestInternal_DoesNotDoubleWrap(t *testing.T) {
	first := Internal("load", errors.New("io"))
	second := Internal("outer", first)
	if second != first {
		t.Fatalf("expected the same error back, got %v", second)
	}
	if Internal("noop", nil) != nil {
		t.Fatal("expected nil for nil cause")
	}
}

func TestPublicMessage_HidesInternalCause(t *testing.T) {
	err := Internal("query sessions", errors.New("pq: password authentication failed"))
	if msg := PublicMessage(err); msg == err.Error() {
		t.Fatalf("internal cause leaked: %q", msg)
	}

	v := Validation("answer must not be empty")
	if msg := PublicMessage(v); msg != v.Error() {
		t.Fatalf("validation message = %q, want %q", msg, v.Error())
	}
}
