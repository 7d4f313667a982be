package errors

import (
	"fmt"
	"testing"
)

func TestSnapError_Error(t *testing.T) {
	err := &SnapError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "not found: a.snap",
	}

	expected := "NOT_FOUND: not found: a.snap"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *SnapError
		code   ErrorCode
		status int
	}{
		{"invalid request", NewInvalidRequest("name is required"), ErrInvalidRequest, 400},
		{"not found", NewNotFound("a.snap"), ErrNotFound, 404},
		{"file exists", NewFileExists("a.snap"), ErrFileExists, 409},
		{"busy", NewBusy(), ErrBusy, 409},
		{"corrupt header", NewCorruptHeader("/tmp/a.snap", "not json"), ErrCorruptHeader, 422},
		{"label not allowed", NewLabelNotAllowed([]string{"x"}), ErrLabelNotAllowed, 422},
		{"no data", NewNoData("nothing to restore"), ErrNoData, 422},
		{"no conn", NewNoConn([]string{"X"}), ErrNoConn, 424},
		{"internal", NewInternal(fmt.Errorf("boom")), ErrInternal, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Status != tt.status {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.status)
			}
			if tt.err.Message == "" {
				t.Error("Message should not be empty")
			}
		})
	}
}

func TestNewNotFound_Details(t *testing.T) {
	err := NewNotFound("a.snap")
	if err.Details["identifier"] != "a.snap" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "a.snap")
	}
}

func TestNewNoConn_Details(t *testing.T) {
	err := NewNoConn([]string{"X", "Y"})
	items, ok := err.Details["items"].([]string)
	if !ok || len(items) != 2 {
		t.Fatalf("Details[items] = %v, want [X Y]", err.Details["items"])
	}
	if err.Message != "2 items not connected" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestNewInternal_NilError(t *testing.T) {
	err := NewInternal(nil)
	if err.Message != "internal error" {
		t.Errorf("Message = %q, want %q", err.Message, "internal error")
	}
}

func TestIs(t *testing.T) {
	err := NewNotFound("a.snap")

	if !Is(err, ErrNotFound) {
		t.Error("Is(err, ErrNotFound) = false, want true")
	}
	if Is(err, ErrInternal) {
		t.Error("Is(err, ErrInternal) = true, want false")
	}
	if Is(fmt.Errorf("plain"), ErrNotFound) {
		t.Error("Is(plain, ErrNotFound) = true, want false")
	}
	if Is(nil, ErrNotFound) {
		t.Error("Is(nil, ErrNotFound) = true, want false")
	}
}

func TestIs_Wrapped(t *testing.T) {
	err := fmt.Errorf("reading header: %w", NewCorruptHeader("a.snap", "bad"))

	if !Is(err, ErrCorruptHeader) {
		t.Error("Is(wrapped, ErrCorruptHeader) = false, want true")
	}
	sErr, ok := As(err)
	if !ok || sErr.Details["path"] != "a.snap" {
		t.Errorf("As(wrapped) = %v, %v", sErr, ok)
	}
}
