package hushbox

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestStaleEpochError_Is(t *testing.T) {
	err := &StaleEpochError{Expected: 3, Current: 5}
	if !errors.Is(err, ErrStaleEpoch) {
		t.Error("StaleEpochError should match ErrStaleEpoch")
	}
	if errors.Is(err, ErrMemberNotFound) {
		t.Error("StaleEpochError should not match ErrMemberNotFound")
	}
	if got := err.Error(); !strings.Contains(got, "3") || !strings.Contains(got, "5") {
		t.Errorf("Error() = %q, should carry both epoch numbers", got)
	}
}

func TestStaleEpochError_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("submit rotation: %w", &StaleEpochError{Expected: 1, Current: 2})
	if !errors.Is(wrapped, ErrStaleEpoch) {
		t.Error("wrapped StaleEpochError should still match ErrStaleEpoch")
	}
	var staleErr *StaleEpochError
	if !errors.As(wrapped, &staleErr) {
		t.Fatal("errors.As should find the StaleEpochError")
	}
	if staleErr.Current != 2 {
		t.Errorf("Current = %d, want 2", staleErr.Current)
	}
}

func TestValidationError_Is(t *testing.T) {
	err := &ValidationError{Errors: []string{"chain link is missing"}}
	if !errors.Is(err, ErrInvalidKeyMaterial) {
		t.Error("ValidationError should match ErrInvalidKeyMaterial")
	}
	if !strings.Contains(err.Error(), "chain link is missing") {
		t.Errorf("Error() = %q, should list the failures", err.Error())
	}
}

func TestMarkerInterface(t *testing.T) {
	markers := []error{
		ErrNotAuthorized,
		ErrInvalidKeyMaterial,
		ErrInvalidHistoryFloor,
		ErrOwnerImmutable,
		ErrRotationNotAllowed,
		ErrNotInvited,
		&StaleEpochError{},
		&ValidationError{},
		&IntegrityError{},
	}
	for _, err := range markers {
		if _, ok := err.(HushBoxError); !ok {
			t.Errorf("%T does not implement HushBoxError", err)
		}
	}
}
