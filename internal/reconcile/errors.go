package reconcile

import (
	"errors"
	"fmt"

	"github.com/roach88/fleetrecon/internal/fleet"
)

// ReconcileError is a failure detected while reconciling.
//
// Only ErrCodeRegistryBuild aborts a run. Every other code is recorded
// against a single asset and the run carries on.
type ReconcileError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// AssetID identifies the affected asset. Zero for run-level errors.
	AssetID fleet.AssetID

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes reconcile errors.
type ErrorCode string

const (
	// ErrCodeRegistryBuild indicates the container registry could not be
	// loaded. Fatal for the run.
	ErrCodeRegistryBuild ErrorCode = "REGISTRY_BUILD"

	// ErrCodeEventRead indicates the asset's history could not be read.
	ErrCodeEventRead ErrorCode = "EVENT_READ"

	// ErrCodeProjectionRead indicates the asset row could not be read.
	ErrCodeProjectionRead ErrorCode = "PROJECTION_READ"

	// ErrCodePersistence indicates the correction could not be written.
	ErrCodePersistence ErrorCode = "PERSISTENCE"

	// ErrCodeVersionConflict indicates the asset kept changing under us
	// until the retry budget ran out.
	ErrCodeVersionConflict ErrorCode = "VERSION_CONFLICT"
)

// Error implements the error interface.
func (e *ReconcileError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.AssetID != 0 {
		msg = fmt.Sprintf("%s (asset=%d)", msg, e.AssetID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// IsRegistryError returns true if err is a registry build failure.
// Uses errors.As to handle wrapped errors.
func IsRegistryError(err error) bool {
	var re *ReconcileError
	if errors.As(err, &re) {
		return re.Code == ErrCodeRegistryBuild
	}
	return false
}

// IsConflictError returns true if err is an exhausted version conflict.
func IsConflictError(err error) bool {
	var re *ReconcileError
	if errors.As(err, &re) {
		return re.Code == ErrCodeVersionConflict
	}
	return false
}

// CodeOf returns the code of a ReconcileError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var re *ReconcileError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

func newAssetError(code ErrorCode, id fleet.AssetID, message string, cause error) *ReconcileError {
	return &ReconcileError{Code: code, Message: message, AssetID: id, Err: cause}
}
