package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"classledger/internal/docstore"
)

// Ledger and timetable failures. Callers compare with errors.Is.
var (
	ErrInvalidTimeRange    = errors.New("start must be before end")
	ErrAlreadyMarked       = errors.New("attendance already marked for this lecture")
	ErrSubjectNotFound     = errors.New("subject not found")
	ErrOverlappingSlot     = errors.New("slot overlaps an existing slot")
	ErrTransactionConflict = errors.New("transaction conflict, retry the operation")
	ErrNotFound            = errors.New("not found")
)

// Boundary parsing failures.
var (
	ErrInvalidStatus = errors.New("invalid attendance status")
	ErrValidation    = errors.New("validation failed")
)

// ValidationError describes a single rejected input field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s", e.Field, e.Value, e.Message)
}

func (e ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field string, value interface{}, message string) error {
	return ValidationError{Field: field, Value: value, Message: message}
}

// FromStore translates store failures into ledger errors. A commit that kept
// conflicting after the store's retries becomes ErrTransactionConflict; other
// errors pass through unchanged.
func FromStore(err error) error {
	if errors.Is(err, docstore.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrTransactionConflict, err)
	}
	return err
}

// Code returns a stable machine-readable code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidTimeRange):
		return "invalid_time_range"
	case errors.Is(err, ErrAlreadyMarked):
		return "already_marked"
	case errors.Is(err, ErrSubjectNotFound):
		return "subject_not_found"
	case errors.Is(err, ErrOverlappingSlot):
		return "overlapping_slot"
	case errors.Is(err, ErrTransactionConflict):
		return "transaction_conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidStatus):
		return "invalid_status"
	case errors.Is(err, ErrValidation), errors.Is(err, docstore.ErrInvalidPath):
		return "validation_failed"
	default:
		return "internal"
	}
}

// HTTPStatus maps err to the response status used by the HTTP layer.
func HTTPStatus(err error) int {
	switch Code(err) {
	case "ok":
		return http.StatusOK
	case "invalid_time_range", "invalid_status", "validation_failed":
		return http.StatusBadRequest
	case "subject_not_found", "not_found":
		return http.StatusNotFound
	case "already_marked", "overlapping_slot", "transaction_conflict":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
