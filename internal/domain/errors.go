package domain

import (
	"errors"
	"fmt"
	"time"
)

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrInvalidInput    = "INVALID_INPUT"
	ErrDatabaseError   = "DATABASE_ERROR"
	ErrSchemaViolation = "SCHEMA_VIOLATION"
	ErrModelError      = "MODEL_UNAVAILABLE"
	ErrRateLimit       = "RATE_LIMIT_EXCEEDED"
	ErrAuthentication  = "AUTHENTICATION_ERROR"
	ErrInternalServer  = "INTERNAL_SERVER_ERROR"
	ErrValidation      = "VALIDATION_ERROR"
	ErrConflict        = "CONFLICT"
	ErrLocked          = "LOCKED"
	ErrNotFoundCode    = "NOT_FOUND"
)

// Sentinel errors shared by services and repositories.
var (
	ErrNotFound         = errors.New("not found")
	ErrModelUnavailable = errors.New("risk model unavailable")
	ErrOutcomeLocked    = errors.New("outcome already locked")
	ErrNoteExists       = errors.New("doctor note already exists and cannot be recreated")
	ErrNoteLocked       = errors.New("doctor note is locked and cannot be edited")
	ErrDuplicatePatient = errors.New("patient with this mobile already exists")
	ErrPatientDeleted   = errors.New("patient is deleted")
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// SchemaViolation reports a composed record that does not match the persisted contract.
// It signals an internal bug and is never repaired.
type SchemaViolation struct {
	Section string   `json:"section"`
	Missing []string `json:"missing,omitempty"`
	Extra   []string `json:"extra,omitempty"`
}

// Error implements the error interface
func (e *SchemaViolation) Error() string {
	return fmt.Sprintf("%s schema violation (missing=%v extra=%v)", e.Section, e.Missing, e.Extra)
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
