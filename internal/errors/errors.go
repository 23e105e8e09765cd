package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message
func Newf(code, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   err,
		}
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode adds an error code to an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    code,
			Message: appErr.Message,
			Cause:   appErr.Cause,
		}
	}
	return &AppError{
		Code:    code,
		Message: err.Error(),
		Cause:   err,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetCode returns the code of the outermost AppError in the chain, otherwise "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// HasCode reports whether any AppError in the chain carries code
func HasCode(err error, code string) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// Predefined error codes
const (
	CodeConfigInvalid     = "CONFIG_INVALID"
	CodeDatabaseError     = "DATABASE_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeInternalError     = "INTERNAL_ERROR"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeAlignment         = "ALIGNMENT_ERROR"
	CodeInsufficientData  = "INSUFFICIENT_DATA"
	CodeConvergence       = "CONVERGENCE_ERROR"
	CodeIdentifierMapping = "IDENTIFIER_MAPPING"
)

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func DatabaseError(message string) *AppError {
	return New(CodeDatabaseError, message)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

// Alignment reports sample identifiers present in only one of the two inputs.
func Alignment(missingInMetadata, missingInCounts []string) *AppError {
	var parts []string
	if len(missingInMetadata) > 0 {
		parts = append(parts, fmt.Sprintf("%d count samples absent from metadata [%s]",
			len(missingInMetadata), previewIDs(missingInMetadata)))
	}
	if len(missingInCounts) > 0 {
		parts = append(parts, fmt.Sprintf("%d metadata samples absent from counts [%s]",
			len(missingInCounts), previewIDs(missingInCounts)))
	}
	return New(CodeAlignment, "sample identifiers do not match: "+strings.Join(parts, "; "))
}

func InsufficientData(message string) *AppError {
	return New(CodeInsufficientData, message)
}

func Convergence(message string) *AppError {
	return New(CodeConvergence, message)
}

// IdentifierMapping describes genes of a set that could not be located in the query namespace.
func IdentifierMapping(setName string, missing int) *AppError {
	return New(CodeIdentifierMapping, fmt.Sprintf("gene set %s: %d identifiers not found", setName, missing))
}

func previewIDs(ids []string) string {
	const maxShown = 10
	if len(ids) <= maxShown {
		return strings.Join(ids, ", ")
	}
	return strings.Join(ids[:maxShown], ", ") + fmt.Sprintf(", ... (%d more)", len(ids)-maxShown)
}
