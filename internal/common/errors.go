package common

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil && !isKind(e.Cause) {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error kinds. Every AppError built by the constructors below wraps exactly one of them,
// so callers classify with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("resource not found")
	ErrForbidden         = errors.New("forbidden")
	ErrExtractionService = errors.New("extraction service error")
	ErrDuplicateInvoice  = errors.New("duplicate invoice")
	ErrPersistence       = errors.New("persistence error")
	ErrUnexpected        = errors.New("unexpected error")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidInput      = errors.New("invalid input")
)

var kinds = []error{
	ErrValidation, ErrNotFound, ErrForbidden, ErrExtractionService, ErrDuplicateInvoice,
	ErrPersistence, ErrUnexpected, ErrInvalidTransition, ErrInvalidInput,
}

func isKind(err error) bool {
	for _, k := range kinds {
		if err == k {
			return true
		}
	}
	return false
}

// kindError joins a kind sentinel and an underlying cause so both match errors.Is.
type kindError struct {
	kind  error
	cause error
}

func (k *kindError) Error() string   { return k.cause.Error() }
func (k *kindError) Unwrap() []error { return []error{k.kind, k.cause} }

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func newKind(code string, kind error, message string, cause error) *AppError {
	if cause == nil {
		return NewAppError(code, message, kind)
	}
	return NewAppError(code, message, &kindError{kind: kind, cause: cause})
}

func ValidationError(message string) *AppError {
	return newKind("VALIDATION_ERROR", ErrValidation, message, nil)
}

func NotFoundError(message string) *AppError {
	return newKind("NOT_FOUND", ErrNotFound, message, nil)
}

func ForbiddenError(message string) *AppError {
	return newKind("FORBIDDEN", ErrForbidden, message, nil)
}

func ExtractionServiceError(message string, cause error) *AppError {
	return newKind("EXTRACTION_SERVICE_ERROR", ErrExtractionService, message, cause)
}

func DuplicateInvoiceError(message string) *AppError {
	return newKind("DUPLICATE_INVOICE", ErrDuplicateInvoice, message, nil)
}

func PersistenceError(message string, cause error) *AppError {
	return newKind("PERSISTENCE_ERROR", ErrPersistence, message, cause)
}

func UnexpectedError(message string, cause error) *AppError {
	return newKind("UNEXPECTED_ERROR", ErrUnexpected, message, cause)
}

// ToStatus converts an application error to a gRPC status error. Errors that already carry a
// status pass through unchanged.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	msg := err.Error()
	var ae *AppError
	if errors.As(err, &ae) {
		msg = ae.Message
	}
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidInput):
		return status.Error(codes.InvalidArgument, msg)
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, msg)
	case errors.Is(err, ErrForbidden):
		return status.Error(codes.PermissionDenied, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, msg)
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, msg)
	}
	return status.Error(codes.Internal, msg)
}

// TruncateReason trims s to at most max runes, marking the cut with an ellipsis.
func TruncateReason(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
