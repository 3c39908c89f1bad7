package services

import (
	"errors"
	"fmt"

	"whatsapp-hub/internal/permissions"
	"whatsapp-hub/internal/ratelimit"
)

// ErrNotFound indicates the requested entity does not exist
var ErrNotFound = errors.New("not found")

// ValidationError reports bad input shape or value. Nothing was mutated.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func newValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// PermissionError reports a resolver denial or a missing capability.
type PermissionError struct {
	UserID int64
	Action string
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %d may not %s: %s", e.UserID, e.Action, e.Reason)
}

// ConflictError reports a refused state change and names why, so the
// caller can explain the refusal instead of a generic failure.
type ConflictError struct {
	Reason  string
	OwnerID int64
}

func (e *ConflictError) Error() string {
	return e.Reason
}

// GatewayError wraps an adapter send failure or timeout. The message was
// recorded as failed; retry policy belongs to the caller.
type GatewayError struct {
	LineID int64
	Err    error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway send failed for line %d: %v", e.LineID, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether the error is a rate limiter refusal.
func IsRateLimited(err error) bool {
	var limitErr *ratelimit.LimitError
	return errors.As(err, &limitErr)
}

// IsDenied reports whether the error is an access denial, either from
// the resolver or a capability check.
func IsDenied(err error) bool {
	var denied *permissions.DeniedError
	var perm *PermissionError
	return errors.As(err, &denied) || errors.As(err, &perm)
}
