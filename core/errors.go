package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return fmt.Sprintf("%s: %s", err.Fields[0].Field, err.Fields[0].Error)
		}
		return "validation failed"
	}
	return err.Err.Error()
}

// AuthorizationError is returned when the policy engine denies an operation.
// Its message never carries details about the resource.
type AuthorizationError struct {
	Action string
}

func NewAuthorizationError(action string) error {
	return &AuthorizationError{Action: action}
}

func (err AuthorizationError) Error() string {
	return "permission denied"
}

// NotFoundError is returned when a referenced submission, exam or profile is absent.
type NotFoundError struct {
	Resource string
}

func NewNotFoundError(resource string) error {
	return &NotFoundError{Resource: resource}
}

func (err NotFoundError) Error() string {
	return err.Resource + " not found"
}

// ConsistencyError reports a failed claim synchronisation after a committed role write.
// It is logged, never surfaced to callers.
type ConsistencyError struct {
	UserID string
	Err    error
}

func (err ConsistencyError) Error() string {
	return fmt.Sprintf("claim sync for user %s: %v", err.UserID, err.Err)
}

func (err ConsistencyError) Cause() error { return err.Err }

func IsValidation(err error) bool {
	_, ok := errors.Cause(err).(*ValidationError)
	return ok
}

func IsAuthorization(err error) bool {
	_, ok := errors.Cause(err).(*AuthorizationError)
	return ok
}

func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
