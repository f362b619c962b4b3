package notifier

import (
	"errors"
	"fmt"
)

// InvalidNotificationError indicates malformed input to create.
type InvalidNotificationError struct {
	Field  string
	Reason string
}

func (e *InvalidNotificationError) Error() string {
	return fmt.Sprintf("invalid notification: %s %s", e.Field, e.Reason)
}

// NotFoundError indicates an unknown notification id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("notification not found: %s", e.ID)
}

// SubjectNotFoundError indicates the subject does not exist or is not linked
// to the viewer.
type SubjectNotFoundError struct {
	ViewerID  string
	SubjectID string
}

func (e *SubjectNotFoundError) Error() string {
	return fmt.Sprintf("subject %s not found for viewer %s", e.SubjectID, e.ViewerID)
}

// TransientError wraps an upstream failure that may succeed on retry, such
// as a fetch timeout.
type TransientError struct {
	Err error
	Op  string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PartialDataWarning is attached to a snapshot when a secondary source failed.
// It is not returned as an error.
type PartialDataWarning struct {
	Err    error  `json:"-"`
	Source string `json:"source"`
	Detail string `json:"detail"`
}

func (w PartialDataWarning) Error() string {
	return fmt.Sprintf("partial data: %s unavailable: %s", w.Source, w.Detail)
}

func (w PartialDataWarning) Unwrap() error { return w.Err }

// NewPartialDataWarning builds a warning for source from err.
func NewPartialDataWarning(source string, err error) PartialDataWarning {
	return PartialDataWarning{Source: source, Detail: err.Error(), Err: err}
}

// IsInvalid reports whether err is an InvalidNotificationError.
func IsInvalid(err error) bool {
	var target *InvalidNotificationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsSubjectNotFound reports whether err is a SubjectNotFoundError.
func IsSubjectNotFound(err error) bool {
	var target *SubjectNotFoundError
	return errors.As(err, &target)
}

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}
