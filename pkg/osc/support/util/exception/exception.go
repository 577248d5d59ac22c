// Package exception provides the error taxonomy of the orchestration engine.
// Every error crossing a component boundary is an *OscError carrying a Kind, so callers can tell
// user-correctable input problems apart from admission conflicts, illegal lifecycle commands,
// subprocess failures and storage outages.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// Kind classifies an OscError.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindConflict     Kind = "conflict"
	KindInvalidState Kind = "invalid_state"
	KindProcess      Kind = "process"
	KindStorage      Kind = "storage"
	KindNotFound     Kind = "not_found"
	KindInternal     Kind = "internal"
)

// errorRegistry maps names used in configuration (e.g. retryable error lists) to sentinel errors.
var errorRegistry = make(map[string]error)

var registryMutex sync.RWMutex

// RegisterErrorType registers a sentinel error under name.
// It panics if name is empty or prototype is nil.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("Error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("Cannot register nil prototype for name: %s", name))
	}
	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered reports whether name is present in the registry.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// OscError is the common error type of the engine.
type OscError struct {
	// Kind is the taxonomy bucket of the error.
	Kind Kind
	// Module indicates where the error occurred (e.g. "command", "store", "controller").
	Module string
	// Message is a concise, user-presentable description.
	Message string
	// OriginalErr is the wrapped cause.
	OriginalErr error

	// Field names the offending input for validation errors.
	Field string
	// JobID is the conflicting job for conflict errors.
	JobID string
	// Status is the current job status for invalid state errors.
	Status string
	// ExitCode and Tail describe a failed subprocess.
	ExitCode int
	Tail     []string

	isRetryable bool
	// StackTrace is captured at construction for debugging.
	StackTrace string
}

func newError(kind Kind, module, message string, originalErr error, retryable bool) *OscError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return &OscError{
		Kind:        kind,
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: retryable,
		StackTrace:  string(buf[:n]),
	}
}

// NewValidationError reports bad caller input. It is never retryable.
func NewValidationError(module, field, message string) *OscError {
	e := newError(KindValidation, module, message, nil, false)
	e.Field = field
	return e
}

// NewValidationErrorf is NewValidationError with a format string.
func NewValidationErrorf(module, field, format string, a ...interface{}) *OscError {
	return NewValidationError(module, field, fmt.Sprintf(format, a...))
}

// NewConflictError reports an admission violation caused by jobID.
// Conflicts are transient from the caller's point of view, so they are flagged retryable.
func NewConflictError(module, jobID, message string) *OscError {
	e := newError(KindConflict, module, message, nil, true)
	e.JobID = jobID
	return e
}

// NewInvalidStateError reports a lifecycle command that is illegal for the current status.
func NewInvalidStateError(module, status, message string) *OscError {
	e := newError(KindInvalidState, module, message, nil, false)
	e.Status = status
	return e
}

// NewProcessError reports a subprocess that could not be spawned or exited non-zero.
func NewProcessError(module string, exitCode int, tail []string, originalErr error) *OscError {
	msg := fmt.Sprintf("process exited with code %d", exitCode)
	if last := LastMeaningfulLine(tail); last != "" {
		msg = fmt.Sprintf("%s: %s", msg, last)
	}
	e := newError(KindProcess, module, msg, originalErr, false)
	e.ExitCode = exitCode
	e.Tail = append([]string(nil), tail...)
	return e
}

// NewStorageError wraps a Job Store failure.
func NewStorageError(module, message string, originalErr error, retryable bool) *OscError {
	return newError(KindStorage, module, message, originalErr, retryable)
}

// NewNotFoundError reports a missing record.
func NewNotFoundError(module, message string, originalErr error) *OscError {
	return newError(KindNotFound, module, message, originalErr, false)
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(module, message string, originalErr error) *OscError {
	return newError(KindInternal, module, message, originalErr, false)
}

// Error implements the error interface.
func (e *OscError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *OscError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether the operation may succeed if repeated.
func (e *OscError) IsRetryable() bool {
	return e.isRetryable
}

// As extracts the first *OscError in err's chain.
func As(err error) (*OscError, bool) {
	var oe *OscError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if oe, ok := As(err); ok {
		return oe.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	oe, ok := As(err)
	return ok && oe.Kind == kind
}

// IsValidation reports a ValidationError.
func IsValidation(err error) bool { return IsKind(err, KindValidation) }

// IsConflict reports a ConflictError.
func IsConflict(err error) bool { return IsKind(err, KindConflict) }

// IsInvalidState reports an InvalidStateError.
func IsInvalidState(err error) bool { return IsKind(err, KindInvalidState) }

// IsProcess reports a ProcessError.
func IsProcess(err error) bool { return IsKind(err, KindProcess) }

// IsStorage reports a StorageError.
func IsStorage(err error) bool { return IsKind(err, KindStorage) }

// IsNotFound reports a missing record.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// IsTemporary determines if an error is worth retrying.
// An OscError's own flag wins; otherwise common transient driver messages are matched.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if oe, ok := As(err); ok {
		return oe.IsRetryable()
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "deadlock") ||
		strings.Contains(errStr, "bad connection")
}

// IsErrorOfType checks if an error matches a registered name, a message substring, or a Go type name.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil {
		return false
	}

	registryMutex.RLock()
	targetError, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()
	if ok && errors.Is(err, targetError) {
		return true
	}

	for currentErr := err; currentErr != nil; currentErr = errors.Unwrap(currentErr) {
		if strings.Contains(currentErr.Error(), errorTypeName) {
			return true
		}
		errType := reflect.TypeOf(currentErr)
		if errType != nil {
			if errType.String() == errorTypeName || (errType.Kind() == reflect.Ptr && errType.Elem().String() == errorTypeName) {
				return true
			}
		}
	}
	return false
}

// OptimisticLockingFailureException names an optimistic locking failure in the registry.
const OptimisticLockingFailureException = "OptimisticLockingFailureException"

// ErrOptimisticLockingFailure is returned when a versioned update lost a race.
var ErrOptimisticLockingFailure = errors.New(OptimisticLockingFailureException)

// NewOptimisticLockingFailure wraps ErrOptimisticLockingFailure as a retryable StorageError.
func NewOptimisticLockingFailure(module, message string) *OscError {
	return NewStorageError(module, message, ErrOptimisticLockingFailure, true)
}

// IsOptimisticLockingFailure reports whether err is an optimistic locking failure.
func IsOptimisticLockingFailure(err error) bool {
	return err != nil && errors.Is(err, ErrOptimisticLockingFailure)
}

func init() {
	RegisterErrorType(OptimisticLockingFailureException, ErrOptimisticLockingFailure)
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
	RegisterErrorType("sql.ErrConnDone", sql.ErrConnDone)
	RegisterErrorType("sql.ErrTxDone", sql.ErrTxDone)
}

// ExtractErrorMessage returns the clean Message of an OscError or err.Error() otherwise.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if oe, ok := As(err); ok {
		return oe.Message
	}
	return err.Error()
}

// LastMeaningfulLine returns the last non-blank line of tail.
func LastMeaningfulLine(tail []string) string {
	for i := len(tail) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(tail[i]); s != "" {
			return s
		}
	}
	return ""
}
