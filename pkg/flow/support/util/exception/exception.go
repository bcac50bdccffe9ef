// Package exception provides custom error types and error handling utilities for the Flowmill engine.
// It standardizes errors that occur during run scheduling and batch processing, allowing them to be
// categorized by the retry and discard policies.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// Classification is the failure category assigned to an error.
// It drives the retry-or-discard decision made by the run lifecycle executor.
type Classification string

const (
	// ClassTransient marks infrastructure hiccups (lock contention, timeouts,
	// connection resets) that are safe to retry with backoff.
	ClassTransient Classification = "transient"
	// ClassPermanent marks programmer or configuration errors that no amount
	// of retrying can fix.
	ClassPermanent Classification = "permanent"
	// ClassUnknown marks errors that matched neither membership list. They are
	// treated as retriable but tracked separately for operator attention.
	ClassUnknown Classification = "unknown"
)

// String returns the string representation of the Classification.
func (c Classification) String() string {
	return string(c)
}

// errorRegistry maps error names referenced in configuration to concrete Go error instances.
// It holds error instances (singletons) for comparison using errors.Is.
var errorRegistry = make(map[string]error)

// registryMutex protects access to errorRegistry.
var registryMutex sync.RWMutex

// RegisterErrorType registers an error type in the registry.
// Registered error types are referenced by name in transient/permanent class lists
// and matched by the IsErrorOfType function.
//
// name: A unique identifier for the error type.
// prototype: An instance of the error to be registered, compared with errors.Is.
//
// If prototype is nil or name is empty, this function panics.
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

// IsErrorTypeRegistered checks if the specified error type name is registered in the registry.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// FlowError is a custom error type raised during flow scheduling and execution.
// It holds the module where the error occurred, a message, the wrapped original error,
// and the failure classification.
type FlowError struct {
	// Module indicates the module where the error occurred (e.g., "scheduler", "processor", "registry").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// class is the failure classification assigned at construction time.
	class Classification
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

// NewFlowError creates a new FlowError instance.
// module: The module where the error occurred.
// message: The error message.
// originalErr: The original error to wrap.
// class: The failure classification.
func NewFlowError(module, message string, originalErr error, class Classification) *FlowError {
	// Capture stack trace (for debugging purposes)
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	stackTrace := string(buf[:n])

	return &FlowError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		class:       class,
		StackTrace:  stackTrace,
	}
}

// NewTransientError creates a FlowError classified as transient.
func NewTransientError(module, message string, originalErr error) *FlowError {
	return NewFlowError(module, message, originalErr, ClassTransient)
}

// NewPermanentError creates a FlowError classified as permanent.
func NewPermanentError(module, message string, originalErr error) *FlowError {
	return NewFlowError(module, message, originalErr, ClassPermanent)
}

// Error implements the error interface.
// It returns the error's module, message, and the string representation of the original error.
func (e *FlowError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *FlowError) Unwrap() error {
	return e.OriginalErr
}

// Class returns the failure classification of this error.
func (e *FlowError) Class() Classification {
	return e.class
}

// IsTransient reports whether this error is classified transient.
func (e *FlowError) IsTransient() bool {
	return e.class == ClassTransient
}

// IsPermanent reports whether this error is classified permanent.
func (e *FlowError) IsPermanent() bool {
	return e.class == ClassPermanent
}

// IsFlowError determines if the given error is of type FlowError.
func IsFlowError(err error) bool {
	if err == nil {
		return false
	}
	var fe *FlowError
	return errors.As(err, &fe)
}

// AsFlowError extracts a FlowError from the error chain, or nil if none is present.
func AsFlowError(err error) *FlowError {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe
	}
	return nil
}

// IsErrorOfType checks if an error matches a specified type name (string).
// errorTypeName can be a Go error type name (e.g., "*net.OpError", "io.EOF") or a
// substring of an error message (e.g., "connection refused").
// It checks in order: registered sentinel errors (errors.Is), substring of error
// message, and type name comparison using reflection.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil {
		return false
	}

	// 1. Comparison with registered sentinel errors using errors.Is
	registryMutex.RLock()
	targetError, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()

	if ok {
		if errors.Is(err, targetError) {
			return true
		}
	}

	// 2. Traverse the error chain and compare by substring of error message or type name
	currentErr := err
	for currentErr != nil {
		// 2-1. Comparison by substring of error message
		if strings.Contains(currentErr.Error(), errorTypeName) {
			return true
		}

		// 2-2. Comparison by type name (using reflection)
		errType := reflect.TypeOf(currentErr)
		if errType != nil {
			if errType.String() == errorTypeName || (errType.Kind() == reflect.Ptr && errType.Elem().String() == errorTypeName) {
				return true
			}
		}

		currentErr = errors.Unwrap(currentErr)
	}

	return false
}

// StaleClaimException is a constant naming the stale-claim sentinel error.
const StaleClaimException = "StaleClaimException"

// ErrStaleClaim is a sentinel error indicating that a run's claim lease expired
// while the owning worker was presumed dead.
var ErrStaleClaim = errors.New(StaleClaimException)

func init() {
	// Register sentinel errors so that errors.Is can detect them by constant name.
	RegisterErrorType(StaleClaimException, ErrStaleClaim)

	// --- Registration of common error types that may be referenced in configuration ---
	// Common I/O and network error names. Only real sentinels are registered,
	// so errors.Is matches wrapped occurrences; struct error types like
	// *net.OpError are matched by type name instead.
	RegisterErrorType("io.EOF", io.EOF)
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)

	// Common database-related error names
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
}

// ExtractErrorMessage extracts the error message string from an error.
// For FlowError, it returns the Message field without the module prefix,
// keeping the wrapped cause so error records stay diagnosable.
// Otherwise, it returns the standard Error() string.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if fe := AsFlowError(err); fe != nil {
		if fe.OriginalErr != nil {
			return fmt.Sprintf("%s: %v", fe.Message, fe.OriginalErr)
		}
		return fe.Message
	}
	return err.Error()
}
