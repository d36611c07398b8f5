// Package dberr defines the typed errors returned by every layer of tablekit.
//
// Callers branch on error kinds with errors.Is against the sentinels
// (ErrNotFound, ErrIntegrity, ...) or with the IsX helpers. The concrete
// *Error carries the table and offending fields for diagnostics and wraps
// the driver error, if any, so errors.As still reaches it.
package dberr

import (
	"errors"
	"fmt"
	"strings"
)

// Code categorizes database errors.
type Code string

const (
	// CodeNotFound indicates a primary-key lookup matched zero rows.
	CodeNotFound Code = "NOT_FOUND"

	// CodeIntegrity indicates a constraint violation on write.
	CodeIntegrity Code = "INTEGRITY_ERROR"

	// CodeInvalidQuery indicates a filter or key referencing an unknown
	// column, or a malformed primary key.
	CodeInvalidQuery Code = "INVALID_QUERY"

	// CodeConflictingRegistration indicates a type re-registered under a
	// different table name.
	CodeConflictingRegistration Code = "CONFLICTING_REGISTRATION"

	// CodeNestedNotResolved indicates access to an unresolved reference.
	CodeNestedNotResolved Code = "NESTED_ENTITY_NOT_RESOLVED"

	// CodeInvalidFieldValue indicates a value failing a declared constraint
	// (required, size, uuid) before it reached the backend.
	CodeInvalidFieldValue Code = "INVALID_FIELD_VALUE"

	// CodeMisconfigured indicates an invalid model declaration or a missing
	// backend.
	CodeMisconfigured Code = "MISCONFIGURED"

	// CodeTransactionAborted indicates the outermost scope returned cleanly
	// but a nested scope had failed, so the transaction was rolled back.
	CodeTransactionAborted Code = "TRANSACTION_ABORTED"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its Code.
var (
	ErrNotFound                = errors.New("record not found")
	ErrIntegrity               = errors.New("integrity violation")
	ErrInvalidQuery            = errors.New("invalid query")
	ErrConflictingRegistration = errors.New("conflicting registration")
	ErrNestedNotResolved       = errors.New("nested entity not resolved")
	ErrInvalidFieldValue       = errors.New("invalid field value")
	ErrMisconfigured           = errors.New("misconfigured")
	ErrTransactionAborted      = errors.New("transaction aborted")
)

var sentinels = map[Code]error{
	CodeNotFound:                ErrNotFound,
	CodeIntegrity:               ErrIntegrity,
	CodeInvalidQuery:            ErrInvalidQuery,
	CodeConflictingRegistration: ErrConflictingRegistration,
	CodeNestedNotResolved:       ErrNestedNotResolved,
	CodeInvalidFieldValue:       ErrInvalidFieldValue,
	CodeMisconfigured:           ErrMisconfigured,
	CodeTransactionAborted:      ErrTransactionAborted,
}

// Error is the typed error returned by backends, the registry and models.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Table is the affected table, if known.
	Table string

	// Message is a human-readable description.
	Message string

	// Fields lists the columns or field names involved, if any.
	Fields []string

	// Err is the underlying driver or validation error (optional).
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Table != "" {
		fmt.Fprintf(&b, " (table=%s", e.Table)
		if len(e.Fields) > 0 {
			fmt.Fprintf(&b, ", fields=%s", strings.Join(e.Fields, ","))
		}
		b.WriteString(")")
	} else if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " (fields=%s)", strings.Join(e.Fields, ","))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's code.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Code]
	return ok && s == target
}

// New creates an Error with a formatted message.
func New(code Code, table string, format string, args ...any) *Error {
	return &Error{Code: code, Table: table, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around an underlying error.
func Wrap(code Code, table string, err error, format string, args ...any) *Error {
	return &Error{Code: code, Table: table, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithFields returns e with the given field names attached.
func (e *Error) WithFields(fields ...string) *Error {
	e.Fields = append(e.Fields, fields...)
	return e
}

// NotFound creates a NOT_FOUND error for the given key.
func NotFound(table string, key any) *Error {
	return New(CodeNotFound, table, "no row for key %v", key)
}

// InvalidQuery creates an INVALID_QUERY error.
func InvalidQuery(table string, format string, args ...any) *Error {
	return New(CodeInvalidQuery, table, format, args...)
}

// Integrity wraps a driver constraint violation.
func Integrity(table string, err error) *Error {
	return Wrap(CodeIntegrity, table, err, "constraint violation")
}

// Misconfigured creates a MISCONFIGURED error.
func Misconfigured(table string, format string, args ...any) *Error {
	return New(CodeMisconfigured, table, format, args...)
}

// CodeOf extracts the error code, or "" if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsIntegrity reports whether err is an INTEGRITY_ERROR.
func IsIntegrity(err error) bool { return errors.Is(err, ErrIntegrity) }

// IsInvalidQuery reports whether err is an INVALID_QUERY error.
func IsInvalidQuery(err error) bool { return errors.Is(err, ErrInvalidQuery) }

// IsConflictingRegistration reports whether err is a CONFLICTING_REGISTRATION error.
func IsConflictingRegistration(err error) bool { return errors.Is(err, ErrConflictingRegistration) }

// IsNestedNotResolved reports whether err is a NESTED_ENTITY_NOT_RESOLVED error.
func IsNestedNotResolved(err error) bool { return errors.Is(err, ErrNestedNotResolved) }

// IsInvalidFieldValue reports whether err is an INVALID_FIELD_VALUE error.
func IsInvalidFieldValue(err error) bool { return errors.Is(err, ErrInvalidFieldValue) }

// IsMisconfigured reports whether err is a MISCONFIGURED error.
func IsMisconfigured(err error) bool { return errors.Is(err, ErrMisconfigured) }

// IsTransactionAborted reports whether err is a TRANSACTION_ABORTED error.
func IsTransactionAborted(err error) bool { return errors.Is(err, ErrTransactionAborted) }
