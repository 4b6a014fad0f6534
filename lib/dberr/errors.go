package dberr

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps a Code and a message. The optional Err is the underlying cause
// and is reachable through errors.Unwrap.
type Error struct {
	Code Code   // The error code
	Msg  string // The error message
	Err  error  // The wrapped cause (may be nil)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new *Error with the given code and formatted message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new *Error with the given code that wraps err.
func Wrap(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
		Err:  err,
	}
}

// CodeOf returns the code of the first *Error in err's chain,
// CodeInternal for any other non-nil error and CodeSuccess for nil.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

type Code uint64

const (
	CodeSuccess             Code = iota // 0: no error
	CodeInternal                        // 1: unexpected internal error
	CodeInvalidArgument                 // 2: the request was malformed
	CodeDuplicateCollection             // 3: the collection already exists
	CodeCollectionNotFound              // 4: the collection does not exist
	CodeOperationTimeout                // 5: a quiescence or lock wait ran out of retries
	CodeQueryExecution                  // 6: the query engine rejected the statement
	CodeMergeFailure                    // 7: a merge step failed (logged, non-fatal)
	CodePersistenceFailure              // 8: writing the columnar file failed
	CodeStaleCatalogEntry               // 9: a catalog row has no backing file
)

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "Success"
	case CodeInternal:
		return "InternalError"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeDuplicateCollection:
		return "DuplicateCollection"
	case CodeCollectionNotFound:
		return "CollectionNotFound"
	case CodeOperationTimeout:
		return "OperationTimeout"
	case CodeQueryExecution:
		return "QueryExecutionError"
	case CodeMergeFailure:
		return "MergeFailure"
	case CodePersistenceFailure:
		return "PersistenceFailure"
	case CodeStaleCatalogEntry:
		return "StaleCatalogEntry"
	default:
		return "Unknown"
	}
}
