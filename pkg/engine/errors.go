package engine

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code categorizes method errors.
type Code string

const (
	// CodeInvalidArgument: bad index, kind/type mismatch on input assignment, undersized output buffer.
	CodeInvalidArgument Code = "InvalidArgument"
	// CodeInvalidState: the call is not valid in the method's current state.
	CodeInvalidState Code = "InvalidState"
	// CodeInvalidProgram: the plan is structurally malformed.
	CodeInvalidProgram Code = "InvalidProgram"
	// CodeAllocationFailed: a memory arena could not satisfy a request.
	CodeAllocationFailed Code = "AllocationFailed"
	// CodeOperatorNotFound: an opcode resolves to no kernel, delegate slot or backend.
	CodeOperatorNotFound Code = "OperatorNotFound"
	// CodeOperatorExecutionFailed: a resolved kernel reported failure.
	CodeOperatorExecutionFailed Code = "OperatorExecutionFailed"
	// CodeDelegateExecutionFailed: a delegate reported failure.
	CodeDelegateExecutionFailed Code = "DelegateExecutionFailed"
	// CodeDelegateInitFailed: a backend could not build its delegate.
	CodeDelegateInitFailed Code = "DelegateInitFailed"
	// CodeEndOfMethod is not a failure: single-step execution reached the end.
	CodeEndOfMethod Code = "EndOfMethod"
)

// Sentinels for errors.Is; matching is by code only.
var (
	ErrInvalidArgument         = &Error{Code: CodeInvalidArgument}
	ErrInvalidState            = &Error{Code: CodeInvalidState}
	ErrInvalidProgram          = &Error{Code: CodeInvalidProgram}
	ErrAllocationFailed        = &Error{Code: CodeAllocationFailed}
	ErrOperatorNotFound        = &Error{Code: CodeOperatorNotFound}
	ErrOperatorExecutionFailed = &Error{Code: CodeOperatorExecutionFailed}
	ErrDelegateExecutionFailed = &Error{Code: CodeDelegateExecutionFailed}
	ErrDelegateInitFailed      = &Error{Code: CodeDelegateInitFailed}
	ErrEndOfMethod             = &Error{Code: CodeEndOfMethod, Detail: "end of method"}
)

// Error is returned by every fallible Method operation.
type Error struct {
	Code Code
	// Op is the Method operation that failed, e.g. "set_input".
	Op     string
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Code))
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// GRPCStatus lets gRPC servers return method errors directly.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(grpcCode(e.Code), e.Error())
}

func grpcCode(c Code) codes.Code {
	switch c {
	case CodeInvalidArgument, CodeInvalidProgram:
		return codes.InvalidArgument
	case CodeInvalidState:
		return codes.FailedPrecondition
	case CodeAllocationFailed:
		return codes.ResourceExhausted
	case CodeOperatorNotFound:
		return codes.Unimplemented
	case CodeEndOfMethod:
		return codes.OutOfRange
	case CodeOperatorExecutionFailed, CodeDelegateExecutionFailed, CodeDelegateInitFailed:
		return codes.Internal
	}
	return codes.Unknown
}

// CodeOf returns the code of the first *Error in err's chain, or "" if there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsEndOfMethod reports whether err is the end-of-method signal from Step.
func IsEndOfMethod(err error) bool {
	return errors.Is(err, ErrEndOfMethod)
}

func newError(code Code, op string, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Detail: fmt.Sprintf(format, args...)}
}

func wrapError(code Code, op string, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Detail: fmt.Sprintf(format, args...), Cause: cause}
}
