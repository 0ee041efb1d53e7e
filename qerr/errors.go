// Package qerr defines the errors a query translation can fail with.
package qerr

import (
	"errors"
	"fmt"
)

// Code classifies a translation error.
type Code string

const (
	CodeBinding       Code = "BINDING"
	CodeUnsupported   Code = "UNSUPPORTED_OPERATION"
	CodeMalformed     Code = "MALFORMED_QUERY"
	CodeArgumentCount Code = "ARGUMENT_COUNT"
)

// BindingError reports a member, entity or navigation reference that
// cannot be resolved against the mapping.
type BindingError struct {
	Entity  string
	Member  string
	Message string
}

func (e *BindingError) Error() string {
	switch {
	case e.Entity != "" && e.Member != "":
		return fmt.Sprintf("%s: %s.%s: %s", CodeBinding, e.Entity, e.Member, e.Message)
	case e.Member != "":
		return fmt.Sprintf("%s: %s: %s", CodeBinding, e.Member, e.Message)
	case e.Entity != "":
		return fmt.Sprintf("%s: %s: %s", CodeBinding, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", CodeBinding, e.Message)
}

// Bindingf builds a BindingError for member of entity.
func Bindingf(entity, member, format string, args ...any) error {
	return &BindingError{Entity: entity, Member: member, Message: fmt.Sprintf(format, args...)}
}

// UnsupportedOperationError reports a function, operator or paging mode
// the target dialect cannot render.
type UnsupportedOperationError struct {
	Dialect   string
	Operation string
	Message   string
}

func (e *UnsupportedOperationError) Error() string {
	msg := fmt.Sprintf("%s: %s is not supported", CodeUnsupported, e.Operation)
	if e.Dialect != "" {
		msg += " by " + e.Dialect
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unsupported builds an UnsupportedOperationError.
func Unsupported(dialect, operation string) error {
	return &UnsupportedOperationError{Dialect: dialect, Operation: operation}
}

// MalformedQueryError reports a query that is structurally unusable, such
// as paging without any usable ordering.
type MalformedQueryError struct {
	Message string
}

func (e *MalformedQueryError) Error() string {
	return fmt.Sprintf("%s: %s", CodeMalformed, e.Message)
}

// Malformedf builds a MalformedQueryError.
func Malformedf(format string, args ...any) error {
	return &MalformedQueryError{Message: fmt.Sprintf(format, args...)}
}

// ArgumentCountError reports a function called with an arity its renderer
// does not accept.
type ArgumentCountError struct {
	Function string
	Expected string
	Got      int
}

func (e *ArgumentCountError) Error() string {
	return fmt.Sprintf("%s: %s expects %s arguments, got %d", CodeArgumentCount, e.Function, e.Expected, e.Got)
}

// CodeOf returns the code of the first translation error in err's chain,
// or "" when there is none.
func CodeOf(err error) Code {
	var (
		be *BindingError
		ue *UnsupportedOperationError
		me *MalformedQueryError
		ae *ArgumentCountError
	)
	switch {
	case errors.As(err, &be):
		return CodeBinding
	case errors.As(err, &ue):
		return CodeUnsupported
	case errors.As(err, &me):
		return CodeMalformed
	case errors.As(err, &ae):
		return CodeArgumentCount
	}
	return ""
}
