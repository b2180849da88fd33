package errors

import (
	goerrors "errors"
	"fmt"
)

// Is and As are re-exported so that callers only need to import this package.
var (
	Is = goerrors.Is
	As = goerrors.As
)

// New creates a new error with the formatted message.
func New(format string, a ...interface{}) error {
	if len(a) == 0 {
		return goerrors.New(format)
	}
	return fmt.Errorf(format, a...)
}

type contextError struct {
	context string
	err     error
}

func (err contextError) Error() string {
	return fmt.Sprintf("%s: %s", err.context, err.err)
}

func (err contextError) Unwrap() error {
	return err.err
}

// WithContext annotates err with a short description of what was being
// attempted when the error occurred.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return contextError{context: context, err: err}
}

// FriendlyError is an error whose message is meant to be shown directly to
// the user, without the context of the call stack that produced it.
type FriendlyError struct {
	template string
	args     []interface{}
}

// NewFriendlyError creates a FriendlyError from a format string.
func NewFriendlyError(template string, args ...interface{}) error {
	return FriendlyError{template: template, args: args}
}

func (err FriendlyError) Error() string {
	return err.FriendlyMessage()
}

// FriendlyMessage returns the message formatted for the user.
func (err FriendlyError) FriendlyMessage() string {
	return fmt.Sprintf(err.template, err.args...)
}

type friendlyError interface {
	FriendlyMessage() string
}

// GetPrintableMessage returns the friendliest message available for err.
// If any error in the chain has a friendly message, that message is used.
// Otherwise, the full error string is returned.
func GetPrintableMessage(err error) string {
	for e := err; e != nil; e = goerrors.Unwrap(e) {
		if friendly, ok := e.(friendlyError); ok {
			return friendly.FriendlyMessage()
		}
	}
	return err.Error()
}

// RootCause returns the innermost error wrapped by err.
func RootCause(err error) error {
	for {
		next := goerrors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
