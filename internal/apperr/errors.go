// Package apperr defines the error taxonomy shared by the account, credential
// and upload layers. Sentinels classify; *Error carries context for the admin
// layer. Use errors.Is(err, apperr.ErrAuth) to check.
package apperr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrNotFound                = errors.New("not found")
	ErrAuth                    = errors.New("authentication failed")
	ErrConflict                = errors.New("conflict")
	ErrQuota                   = errors.New("storage quota exceeded")
	ErrPermissionDenied        = errors.New("permission denied")
	ErrTransient               = errors.New("transient network error")
	ErrCredentialUnavailable   = errors.New("credential unavailable")
	ErrNoUsableAccount         = errors.New("no usable account")
	ErrCannotDeactivateDefault = errors.New("cannot deactivate default account")
	ErrAccountHasFiles         = errors.New("account still owns files")
)

// Error wraps a sentinel kind with the operation and account it concerns.
type Error struct {
	Kind      error
	Op        string
	AccountID string
	Count     int64
	Msg       string
	Err       error

	// RetryAfter is the provider's requested delay before the next attempt.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.AccountID != "" {
		fmt.Fprintf(&b, " (account %s)", e.AccountID)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds an *Error of the given kind.
func New(kind error, op, accountID, msg string) *Error {
	return &Error{Kind: kind, Op: op, AccountID: accountID, Msg: msg}
}

// Wrap builds an *Error of the given kind around cause.
func Wrap(kind error, op, accountID string, cause error) *Error {
	return &Error{Kind: kind, Op: op, AccountID: accountID, Err: cause}
}

// Validation is shorthand for a ValidationError with a message.
func Validation(op, msg string) *Error {
	return &Error{Kind: ErrValidation, Op: op, Msg: msg}
}

// IsRetryable reports whether err should be retried internally.
// Only transient network errors qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// RetryAfterOf returns the provider-requested delay on err, or zero.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// AccountOf returns the account id recorded on the first *Error in err's chain.
func AccountOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.AccountID
	}
	return ""
}

// CountOf returns the count recorded on the first *Error in err's chain.
func CountOf(err error) int64 {
	var e *Error
	if errors.As(err, &e) {
		return e.Count
	}
	return 0
}
