package challenge

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound     = errors.New("challenge: not found")
	ErrExpired      = errors.New("challenge: expired")
	ErrInvalid      = errors.New("challenge: answer does not match")
	ErrMissingField = errors.New("challenge: missing field")
)

// PublicFailure is the localization message ID shown for every failed
// validation. Unknown, expired and wrong answers all look the same to the user.
const PublicFailure = "captcha_failed"

func NewError(verb, publicReason string, privateReason error) *Error {
	return &Error{
		Verb:          verb,
		PublicReason:  publicReason,
		PrivateReason: privateReason,
		StatusCode:    http.StatusForbidden,
	}
}

type Error struct {
	PrivateReason error
	Verb          string
	PublicReason  string
	StatusCode    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("challenge: error when processing challenge: %s: %v", e.Verb, e.PrivateReason)
}

func (e *Error) Unwrap() error {
	return e.PrivateReason
}

// Result names the outcome of a validation for logs and metrics.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalid):
		return "invalid"
	case errors.Is(err, ErrMissingField):
		return "malformed"
	default:
		return "error"
	}
}
