package models

import "errors"

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrForbidden            = errors.New("forbidden")
	ErrNotFound             = errors.New("not found")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrUpstreamFailure      = errors.New("upstream failure")
)

// Wire error codes carried in the "error" field of a response envelope.
const (
	CodeAuthenticationFailed = "authentication_failed"
	CodeForbidden            = "forbidden"
	CodeNotFound             = "not_found"
	CodeInvalidArgument      = "invalid_argument"
	CodeUpstreamFailure      = "upstream_failure"
	CodeInternal             = "internal"
)

func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAuthenticationFailed):
		return CodeAuthenticationFailed
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrUpstreamFailure):
		return CodeUpstreamFailure
	}
	return CodeInternal
}

// PublicMessage returns a message safe to show a client. Only validation
// errors carry their detail; everything else gets a generic text.
func PublicMessage(err error) string {
	switch ErrorCode(err) {
	case CodeInvalidArgument:
		return err.Error()
	case CodeAuthenticationFailed:
		return "authentication failed"
	case CodeForbidden:
		return "you do not have access to this resource"
	case CodeNotFound:
		return "resource not found"
	case CodeUpstreamFailure:
		return "the operation could not be completed, please retry"
	}
	return "internal server error"
}
