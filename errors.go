package restwrap

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"syscall"
)

var (
	// ErrInvalidMethod is returned when a request names a verb the session
	// cannot send. Nothing is transmitted.
	ErrInvalidMethod = errors.New("invalid request method")

	// ErrRetriesExhausted is returned after every attempt failed with a
	// connection reset.
	ErrRetriesExhausted = errors.New("connection reset retries exhausted")

	// ErrNoSolver is returned when a captcha must be solved but the
	// dispatcher has no Solver.
	ErrNoSolver = errors.New("no captcha solver configured")

	// ErrBodyNotInjectable is returned when a captcha token has to be added to
	// a raw (non-map) request body.
	ErrBodyNotInjectable = errors.New("request body cannot carry a captcha token")

	// ErrCaptchaUnresolved is returned when the request is challenged again
	// after a solved token was submitted.
	ErrCaptchaUnresolved = errors.New("captcha challenge persisted after solving")
)

// =============================================================================
// Dispatch Errors
// =============================================================================

// SendError is a non-retriable transport failure.
type SendError struct {
	Method string
	URL    string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// CaptchaRequiredError reports a captcha challenge embedded in an otherwise
// successful response. Response holds the challenged response.
type CaptchaRequiredError struct {
	SiteKey  string
	Service  string
	RqData   string
	RqToken  string
	Response *Response
}

func (e *CaptchaRequiredError) Error() string {
	return fmt.Sprintf("captcha required (%s, sitekey %s)", e.Service, e.SiteKey)
}

// AsCaptchaRequired extracts a *CaptchaRequiredError from err's chain.
func AsCaptchaRequired(err error) (*CaptchaRequiredError, bool) {
	var ce *CaptchaRequiredError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Kind names the outcome of a dispatch.
type Kind int

const (
	KindNone Kind = iota
	KindInvalidMethod
	KindRetriesExhausted
	KindTransport
	KindCaptcha
	KindSolver
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInvalidMethod:
		return "invalid_method"
	case KindRetriesExhausted:
		return "retries_exhausted"
	case KindTransport:
		return "transport"
	case KindCaptcha:
		return "captcha"
	case KindSolver:
		return "solver"
	default:
		return "other"
	}
}

// FailureKind classifies an error returned by Dispatcher.Send or
// Dispatcher.SendBypassingCaptcha.
func FailureKind(err error) Kind {
	if err == nil {
		return KindNone
	}
	var se *SendError
	var sv *SolveError
	switch {
	case errors.Is(err, ErrInvalidMethod):
		return KindInvalidMethod
	case errors.Is(err, ErrRetriesExhausted):
		return KindRetriesExhausted
	case errors.As(err, &se):
		return KindTransport
	case errors.As(err, &sv), errors.Is(err, ErrNoSolver):
		return KindSolver
	case errors.Is(err, ErrCaptchaUnresolved):
		return KindCaptcha
	}
	if _, ok := AsCaptchaRequired(err); ok {
		return KindCaptcha
	}
	return KindOther
}

// =============================================================================
// Fatal Errors
// =============================================================================

// FatalError marks a failure no retry can fix, such as an empty solver
// balance or a rejected API key. The pool stops on the first one.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func NewFatalError(err error) error {
	return &FatalError{Err: err}
}

// IsFatalError reports whether err's chain holds a *FatalError.
func IsFatalError(err error) bool {
	var fe *FatalError
	return err != nil && errors.As(err, &fe)
}

// fatalErrorCodes are solver error codes that end the run: billing, key and
// access problems, and task data the service will never accept.
var fatalErrorCodes = []string{
	"ERROR_ZERO_BALANCE",
	"ERROR_KEY_DOES_NOT_EXIST",
	"ERROR_WRONG_USER_KEY",
	"ERROR_IP_NOT_ALLOWED",
	"ERROR_IP_BANNED",
	"ERROR_INVALID_TASK_DATA",
}

func isFatalCode(code string) bool {
	return slices.Contains(fatalErrorCodes, code)
}

// ContainsFatalErrorString reports whether err's message names a fatal
// solver code, for errors that lost their *FatalError wrapper.
func ContainsFatalErrorString(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToUpper(err.Error())
	for _, code := range fatalErrorCodes {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

// =============================================================================
// Connection Reset
// =============================================================================

// connectionResetPatterns matches reset errors that lost their errno on the
// way up (TLS and HTTP/2 layers often re-wrap them as plain strings).
var connectionResetPatterns = []string{
	"connection reset",
	"forcibly closed by the remote host",
	"broken pipe",
}

// IsConnectionReset reports whether err is a connection reset, the only
// transport failure that is retried.
func IsConnectionReset(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range connectionResetPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
