package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// NoContentPlaceholder is substituted when a backend answers successfully without content.
const NoContentPlaceholder = "No response content"

var (
	// ErrConfiguration marks a missing or disabled backend, or a missing required credential.
	ErrConfiguration = errors.New("configuration error")
	// ErrNetwork marks connection, DNS, and TLS failures.
	ErrNetwork = errors.New("network error")
	// ErrTimeout marks a request that exceeded its deadline.
	ErrTimeout = errors.New("request timed out")
	// ErrProtocol marks a non-success status or an unexpected response shape.
	ErrProtocol = errors.New("protocol error")
	// ErrInternal marks a fault inside chorus itself, such as a recovered panic.
	ErrInternal = errors.New("internal error")
)

// ErrorKind classifies a failed Result.
type ErrorKind int

const (
	ErrorKindNone ErrorKind = iota
	ErrorKindConfiguration
	ErrorKindNetwork
	ErrorKindTimeout
	ErrorKindProtocol
	ErrorKindCancelled
	ErrorKindInternal
)

// String returns a short lowercase name for the kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNone:
		return "none"
	case ErrorKindConfiguration:
		return "configuration"
	case ErrorKindNetwork:
		return "network"
	case ErrorKindTimeout:
		return "timeout"
	case ErrorKindProtocol:
		return "protocol"
	case ErrorKindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Usage reports token accounting for a successful query.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the normalized outcome of one model query. It is either a success carrying
// Content (and optionally Usage) or a failure carrying ErrorMessage and ErrorKind, never both.
// Build values with Success and Failure.
type Result struct {
	Model        string
	Content      string
	Usage        *Usage
	ErrorMessage string
	ErrorKind    ErrorKind
}

// Success builds a successful Result.
func Success(model, content string, usage *Usage) Result {
	return Result{Model: model, Content: content, Usage: usage}
}

// Failure builds a failed Result of the given kind.
func Failure(model string, kind ErrorKind, message string) Result {
	if kind == ErrorKindNone {
		kind = ErrorKindInternal
	}
	if strings.TrimSpace(message) == "" {
		message = "Unknown error occurred"
	}
	return Result{Model: model, ErrorMessage: message, ErrorKind: kind}
}

// Fail converts err into a failed Result, classifying it with Classify.
func Fail(model string, err error) Result {
	if err == nil {
		return Failure(model, ErrorKindInternal, "")
	}
	kind := Classify(err)
	msg := err.Error()
	switch kind {
	case ErrorKindTimeout:
		if !strings.Contains(msg, "timed out") {
			msg = "request timed out: " + msg
		}
	case ErrorKindCancelled:
		if !strings.Contains(msg, "cancel") {
			msg = "request cancelled: " + msg
		}
	}
	return Failure(model, kind, msg)
}

// OK reports whether r is a success.
func (r Result) OK() bool {
	return r.ErrorKind == ErrorKindNone
}

// Classify maps an adapter error onto the error taxonomy.
func Classify(err error) ErrorKind {
	var netErr net.Error
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrConfiguration):
		return ErrorKindConfiguration
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return ErrorKindCancelled
	case errors.Is(err, ErrProtocol):
		return ErrorKindProtocol
	case errors.Is(err, ErrInternal):
		return ErrorKindInternal
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrorKindTimeout
	case errors.Is(err, ErrNetwork), errors.As(err, &netErr):
		return ErrorKindNetwork
	default:
		return ErrorKindProtocol
	}
}

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// Errorf builds an error that matches kind under errors.Is while its message omits the
// sentinel text, so backend-supplied messages reach the user verbatim.
func Errorf(kind error, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// ContentOrPlaceholder returns content, or handles a missing content field according to limits.
func ContentOrPlaceholder(content string, limits Limits) (string, error) {
	if content != "" {
		return content, nil
	}
	if limits.StrictContent {
		return "", Errorf(ErrProtocol, "response did not contain any content")
	}
	return NoContentPlaceholder, nil
}
