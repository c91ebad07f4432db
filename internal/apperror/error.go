package apperror

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Error is the typed error returned by adapters, the transfer coordinator and the orchestrator.
type Error struct {
	Kind     Kind
	Exchange string
	Op       string
	// Param names the offending request field or exchange filter, e.g. LOT_SIZE.
	Param      string
	Message    string
	RetryAfter time.Duration
	cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if e.Exchange != "" {
		sb.WriteString(" [" + e.Exchange + "]")
	}
	if e.Op != "" {
		sb.WriteString(" " + e.Op)
	}
	if e.Message != "" {
		sb.WriteString(": " + e.Message)
	}
	if e.Param != "" {
		sb.WriteString(" (param: " + e.Param + ")")
	}
	if e.cause != nil {
		sb.WriteString(": " + e.cause.Error())
	}
	return sb.String()
}

// Unwrap implements the errors.Unwrap interface.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Remediation returns the remediation hint for this error's kind.
func (e *Error) Remediation() string {
	return e.Kind.Remediation()
}

// Option is a functional option for Error.
type Option func(*Error)

func WithExchange(exchange string) Option {
	return func(e *Error) { e.Exchange = exchange }
}

func WithOp(op string) Option {
	return func(e *Error) { e.Op = op }
}

func WithParam(param string) Option {
	return func(e *Error) { e.Param = param }
}

func WithRetryAfter(d time.Duration) Option {
	return func(e *Error) { e.RetryAfter = d }
}

func WithCause(cause error) Option {
	return func(e *Error) { e.cause = cause }
}

// New creates an Error of the given kind.
func New(kind Kind, message string, opts ...Option) *Error {
	e := &Error{Kind: kind, Message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf is New with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

func Authentication(exchange, message string, opts ...Option) *Error {
	return New(KindAuthentication, message, append(opts, WithExchange(exchange))...)
}

func InsufficientBalance(exchange, message string, opts ...Option) *Error {
	return New(KindInsufficientBalance, message, append(opts, WithExchange(exchange))...)
}

func OrderRejected(param, message string, opts ...Option) *Error {
	return New(KindOrderRejected, message, append(opts, WithParam(param))...)
}

func Transient(exchange, message string, opts ...Option) *Error {
	return New(KindTransientNetwork, message, append(opts, WithExchange(exchange))...)
}

func AllowlistBlocked(exchange, message string, opts ...Option) *Error {
	return New(KindAllowlistBlocked, message, append(opts, WithExchange(exchange))...)
}

func TransferTimeout(message string, opts ...Option) *Error {
	return New(KindTransferTimeout, message, opts...)
}

func Configuration(message string, opts ...Option) *Error {
	return New(KindConfiguration, message, opts...)
}

func Validation(param, message string) *Error {
	return New(KindValidation, message, WithParam(param))
}

func StaleOpportunity(message string, opts ...Option) *Error {
	return New(KindStaleOpportunity, message, opts...)
}

func CapitalLocked(exchange, message string, opts ...Option) *Error {
	return New(KindCapitalLocked, message, append(opts, WithExchange(exchange))...)
}

// KindOf classifies any error. Errors that are not *Error are Internal, except
// deadline and network errors which are transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransientNetwork
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether err may succeed if the same request is sent again.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return KindOf(err) == KindTransientNetwork
}

// RetryAfterOf returns the server-requested delay carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.RetryAfter
	}
	return 0
}

// ExchangeOf returns the exchange an error originated from, if known.
func ExchangeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Exchange
	}
	return ""
}

// UserMessage renders a short classification plus remediation, never a stack trace.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	kind := KindOf(err)
	var sb strings.Builder
	sb.WriteString(kind.Summary())

	var appErr *Error
	if errors.As(err, &appErr) {
		if appErr.Exchange != "" {
			sb.WriteString(" on " + appErr.Exchange)
		}
		if appErr.Message != "" {
			sb.WriteString(" (" + appErr.Message)
			if appErr.Param != "" {
				sb.WriteString(", " + appErr.Param)
			}
			sb.WriteString(")")
		}
	}
	if r := kind.Remediation(); r != "" {
		sb.WriteString(" - " + r)
	}
	return sb.String()
}
