// Package apperr defines the error taxonomy shared by the domain services and
// the HTTP layer. Every failure surfaced to a caller carries exactly one Kind.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind classifies a failure for callers and for status mapping.
type Kind string

const (
	KindInvalidInput            Kind = "invalid_input"
	KindInvalidTarget           Kind = "invalid_target"
	KindUnauthenticated         Kind = "unauthenticated"
	KindTokenExpired            Kind = "token_expired"
	KindActorInactive           Kind = "actor_inactive"
	KindForbidden               Kind = "forbidden"
	KindLastActiveAdministrator Kind = "last_active_administrator"
	KindNotFound                Kind = "not_found"
	KindSchedulingConflict      Kind = "scheduling_conflict"
	KindStoreUnavailable        Kind = "store_unavailable"
	KindInternal                Kind = "internal"
)

// Sentinels for errors.Is checks. Errors created with New or Wrap match the
// sentinel of their kind.
var (
	ErrInvalidInput            = &Error{Kind: KindInvalidInput, Message: "invalid input"}
	ErrInvalidTarget           = &Error{Kind: KindInvalidTarget, Message: "invalid target practitioner"}
	ErrUnauthenticated         = &Error{Kind: KindUnauthenticated, Message: "authentication required"}
	ErrTokenExpired            = &Error{Kind: KindTokenExpired, Message: "token expired"}
	ErrActorInactive           = &Error{Kind: KindActorInactive, Message: "actor is inactive"}
	ErrForbidden               = &Error{Kind: KindForbidden, Message: "operation not permitted for role"}
	ErrLastActiveAdministrator = &Error{Kind: KindLastActiveAdministrator, Message: "at least one active administrator is required"}
	ErrNotFound                = &Error{Kind: KindNotFound, Message: "not found"}
	ErrSchedulingConflict      = &Error{Kind: KindSchedulingConflict, Message: "slot overlaps an existing booking"}
	ErrStoreUnavailable        = &Error{Kind: KindStoreUnavailable, Message: "calendar store unavailable"}
)

// Error is a classified failure with an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// ErrorKind reports the classification.
func (e *Error) ErrorKind() Kind { return e.Kind }

// New returns a classified error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err, keeping it as the cause.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Kinded is implemented by errors that carry their own classification.
type Kinded interface {
	ErrorKind() Kind
}

// Detailer is implemented by errors that attach structured context to the
// response body.
type Detailer interface {
	Details() map[string]interface{}
}

// KindOf returns the classification of err. Deadline expiry is reported as
// store unavailability; anything unclassified is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindStoreUnavailable
	}
	return KindInternal
}

// StatusCode maps err to an HTTP status.
func StatusCode(err error) int {
	switch KindOf(err) {
	case KindInvalidInput, KindInvalidTarget:
		return http.StatusBadRequest
	case KindUnauthenticated, KindTokenExpired:
		return http.StatusUnauthorized
	case KindActorInactive, KindForbidden, KindLastActiveAdministrator:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindSchedulingConflict:
		return http.StatusConflict
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Body renders err as the JSON error payload.
func Body(err error) map[string]interface{} {
	kind := KindOf(err)
	body := map[string]interface{}{
		"error":   string(kind),
		"message": err.Error(),
	}
	if kind == KindInternal {
		body["message"] = "internal server error"
	}
	var d Detailer
	if errors.As(err, &d) {
		for k, v := range d.Details() {
			body[k] = v
		}
	}
	return body
}

// HTTPError converts err into an echo.HTTPError carrying the JSON body.
func HTTPError(err error) *echo.HTTPError {
	return echo.NewHTTPError(StatusCode(err), Body(err)).SetInternal(err)
}
