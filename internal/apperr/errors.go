// Package apperr classifies failures by kind so callers decide retry, skip,
// or abort from the kind instead of the message text.
package apperr

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Kind is the failure class of an error.
type Kind uint8

const (
	// KindInternal is an unexpected failure with no better classification.
	KindInternal Kind = iota
	// KindStructural rejects a whole batch: bad manifest, empty, over cap.
	KindStructural
	// KindValidation rejects a single record.
	KindValidation
	// KindTransient is a timeout, transport failure, throttle, or 5xx. Retryable.
	KindTransient
	// KindInvalidPayload is a provider answer that cannot be used. Not retryable.
	KindInvalidPayload
	// KindNotFound is a missing batch or record.
	KindNotFound
	// KindUnavailable is a refused call: open breaker or no free slot.
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindStructural:
		return "structural"
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindInvalidPayload:
		return "invalid_payload"
	case KindNotFound:
		return "not_found"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Text codes carried by service errors.
const (
	CodeStructural     = "SHELVER_STRUCTURAL"
	CodeValidation     = "SHELVER_VALIDATION"
	CodeTransient      = "SHELVER_UPSTREAM_UNAVAILABLE"
	CodeInvalidPayload = "SHELVER_UPSTREAM_INVALID"
	CodeNotFound       = "SHELVER_NOT_FOUND"
	CodeUnavailable    = "SHELVER_BUSY"
	CodeInternal       = "SHELVER_INTERNAL_ERROR"
)

// Error attaches a Kind and the failing operation to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "":
		return e.Op + ": " + e.Kind.String() + " error"
	}
	return e.Kind.String() + " error"
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// E wraps err with kind and op. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// New builds a kinded error from a message.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// KindOf reports the kind of the outermost classified error in err's chain.
// Context deadline errors are transient; cancellation is internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether another attempt may succeed.
func Retryable(err error) bool {
	return Is(err, KindTransient)
}

// HTTPStatus maps an error kind to a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindStructural, KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindTransient, KindInvalidPayload:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToServiceError renders err as a go-errors envelope for transport layers.
func ToServiceError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}

	kind := KindOf(err)
	category, textCode := categoryFor(kind)
	message := strings.TrimSpace(err.Error())
	if kind == KindInternal {
		message = "An unexpected error occurred"
	}

	return goerrors.New(message, category).
		WithCode(HTTPStatus(err)).
		WithTextCode(textCode).
		WithMetadata(map[string]any{"kind": kind.String()})
}

func categoryFor(kind Kind) (goerrors.Category, string) {
	switch kind {
	case KindStructural:
		return goerrors.CategoryBadInput, CodeStructural
	case KindValidation:
		return goerrors.CategoryValidation, CodeValidation
	case KindTransient:
		return goerrors.CategoryExternal, CodeTransient
	case KindInvalidPayload:
		return goerrors.CategoryExternal, CodeInvalidPayload
	case KindNotFound:
		return goerrors.CategoryNotFound, CodeNotFound
	case KindUnavailable:
		return goerrors.CategoryRateLimit, CodeUnavailable
	default:
		return goerrors.CategoryInternal, CodeInternal
	}
}
