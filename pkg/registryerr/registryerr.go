// Package registryerr defines the registry's error-kind taxonomy so that
// every layer — coordinator, discovery, HTTP surface — can agree on a
// stable vocabulary for client-facing failures instead of matching on
// ad-hoc error strings.
package registryerr

import (
	"errors"
	"fmt"
)

// Kind is one of the taxonomy's fixed error kinds.
type Kind string

const (
	// Input errors
	KindInvalidVersion  Kind = "invalid-version"
	KindInvalidFilename Kind = "invalid-filename"
	KindInvalidManifest Kind = "invalid-manifest"
	KindInvalidInput    Kind = "invalid-input"
	KindNameMismatch    Kind = "name-mismatch"
	KindVersionMismatch Kind = "version-mismatch"
	KindTagMismatch     Kind = "tag-mismatch"

	// Auth errors
	KindUnauthenticated Kind = "unauthenticated"
	KindTokenInvalid    Kind = "token-invalid"
	KindTokenExpired    Kind = "token-expired"
	KindForbidden       Kind = "forbidden"

	// State errors
	KindPackageNotFound Kind = "package-not-found"
	KindVersionNotFound Kind = "version-not-found"
	KindVersionExists   Kind = "version-exists"
	KindNameClaimed     Kind = "name-claimed"

	// Verification errors
	KindDigestMismatch Kind = "digest-mismatch"
	KindSizeMismatch   Kind = "size-mismatch"

	// Fetch errors
	KindURLNotHTTPS      Kind = "url-not-https"
	KindURLUnreachable   Kind = "url-unreachable"
	KindURLRedirectLimit Kind = "url-redirect-limit"
	KindFetchTimeout     Kind = "fetch-timeout"
	KindSizeLimitExceed  Kind = "size-limit-exceeded"

	// Throttling
	KindRateLimited Kind = "rate-limited"

	// Internal
	KindInternal Kind = "internal-error"
)

// Sub-reasons for KindForbidden, per spec §4.7.
const (
	ReasonNotOwner             = "not-owner"
	ReasonNoMatchingTrustedPub = "no-matching-trusted-publisher"
	ReasonNameClaimed          = "name-claimed"
)

// Error is a registry error carrying a stable Kind, a human message, and
// optional structured details (offending field, URL, filename, …).
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a registry error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a registry error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a registry error of the given kind wrapping an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithDetails attaches structured details and returns the same error for chaining.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var re *Error
	if !errors.As(err, &re) {
		return false
	}
	return re.Kind == kind
}

// KindOf extracts the Kind from err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	if re, ok := err.(*Error); ok {
		return re.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind to the HTTP status code it should surface as, per
// the registry's external-interface contract.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidVersion, KindInvalidManifest, KindInvalidInput, KindNameMismatch, KindVersionMismatch,
		KindDigestMismatch, KindSizeMismatch, KindURLNotHTTPS,
		KindURLUnreachable, KindURLRedirectLimit, KindFetchTimeout:
		return 400
	case KindUnauthenticated, KindTokenInvalid, KindTokenExpired:
		return 401
	case KindForbidden:
		return 403
	case KindPackageNotFound, KindVersionNotFound:
		return 404
	case KindVersionExists, KindNameClaimed:
		return 409
	case KindSizeLimitExceed:
		return 413
	case KindInvalidFilename, KindTagMismatch:
		return 422
	case KindRateLimited:
		return 429
	default:
		return 500
	}
}
