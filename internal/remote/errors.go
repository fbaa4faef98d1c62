package remote

import (
	"errors"
	"fmt"
)

// Kind classifies a remote API failure. The classification is decided
// once, when the response (or transport error) is first seen.
type Kind string

const (
	// KindNotFound means the requested entity does not exist on the host.
	KindNotFound Kind = "not_found"

	// KindConflict means a name is already claimed on the host.
	KindConflict Kind = "conflict"

	// KindConnectivity means the host could not be reached at all.
	KindConnectivity Kind = "connectivity"

	// KindRemote covers every other host-side failure.
	KindRemote Kind = "remote"
)

// APIError is the typed error returned by every Client operation.
type APIError struct {
	// Kind is the failure classification.
	Kind Kind

	// Op names the failed operation, e.g. "create repository".
	Op string

	// StatusCode is the HTTP status, or 0 for transport failures.
	StatusCode int

	// Message is the host-provided or transport error detail.
	Message string

	err error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote: %s: %s (status %d, kind %s)", e.Op, e.Message, e.StatusCode, e.Kind)
	}
	return fmt.Sprintf("remote: %s: %s (kind %s)", e.Op, e.Message, e.Kind)
}

func (e *APIError) Unwrap() error {
	return e.err
}

// IsNotFound reports whether err is a NotFound remote failure.
func IsNotFound(err error) bool {
	return hasKind(err, KindNotFound)
}

// IsConflict reports whether err is a Conflict remote failure.
func IsConflict(err error) bool {
	return hasKind(err, KindConflict)
}

// IsConnectivity reports whether err is a Connectivity remote failure.
func IsConnectivity(err error) bool {
	return hasKind(err, KindConnectivity)
}

func hasKind(err error, kind Kind) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}
