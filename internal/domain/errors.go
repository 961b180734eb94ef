package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateName is returned when an agent display name is taken.
	ErrDuplicateName = errors.New("an agent with this display name already exists")
	// ErrInvalidCredentials covers unknown usernames and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountInactive is returned when a deactivated user logs in.
	ErrAccountInactive = errors.New("account is inactive")
	// ErrUnauthenticated means no usable token or an inactive account.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden means the caller is authenticated but lacks the role.
	ErrForbidden = errors.New("admin access required")
	// ErrUpstream wraps failures talking to the external assistant API.
	ErrUpstream = errors.New("upstream assistant API error")
)

// ValidationError lists every problem found in a client payload.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Violations, "; ")
}

// UpstreamError carries the external API's status and body for diagnostics.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Body != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
}

// Unwrap lets errors.Is match both ErrUpstream and the transport cause.
func (e *UpstreamError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUpstream, e.Err}
	}
	return []error{ErrUpstream}
}
