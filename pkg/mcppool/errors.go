package mcppool

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownServer marks operations that referenced a server name the pool has
// never seen. Never retried.
var ErrUnknownServer = errors.New("unknown server")

// ErrNotConnected marks operations against a configured server with no live
// session. Like ErrUnknownServer it is fatal to the call and never retried;
// call Connect first.
var ErrNotConnected = errors.New("server not connected")

// ErrEmptyTokenOutput is returned when a credential-refresh command exits
// successfully but prints nothing usable.
var ErrEmptyTokenOutput = errors.New("credential command produced no output")

// FailureKind categorizes a session or transport failure for recovery
// purposes.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	// FailureAuth covers rejected or expired credentials; recoverable via a
	// forced credential refresh plus reconnect.
	FailureAuth
	// FailureConnection covers dead transports; recoverable via reconnect.
	FailureConnection
)

// CommandError reports a credential-refresh command that exited non-zero,
// timed out, or exceeded the output cap. Stderr carries whatever the process
// wrote to its error stream.
type CommandError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("mcppool: credential command %q failed: %v: %s", e.Command, e.Err, strings.TrimSpace(e.Stderr))
	}
	return fmt.Sprintf("mcppool: credential command %q failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// taggedError attaches a FailureKind at the point of origin so classification
// does not depend on message text.
type taggedError struct {
	kind FailureKind
	err  error
}

func (e *taggedError) Error() string { return e.err.Error() }
func (e *taggedError) Unwrap() error { return e.err }

// TagFailure wraps err with an explicit failure kind, overriding the
// substring heuristic for that error. Use it when the collaborator that
// produced the failure knows its category.
func TagFailure(err error, kind FailureKind) error {
	if err == nil {
		return nil
	}
	return &taggedError{kind: kind, err: err}
}

func taggedKind(err error) (FailureKind, bool) {
	var tagged *taggedError
	if errors.As(err, &tagged) {
		return tagged.kind, true
	}
	return FailureUnknown, false
}

// Auth and connection markers matched against a failure's text when no
// explicit tag is present. The SDK surfaces most transport failures as plain
// errors, so substring matching remains the bridge; "connection refused" and
// "broken pipe" cover the strings Go's net and os layers produce for
// ECONNREFUSED and EPIPE.
var (
	authErrorMarkers = []string{"invalid_token", "unauthorized", "401", "authentication", "access token"}
	connErrorMarkers = []string{"closed", "econnrefused", "epipe", "connection refused", "broken pipe"}
)

// IsAuthError reports whether err looks like a rejected or expired
// credential. Matching is case-insensitive. Not mutually exclusive with
// IsConnectionError; recovery consults the auth check first.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if kind, ok := taggedKind(err); ok {
		return kind == FailureAuth
	}
	return containsAny(strings.ToLower(err.Error()), authErrorMarkers)
}

// IsConnectionError reports whether err looks like a dead or refused
// transport.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if kind, ok := taggedKind(err); ok {
		return kind == FailureConnection
	}
	return containsAny(strings.ToLower(err.Error()), connErrorMarkers)
}

func containsAny(s string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

func unknownServer(name string) error {
	return fmt.Errorf("mcppool: %w %q", ErrUnknownServer, name)
}

func notConnected(name string) error {
	return fmt.Errorf("mcppool: %w: %q", ErrNotConnected, name)
}
