package destination

import (
	"context"
	"errors"
	"strings"
)

// Class is the failure class of an upload attempt. Transient failures are
// worth retrying on a later pass, auth failures are worth one credential
// refresh, everything else is terminal for the destination.
type Class int

const (
	ClassTerminal Class = iota
	ClassTransient
	ClassAuth
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassAuth:
		return "auth"
	default:
		return "terminal"
	}
}

// TransientError wraps failures the caller should retry later.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// AuthError wraps failures caused by a rejected or expired credential.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return "auth: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Hints shared by every platform. Destination-specific lists extend these.
var (
	baseTransientHints = []string{
		"429",
		"too many requests",
		"rate limit",
		"timed out",
		"timeout",
		"temporarily unavailable",
		"connection reset",
		"connection refused",
		"service unavailable",
		"network is unreachable",
		"bad gateway",
		"context canceled",
		"context deadline exceeded",
	}

	baseAuthHints = []string{
		"401",
		"unauthorized",
		"invalid_grant",
		"invalid credentials",
		"token expired",
		"expired or revoked",
	}
)

// classify maps an upload error to its class. Typed wrappers win; otherwise
// the error text is matched against the destination's hint lists, auth before
// transient, and anything unrecognized is terminal.
func classify(err error, transientHints, authHints []string) Class {
	if err == nil {
		return ClassTerminal
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return ClassTransient
	}
	var auth *AuthError
	if errors.As(err, &auth) {
		return ClassAuth
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	text := strings.ToLower(err.Error())
	if matchesAny(text, authHints) || matchesAny(text, baseAuthHints) {
		return ClassAuth
	}
	if matchesAny(text, transientHints) || matchesAny(text, baseTransientHints) {
		return ClassTransient
	}

	return ClassTerminal
}

func matchesAny(text string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(text, h) {
			return true
		}
	}
	return false
}
