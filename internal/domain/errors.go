package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrNotFound     = errors.New("domain: not found")
	ErrConflict     = errors.New("domain: conflict")
	ErrUnauthorized = errors.New("domain: unauthorized")
	ErrForbidden    = errors.New("domain: forbidden")

	// ErrInvalidState marks a session whose active tenant no longer satisfies
	// the membership invariant. It is recovered by clearing the context.
	ErrInvalidState = errors.New("domain: invalid state")

	// ErrValidation marks a malformed request, e.g. a missing tenant id.
	ErrValidation = errors.New("domain: validation failed")
)

// ErrSessionNotFound is returned by session stores for missing or expired
// sessions. It matches ErrNotFound, so check it first wherever a missing
// session must be told apart from a missing tenant.
var ErrSessionNotFound = fmt.Errorf("%w: session", ErrNotFound)
