package chat

import (
	"errors"
	"fmt"
)

// Core failure taxonomy. Handlers map these to transport status codes;
// nothing here unwinds across the connection-handling loop.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidState = errors.New("invalid state")
	ErrTransient    = errors.New("transient failure")
)

// Recall-specific refinements of ErrInvalidState, so callers can branch on
// the reason while errors.Is(err, ErrInvalidState) still holds.
var (
	ErrAlreadyRecalled = fmt.Errorf("message already recalled: %w", ErrInvalidState)
	ErrRecallExpired   = fmt.Errorf("recall window expired: %w", ErrInvalidState)
)

// transient tags a storage error as a Transient failure.
func transient(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, ErrTransient)
}
