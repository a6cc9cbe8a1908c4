package plugin

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRegistered marks a duplicate Register. It is logged, not returned.
	ErrAlreadyRegistered = errors.New("plugin already registered")

	// ErrNotFound is returned when an operation references an unknown plugin id.
	ErrNotFound = errors.New("plugin not found")

	// ErrAlreadyInitialized marks a redundant Initialize. It is logged, not returned.
	ErrAlreadyInitialized = errors.New("plugin already initialized")

	// ErrInitialization matches every *InitError via errors.Is.
	ErrInitialization = errors.New("plugin initialization failed")

	// ErrInvalidConfig is returned by Decode when a config fails validation.
	ErrInvalidConfig = errors.New("invalid plugin config")
)

// InitError wraps the error a plugin's Initialize hook returned. Err is the
// hook's error unchanged, so errors.Is and errors.As see through to it.
type InitError struct {
	PluginID string
	Err      error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("plugin %s: initialization failed: %v", e.PluginID, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrInitialization) hold for any InitError.
func (e *InitError) Is(target error) bool {
	return target == ErrInitialization
}
