package env

import (
	"errors"
	"fmt"
)

var (
	ErrMissingRequiredConfig = errors.New("missing required config")
	ErrInvalidBindings       = errors.New("invalid env bindings")
)

// MissingRequiredConfigError names the binding that could not be resolved.
type MissingRequiredConfigError struct {
	Key string
	Ref string
}

func (e *MissingRequiredConfigError) Error() string {
	if e.Ref != "" && e.Ref != e.Key {
		return fmt.Sprintf("%s: %s (set %s)", ErrMissingRequiredConfig, e.Key, e.Ref)
	}
	return fmt.Sprintf("%s: %s is unset or empty and has no default", ErrMissingRequiredConfig, e.Key)
}

func (e *MissingRequiredConfigError) Unwrap() error { return ErrMissingRequiredConfig }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidBindings, fmt.Sprintf(format, args...))
}
