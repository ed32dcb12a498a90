package permbit

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned by the enforcement chain whenever a check
// denies the call. It deliberately carries no detail beyond the denial;
// transports map it to their forbidden response.
var ErrUnauthorized = errors.New("permbit: unauthorized")

// ConfigError reports a programmer error: a check attached to an unsupported
// target, an undeclared action name, a missing lookup collaborator, and so
// on. It must never be swallowed or downgraded to a deny.
type ConfigError struct {
	Component string
	Detail    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("permbit: misconfigured %s: %s", e.Component, e.Detail)
}

func configErrorf(component, format string, args ...any) *ConfigError {
	return &ConfigError{Component: component, Detail: fmt.Sprintf(format, args...)}
}

// IsUnauthorized reports whether err is (or wraps) an authorization denial.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsConfigError reports whether err is (or wraps) a configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
