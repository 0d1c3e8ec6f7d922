package selector

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched (with errors.Is) by every error reported
// before any fit is scheduled.
var ErrConfiguration = errors.New("selector: invalid configuration")

// ConfigError describes which setting made a run impossible.
type ConfigError struct {
	Field  string
	Reason string
	Err    error // optional underlying error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("selector: invalid %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("selector: invalid %s: %s", e.Field, e.Reason)
}

// Unwrap exposes both ErrConfiguration and the underlying error.
func (e *ConfigError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrConfiguration, e.Err}
	}
	return []error{ErrConfiguration}
}

func configErr(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
