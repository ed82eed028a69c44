package engine

import (
	"errors"
	"fmt"
)

var (
	ErrNoCameras           = errors.New("you must define at least one camera in 'cameras'")
	ErrMissingCameraEntity = errors.New("missing 'camera_entity'")
	ErrNegativeTimeout     = errors.New("timeout must not be negative")
	ErrNegativePriority    = errors.New("priority must not be negative")
)

// ConfigurationError is returned by NewEngine, Configure and Validate. Index is the zero-based
// position of the offending camera, or -1 when the camera list itself is invalid.
type ConfigurationError struct {
	Switcher string
	Index    int
	Err      error
}

func (e *ConfigurationError) Error() string {
	msg := e.Err.Error()
	if e.Index >= 0 {
		msg = fmt.Sprintf("camera #%d (index %d): %s", e.Index+1, e.Index, msg)
	}
	if e.Switcher != "" {
		msg = fmt.Sprintf("switcher %q: %s", e.Switcher, msg)
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
