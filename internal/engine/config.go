package engine

import (
	"slices"
	"time"

	"camera-switcher/internal/models"
)

// Validate reports the first problem with cfg without building an engine.
func Validate(cfg models.SwitcherConfig) error {
	_, err := compile(cfg)
	return err
}

func compile(cfg models.SwitcherConfig) (*policy, error) {
	if len(cfg.Cameras) == 0 {
		return nil, &ConfigurationError{Switcher: cfg.Name, Index: -1, Err: ErrNoCameras}
	}

	p := &policy{
		name:            cfg.Name,
		timeout:         DefaultTimeout,
		priorityEnabled: boolOr(cfg.PriorityEnabled, true),
		recencyEnabled:  boolOr(cfg.RecencyEnabled, true),
		activeStates:    make(map[string]struct{}),
	}

	if cfg.Timeout != nil {
		if *cfg.Timeout < 0 {
			return nil, &ConfigurationError{Switcher: cfg.Name, Index: -1, Err: ErrNegativeTimeout}
		}
		p.timeout = seconds(*cfg.Timeout)
	}

	states := cfg.ActiveStates
	if len(states) == 0 {
		states = []string{DefaultActiveState}
	}
	for _, s := range states {
		p.activeStates[s] = struct{}{}
	}

	for idx, c := range cfg.Cameras {
		if c.CameraEntity == "" {
			return nil, &ConfigurationError{Switcher: cfg.Name, Index: idx, Err: ErrMissingCameraEntity}
		}
		if c.Priority < 0 {
			return nil, &ConfigurationError{Switcher: cfg.Name, Index: idx, Err: ErrNegativePriority}
		}

		b := binding{
			camera:   c.CameraEntity,
			priority: c.Priority,
		}
		for _, m := range c.MotionEntities {
			if m != "" && !slices.Contains(b.triggers, m) {
				b.triggers = append(b.triggers, m)
			}
		}
		if c.Timeout != nil {
			if *c.Timeout < 0 {
				return nil, &ConfigurationError{Switcher: cfg.Name, Index: idx, Err: ErrNegativeTimeout}
			}
			d := seconds(*c.Timeout)
			b.timeout = &d
		}
		p.bindings = append(p.bindings, b)
	}

	return p, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
