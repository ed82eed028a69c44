package engine

import (
	"sync"
	"time"

	"camera-switcher/internal/models"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultSafetyMargin = 100 * time.Millisecond
	DefaultActiveState  = "on"
)

// binding is a validated CameraConfig
type binding struct {
	camera   string
	triggers []string // unique, in configured order
	priority int
	timeout  *time.Duration
}

// triggerMeta tracks one motion entity across snapshots
type triggerMeta struct {
	on     bool
	lastOn time.Time
}

// policy is the validated, immutable part of a SwitcherConfig
type policy struct {
	name            string
	bindings        []binding
	timeout         time.Duration
	priorityEnabled bool
	recencyEnabled  bool
	activeStates    map[string]struct{}
}

type Engine struct {
	mu     sync.Mutex
	policy *policy

	triggers      map[string]*triggerMeta
	active        string
	lastTriggered int // index into policy.bindings, -1 when none
	lastMotion    time.Time
	motionActive  bool // motion was seen by the previous evaluation
	snapshot      models.Snapshot

	pending    Handle
	pendingSeq uint64

	now       func() time.Time
	scheduler Scheduler
	onChange  func(camera string)
	margin    time.Duration
}
