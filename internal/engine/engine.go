package engine

import (
	"slices"
	"time"

	"camera-switcher/internal/logger"
	"camera-switcher/internal/models"
)

type EngineOption func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithScheduler sets where deferred revert checks run. Defaults to TimerScheduler.
func WithScheduler(s Scheduler) EngineOption {
	return func(e *Engine) {
		e.scheduler = s
	}
}

// WithOnChange registers a callback for camera changes made by a deferred
// revert check. Changes caused by ApplySnapshot are reported by its return value.
func WithOnChange(fn func(camera string)) EngineOption {
	return func(e *Engine) {
		e.onChange = fn
	}
}

// WithSafetyMargin pads the revert timer so it never fires before the hold expires.
func WithSafetyMargin(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.margin = d
	}
}

func NewEngine(cfg models.SwitcherConfig, opts ...EngineOption) (*Engine, error) {
	engine := &Engine{
		now:       time.Now,
		scheduler: TimerScheduler{},
		margin:    DefaultSafetyMargin,
	}

	for _, opt := range opts {
		opt(engine)
	}

	if err := engine.Configure(cfg); err != nil {
		return nil, err
	}
	return engine, nil
}

// Configure validates cfg and installs it, resetting all selection state.
// On error the previous configuration stays in effect. A zero Engine gets
// the same clock, scheduler and margin NewEngine would give it.
func (e *Engine) Configure(cfg models.SwitcherConfig) error {
	p, err := compile(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.now == nil {
		e.now = time.Now
	}
	if e.scheduler == nil {
		e.scheduler = TimerScheduler{}
		if e.margin == 0 {
			e.margin = DefaultSafetyMargin
		}
	}

	e.cancelPending()
	e.policy = p
	e.triggers = make(map[string]*triggerMeta)
	e.active = p.bindings[0].camera
	e.lastTriggered = -1
	e.lastMotion = time.Time{}
	e.motionActive = false
	e.snapshot = nil

	logger.Debugf("Configured switcher %q: %d cameras, default %s, timeout %s",
		p.name, len(p.bindings), e.active, p.timeout)
	return nil
}

// ApplySnapshot re-evaluates the active camera against s. Missing or unknown
// entities count as inactive. The snapshot is kept, unmodified, for deferred
// revert checks until the next call.
func (e *Engine) ApplySnapshot(s models.Snapshot) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.policy == nil {
		return "", false
	}
	e.snapshot = s
	return e.evaluate()
}

func (e *Engine) ActiveCamera() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// LastTriggered returns the camera being held after motion, if any.
func (e *Engine) LastTriggered() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastTriggered < 0 {
		return "", false
	}
	return e.policy.bindings[e.lastTriggered].camera, true
}

// Pending reports whether a revert check is scheduled.
func (e *Engine) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending != nil
}

// WatchList returns every camera and motion entity the engine reads.
func (e *Engine) WatchList() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []string
	if e.policy == nil {
		return out
	}
	for _, b := range e.policy.bindings {
		if !slices.Contains(out, b.camera) {
			out = append(out, b.camera)
		}
		for _, t := range b.triggers {
			if !slices.Contains(out, t) {
				out = append(out, t)
			}
		}
	}
	return out
}

func (e *Engine) evaluate() (string, bool) {
	now := e.now()
	prev := e.active
	p := e.policy

	e.observe(now)

	if winner, ok := e.selectCandidate(); ok {
		e.lastTriggered = winner
		e.lastMotion = now
		e.motionActive = true
		e.cancelPending()
		e.active = p.bindings[winner].camera
	} else if e.lastTriggered >= 0 {
		// The previous evaluation still saw motion, so motion lasted until now.
		if e.motionActive {
			e.lastMotion = now
			e.motionActive = false
		}

		hold := e.holdFor(e.lastTriggered)
		elapsed := now.Sub(e.lastMotion)
		if elapsed < hold {
			e.active = p.bindings[e.lastTriggered].camera
			if e.pending == nil {
				e.schedule(hold - elapsed + e.margin)
			}
		} else {
			e.lastTriggered = -1
			e.cancelPending()
			e.active = p.bindings[0].camera
		}
	} else {
		e.motionActive = false
		e.active = p.bindings[0].camera
	}

	if e.active != prev {
		logger.Infof("Switcher %q: %s -> %s", p.name, prev, e.active)
	}
	return e.active, e.active != prev
}

// observe updates trigger metadata from the current snapshot
func (e *Engine) observe(now time.Time) {
	for _, b := range e.policy.bindings {
		for _, id := range b.triggers {
			meta, ok := e.triggers[id]
			if !ok {
				meta = &triggerMeta{}
				e.triggers[id] = meta
			}

			on := e.isActive(id)
			if on && !meta.on {
				meta.lastOn = now
			}
			meta.on = on
		}
	}
}

func (e *Engine) isActive(entityID string) bool {
	st, ok := e.snapshot[entityID]
	if !ok {
		return false
	}
	_, active := e.policy.activeStates[st.State]
	return active
}

// lastActivity returns the newest off->on time among the binding's active triggers
func (e *Engine) lastActivity(b binding) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, id := range b.triggers {
		meta := e.triggers[id]
		if meta == nil || !meta.on {
			continue
		}
		if !found || meta.lastOn.After(latest) {
			latest = meta.lastOn
		}
		found = true
	}
	return latest, found
}

func (e *Engine) selectCandidate() (int, bool) {
	best := -1
	var bestAt time.Time

	for i, b := range e.policy.bindings {
		at, ok := e.lastActivity(b)
		if !ok {
			continue
		}
		if best < 0 || e.outranks(b, at, e.policy.bindings[best], bestAt) {
			best = i
			bestAt = at
		}
	}
	return best, best >= 0
}

// outranks reports whether a beats b. Ties keep the earlier-listed binding.
func (e *Engine) outranks(a binding, aAt time.Time, b binding, bAt time.Time) bool {
	if e.policy.priorityEnabled && a.priority != b.priority {
		return a.priority > b.priority
	}
	if e.policy.recencyEnabled && !aAt.Equal(bAt) {
		return aAt.After(bAt)
	}
	return false
}

func (e *Engine) holdFor(idx int) time.Duration {
	if t := e.policy.bindings[idx].timeout; t != nil {
		return *t
	}
	return e.policy.timeout
}

// schedule must be called with e.mu held and no pending handle.
func (e *Engine) schedule(d time.Duration) {
	e.pendingSeq++
	seq := e.pendingSeq
	e.pending = e.scheduler.Schedule(d, func() { e.fire(seq) })
	logger.Debugf("Switcher %q: revert check in %s", e.policy.name, d)
}

func (e *Engine) cancelPending() {
	if e.pending == nil {
		return
	}
	e.pending.Cancel()
	e.pending = nil
}

// fire runs a deferred revert check. Callbacks for handles that were
// cancelled or superseded are ignored.
func (e *Engine) fire(seq uint64) {
	e.mu.Lock()
	if e.pending == nil || seq != e.pendingSeq {
		e.mu.Unlock()
		return
	}
	e.pending = nil
	camera, changed := e.evaluate()
	onChange := e.onChange
	e.mu.Unlock()

	if changed && onChange != nil {
		onChange(camera)
	}
}
