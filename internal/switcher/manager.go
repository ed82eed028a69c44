package switcher

import (
	"context"
	"fmt"
	"time"

	"camera-switcher/internal/engine"
	"camera-switcher/internal/logger"
	"camera-switcher/internal/models"

	"github.com/google/uuid"
)

type ManagerOption func(*Manager)

// WithTopicPrefix sets the prefix of <prefix>/<switcher>/active.
func WithTopicPrefix(prefix string) ManagerOption {
	return func(m *Manager) {
		m.topicPrefix = prefix
	}
}

// WithClock sets the timestamp source for published payloads.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithEngineOptions appends options to every engine the manager builds,
// after the manager's own scheduler and change hook.
func WithEngineOptions(opts ...engine.EngineOption) ManagerOption {
	return func(m *Manager) {
		m.engineOpts = append(m.engineOpts, opts...)
	}
}

func NewManager(cfgs []models.SwitcherConfig, publisher Publisher, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		byEntity:    make(map[string][]*switcherState),
		snapshot:    make(models.Snapshot),
		ingestChan:  make(chan models.StateChange, 256),
		resyncChan:  make(chan []models.EntityState),
		deferred:    make(chan func(), 16),
		stopped:     make(chan struct{}),
		publisher:   publisher,
		topicPrefix: "camera_switcher",
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	names := make(map[string]bool)
	for _, cfg := range cfgs {
		if names[cfg.Name] {
			return nil, fmt.Errorf("duplicate switcher name %q", cfg.Name)
		}
		names[cfg.Name] = true

		sw := &switcherState{cfg: cfg}
		engineOpts := []engine.EngineOption{
			engine.WithScheduler(loopScheduler{deferred: m.deferred, stopped: m.stopped}),
			engine.WithOnChange(func(camera string) { m.publish(sw, camera, ReasonRevert) }),
		}
		engineOpts = append(engineOpts, m.engineOpts...)

		eng, err := engine.NewEngine(cfg, engineOpts...)
		if err != nil {
			return nil, err
		}
		sw.engine = eng
		sw.watch = eng.WatchList()

		m.switchers = append(m.switchers, sw)
		for _, id := range sw.watch {
			m.byEntity[id] = append(m.byEntity[id], sw)
		}
	}

	return m, nil
}

func (m *Manager) IngestChannel() chan<- models.StateChange {
	return m.ingestChan
}

// Seed installs a full state snapshot and evaluates every switcher.
// It must be called before Run; use Resync once Run has started.
func (m *Manager) Seed(states []models.EntityState) {
	m.install(states)
	for _, sw := range m.switchers {
		sw.engine.ApplySnapshot(m.snapshot)
	}
	logger.Infof("Seeded %d entity states", len(states))
}

// Resync hands a full state snapshot to the Run loop, which replaces the
// merged snapshot and publishes whatever changes as a result.
func (m *Manager) Resync(ctx context.Context, states []models.EntityState) error {
	select {
	case m.resyncChan <- states:
		return nil
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) install(states []models.EntityState) {
	m.snapshot = make(models.Snapshot, len(states))
	for _, st := range states {
		m.snapshot[st.EntityID] = st
	}
}

// Run announces the current cameras, then processes state changes and
// revert checks on a single goroutine until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.stopped)

	logger.Infof("Manager started with %d switchers", len(m.switchers))
	for _, sw := range m.switchers {
		m.publish(sw, sw.engine.ActiveCamera(), ReasonStartup)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Manager stopped")
			return
		case change := <-m.ingestChan:
			m.handleChange(change)
		case states := <-m.resyncChan:
			m.resync(states)
		case fn := <-m.deferred:
			fn()
		}
	}
}

func (m *Manager) Status() []Status {
	out := make([]Status, 0, len(m.switchers))
	for _, sw := range m.switchers {
		held, _ := sw.engine.LastTriggered()
		out = append(out, Status{
			Name:         sw.cfg.Name,
			ActiveCamera: sw.engine.ActiveCamera(),
			HeldCamera:   held,
			Pending:      sw.engine.Pending(),
		})
	}
	return out
}

func (m *Manager) handleChange(change models.StateChange) {
	m.mergeChange(change)

	for _, sw := range m.byEntity[change.EntityID] {
		m.evaluate(sw)
	}
}

func (m *Manager) resync(states []models.EntityState) {
	m.install(states)
	for _, sw := range m.switchers {
		m.evaluate(sw)
	}
	logger.Infof("Resynced %d entity states", len(states))
}

func (m *Manager) evaluate(sw *switcherState) {
	camera, changed := sw.engine.ApplySnapshot(m.snapshot)
	if !changed {
		return
	}

	reason := ReasonMotion
	if _, held := sw.engine.LastTriggered(); !held {
		reason = ReasonDefault
	}
	m.publish(sw, camera, reason)
}

func (m *Manager) mergeChange(change models.StateChange) {
	if change.Removed {
		delete(m.snapshot, change.EntityID)
		return
	}

	st := m.snapshot[change.EntityID]
	st.EntityID = change.EntityID
	if change.State != nil {
		st.State = *change.State
	}
	if change.FriendlyName != nil {
		st.Attributes.FriendlyName = *change.FriendlyName
	}
	m.snapshot[change.EntityID] = st
}

func (m *Manager) publish(sw *switcherState, camera, reason string) {
	msg := models.ActiveCameraPayload{
		ID:           uuid.NewString(),
		Switcher:     sw.cfg.Name,
		Camera:       camera,
		FriendlyName: m.snapshot[camera].Attributes.FriendlyName,
		Previous:     sw.published,
		Reason:       reason,
		ShowName:     sw.cfg.ShowName,
		Stretch:      sw.cfg.Stretch,
		Timestamp:    m.now(),
	}
	sw.published = camera

	if m.publisher == nil {
		return
	}

	topic := m.Topic(sw.cfg.Name)
	if err := m.publisher.Publish(topic, msg); err != nil {
		logger.Errorf("Error publishing active camera for %s: %v", sw.cfg.Name, err)
	} else {
		logger.Infof("[MQTT] Published '%s' for switcher %s: %s", reason, sw.cfg.Name, camera)
	}
}

// Topic returns where a switcher's active camera is published.
func (m *Manager) Topic(name string) string {
	return fmt.Sprintf("%s/%s/active", m.topicPrefix, name)
}
