package switcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"camera-switcher/internal/engine"
	"camera-switcher/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	Topic   string
	Payload models.ActiveCameraPayload
}

// MockPublisher captures messages for verification
type MockPublisher struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (m *MockPublisher) Publish(topic string, payload interface{}) error {
	msg, ok := payload.(models.ActiveCameraPayload)
	if !ok {
		return errors.New("invalid payload type")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, published{Topic: topic, Payload: msg})
	return m.err
}

func (m *MockPublisher) Messages() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.messages...)
}

func (m *MockPublisher) Last() *models.ActiveCameraPayload {
	msgs := m.Messages()
	if len(msgs) == 0 {
		return nil
	}
	return &msgs[len(msgs)-1].Payload
}

type manualScheduler struct {
	tasks []*manualTask
}

type manualTask struct {
	fn   func()
	done bool
}

func (t *manualTask) Cancel() bool {
	was := t.done
	t.done = true
	return !was
}

func (s *manualScheduler) Schedule(_ time.Duration, fn func()) engine.Handle {
	t := &manualTask{fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

func (s *manualScheduler) runLive() {
	for _, t := range s.tasks {
		if !t.done {
			t.done = true
			t.fn()
		}
	}
}

func strPtr(s string) *string { return &s }

func intPtr(v int) *int { return &v }

func switchers() []models.SwitcherConfig {
	return []models.SwitcherConfig{
		{
			Name:     "porch",
			Timeout:  intPtr(10),
			ShowName: true,
			Cameras: []models.CameraConfig{
				{CameraEntity: "camera.living_room"},
				{CameraEntity: "camera.front_door", MotionEntities: []string{"binary_sensor.front_motion"}},
			},
		},
		{
			Name:    "yard",
			Timeout: intPtr(0),
			Stretch: true,
			Cameras: []models.CameraConfig{
				{CameraEntity: "camera.yard"},
				{CameraEntity: "camera.gate", MotionEntities: []string{"binary_sensor.gate_motion", "binary_sensor.front_motion"}},
			},
		},
	}
}

type fixture struct {
	clock time.Time
	sched *manualScheduler
	pub   *MockPublisher
	mgr   *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		sched: &manualScheduler{},
		pub:   &MockPublisher{},
	}
	now := func() time.Time { return f.clock }

	mgr, err := NewManager(switchers(), f.pub,
		WithTopicPrefix("test"),
		WithClock(now),
		WithEngineOptions(engine.WithClock(now), engine.WithScheduler(f.sched)),
	)
	require.NoError(t, err)
	f.mgr = mgr
	return f
}

func TestNewManager_Errors(t *testing.T) {
	cfgs := switchers()
	cfgs[1].Name = "porch"
	_, err := NewManager(cfgs, nil)
	assert.ErrorContains(t, err, `duplicate switcher name "porch"`)

	cfgs = switchers()
	cfgs[1].Cameras = nil
	_, err = NewManager(cfgs, nil)
	assert.ErrorIs(t, err, engine.ErrNoCameras)
}

func TestManager_MotionAndRevert(t *testing.T) {
	f := newFixture(t)
	f.mgr.Seed([]models.EntityState{
		{EntityID: "camera.front_door", State: "streaming", Attributes: models.Attributes{FriendlyName: "Front Door"}},
		{EntityID: "binary_sensor.front_motion", State: "off"},
	})
	assert.Empty(t, f.pub.Messages())

	f.mgr.handleChange(models.StateChange{EntityID: "binary_sensor.front_motion", State: strPtr("on")})

	msgs := f.pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "test/porch/active", msgs[0].Topic)
	assert.Equal(t, "camera.front_door", msgs[0].Payload.Camera)
	assert.Equal(t, "Front Door", msgs[0].Payload.FriendlyName)
	assert.Equal(t, ReasonMotion, msgs[0].Payload.Reason)
	assert.True(t, msgs[0].Payload.ShowName)
	assert.NotEmpty(t, msgs[0].Payload.ID)
	assert.Equal(t, f.clock, msgs[0].Payload.Timestamp)

	assert.Equal(t, "test/yard/active", msgs[1].Topic)
	assert.Equal(t, "camera.gate", msgs[1].Payload.Camera)
	assert.True(t, msgs[1].Payload.Stretch)

	// Motion stops: yard has no hold, porch holds.
	f.mgr.handleChange(models.StateChange{EntityID: "binary_sensor.front_motion", State: strPtr("off")})
	msgs = f.pub.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "camera.yard", msgs[2].Payload.Camera)
	assert.Equal(t, "camera.gate", msgs[2].Payload.Previous)
	assert.Equal(t, ReasonDefault, msgs[2].Payload.Reason)

	status := f.mgr.Status()
	require.Len(t, status, 2)
	assert.Equal(t, Status{Name: "porch", ActiveCamera: "camera.front_door", HeldCamera: "camera.front_door", Pending: true}, status[0])

	f.clock = f.clock.Add(11 * time.Second)
	f.sched.runLive()

	last := f.pub.Last()
	require.NotNil(t, last)
	assert.Equal(t, "porch", last.Switcher)
	assert.Equal(t, "camera.living_room", last.Camera)
	assert.Equal(t, "camera.front_door", last.Previous)
	assert.Equal(t, ReasonRevert, last.Reason)
}

func TestManager_IgnoresUnwatchedEntities(t *testing.T) {
	f := newFixture(t)

	f.mgr.handleChange(models.StateChange{EntityID: "light.kitchen", State: strPtr("on")})
	assert.Empty(t, f.pub.Messages())
	assert.Equal(t, "on", f.mgr.snapshot["light.kitchen"].State)
}

func TestManager_MergeChange(t *testing.T) {
	f := newFixture(t)

	f.mgr.mergeChange(models.StateChange{EntityID: "camera.yard", State: strPtr("idle")})
	f.mgr.mergeChange(models.StateChange{EntityID: "camera.yard", FriendlyName: strPtr("Yard")})
	assert.Equal(t, models.EntityState{
		EntityID:   "camera.yard",
		State:      "idle",
		Attributes: models.Attributes{FriendlyName: "Yard"},
	}, f.mgr.snapshot["camera.yard"])

	f.mgr.mergeChange(models.StateChange{EntityID: "camera.yard", Removed: true})
	_, ok := f.mgr.snapshot["camera.yard"]
	assert.False(t, ok)
}

func TestManager_RemovedSensorCountsAsInactive(t *testing.T) {
	f := newFixture(t)

	f.mgr.handleChange(models.StateChange{EntityID: "binary_sensor.gate_motion", State: strPtr("on")})
	require.Equal(t, "camera.gate", f.pub.Last().Camera)

	f.mgr.handleChange(models.StateChange{EntityID: "binary_sensor.gate_motion", Removed: true})
	assert.Equal(t, "camera.yard", f.pub.Last().Camera)
}

func TestManager_Run(t *testing.T) {
	pub := &MockPublisher{}
	mgr, err := NewManager(switchers(), pub)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(pub.Messages()) == 2 }, time.Second, 10*time.Millisecond)
	for _, msg := range pub.Messages() {
		assert.Equal(t, ReasonStartup, msg.Payload.Reason)
	}

	mgr.IngestChannel() <- models.StateChange{EntityID: "binary_sensor.gate_motion", State: strPtr("on")}
	require.Eventually(t, func() bool {
		last := pub.Last()
		return last != nil && last.Camera == "camera.gate"
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestManager_PublishErrorDoesNotStopUpdates(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")

	f.mgr.handleChange(models.StateChange{EntityID: "binary_sensor.gate_motion", State: strPtr("on")})
	f.mgr.handleChange(models.StateChange{EntityID: "binary_sensor.gate_motion", State: strPtr("off")})
	assert.Len(t, f.pub.Messages(), 2)
	assert.Equal(t, "camera.yard", f.mgr.Status()[1].ActiveCamera)
}

func TestMultiPublisher(t *testing.T) {
	a := &MockPublisher{}
	b := &MockPublisher{err: errors.New("nope")}
	mp := MultiPublisher{a, b}

	err := mp.Publish("t", models.ActiveCameraPayload{Camera: "camera.a"})
	assert.ErrorContains(t, err, "nope")
	assert.Len(t, a.Messages(), 1)
	assert.Len(t, b.Messages(), 1)
}

func TestManager_ResyncReplacesSnapshot(t *testing.T) {
	f := newFixture(t)
	f.mgr.handleChange(models.StateChange{EntityID: "binary_sensor.front_motion", State: strPtr("on")})
	f.mgr.handleChange(models.StateChange{EntityID: "light.kitchen", State: strPtr("on")})
	require.Equal(t, "camera.gate", f.pub.Last().Camera)

	// The "off" for front_motion was never delivered as a change.
	f.mgr.resync([]models.EntityState{
		{EntityID: "binary_sensor.front_motion", State: "off"},
		{EntityID: "camera.living_room", State: "idle", Attributes: models.Attributes{FriendlyName: "Living Room"}},
	})

	_, ok := f.mgr.snapshot["light.kitchen"]
	assert.False(t, ok)

	last := f.pub.Last()
	assert.Equal(t, "yard", last.Switcher)
	assert.Equal(t, "camera.yard", last.Camera)
	assert.Equal(t, ReasonDefault, last.Reason)
	assert.True(t, f.mgr.Status()[0].Pending)

	f.clock = f.clock.Add(11 * time.Second)
	f.sched.runLive()

	last = f.pub.Last()
	assert.Equal(t, "porch", last.Switcher)
	assert.Equal(t, "camera.living_room", last.Camera)
	assert.Equal(t, "Living Room", last.FriendlyName)
	assert.Equal(t, ReasonRevert, last.Reason)
}

func TestManager_ResyncThroughRun(t *testing.T) {
	pub := &MockPublisher{}
	mgr, err := NewManager(switchers(), pub)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()

	mgr.IngestChannel() <- models.StateChange{EntityID: "binary_sensor.gate_motion", State: strPtr("on")}
	require.Eventually(t, func() bool {
		last := pub.Last()
		return last != nil && last.Camera == "camera.gate"
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, mgr.Resync(ctx, []models.EntityState{{EntityID: "binary_sensor.gate_motion", State: "off"}}))
	require.Eventually(t, func() bool { return pub.Last().Camera == "camera.yard" }, time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.ErrorIs(t, mgr.Resync(context.Background(), nil), ErrStopped)
}

func loopFixture(t *testing.T) (*Manager, *MockPublisher) {
	t.Helper()
	cfgs := switchers()
	cfgs[0].Timeout = intPtr(1)

	pub := &MockPublisher{}
	mgr, err := NewManager(cfgs, pub, WithEngineOptions(engine.WithSafetyMargin(10*time.Millisecond)))
	require.NoError(t, err)
	return mgr, pub
}

func TestManager_LoopSchedulerReverts(t *testing.T) {
	mgr, pub := loopFixture(t)
	mgr.Seed([]models.EntityState{{EntityID: "binary_sensor.front_motion", State: "on"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	require.Eventually(t, func() bool { return len(pub.Messages()) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "camera.front_door", pub.Messages()[0].Payload.Camera)

	mgr.IngestChannel() <- models.StateChange{EntityID: "binary_sensor.front_motion", State: strPtr("off")}

	require.Eventually(t, func() bool {
		for _, msg := range pub.Messages() {
			if msg.Payload.Reason == ReasonRevert {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	last := pub.Last()
	assert.Equal(t, "porch", last.Switcher)
	assert.Equal(t, "camera.living_room", last.Camera)
	assert.Equal(t, "camera.front_door", last.Previous)
}

func TestManager_LoopSchedulerDropsSupersededCallback(t *testing.T) {
	mgr, pub := loopFixture(t)
	mgr.Seed([]models.EntityState{{EntityID: "binary_sensor.front_motion", State: "on"}})

	// Drive the loop by hand so the expired callback can sit in the queue.
	mgr.handleChange(models.StateChange{EntityID: "binary_sensor.front_motion", State: strPtr("off")})
	require.True(t, mgr.Status()[0].Pending)
	require.Eventually(t, func() bool { return len(mgr.deferred) == 1 }, 3*time.Second, 10*time.Millisecond)

	// Motion resumes after the timer fired but before its callback ran.
	mgr.handleChange(models.StateChange{EntityID: "binary_sensor.front_motion", State: strPtr("on")})
	require.False(t, mgr.Status()[0].Pending)

	fn := <-mgr.deferred
	fn()

	assert.Equal(t, Status{Name: "porch", ActiveCamera: "camera.front_door", HeldCamera: "camera.front_door"}, mgr.Status()[0])
	for _, msg := range pub.Messages() {
		assert.NotEqual(t, ReasonRevert, msg.Payload.Reason)
	}
}
