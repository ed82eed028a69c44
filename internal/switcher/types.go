package switcher

import (
	"errors"
	"time"

	"camera-switcher/internal/engine"
	"camera-switcher/internal/models"
)

const (
	ReasonStartup = "startup"
	ReasonMotion  = "motion"
	ReasonRevert  = "revert"
	ReasonDefault = "default"
)

var ErrStopped = errors.New("manager is not running")

// Publisher interface to decouple the manager from specific transports
type Publisher interface {
	Publish(topic string, payload interface{}) error
}

// MultiPublisher sends every payload to each publisher in turn.
type MultiPublisher []Publisher

func (mp MultiPublisher) Publish(topic string, payload interface{}) error {
	var errs []error
	for _, p := range mp {
		if err := p.Publish(topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status is a point-in-time view of one switcher
type Status struct {
	Name         string `json:"name"`
	ActiveCamera string `json:"active_camera"`
	HeldCamera   string `json:"held_camera,omitempty"`
	Pending      bool   `json:"pending"`
}

type switcherState struct {
	cfg       models.SwitcherConfig
	engine    *engine.Engine
	watch     []string
	published string // last camera announced to the publisher
}

type Manager struct {
	switchers   []*switcherState
	byEntity    map[string][]*switcherState
	snapshot    models.Snapshot
	ingestChan  chan models.StateChange
	resyncChan  chan []models.EntityState
	deferred    chan func()
	stopped     chan struct{}
	publisher   Publisher
	topicPrefix string
	now         func() time.Time
	engineOpts  []engine.EngineOption
}
