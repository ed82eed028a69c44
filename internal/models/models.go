package models

import "time"

// Config defines the user settings
type Config struct {
	LogLevel  string           `yaml:"log_level"`
	Source    string           `yaml:"source"` // "websocket", "mqtt" or "none"
	MQTT      MQTTConfig       `yaml:"mqtt"`
	HASS      HASSConfig       `yaml:"homeassistant"`
	Redis     RedisConfig      `yaml:"redis"`
	Switchers []SwitcherConfig `yaml:"switchers"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`     // "camera_switcher"
	StateStream string `yaml:"statestream_base"` // "homeassistant"
	Retain      bool   `yaml:"retain"`
}

type HASSConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// SwitcherConfig is one card: an ordered camera list plus its selection policy.
// The first camera is the default camera.
type SwitcherConfig struct {
	Name            string         `yaml:"name"`
	Cameras         []CameraConfig `yaml:"cameras"`
	Timeout         *int           `yaml:"timeout"` // seconds, nil means the default
	PriorityEnabled *bool          `yaml:"priority_enabled"`
	RecencyEnabled  *bool          `yaml:"recency_enabled"`
	ActiveStates    []string       `yaml:"active_states"`

	// Rendering flags, passed through to the render layer untouched.
	ShowName bool `yaml:"show_name"`
	Stretch  bool `yaml:"stretch"`
}

type CameraConfig struct {
	CameraEntity   string   `yaml:"camera_entity"`
	MotionEntities []string `yaml:"motion_entities"`
	Priority       int      `yaml:"priority"`
	Timeout        *int     `yaml:"timeout"` // overrides the switcher timeout while this camera is held
}

// EntityState mirrors a Home Assistant state object.
type EntityState struct {
	EntityID   string     `json:"entity_id"`
	State      string     `json:"state"`
	Attributes Attributes `json:"attributes"`
}

type Attributes struct {
	FriendlyName string `json:"friendly_name,omitempty"`
}

// Snapshot maps entity id to its latest state.
type Snapshot map[string]EntityState

// StateChange is a single entity update delivered by a state source.
// Nil fields leave the current value untouched.
type StateChange struct {
	EntityID     string
	State        *string
	FriendlyName *string
	Removed      bool
}

// ActiveCameraPayload is published whenever a switcher changes camera
type ActiveCameraPayload struct {
	ID           string    `json:"id"`
	Switcher     string    `json:"switcher"`
	Camera       string    `json:"camera"`
	FriendlyName string    `json:"friendly_name,omitempty"`
	Previous     string    `json:"previous,omitempty"`
	Reason       string    `json:"reason"` // "startup", "motion", "revert" or "default"
	ShowName     bool      `json:"show_name"`
	Stretch      bool      `json:"stretch"`
	Timestamp    time.Time `json:"timestamp"`
}
