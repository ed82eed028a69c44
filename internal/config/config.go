package config

import (
	"fmt"
	"os"
	"strings"

	"camera-switcher/internal/engine"
	"camera-switcher/internal/models"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "CAMERA_SWITCHER"

// LoadConfig reads the configuration from a file
func LoadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and fills in defaults
func Parse(data []byte) (*models.Config, error) {
	var cfg models.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)
	return &cfg, nil
}

func setDefaults(cfg *models.Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Source == "" {
		cfg.Source = "websocket"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "camera-switcher"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "camera_switcher"
	}
	if cfg.MQTT.StateStream == "" {
		cfg.MQTT.StateStream = "homeassistant"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "camera_switcher:"
	}
	for i := range cfg.Switchers {
		if cfg.Switchers[i].Name == "" {
			cfg.Switchers[i].Name = fmt.Sprintf("switcher_%d", i+1)
		}
	}
}

// NewViper returns a viper instance reading CAMERA_SWITCHER_* environment variables,
// e.g. CAMERA_SWITCHER_MQTT_PASSWORD for mqtt.password.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ApplyOverrides copies any values set in v (flags or environment) over the file config.
func ApplyOverrides(cfg *models.Config, v *viper.Viper) {
	override := func(key string, dst *string) {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}

	override("log_level", &cfg.LogLevel)
	override("source", &cfg.Source)
	override("mqtt.broker", &cfg.MQTT.Broker)
	override("mqtt.client_id", &cfg.MQTT.ClientID)
	override("mqtt.user", &cfg.MQTT.User)
	override("mqtt.password", &cfg.MQTT.Password)
	override("mqtt.topic_prefix", &cfg.MQTT.TopicPrefix)
	override("homeassistant.url", &cfg.HASS.URL)
	override("homeassistant.token", &cfg.HASS.Token)
	override("redis.url", &cfg.Redis.URL)
}

// Validate checks the daemon settings and every switcher
func Validate(cfg *models.Config) error {
	if len(cfg.Switchers) == 0 {
		return fmt.Errorf("no switchers configured")
	}

	seen := make(map[string]bool)
	for _, s := range cfg.Switchers {
		if seen[s.Name] {
			return fmt.Errorf("duplicate switcher name %q", s.Name)
		}
		seen[s.Name] = true

		if err := engine.Validate(s); err != nil {
			return err
		}
	}

	switch cfg.Source {
	case "websocket":
		if cfg.HASS.URL == "" {
			return fmt.Errorf("source websocket requires homeassistant.url")
		}
	case "mqtt":
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("source mqtt requires mqtt.broker")
		}
	case "none":
	default:
		return fmt.Errorf("unknown source %q", cfg.Source)
	}

	return nil
}
