package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"camera-switcher/internal/models"

	"github.com/go-redis/redis/v8"
)

const writeTimeout = 5 * time.Second

// Store mirrors published payloads into Redis keys named <prefix><topic>,
// for dashboards that poll instead of subscribing.
type Store struct {
	client *redis.Client
	prefix string
}

func NewStore(cfg models.RedisConfig) (*Store, error) {
	options, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return &Store{
		client: redis.NewClient(options),
		prefix: cfg.KeyPrefix,
	}, nil
}

func (s *Store) Key(topic string) string {
	return s.prefix + topic
}

func (s *Store) Publish(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.client.Set(ctx, s.Key(topic), data, 0).Err(); err != nil {
		return fmt.Errorf("writing %s: %w", s.Key(topic), err)
	}
	return nil
}

// Read returns the last payload stored for topic.
func (s *Store) Read(ctx context.Context, topic string) (models.ActiveCameraPayload, error) {
	var out models.ActiveCameraPayload
	val, err := s.client.Get(ctx, s.Key(topic)).Result()
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(val), &out); err != nil {
		return out, fmt.Errorf("decoding %s: %w", s.Key(topic), err)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
