package hass

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"camera-switcher/internal/logger"
	"camera-switcher/internal/models"

	"github.com/gorilla/websocket"
)

const (
	subscriptionID = 1

	// readWait is how long a quiet connection is tolerated; HA answers pings.
	readWait   = 90 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second

	resyncTimeout = 15 * time.Second
)

var ErrAuthInvalid = errors.New("home assistant rejected the access token")

var log = logger.Named("hass")

// StreamClient follows state_changed events over the Home Assistant WebSocket API.
type StreamClient struct {
	config     models.HASSConfig
	dialer     websocket.Dialer
	backoffMin time.Duration
	backoffMax time.Duration
	resync     func(ctx context.Context) error
}

type StreamOption func(*StreamClient)

// WithResync registers fn to run after every successful subscription and
// before any event is read, so state missed while disconnected is recovered.
func WithResync(fn func(ctx context.Context) error) StreamOption {
	return func(s *StreamClient) {
		s.resync = fn
	}
}

func NewStreamClient(cfg models.HASSConfig, opts ...StreamOption) *StreamClient {
	s := &StreamClient{
		config: cfg,
		dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		backoffMin: time.Second,
		backoffMax: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type wsCommand struct {
	ID          int    `json:"id,omitempty"`
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
	EventType   string `json:"event_type,omitempty"`
}

type wsMessage struct {
	ID      int    `json:"id"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Event *struct {
		EventType string `json:"event_type"`
		Data      struct {
			EntityID string              `json:"entity_id"`
			NewState *models.EntityState `json:"new_state"`
		} `json:"data"`
	} `json:"event"`
}

// WebsocketURL turns http(s)://host into ws(s)://host/api/websocket.
func WebsocketURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid home assistant url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported home assistant url scheme %q", u.Scheme)
	}
	u.Path += "/api/websocket"
	return u.String(), nil
}

// Run streams state changes into out, reconnecting with backoff, until ctx
// is done or the token is rejected.
func (s *StreamClient) Run(ctx context.Context, out chan<- models.StateChange) error {
	wsURL, err := WebsocketURL(s.config.URL)
	if err != nil {
		return err
	}

	backoff := s.backoffMin
	for {
		connected, err := s.session(ctx, wsURL, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrAuthInvalid) {
			return err
		}
		if connected {
			backoff = s.backoffMin
		}

		log.Warnf("Home Assistant stream dropped: %v (retrying in %s)", err, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > s.backoffMax {
			backoff = s.backoffMax
		}
	}
}

// session runs one connection. connected reports whether the subscription
// was established before the error.
func (s *StreamClient) session(ctx context.Context, wsURL string, out chan<- models.StateChange) (connected bool, err error) {
	conn, _, err := s.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := s.handshake(conn); err != nil {
		return false, err
	}
	log.Infof("Subscribed to Home Assistant state_changed events at %s", wsURL)

	if s.resync != nil {
		resyncCtx, cancel := context.WithTimeout(ctx, resyncTimeout)
		err := s.resync(resyncCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			log.Warnf("Failed to resync state after connecting: %v", err)
		}
	}

	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})
	go keepAlive(conn, done)

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return true, fmt.Errorf("read failed: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(readWait))

		change, ok := toStateChange(msg)
		if !ok {
			continue
		}
		select {
		case out <- change:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

func (s *StreamClient) handshake(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(writeWait))

	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read auth_required: %w", err)
	}
	if msg.Type != "auth_required" {
		return fmt.Errorf("unexpected message %q before auth", msg.Type)
	}

	if err := conn.WriteJSON(wsCommand{Type: "auth", AccessToken: s.config.Token}); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read auth result: %w", err)
	}
	switch msg.Type {
	case "auth_ok":
	case "auth_invalid":
		return fmt.Errorf("%w: %s", ErrAuthInvalid, msg.Message)
	default:
		return fmt.Errorf("unexpected auth response %q", msg.Type)
	}

	sub := wsCommand{ID: subscriptionID, Type: "subscribe_events", EventType: "state_changed"}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	msg = wsMessage{}
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read subscribe result: %w", err)
	}
	if msg.Type != "result" || !msg.Success {
		reason := "unknown error"
		if msg.Error != nil {
			reason = msg.Error.Message
		}
		return fmt.Errorf("subscribe_events failed: %s", reason)
	}
	return nil
}

// keepAlive pings until done is closed or a write fails
func keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func toStateChange(msg wsMessage) (models.StateChange, bool) {
	if msg.Type != "event" || msg.Event == nil || msg.Event.EventType != "state_changed" {
		return models.StateChange{}, false
	}

	data := msg.Event.Data
	if data.EntityID == "" {
		return models.StateChange{}, false
	}
	if data.NewState == nil {
		return models.StateChange{EntityID: data.EntityID, Removed: true}, true
	}

	state := data.NewState.State
	name := data.NewState.Attributes.FriendlyName
	return models.StateChange{
		EntityID:     data.EntityID,
		State:        &state,
		FriendlyName: &name,
	}, true
}
