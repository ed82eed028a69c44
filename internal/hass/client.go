package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"camera-switcher/internal/models"
)

// Client talks to the Home Assistant REST API
type Client struct {
	config models.HASSConfig
	client *http.Client
}

func NewClient(cfg models.HASSConfig) *Client {
	return &Client{
		config: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// GetStates returns every entity state Home Assistant knows about.
func (c *Client) GetStates(ctx context.Context) ([]models.EntityState, error) {
	url := fmt.Sprintf("%s/api/states", strings.TrimSuffix(c.config.URL, "/"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query home assistant API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api states returned status: %d", resp.StatusCode)
	}

	var states []models.EntityState
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return states, nil
}
