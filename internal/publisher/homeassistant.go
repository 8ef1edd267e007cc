package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jgoulah/meterscraper/internal/config"
	"github.com/jgoulah/meterscraper/internal/log"
	"github.com/jgoulah/meterscraper/pkg/models"
)

type haClient struct {
	url    string
	token  string
	prefix string
	client *http.Client
}

func newHAClient(cfg config.HAConfig) (*haClient, error) {
	if cfg.URL == "" {
		return nil, errors.New("Home Assistant URL is required when enabled")
	}
	if cfg.Token == "" {
		return nil, errors.New("Home Assistant token is required when enabled")
	}

	return &haClient{
		url:    strings.TrimRight(cfg.URL, "/"),
		token:  cfg.Token,
		prefix: orDefault(cfg.EntityPrefix, DefaultTopicPrefix),
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// HAState is the body of a Home Assistant state update
type HAState struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// EntityID returns the Home Assistant entity a snapshot key is written to
func EntityID(prefix, key string) string {
	return fmt.Sprintf("sensor.%s_%s", prefix, key)
}

// StateFor builds the state update for one sensor
func StateFor(s models.Sensor, snap models.Snapshot) HAState {
	m := snap.Map()

	attrs := map[string]any{
		"friendly_name":       s.Name,
		"unit_of_measurement": s.Unit,
		"device_class":        s.DeviceClass,
		"state_class":         s.StateClass,
		"icon":                s.Icon,
	}
	if snap.LastReadingTime != nil {
		attrs[models.KeyLastReadingTime] = snap.LastReadingTime.Format(time.RFC3339)
	}

	state := "0.00"
	if v, ok := m[s.Key].(float64); ok {
		state = fmt.Sprintf("%.2f", v)
	}

	return HAState{State: state, Attributes: attrs}
}

func (c *haClient) publish(ctx context.Context, snap models.Snapshot) error {
	for _, s := range models.Sensors {
		if err := c.post(ctx, EntityID(c.prefix, s.Key), StateFor(s, snap)); err != nil {
			return err
		}
	}
	log.Ctx(ctx).InfoContext(ctx, "published snapshot to home assistant", slog.Int("entities", len(models.Sensors)))
	return nil
}

func (c *haClient) post(ctx context.Context, entityID string, payload HAState) error {
	apiURL := fmt.Sprintf("%s/api/states/%s", c.url, entityID)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	// 200 updates an entity, 201 creates it
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP error for %s: status %d, response: %s", entityID, resp.StatusCode, string(respBody))
	}

	return nil
}
