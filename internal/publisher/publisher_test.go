package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/meterscraper/internal/config"
	"github.com/jgoulah/meterscraper/pkg/models"
)

type doneToken struct {
	mqtt.Token
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

type message struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mqtt.Client
	mu           sync.Mutex
	messages     []message
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message{topic: topic, retained: retained, payload: payload.([]byte)})
	return doneToken{}
}

func (c *fakeClient) IsConnected() bool        { return !c.disconnected }
func (c *fakeClient) Disconnect(quiesce uint) { c.disconnected = true }

func (c *fakeClient) topics() []string {
	var out []string
	for _, m := range c.messages {
		out = append(out, m.topic)
	}
	return out
}

func testSnapshot() models.Snapshot {
	ts := time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)
	return models.Snapshot{
		ConsumptionToday:     3,
		ConsumptionYesterday: 4,
		CostToday:            0.6,
		CostYesterday:        0.8,
		LastReading:          3,
		LastReadingTime:      &ts,
		PricePerKWh:          0.2,
	}
}

func TestNewRequiresATarget(t *testing.T) {
	_, err := newPublisher(config.MQTTConfig{}, config.HAConfig{}, nil)
	assert.Error(t, err)

	_, err = New(config.MQTTConfig{Enabled: true}, config.HAConfig{})
	assert.ErrorContains(t, err, "broker")

	_, err = New(config.MQTTConfig{}, config.HAConfig{Enabled: true, URL: "http://ha"})
	assert.ErrorContains(t, err, "token")
}

func TestPublishMQTT(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	p, err := newPublisher(config.MQTTConfig{Enabled: true, TopicPrefix: "meter"}, config.HAConfig{}, client)
	require.NoError(t, err)

	require.NoError(t, p.Publish(ctx, testSnapshot()))

	topics := client.topics()
	require.Len(t, topics, len(models.Sensors)+2)
	assert.Equal(t, "homeassistant/sensor/meter/consumption_today/config", topics[0])
	assert.Equal(t, "meter/state", topics[len(topics)-2])
	assert.Equal(t, "meter/availability", topics[len(topics)-1])
	for _, m := range client.messages {
		assert.True(t, m.retained, m.topic)
	}

	var discovery DiscoveryConfig
	require.NoError(t, json.Unmarshal(client.messages[0].payload, &discovery))
	assert.Equal(t, "meter_consumption_today", discovery.UniqueID)
	assert.Equal(t, "{{ value_json.consumption_today }}", discovery.ValueTemplate)
	assert.Equal(t, "kWh", discovery.UnitOfMeasurement)

	var state map[string]any
	require.NoError(t, json.Unmarshal(client.messages[len(topics)-2].payload, &state))
	assert.Len(t, state, len(models.SnapshotKeys))
	assert.Equal(t, 0.6, state[models.KeyCostToday])
	assert.Equal(t, "2024-06-02T09:00:00Z", state[models.KeyLastReadingTime])

	t.Run("DiscoveryOnce", func(t *testing.T) {
		client.messages = nil
		require.NoError(t, p.Publish(ctx, testSnapshot()))
		assert.Equal(t, []string{"meter/state", "meter/availability"}, client.topics())
	})

	t.Run("Close", func(t *testing.T) {
		client.messages = nil
		p.Close()
		assert.True(t, client.disconnected)
		require.Len(t, client.messages, 1)
		assert.Equal(t, "offline", string(client.messages[0].payload))
	})
}

func TestStatePayloadWithoutReading(t *testing.T) {
	body, err := StatePayload(models.Snapshot{})
	require.NoError(t, err)

	var state map[string]any
	require.NoError(t, json.Unmarshal(body, &state))
	v, ok := state[models.KeyLastReadingTime]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestPublishHomeAssistant(t *testing.T) {
	var mu sync.Mutex
	got := map[string]HAState{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		assert.Equal(t, http.MethodPost, r.Method)

		var s HAState
		require.NoError(t, json.NewDecoder(r.Body).Decode(&s))

		mu.Lock()
		got[strings.TrimPrefix(r.URL.Path, "/api/states/")] = s
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p, err := newPublisher(config.MQTTConfig{}, config.HAConfig{Enabled: true, URL: srv.URL + "/", Token: "secret-token"}, nil)
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), testSnapshot()))

	assert.Len(t, got, len(models.Sensors))
	today := got["sensor.smartmeter_consumption_today"]
	assert.Equal(t, "3.00", today.State)
	assert.Equal(t, "kWh", today.Attributes["unit_of_measurement"])
	assert.Equal(t, "Verbrauch Heute", today.Attributes["friendly_name"])
	assert.Equal(t, "0.80", got["sensor.smartmeter_cost_yesterday"].State)
}

func TestPublishHomeAssistantError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "401: Unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := newPublisher(config.MQTTConfig{}, config.HAConfig{Enabled: true, URL: srv.URL, Token: "bad"}, nil)
	require.NoError(t, err)

	err = p.Publish(context.Background(), testSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "home assistant")
}
