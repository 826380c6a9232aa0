package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poachwatch/poachwatch/internal/alert"
	"github.com/poachwatch/poachwatch/internal/conf"
	"github.com/poachwatch/poachwatch/internal/detection"
	"github.com/poachwatch/poachwatch/internal/errors"
	"github.com/poachwatch/poachwatch/internal/observability/metrics"
)

type published struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

type fakeClient struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (f *fakeClient) Connect(context.Context) error { return nil }
func (f *fakeClient) IsConnected() bool             { return true }
func (f *fakeClient) Disconnect()                   {}

func (f *fakeClient) Publish(_ context.Context, topic string, qos byte, retain bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, published{topic, qos, retain, payload})
	return nil
}

func TestPublisherSendsRetainedAlert(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	cfg := DefaultConfig()
	cfg.Topic = "park"
	p := NewPublisher(fc, cfg, nil)

	entered := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	err := p.PublishTransition(context.Background(), alert.Transition{
		From: alert.StateSuspected,
		To:   alert.StateConfirmed,
		Alert: alert.FusedAlert{
			State:     alert.StateConfirmed,
			Location:  &detection.Location{Latitude: -1.5, Longitude: 35.2},
			ImageRef:  "img1",
			Zone:      "Z03",
			EnteredAt: entered,
		},
	})
	require.NoError(t, err)

	require.Len(t, fc.messages, 1)
	msg := fc.messages[0]
	assert.Equal(t, "park/alert", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retain)

	var body AlertMessage
	require.NoError(t, json.Unmarshal(msg.payload, &body))
	assert.Equal(t, alert.StateConfirmed, body.State)
	assert.Equal(t, alert.StateSuspected, body.Previous)
	require.NotNil(t, body.Latitude)
	assert.InDelta(t, -1.5, *body.Latitude, 0)
	assert.Equal(t, "Z03", body.Zone)
	assert.True(t, body.EnteredAt.Equal(entered))
}

func TestPublisherReturnsClientError(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{err: errors.NewStd("broker down")}
	p := NewPublisher(fc, DefaultConfig(), nil)
	err := p.PublishTransition(context.Background(), alert.Transition{From: alert.StateConfirmed, To: alert.StateNone})
	require.Error(t, err)
}

func TestClientPublishRequiresConnection(t *testing.T) {
	t.Parallel()

	m, err := metrics.NewMQTTMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	c := NewClient(DefaultConfig(), m, nil)

	err = c.Publish(context.Background(), "poachwatch/alert", 1, true, []byte("{}"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
	assert.InDelta(t, 1, testutil.ToFloat64(m.Errors.WithLabelValues("not_connected")), 0)
	assert.False(t, c.IsConnected())
	c.Disconnect()
}

func TestClientConnectRejectsBadBroker(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Broker = "not a url"
	c := NewClient(cfg, nil, nil)
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	// A second attempt inside the cooldown is refused without dialing.
	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTConnection))
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	cfg := ConfigFrom(conf.MQTTSettings{Broker: "tcp://b:1883", ClientID: "pw", QoS: 2, Retain: false})
	assert.Equal(t, "poachwatch", cfg.Topic)
	assert.Equal(t, byte(2), cfg.QoS)
	assert.False(t, cfg.Retain)
	assert.Equal(t, 10*time.Second, cfg.PublishTimeout)
}
