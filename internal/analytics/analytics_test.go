package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	topic   string
	payload []byte
	attrs   map[string]string
	err     error
	closed  bool
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload []byte, attrs map[string]string) (string, error) {
	f.topic, f.payload, f.attrs = topic, payload, attrs
	if f.err != nil {
		return "", f.err
	}
	return "msg-1", nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func TestPubSubClient_Capture(t *testing.T) {
	pub := &fakePublisher{}
	c, err := NewPubSubClient(pub, "billing-events")
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC) }

	err = c.Capture(context.Background(), "u1", EventPaymentSucceeded, map[string]any{"amount_cents": 900})
	require.NoError(t, err)

	assert.Equal(t, "billing-events", pub.topic)
	assert.Equal(t, EventPaymentSucceeded, pub.attrs["event"])

	var msg map[string]any
	require.NoError(t, json.Unmarshal(pub.payload, &msg))
	assert.Equal(t, "u1", msg["distinct_id"])
	assert.Equal(t, "payment_succeeded", msg["event"])
	assert.Equal(t, "2026-10-01T00:00:00Z", msg["timestamp"])
	assert.Equal(t, 900.0, msg["properties"].(map[string]any)["amount_cents"])

	require.NoError(t, c.Close())
	assert.True(t, pub.closed)
}

func TestPubSubClient_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("topic not found")}
	c, err := NewPubSubClient(pub, "billing-events")
	require.NoError(t, err)

	assert.Error(t, c.Capture(context.Background(), "u1", EventPaymentFailed, nil))
}

func TestNewPubSubClient_RequiresTopic(t *testing.T) {
	_, err := NewPubSubClient(&fakePublisher{}, "")
	assert.Error(t, err)
}

func TestNewPostHogClient_RequiresKey(t *testing.T) {
	_, err := NewPostHogClient("", "")
	assert.Error(t, err)
}

func TestPostHogClient_FlushesOnClose(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":1}`))
	}))
	defer srv.Close()

	c, err := NewPostHogClient("phc_test", srv.URL)
	require.NoError(t, err)
	require.NoError(t, c.Capture(context.Background(), "", EventPaymentLinkCreated, map[string]any{"plan": "individual"}))
	require.NoError(t, c.Close())

	assert.GreaterOrEqual(t, hits.Load(), int32(1))
}

func TestNoopClient(t *testing.T) {
	var c Client = NoopClient{}
	assert.NoError(t, c.Capture(context.Background(), "u1", EventPaymentSucceeded, nil))
	assert.NoError(t, c.Close())
}
