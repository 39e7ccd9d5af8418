package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/helios/internal/core"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, complete bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient records publishes; the embedded interface panics on anything else.
type fakeClient struct {
	mqtt.Client
	token *fakeToken
	sent  []published
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	c.sent = append(c.sent, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return c.token
}

func TestMQTTNotifier_Topic(t *testing.T) {
	tests := []struct {
		prefix string
		event  string
		want   string
	}{
		{"helios", core.EventIngestCommitted, "helios/ingest/committed"},
		{"helios/", "schedule.updated", "helios/schedule/updated"},
		{"", "configuration.deleted", "configuration/deleted"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			n := New(&fakeClient{}, tt.prefix, 1)
			assert.Equal(t, tt.want, n.Topic(tt.event))
		})
	}
}

func TestMQTTNotifier_Publish(t *testing.T) {
	client := &fakeClient{token: newToken(nil, true)}
	n := New(client, "helios", 1)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	err := n.Publish(context.Background(), core.Change{
		Event: "schedule.created",
		Table: core.TableSchedules,
		ID:    "s1",
		At:    at,
	})
	require.NoError(t, err)
	require.Len(t, client.sent, 1)

	msg := client.sent[0]
	assert.Equal(t, "helios/schedule/created", msg.topic)
	assert.Equal(t, byte(1), msg.qos)

	var got core.Change
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, core.TableSchedules, got.Table)
	assert.True(t, at.Equal(got.At))
}

func TestMQTTNotifier_PublishError(t *testing.T) {
	client := &fakeClient{token: newToken(errors.New("not connected"), true)}
	n := New(client, "helios", 0)

	err := n.Publish(context.Background(), core.Change{Event: "ingest.committed"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestMQTTNotifier_PublishCanceled(t *testing.T) {
	client := &fakeClient{token: newToken(nil, false)}
	n := New(client, "helios", 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := n.Publish(ctx, core.Change{Event: "ingest.committed"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMQTTNotifier_PublishTimeout(t *testing.T) {
	client := &fakeClient{token: newToken(nil, false)}
	n := New(client, "helios", 1)
	n.timeout = 10 * time.Millisecond

	err := n.Publish(context.Background(), core.Change{Event: "ingest.committed"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestNew_ClampsQoS(t *testing.T) {
	n := New(&fakeClient{}, "x", 7)
	assert.Equal(t, byte(2), n.qos)
}
