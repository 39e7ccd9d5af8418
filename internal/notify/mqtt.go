// Package notify publishes committed changes to an MQTT broker so camera
// gateways can refetch their configuration bundles.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/JonMunkholm/helios/internal/core"
)

// DefaultPublishTimeout bounds a single publish acknowledgement.
const DefaultPublishTimeout = 5 * time.Second

// Options configures the broker connection.
type Options struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// MQTTNotifier implements core.ChangeNotifier. Each change is published as
// JSON to "<prefix>/<event>".
type MQTTNotifier struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration
}

// Connect dials the broker and returns a notifier over the connection.
func Connect(opts Options) (*MQTTNotifier, error) {
	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetCleanSession(true)
	co.SetOrderMatters(false)
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost", "broker", opts.Broker, "error", err)
	})

	client := mqtt.NewClient(co)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	slog.Info("mqtt connected", "broker", opts.Broker, "client_id", opts.ClientID)
	return New(client, opts.TopicPrefix, opts.QoS), nil
}

// New wraps an already connected client.
func New(client mqtt.Client, prefix string, qos byte) *MQTTNotifier {
	if qos > 2 {
		qos = 2
	}
	return &MQTTNotifier{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, "/"),
		qos:     qos,
		timeout: DefaultPublishTimeout,
	}
}

// Topic returns the topic a change event is published to.
func (n *MQTTNotifier) Topic(event string) string {
	topic := strings.ReplaceAll(event, ".", "/")
	if n.prefix == "" {
		return topic
	}
	return n.prefix + "/" + topic
}

// Publish sends c and waits for the broker acknowledgement, ctx, or the
// publish timeout, whichever ends first.
func (n *MQTTNotifier) Publish(ctx context.Context, c core.Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}

	topic := n.Topic(c.Event)
	token := n.client.Publish(topic, n.qos, false, payload)

	timer := time.NewTimer(n.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to topic %s: %w", topic, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("publish to topic %s: timed out after %s", topic, n.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// Close disconnects, allowing 250ms for in-flight work.
func (n *MQTTNotifier) Close() {
	n.client.Disconnect(250)
}
