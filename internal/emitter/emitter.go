// Package emitter publishes frame progress to an MQTT broker.
package emitter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/andresmejia3/crossfade/internal/config"
	"github.com/andresmejia3/crossfade/internal/types"
)

// Publisher sends one message to a topic.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
	Close()
}

// FrameMessage is published once per frame handled by the coordinator.
type FrameMessage struct {
	RunID   string `json:"run_id"`
	Index   int    `json:"index"`
	Path    string `json:"path"`
	Bytes   int    `json:"bytes"`
	Skipped bool   `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// SummaryMessage is published when a run ends.
type SummaryMessage struct {
	RunID     string  `json:"run_id"`
	Status    string  `json:"status"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Workers   int     `json:"workers"`
	Frames    int     `json:"frames"`
	Written   int     `json:"written"`
	Skipped   []int   `json:"skipped,omitempty"`
	ElapsedMS float64 `json:"elapsed_ms"`
}

// Emitter turns frame events into messages under a base topic:
// <topic>/<run>/frames and <topic>/<run>/summary.
type Emitter struct {
	pub   Publisher
	topic string
	qos   byte
	runID string

	mu     sync.Mutex
	sent   int
	errors int
}

// New returns an Emitter for one run.
func New(pub Publisher, topic string, qos byte, runID string) *Emitter {
	return &Emitter{pub: pub, topic: topic, qos: qos, runID: runID}
}

// OnFrame publishes ev. Failures are logged and counted but never stop the run.
func (e *Emitter) OnFrame(ev types.FrameEvent) {
	msg := FrameMessage{RunID: e.runID, Index: ev.Index, Path: ev.Path, Bytes: ev.Bytes, Skipped: ev.Skipped()}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	e.publish(fmt.Sprintf("%s/%s/frames", e.topic, e.runID), msg)
}

// Summary publishes the end of the run.
func (e *Emitter) Summary(msg SummaryMessage) {
	msg.RunID = e.runID
	e.publish(fmt.Sprintf("%s/%s/summary", e.topic, e.runID), msg)
}

func (e *Emitter) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err == nil {
		err = e.pub.Publish(topic, e.qos, payload)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.errors++
		slog.Warn("failed to publish frame event", "topic", topic, "error", err)
		return
	}
	e.sent++
	slog.Debug("frame event published", "topic", topic, "size", len(payload))
}

// Stats returns how many messages were published and how many failed.
func (e *Emitter) Stats() (sent, failed int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sent, e.errors
}

// Close disconnects the publisher.
func (e *Emitter) Close() {
	e.pub.Close()
}

// MQTTPublisher is a Publisher backed by a paho client.
type MQTTPublisher struct {
	client  mqtt.Client
	timeout time.Duration
}

// Dial connects to the broker in cfg.
func Dial(cfg config.MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		slog.Warn("mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	slog.Info("connecting to mqtt broker", "broker", cfg.Broker)

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return &MQTTPublisher{client: client, timeout: 2 * time.Second}, nil
}

// Publish implements Publisher.
func (p *MQTTPublisher) Publish(topic string, qos byte, payload []byte) error {
	token := p.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Close implements Publisher.
func (p *MQTTPublisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		slog.Info("mqtt disconnected")
	}
}
