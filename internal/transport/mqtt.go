// Package transport connects sessions to an MQTT broker: still frames and
// control commands come in per session, events and health go out.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/care/posetrack/internal/config"
	"github.com/care/posetrack/internal/types"
)

const (
	kindFrames  = "frames"
	kindControl = "control"
)

// Sessions is the part of the session manager the transport drives
type Sessions interface {
	Submit(ctx context.Context, id string, frame types.Frame) error
	Open(id string) error
	Close(id, reason string) error
}

type inbound struct {
	sessionID string
	kind      string
	payload   []byte
	received  time.Time
}

// MQTT receives frames and control commands and publishes session events
type MQTT struct {
	cfg        config.MQTTConfig
	instanceID string
	sessions   Sessions
	Client     mqtt.Client

	inbox chan inbound
	ctx   context.Context

	mu        sync.RWMutex
	connected bool
	published map[string]uint64 // count per topic class
	received  map[string]uint64
	malformed uint64
	errors    uint64
}

// Stats contains transport statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Received  map[string]uint64 `json:"received"`
	Malformed uint64            `json:"malformed"`
	Errors    uint64            `json:"errors"`
}

// NewMQTT creates a transport bound to sessions
func NewMQTT(cfg *config.Config, sessions Sessions) *MQTT {
	return &MQTT{
		cfg:        cfg.MQTT,
		instanceID: cfg.InstanceID,
		sessions:   sessions,
		inbox:      make(chan inbound, 64),
		ctx:        context.Background(),
		published:  make(map[string]uint64),
		received:   make(map[string]uint64),
	}
}

// Connect establishes the broker connection
func (t *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", t.cfg.Broker))
	opts.SetClientID(t.instanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		t.setConnected(true)
		slog.Info("mqtt connection established",
			"broker", t.cfg.Broker,
			"client_id", t.instanceID,
		)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		t.setConnected(false)
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", t.cfg.Broker,
			"action", "waiting for automatic reconnection",
		)
	}

	t.Client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", t.cfg.Broker)

	token := t.Client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	t.setConnected(true)
	return nil
}

// Start subscribes to the frame and control topics of all sessions and
// starts the dispatcher. Messages are handed to sessions in arrival order.
func (t *MQTT) Start(ctx context.Context) error {
	t.ctx = ctx

	for _, kind := range []string{kindFrames, kindControl} {
		topic := t.topic("+", kind)
		qos := t.cfg.QoS[kind]

		slog.Info("subscribing", "topic", topic, "qos", qos)

		token := t.Client.Subscribe(topic, qos, t.messageHandler)
		if !token.WaitTimeout(5 * time.Second) {
			return fmt.Errorf("subscription to %s timed out", topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}

	go t.dispatch(ctx)

	slog.Info("mqtt transport started", "prefix", t.cfg.TopicPrefix)
	return nil
}

// Stop unsubscribes and disconnects
func (t *MQTT) Stop() {
	if t.Client != nil && t.Client.IsConnected() {
		token := t.Client.Unsubscribe(t.topic("+", kindFrames), t.topic("+", kindControl))
		token.WaitTimeout(2 * time.Second)
		t.Client.Disconnect(250)
		slog.Info("mqtt disconnected")
	}
	t.setConnected(false)
}

// messageHandler runs on the paho router goroutine. It blocks while the
// inbox is full so frames are never reordered or silently dropped.
func (t *MQTT) messageHandler(client mqtt.Client, msg mqtt.Message) {
	id, kind, ok := ParseTopic(t.cfg.TopicPrefix, msg.Topic())
	if !ok {
		slog.Warn("mqtt: message on unexpected topic", "topic", msg.Topic())
		return
	}

	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	select {
	case t.inbox <- inbound{sessionID: id, kind: kind, payload: payload, received: time.Now()}:
	case <-t.ctx.Done():
	}
}

func (t *MQTT) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-t.inbox:
			t.handle(ctx, in)
		}
	}
}

func (t *MQTT) handle(ctx context.Context, in inbound) {
	t.mu.Lock()
	t.received[in.kind]++
	t.mu.Unlock()

	switch in.kind {
	case kindFrames:
		frame, err := ParseFrameMessage(in.payload, in.received)
		if err != nil {
			t.countMalformed()
			t.emitDecodeError(in.sessionID, err)
			return
		}
		if err := t.sessions.Submit(ctx, in.sessionID, frame); err != nil {
			slog.Debug("mqtt: frame not admitted",
				"session_id", in.sessionID,
				"trace_id", frame.TraceID,
				"error", err,
			)
		}

	case kindControl:
		cmd, err := ParseControlMessage(in.payload)
		if err != nil {
			t.countMalformed()
			slog.Warn("mqtt: invalid control message", "session_id", in.sessionID, "error", err)
			return
		}

		slog.Info("control command received", "session_id", in.sessionID, "command", cmd.Command)

		switch cmd.Command {
		case CommandOpen:
			err = t.sessions.Open(in.sessionID)
		case CommandClose:
			reason := cmd.Reason
			if reason == "" {
				reason = "client request"
			}
			err = t.sessions.Close(in.sessionID, reason)
		}
		if err != nil {
			slog.Warn("control command failed",
				"session_id", in.sessionID,
				"command", cmd.Command,
				"error", err,
			)
		}
	}
}

// emitDecodeError reports a frame message that could not be parsed. It
// never reached the session, so it carries no sequence number.
func (t *MQTT) emitDecodeError(sessionID string, err error) {
	ev := types.Event{
		SessionID: sessionID,
		Kind:      types.EventDecodeError,
		Error:     err.Error(),
		Timestamp: time.Now(),
	}
	if perr := t.PublishEvent(ev); perr != nil {
		slog.Debug("mqtt: decode error not published", "session_id", sessionID, "error", perr)
	}
}

// PublishEvent publishes ev on its session's events topic
func (t *MQTT) PublishEvent(ev types.Event) error {
	payload, err := ev.ToJSON()
	if err != nil {
		t.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return t.publish(t.topic(ev.SessionID, "events"), "events", payload)
}

// PublishHealth publishes a health snapshot
func (t *MQTT) PublishHealth(payload []byte) error {
	return t.publish(t.cfg.TopicPrefix+"/health", "health", payload)
}

func (t *MQTT) publish(topic, class string, payload []byte) error {
	if !t.isConnected() {
		t.countError()
		return fmt.Errorf("mqtt not connected")
	}

	token := t.Client.Publish(topic, t.cfg.QoS[class], false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		t.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		t.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	t.mu.Lock()
	t.published[class]++
	t.mu.Unlock()
	return nil
}

// Stats returns transport statistics
func (t *MQTT) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	published := make(map[string]uint64, len(t.published))
	for k, v := range t.published {
		published[k] = v
	}
	received := make(map[string]uint64, len(t.received))
	for k, v := range t.received {
		received[k] = v
	}

	return Stats{
		Connected: t.connected,
		Published: published,
		Received:  received,
		Malformed: t.malformed,
		Errors:    t.errors,
	}
}

func (t *MQTT) topic(sessionID, kind string) string {
	return fmt.Sprintf("%s/sessions/%s/%s", t.cfg.TopicPrefix, sessionID, kind)
}

// ParseTopic splits "<prefix>/sessions/<id>/<kind>" into its session ID
// and kind. Only frames and control kinds are accepted.
func ParseTopic(prefix, topic string) (sessionID, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/sessions/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	if parts[1] != kindFrames && parts[1] != kindControl {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (t *MQTT) setConnected(v bool) {
	t.mu.Lock()
	t.connected = v
	t.mu.Unlock()
}

func (t *MQTT) isConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *MQTT) countError() {
	t.mu.Lock()
	t.errors++
	t.mu.Unlock()
}

func (t *MQTT) countMalformed() {
	t.mu.Lock()
	t.malformed++
	t.mu.Unlock()
}
