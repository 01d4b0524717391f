// Package mqtt subscribes to device telemetry topics and feeds each message
// through the same ingestion path as the HTTP endpoints.
package mqtt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/donaldgifford/fleet-telemetry/internal/config"
	"github.com/donaldgifford/fleet-telemetry/internal/engine"
	"github.com/donaldgifford/fleet-telemetry/internal/metrics"
	domain "github.com/donaldgifford/fleet-telemetry/pkg/types"
)

// Message kinds.
const (
	KindCAN = "can"
	KindGPS = "gps"
)

const (
	handleTimeout   = 30 * time.Second
	disconnectQuiet = 250 // milliseconds
)

// Ingester is the subset of the engine the subscriber drives.
type Ingester interface {
	IngestCAN(ctx context.Context, body []byte) (*engine.IngestResult, error)
	IngestGPS(ctx context.Context, body []byte) (*engine.IngestResult, error)
}

// Subscriber owns one broker connection.
type Subscriber struct {
	cfg    config.MQTTConfig
	ingest Ingester
	log    *slog.Logger

	client paho.Client
	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Subscriber) { s.log = l }
}

// NewSubscriber creates a Subscriber. Call Start to connect.
func NewSubscriber(cfg config.MQTTConfig, in Ingester, opts ...Option) *Subscriber {
	s := &Subscriber{
		cfg:    cfg,
		ingest: in,
		log:    slog.Default(),
		ctx:    context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start connects to the broker and subscribes to the CAN and GPS topics.
// Messages are handled until Stop is called or ctx is cancelled.
func (s *Subscriber) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	opts := paho.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.log.Warn("mqtt connection lost", "broker", s.cfg.Broker, "error", err)
	})
	opts.SetOnConnectHandler(func(paho.Client) {
		s.log.Info("mqtt connected", "broker", s.cfg.Broker)
	})

	s.client = paho.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		s.cancel()
		return fmt.Errorf("connecting to mqtt broker %s: %w", s.cfg.Broker, token.Error())
	}

	topics := map[string]byte{
		s.cfg.CANTopic: s.cfg.QoS,
		s.cfg.GPSTopic: s.cfg.QoS,
	}
	token := s.client.SubscribeMultiple(topics, s.route)
	if token.Wait() && token.Error() != nil {
		s.Stop()
		return fmt.Errorf("subscribing to %s, %s: %w", s.cfg.CANTopic, s.cfg.GPSTopic, token.Error())
	}

	s.log.Info("mqtt subscribed", "can_topic", s.cfg.CANTopic, "gps_topic", s.cfg.GPSTopic, "qos", s.cfg.QoS)
	return nil
}

// Stop cancels in-flight handling and disconnects.
func (s *Subscriber) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(disconnectQuiet)
	}
}

// route dispatches on the subscription the message matched.
func (s *Subscriber) route(c paho.Client, msg paho.Message) {
	switch {
	case topicMatches(s.cfg.CANTopic, msg.Topic()):
		s.Handler(KindCAN)(c, msg)
	case topicMatches(s.cfg.GPSTopic, msg.Topic()):
		s.Handler(KindGPS)(c, msg)
	default:
		s.log.Warn("mqtt message on unexpected topic", "topic", msg.Topic())
		metrics.MQTTMessagesTotal.WithLabelValues("unknown", "dropped").Inc()
	}
}

// Handler returns the paho callback for one message kind. A payload may be
// a JSON array of readings or a single reading object.
func (s *Subscriber) Handler(kind string) paho.MessageHandler {
	fn := s.ingest.IngestCAN
	if kind == KindGPS {
		fn = s.ingest.IngestGPS
	}

	return func(_ paho.Client, msg paho.Message) {
		ctx, cancel := context.WithTimeout(s.ctx, handleTimeout)
		defer cancel()

		res, err := fn(ctx, asBatch(msg.Payload()))
		switch {
		case errors.Is(err, domain.ErrNotArray):
			metrics.MQTTMessagesTotal.WithLabelValues(kind, "invalid").Inc()
			s.log.Warn("mqtt payload is not a reading batch", "kind", kind, "topic", msg.Topic())
		case err != nil:
			metrics.MQTTMessagesTotal.WithLabelValues(kind, "error").Inc()
			s.log.Error("mqtt ingest failed", "kind", kind, "topic", msg.Topic(), "error", err)
		default:
			metrics.MQTTMessagesTotal.WithLabelValues(kind, "ok").Inc()
			s.log.Debug("mqtt batch ingested",
				"kind", kind,
				"topic", msg.Topic(),
				"inserted", res.Inserted,
				"duplicates", res.Duplicates,
				"rejected", res.Rejected,
			)
		}
		msg.Ack()
	}
}

// asBatch wraps a single JSON object in an array.
func asBatch(payload []byte) []byte {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return payload
	}
	out := make([]byte, 0, len(trimmed)+2)
	out = append(out, '[')
	out = append(out, trimmed...)
	return append(out, ']')
}

// topicMatches reports whether topic matches an MQTT filter with + and #
// wildcards.
func topicMatches(filter, topic string) bool {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, f := range fl {
		if f == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
