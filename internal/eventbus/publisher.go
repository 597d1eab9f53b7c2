package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/auralis/prometheus-core/internal/models"
	"github.com/auralis/prometheus-core/internal/notification"
)

// Package eventbus mirrors notifications and anomalies onto NATS.
//
// Subjects are derived from the configured base subject:
//   <subject>.notifications
//   <subject>.anomalies

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
	Close()
}

// Event is the envelope published on every subject.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

const (
	EventNotification = "notification"
	EventAnomaly      = "anomaly"
)

// Publisher publishes events to NATS.
type Publisher struct {
	conn    Conn
	subject string
	logger  *zap.Logger
	now     func() time.Time
}

// Connect dials url and returns a publisher on subject.
func Connect(url, subject string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url,
		nats.Name("prometheus-core"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to NATS", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	logger.Info("connected to NATS", zap.String("url", url), zap.String("subject", subject))
	return NewPublisher(conn, subject, logger), nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(conn Conn, subject string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{conn: conn, subject: subject, logger: logger, now: time.Now}
}

// PublishNotification publishes n on <subject>.notifications.
func (p *Publisher) PublishNotification(n models.Notification) error {
	return p.publish("notifications", EventNotification, n)
}

// PublishAnomaly publishes a on <subject>.anomalies.
func (p *Publisher) PublishAnomaly(a models.AnomalyRecord) error {
	return p.publish("anomalies", EventAnomaly, a)
}

// NotificationSubscriber adapts the publisher to a notification hub
// subscriber.
func (p *Publisher) NotificationSubscriber() notification.Subscriber {
	return func(n models.Notification) error {
		return p.PublishNotification(n)
	}
}

func (p *Publisher) publish(suffix, eventType string, payload interface{}) error {
	data, err := json.Marshal(Event{Type: eventType, Timestamp: p.now(), Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	subject := p.subject + "." + suffix
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	p.logger.Debug("published event", zap.String("subject", subject), zap.String("type", eventType))
	return nil
}

// IsConnected reports whether the connection is up.
func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// Close closes the connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
		p.logger.Info("disconnected from NATS")
	}
}
