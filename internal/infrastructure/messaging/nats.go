// Package messaging publishes committed domain events to NATS.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-lifecycle/internal/domain/event"
)

// Config holds NATS connection settings
type Config struct {
	URL           string
	SubjectPrefix string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Conn is the subset of *nats.Conn the publisher uses
type Conn interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// Connect dials NATS with reconnect handling that logs through zap
func Connect(cfg Config, logger *zap.Logger) (*nats.Conn, error) {
	name := cfg.Name
	if name == "" {
		name = "procurement-lifecycle"
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	logger.Info("Connected to NATS", zap.String("url", conn.ConnectedUrl()))
	return conn, nil
}

// Publisher sends every event to <prefix>.<event type>
type Publisher struct {
	conn   Conn
	prefix string
	logger *zap.Logger
}

// NewPublisher creates a NATS event publisher
func NewPublisher(conn Conn, subjectPrefix string, logger *zap.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		prefix: strings.TrimSuffix(subjectPrefix, "."),
		logger: logger,
	}
}

// Subject returns the subject an event type is published on
func (p *Publisher) Subject(t event.Type) string {
	if p.prefix == "" {
		return t.String()
	}
	return p.prefix + "." + t.String()
}

// Handle publishes evt as JSON. The event id travels in the Nats-Msg-Id header so a
// JetStream stream on the subject can drop redeliveries.
func (p *Publisher) Handle(ctx context.Context, evt *event.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.ID, err)
	}

	msg := nats.NewMsg(p.Subject(evt.Type))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, evt.ID)
	msg.Header.Set("Content-Type", "application/json")
	if evt.CorrelationID != "" {
		msg.Header.Set("Correlation-Id", evt.CorrelationID)
	}

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", msg.Subject, err)
	}

	p.logger.Debug("Event published",
		zap.String("subject", msg.Subject),
		zap.String("event_id", evt.ID),
		zap.String("entity_id", evt.EntityID))
	return nil
}
