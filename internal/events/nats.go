package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/agentos/agentos/internal/common/logger"
)

// NATSForwarder mirrors runtime events onto a NATS connection so external
// consumers can observe the system. Subjects are derived from the event
// type: "agent.spawned" becomes "<prefix>.agent.spawned".
type NATSForwarder struct {
	conn   *nats.Conn
	prefix string
	log    *logger.Logger
}

// NewNATSForwarder connects to the given NATS URL.
func NewNATSForwarder(url, subjectPrefix string, maxReconnects int, log *logger.Logger) (*NATSForwarder, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSForwarder{
		conn:   conn,
		prefix: subjectPrefix,
		log:    log.WithFields(zap.String("component", "nats-forwarder")),
	}, nil
}

// Handler returns an events.Handler that publishes each event to NATS.
// Register it on an Emitter with OnEvent.
func (f *NATSForwarder) Handler() Handler {
	return func(event *Event) error {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		subject := f.prefix + "." + event.Type
		if err := f.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("failed to publish event to %s: %w", subject, err)
		}
		return nil
	}
}

// Close drains and closes the NATS connection.
func (f *NATSForwarder) Close() {
	if f.conn != nil && !f.conn.IsClosed() {
		if err := f.conn.Drain(); err != nil {
			f.log.Warn("Failed to drain NATS connection", zap.Error(err))
			f.conn.Close()
		}
	}
}
