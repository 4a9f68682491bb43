// Package messagebus implements the EventBus component (A6): a NATS
// JetStream publisher for build lifecycle events. It is internal
// fan-out only — consumers are things like a cache invalidator or an
// audit log, never a scheduling channel (multi-node scheduling stays a
// Non-goal). Grounded on the teacher's internal/messagebus/nats.go
// connect/ensureStream/publish shape, generalized from chat-message
// subjects to build-lifecycle subjects.
package messagebus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects this EventBus publishes. buildqueue emits the build.*
// subjects itself via PublishBuildEvent; SubjectDomainUpdated is used
// by deploy.Deployer after a successful UpsertDomain. Nothing in this
// repository subscribes to these subjects.
const (
	SubjectBuildPending   = "build.pending"
	SubjectBuildBuilding  = "build.building"
	SubjectBuildSucceeded = "build.succeeded"
	SubjectBuildFailed    = "build.failed"
	SubjectDomainUpdated  = "domain.updated"
)

// Config configures the JetStream connection.
type Config struct {
	URL          string
	StreamName   string
	ConsumerName string
	Timeout      time.Duration
}

// Bus publishes build-lifecycle events to a JetStream stream.
// Implements buildqueue.EventBus and deploy's domain.updated fan-out.
type Bus struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	streamName string
	url        string
}

// New connects to NATS and ensures the configured stream exists.
func New(cfg Config) (*Bus, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "PORTWAY_BUILDS"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("messagebus: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("messagebus: reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	b := &Bus{conn: nc, js: js, streamName: cfg.StreamName, url: cfg.URL}
	if err := b.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bus) ensureStream() error {
	cfg := &nats.StreamConfig{
		Name:      b.streamName,
		Subjects:  []string{"build.>", "domain.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		MaxBytes:  256 * 1024 * 1024,
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}
	if _, err := b.js.StreamInfo(b.streamName); err != nil {
		if _, err := b.js.AddStream(cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", b.streamName, err)
		}
	}
	return nil
}

// PublishBuildEvent implements buildqueue.EventBus: marshals payload
// as JSON and publishes it to subject via JetStream.
func (b *Bus) PublishBuildEvent(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if _, err := b.js.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Health reports whether the connection and stream are usable.
func (b *Bus) Health() error {
	if b.conn.IsClosed() || !b.conn.IsConnected() {
		return fmt.Errorf("messagebus: not connected")
	}
	if _, err := b.js.StreamInfo(b.streamName); err != nil {
		return fmt.Errorf("messagebus: stream %s unhealthy: %w", b.streamName, err)
	}
	return nil
}

// Close drains the NATS connection.
func (b *Bus) Close() error {
	b.conn.Close()
	return nil
}
