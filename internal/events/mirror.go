package events

import (
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Mirror copies every published event onto a JetStream subject so
// external consumers (dashboards, analytics) can replay the firehose
// without holding a Redis subscription. It is strictly optional;
// BeadHub runs fine without a NATS server.
type Mirror struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	streamName string
	url        string
}

// MirrorConfig holds the JetStream mirror settings.
type MirrorConfig struct {
	URL        string        // NATS server URL (e.g., "nats://nats:4222")
	StreamName string        // JetStream stream name (default: "BEADHUB")
	Timeout    time.Duration // Connection timeout
}

// NewMirror connects to NATS and ensures the event stream exists.
func NewMirror(cfg MirrorConfig) (*Mirror, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "BEADHUB"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("[Events] NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[Events] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	m := &Mirror{conn: nc, js: js, streamName: cfg.StreamName, url: cfg.URL}
	if err := m.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	log.Printf("[Events] Connected to NATS at %s with JetStream stream %s", cfg.URL, cfg.StreamName)
	return m, nil
}

// ensureStream creates or updates the event stream. LimitsPolicy so
// multiple consumers can replay the same subjects.
func (m *Mirror) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      m.streamName,
		Subjects:  []string{"beadhub.events.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		MaxBytes:  256 * 1024 * 1024,
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}

	if _, err := m.js.StreamInfo(m.streamName); err != nil {
		if _, err := m.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		log.Printf("[Events] Created JetStream stream: %s", m.streamName)
		return nil
	}
	if _, err := m.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

// MirrorSubject is the JetStream subject for one workspace's events.
// Consumers filter per workspace with beadhub.events.<workspace_id>.
func MirrorSubject(workspaceID string) string {
	return fmt.Sprintf("beadhub.events.%s", workspaceID)
}

// Publish mirrors one already-encoded event onto its recipient
// workspace's subject.
func (m *Mirror) Publish(workspaceID string, payload []byte) error {
	subject := MirrorSubject(workspaceID)
	if _, err := m.js.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Health reports connection and stream liveness.
func (m *Mirror) Health() error {
	if m.conn.IsClosed() {
		return fmt.Errorf("NATS connection is closed")
	}
	if !m.conn.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}
	if _, err := m.js.StreamInfo(m.streamName); err != nil {
		return fmt.Errorf("JetStream stream %s is unhealthy: %w", m.streamName, err)
	}
	return nil
}

// Close shuts the NATS connection down.
func (m *Mirror) Close() {
	m.conn.Close()
	log.Printf("[Events] Closed NATS connection")
}
