// Package events publishes compile job outcomes to NATS so other services
// (preview refreshers, notification bots) can react without polling.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/texbuilder/internal/config"
	"git.home.luguber.info/inful/texbuilder/internal/logfields"
)

const publishTimeout = 5 * time.Second

// CompileEvent is published once per finished compile job.
type CompileEvent struct {
	JobID      string    `json:"job_id"`
	Document   string    `json:"document"`
	Engine     string    `json:"engine"`
	State      string    `json:"state"`
	Passes     int       `json:"passes"`
	Errors     int       `json:"errors"`
	Warnings   int       `json:"warnings"`
	DurationMS int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// Publisher delivers compile events.
type Publisher interface {
	PublishCompile(ctx context.Context, event CompileEvent) error
	Close() error
}

// NoopPublisher drops every event (default when events are disabled).
type NoopPublisher struct{}

func (NoopPublisher) PublishCompile(context.Context, CompileEvent) error { return nil }
func (NoopPublisher) Close() error                                       { return nil }

// NATSPublisher publishes events as JSON on a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewNATSPublisher connects to NATS. When cfg.Stream is set the stream is
// created (or updated) to capture cfg.Subject and publishing waits for the
// JetStream acknowledgement.
func NewNATSPublisher(cfg *config.EventsConfig) (*NATSPublisher, error) {
	if cfg == nil {
		return nil, errors.New("events config is required")
	}
	if !cfg.Enabled {
		return nil, errors.New("event publishing is disabled")
	}

	conn, err := nats.Connect(cfg.NATSURL, nats.Name("texbuilder"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	p := &NATSPublisher{conn: conn, subject: cfg.Subject}

	if cfg.Stream != "" {
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		if err := ensureStream(js, cfg.Stream, cfg.Subject); err != nil {
			conn.Close()
			return nil, err
		}
		p.js = js
	}

	slog.Info("NATS event publisher initialized",
		slog.String("url", cfg.NATSURL),
		slog.String("subject", cfg.Subject),
		slog.String("stream", cfg.Stream))
	return p, nil
}

func ensureStream(js jetstream.JetStream, stream, subject string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        stream,
		Description: "texbuilder compile events",
		Subjects:    []string{subject},
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", stream, err)
	}
	return nil
}

// PublishCompile sends event on the configured subject.
func (p *NATSPublisher) PublishCompile(ctx context.Context, event CompileEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if p.js != nil {
		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if _, err := p.js.Publish(ctx, p.subject, data); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}
	} else if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	slog.Debug("Published compile event",
		logfields.JobID(event.JobID),
		logfields.Document(event.Document),
		logfields.State(event.State))
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}

// New returns a NATS publisher when events are enabled, else NoopPublisher.
// Connection failures degrade to NoopPublisher with a warning so a missing
// broker never blocks compiling.
func New(cfg *config.EventsConfig) Publisher {
	if cfg == nil || !cfg.Enabled {
		return NoopPublisher{}
	}
	p, err := NewNATSPublisher(cfg)
	if err != nil {
		slog.Warn("Compile events disabled", logfields.Error(err))
		return NoopPublisher{}
	}
	return p
}
