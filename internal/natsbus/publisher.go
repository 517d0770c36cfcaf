// Package natsbus delivers outbound dispatch events over NATS JetStream.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/events"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// SubjectPrefix is prepended to every topic: dispatch.events.<topic>.
const SubjectPrefix = "dispatch.events"

const defaultStreamMaxAge = 72 * time.Hour

// ErrInvalidPublisherConfig is returned when the publisher cannot be built.
var ErrInvalidPublisherConfig = errors.New("invalid nats publisher config")

// streamPublisher is the part of jetstream.JetStream the publisher needs.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Envelope is the JSON body written for every event.
type Envelope struct {
	Topic       events.Topic `json:"topic"`
	PublishedAt time.Time    `json:"published_at"`
	Payload     any          `json:"payload"`
}

// Publisher implements events.Publisher on top of JetStream.
type Publisher struct {
	stream streamPublisher
	nowFn  func() time.Time
}

// NewPublisher wraps a JetStream handle.
func NewPublisher(stream streamPublisher, now func() time.Time) (*Publisher, error) {
	if stream == nil {
		return nil, fmt.Errorf("%w: jetstream is nil", ErrInvalidPublisherConfig)
	}
	if now == nil {
		now = time.Now
	}
	return &Publisher{stream: stream, nowFn: now}, nil
}

// Publish marshals the payload and waits for the stream acknowledgement.
func (publisher *Publisher) Publish(ctx context.Context, topic events.Topic, payload any) error {
	data, err := json.Marshal(Envelope{Topic: topic, PublishedAt: publisher.nowFn().UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	if _, err := publisher.stream.Publish(ctx, Subject(topic), data); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subject maps a topic to its NATS subject.
func Subject(topic events.Topic) string {
	return SubjectPrefix + "." + strings.TrimSpace(string(topic))
}

// Connect dials NATS, ensures the stream and returns a ready publisher plus a close func.
func Connect(ctx context.Context, url string, streamName string) (*Publisher, func(), error) {
	conn, err := nats.Connect(url, nats.Name("dispatchd"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	stream, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("jetstream init: %w", err)
	}
	if err := EnsureStream(ctx, stream, streamName); err != nil {
		conn.Close()
		return nil, nil, err
	}
	publisher, err := NewPublisher(stream, time.Now)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return publisher, func() { _ = conn.Drain() }, nil
}

// EnsureStream creates or updates the stream capturing every dispatch subject.
func EnsureStream(ctx context.Context, stream jetstream.JetStream, streamName string) error {
	_, err := stream.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{SubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    defaultStreamMaxAge,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", streamName, err)
	}
	return nil
}
