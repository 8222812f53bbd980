package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const DefaultTopic = "user_events"

const (
	TypeUserRegistered  = "user_registered"
	TypeUserLoggedIn    = "user_logged_in"
	TypeUserLoggedOut   = "user_logged_out"
	TypePasswordChanged = "password_changed"
	TypeUserProvisioned = "user_provisioned"
	TypeBlocklistPurged = "blocklist_purged"
	TypeProfileUpdated  = "profile_updated"
)

// Event is the JSON body written to the user events topic.
type Event struct {
	Type       string    `json:"type"`
	UserID     uint      `json:"userID,omitempty"`
	Username   string    `json:"username,omitempty"`
	Revoked    int64     `json:"revoked,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// Nop drops every event. Used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) error { return nil }

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			WriteTimeout:           5 * time.Second,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *Producer) Publish(ctx context.Context, key string, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: json.Marshal failed: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: data}); err != nil {
		return fmt.Errorf("kafka: write failed: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
