package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Skotchmaster/tunehub/pkg/logging"
)

const (
	UserSignedUp      = "user.signed_up"
	UserLoggedIn      = "user.logged_in"
	UserTwoFactorOn   = "user.2fa_enabled"
	UserRoleChanged   = "user.role_changed"
	UserStatusChanged = "user.status_changed"
	UserDeleted       = "user.deleted"
)

type Event struct {
	Type    string         `json:"type"`
	UserID  string         `json:"userId"`
	ActorID string         `json:"actorId,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	At      time.Time      `json:"at"`
}

// Publisher emits user lifecycle events. Publishing never fails the caller;
// delivery problems are logged.
type Publisher interface {
	Publish(ctx context.Context, e Event)
	Close() error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
func (Nop) Close() error                   { return nil }

// Writer is the subset of kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logging.FromContext(context.Background()).Error("user_event_delivery_failed",
					"topic", topic, "messages", len(messages), "error", err)
			}
		},
	}
	return &KafkaPublisher{writer: w}
}

func NewKafkaPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// Publish keys messages by user id so one user's events stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) {
	l := logging.FromContext(ctx)
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b, err := json.Marshal(e)
	if err != nil {
		l.Error("user_event_marshal_failed", "type", e.Type, "error", err)
		return
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(wctx, kafka.Message{Key: []byte(e.UserID), Value: b}); err != nil {
		l.Error("user_event_publish_failed", "type", e.Type, "user_id", e.UserID, "error", err)
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
