package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AlertEvent is the record published to Kafka for downstream consumers.
type AlertEvent struct {
	Event     string    `json:"event"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Alert     Alert     `json:"alert"`
	SentAt    time.Time `json:"sent_at"`
}

// Kafka publishes alerts as JSON events keyed by alert key.
type Kafka struct {
	writer messageWriter
	topic  string
	logger zerolog.Logger
	now    func() time.Time
}

// NewKafka constructs a Kafka notifier over the given brokers.
func NewKafka(brokers []string, topic string, writeTimeout time.Duration, logger zerolog.Logger) *Kafka {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           writeTimeout,
		AllowAutoTopicCreation: true,
	}
	return newKafkaWithWriter(w, topic, logger)
}

func newKafkaWithWriter(w messageWriter, topic string, logger zerolog.Logger) *Kafka {
	return &Kafka{
		writer: w,
		topic:  topic,
		logger: logger.With().Str("component", "alert_kafka").Str("topic", topic).Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Send(ctx context.Context, msg Message) error {
	value, err := json.Marshal(AlertEvent{
		Event:     "flight_price_alert",
		Recipient: msg.Recipient,
		Subject:   msg.Subject,
		Alert:     msg.Alert,
		SentAt:    k.now(),
	})
	if err != nil {
		return fmt.Errorf("%w: marshal kafka event: %w", ErrNotify, err)
	}

	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(msg.Alert.Key), Value: value}); err != nil {
		return fmt.Errorf("%w: kafka write: %w", ErrNotify, err)
	}
	k.logger.Debug().Str("key", msg.Alert.Key).Msg("alert event published")
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

var _ Notifier = (*Kafka)(nil)
