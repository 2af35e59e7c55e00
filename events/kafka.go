package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultTopic is the topic session events are written to.
const DefaultTopic = "capture.sessions"

// messageWriter is the part of kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier writes each event as a JSON message keyed by object key,
// so every event of a session lands on the same partition.
type KafkaNotifier struct {
	writer messageWriter
	now    func() time.Time
}

func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return newKafkaNotifier(writer), nil
}

func newKafkaNotifier(writer messageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer, now: time.Now}
}

// encodeMessage validates event and converts it to a message.
func (k *KafkaNotifier) encodeMessage(event Event) (kafka.Message, error) {
	if event.Key == "" {
		return kafka.Message{}, fmt.Errorf("object key is required")
	}
	if event.Action == "" {
		return kafka.Message{}, fmt.Errorf("action is required")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = k.now()
	}
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.Key),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(event.Action)},
			{Key: "source", Value: []byte(event.Kind)},
		},
	}, nil
}

func (k *KafkaNotifier) Notify(ctx context.Context, event Event) error {
	message, err := k.encodeMessage(event)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write to kafka: %w", err)
	}
	return nil
}

func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
