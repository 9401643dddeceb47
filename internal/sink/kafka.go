package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"jobcrawl_nexus/internal/crawl"
	"jobcrawl_nexus/internal/model"
)

// Message types, carried in the "type" header.
const (
	KafkaTypeListing = "listing"
	KafkaTypeSummary = "summary"
)

const (
	kafkaBatchTimeout = 10 * time.Millisecond
	kafkaWriteTimeout = 5 * time.Second
	// publishTimeout bounds one publish so a slow or unreachable broker
	// cannot hold up the crawl.
	publishTimeout = 5 * time.Second
)

//go:generate mockgen -destination=mocks/mock_writer.go -package=mocks -mock_names=messageWriter=MockMessageWriter jobcrawl_nexus/internal/sink messageWriter

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes listings keyed by listing key, and one summary
// message per run keyed by run ID, on the same topic.
type KafkaSink struct {
	writer messageWriter
	now    func() time.Time
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: false,
			// one listing per write; do not wait for a batch to fill
			BatchTimeout: kafkaBatchTimeout,
			WriteTimeout: kafkaWriteTimeout,
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
		},
		now: time.Now,
	}
}

// NewKafkaSinkWithWriter builds a sink on a custom writer (tests).
func NewKafkaSinkWithWriter(w messageWriter) *KafkaSink {
	return &KafkaSink{writer: w, now: time.Now}
}

func (s *KafkaSink) Emit(ctx context.Context, l model.Listing) error {
	return s.publish(ctx, KafkaTypeListing, l.Key(), l)
}

func (s *KafkaSink) Finalize(ctx context.Context, sum crawl.Summary) error {
	return s.publish(ctx, KafkaTypeSummary, sum.RunID, sum)
}

func (s *KafkaSink) publish(ctx context.Context, typ, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kafka sink: encode %s: %w", typ, err)
	}
	msg := kafka.Message{
		Key:     []byte(key),
		Value:   payload,
		Time:    s.now().UTC(),
		Headers: []kafka.Header{{Key: "type", Value: []byte(typ)}},
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka sink: write %s: %w", typ, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
