package bus

import (
	"context"
	"strconv"
	"time"

	kgo "github.com/segmentio/kafka-go"
)

// KafkaReader is the subset of *kafka.Reader used by KafkaSource.
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kgo.Message, error)
	CommitMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// KafkaSource reads one topic as part of a consumer group. Offsets are
// committed manually on ack.
type KafkaSource struct {
	reader KafkaReader
}

// NewKafkaReader creates a group reader with manual commits.
func NewKafkaReader(brokers []string, topic, groupID string) *kgo.Reader {
	return kgo.NewReader(kgo.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commits
	})
}

// NewKafkaSource wraps reader.
func NewKafkaSource(reader KafkaReader) *KafkaSource {
	return &KafkaSource{reader: reader}
}

// Receive blocks for the next message.
func (s *KafkaSource) Receive(ctx context.Context) ([]Delivery, error) {
	m, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	attrs := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		attrs[h.Key] = string(h.Value)
	}
	return []Delivery{{
		Message: Message{
			ID:         m.Topic + "/" + strconv.Itoa(m.Partition) + "/" + strconv.FormatInt(m.Offset, 10),
			Body:       m.Value,
			Attributes: attrs,
		},
		Ack: func(ctx context.Context) error {
			cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			return s.reader.CommitMessages(cctx, m)
		},
	}}, nil
}

func (s *KafkaSource) Close() error { return s.reader.Close() }
