package invalidate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Publisher broadcasts invalidation events to the configured Kafka
// topic, keyed by nothing in particular since every consumer processes
// every event (spec section 4.4).
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Timeout = 5 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("invalidate: new producer: %w", err)
	}
	return &Publisher{producer: producer, topic: topic}, nil
}

func (p *Publisher) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("invalidate: close producer: %w", err)
	}
	return nil
}

func (p *Publisher) Publish(ev Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalidate: invalid event: %w", err)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("invalidate: encode event: %w", err)
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("invalidate: publish: %w", err)
	}
	return nil
}
