package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/segmentio/kafka-go"
)

// Producer publishes commands for the command worker.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

// EncodeCommand builds the message for cmd, keyed by its id.
func EncodeCommand(cmd model.Command) (Message, error) {
	b, err := json.Marshal(cmd)
	if err != nil {
		return Message{}, err
	}
	return Message{Key: []byte(cmd.ID), Value: b}, nil
}

func (p *Producer) Publish(ctx context.Context, cmd model.Command) error {
	m, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, m)
}

func (p *Producer) Close() error { return p.w.Close() }
