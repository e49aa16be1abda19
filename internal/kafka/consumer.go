package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/isp-billing/internal/model"
	"github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers        []string
	Topic          string
	GroupID        string
	MinBytes       int           // default 1B
	MaxBytes       int           // default 1MB
	CommitInterval time.Duration // 0 = commit each message synchronously
	MaxWait        time.Duration // default 500ms
}

// Consumer is a thin wrapper around segmentio/kafka-go Reader.
type Consumer struct {
	r *kafka.Reader
}

func NewConsumerFromConfig(c Config) *Consumer {
	minB := c.MinBytes
	if minB <= 0 {
		minB = 1
	}
	maxB := c.MaxBytes
	if maxB <= 0 {
		maxB = 1 << 20 // 1MB
	}
	mw := c.MaxWait
	if mw <= 0 {
		mw = 500 * time.Millisecond
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          c.Topic,
		MinBytes:       minB,
		MaxBytes:       maxB,
		CommitInterval: c.CommitInterval,
		MaxWait:        mw,
	})

	return &Consumer{r: r}
}

type Message = kafka.Message

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *Consumer) Commit(ctx context.Context, m Message) error {
	return c.r.CommitMessages(ctx, m)
}

func (c *Consumer) Close() error { return c.r.Close() }

var ErrBadCommand = errors.New("bad command")

// DecodeCommand parses a commands-topic payload.
func DecodeCommand(m Message) (model.Command, error) {
	var cmd model.Command
	if err := json.Unmarshal(m.Value, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: %v", ErrBadCommand, err)
	}
	if cmd.ID == "" {
		cmd.ID = string(m.Key)
	}
	if !cmd.Action.Valid() {
		return cmd, fmt.Errorf("%w: unknown action %q", ErrBadCommand, cmd.Action)
	}
	if cmd.Action == model.ActionSyncRouter && cmd.RouterID <= 0 {
		return cmd, fmt.Errorf("%w: %s needs router_id", ErrBadCommand, cmd.Action)
	}
	return cmd, nil
}
