package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"arenaserver/config"
	"arenaserver/internal/notify"
)

func Connect(cfg *config.NATSConfig) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(cfg.URL())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return nc, js, nil
}

func ConfigureStream(js nats.JetStreamContext, streamCfg *config.StreamConfig) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:     streamCfg.Name,
		Subjects: streamCfg.Subjects,
	})
	if err != nil {
		return fmt.Errorf("failed to add stream: %w", err)
	}
	return nil
}

// JetStream is the part of nats.JetStreamContext the publisher needs.
type JetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher sends lifecycle notifications to JetStream, one subject per
// event and state.
type Publisher struct {
	js  JetStream
	log zerolog.Logger
}

func NewPublisher(js JetStream, log zerolog.Logger) *Publisher {
	return &Publisher{js: js, log: log.With().Str("component", "nats").Logger()}
}

func Subject(n notify.Notification) string {
	return fmt.Sprintf("arena.%d.event.%d.%s", n.ArenaID, n.EventID, n.To)
}

func (p *Publisher) Notify(_ context.Context, n notify.Notification) error {
	subject := Subject(n)

	messageBytes, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification for event %d: %w", n.EventID, err)
	}

	// A state is entered once per event, so the stream can drop redeliveries.
	msgID := fmt.Sprintf("%d:%s", n.EventID, n.To)
	if _, err := p.js.Publish(subject, messageBytes, nats.MsgId(msgID)); err != nil {
		return fmt.Errorf("failed to publish message to JetStream for event %d: %w", n.EventID, err)
	}

	p.log.Debug().Str("subject", subject).Msg("notification published")
	return nil
}
