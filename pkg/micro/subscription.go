package micro

import (
	"context"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Message is a delivered message, independent of core NATS or JetStream delivery.
type Message struct {
	Subject string
	Data    []byte
	Header  nats.Header
}

// ID returns the Nats-Msg-Id header, or "" when the publisher did not set one.
func (m Message) ID() string {
	if m.Header == nil {
		return ""
	}
	return m.Header.Get(nats.MsgIdHdr)
}

// Handler processes one delivered message. ctx carries the publisher's trace context. An error
// means the message was not taken: a reliable delivery is then redelivered instead of acknowledged.
type Handler func(ctx context.Context, msg Message) error

// Subscription is an active Listen or ListenReliable registration.
type Subscription interface {
	Stop() error
}

type coreSubscription struct {
	sub *nats.Subscription
}

func (s coreSubscription) Stop() error {
	if err := s.sub.Unsubscribe(); err != nil && !eris.Is(err, nats.ErrConnectionClosed) {
		return eris.Wrapf(err, "failed to unsubscribe from %s", s.sub.Subject)
	}
	return nil
}

type consumerSubscription struct {
	cc jetstream.ConsumeContext
}

func (s consumerSubscription) Stop() error {
	s.cc.Stop()
	return nil
}

// StreamOptions describe the stream and durable consumer behind a reliable subscription.
type StreamOptions struct {
	// Stream is the JetStream stream name. It is created or updated to capture Subjects.
	Stream string
	// Subjects captured by the stream, wildcards allowed.
	Subjects []string
	// Durable is the consumer name. Delivery resumes from its position across restarts.
	Durable string
	// FilterSubject restricts the consumer to a single subject of the stream.
	FilterSubject string
}

func (o StreamOptions) validate() error {
	if o.Stream == "" {
		return eris.New("stream name cannot be empty")
	}
	if len(o.Subjects) == 0 {
		return eris.New("stream needs at least one subject")
	}
	if o.Durable == "" {
		return eris.New("durable consumer name cannot be empty")
	}
	if o.FilterSubject == "" {
		return eris.New("filter subject cannot be empty")
	}
	return nil
}

// ListenReliable consumes FilterSubject through a durable JetStream consumer. Each message is
// acknowledged once handler returns nil and negatively acknowledged when it fails, so a message is
// redelivered until some handler run takes it (at-least-once). Handlers must tolerate duplicates.
func (c *Client) ListenReliable(ctx context.Context, opts StreamOptions, handler Handler) (Subscription, error) {
	if err := opts.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid stream options")
	}

	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     opts.Stream,
		Subjects: opts.Subjects,
		Storage:  jetstream.MemoryStorage,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create stream %s", opts.Stream)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       DurableName(opts.Durable),
		FilterSubject: opts.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create consumer %s", opts.Durable)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		header := msg.Headers()
		msgCtx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(header))
		if err := handler(msgCtx, Message{Subject: msg.Subject(), Data: msg.Data(), Header: header}); err != nil {
			c.log.Debug().Err(err).Str("subject", msg.Subject()).Msg("Message not handled, requesting redelivery")
			if err := msg.Nak(); err != nil {
				c.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("Failed to nak message")
			}
			return
		}
		if err := msg.Ack(); err != nil {
			c.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("Failed to ack message")
		}
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to consume %s", opts.FilterSubject)
	}

	return consumerSubscription{cc: cc}, nil
}

// DurableName turns an arbitrary identifier into a valid consumer name.
func DurableName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, name)
}
