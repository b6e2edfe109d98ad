package micro

import (
	"context"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Client represents a NATS client with enhanced logging and error handling.
type Client struct {
	*nats.Conn
	js         jetstream.JetStream
	log        zerolog.Logger
	natsConfig NATSConfig
}

// NATSConfig holds the configuration for the NATS client.
type NATSConfig struct {
	Name            string `env:"NATS_NAME" envDefault:"beacon"`
	URL             string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	CredentialsFile string `env:"NATS_CREDENTIALS_FILE"`
}

// Validate validates the NATS configuration and returns an error if invalid.
func (cfg NATSConfig) Validate() error {
	if cfg.URL == "" {
		return eris.New("NATS URL is required")
	}
	// Without a credentials file the connection is unauthenticated (local broker, tests).
	return nil
}

// NewClient connects to NATS using the environment configuration overridden by opts.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		log: zerolog.Nop(),
	}

	var err error
	c.natsConfig, err = env.ParseAs[NATSConfig]()
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse NATS config")
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.natsConfig.Validate(); err != nil {
		return nil, eris.Wrap(err, "invalid NATS config")
	}

	natsOpts := []nats.Option{
		nats.Name(c.natsConfig.Name),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second * 5),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}
	if c.natsConfig.CredentialsFile != "" {
		natsOpts = append(natsOpts, nats.UserCredentials(c.natsConfig.CredentialsFile))
	}

	conn, err := nats.Connect(c.natsConfig.URL, natsOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "failed to connect to NATS server")
	}
	c.Conn = conn

	c.js, err = jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "failed to create JetStream client")
	}

	c.log.Info().
		Str("url", c.ConnectedUrl()).
		Str("name", c.natsConfig.Name).
		Msg("Connected to NATS server")

	return c, nil
}

// JetStream returns the JetStream context bound to this connection.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Emit publishes data on subject. Trace context from ctx travels in the message headers, and a
// non-empty msgID is sent as Nats-Msg-Id so JetStream streams drop republished duplicates.
// Emit does not wait for any acknowledgement.
func (c *Client) Emit(ctx context.Context, subject string, data []byte, msgID string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	if msgID != "" {
		msg.Header.Set(nats.MsgIdHdr, msgID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	if err := c.PublishMsg(msg); err != nil {
		return eris.Wrapf(err, "failed to publish to %s", subject)
	}
	return nil
}

// Listen subscribes handler to subject with core NATS (at-most-once) delivery. It returns once the
// server has registered the subscription, so messages published afterwards by any client are seen.
func (c *Client) Listen(subject string, handler Handler) (Subscription, error) {
	sub, err := c.Subscribe(subject, func(msg *nats.Msg) {
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(msg.Header))
		c.dispatch(ctx, handler, msg)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to subscribe to %s", subject)
	}
	if err := c.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, eris.Wrapf(err, "failed to register subscription to %s", subject)
	}
	return coreSubscription{sub: sub}, nil
}

// ListenQueue is Listen within a queue group: each message goes to one member of the group.
func (c *Client) ListenQueue(subject, queue string, handler Handler) (Subscription, error) {
	sub, err := c.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(msg.Header))
		c.dispatch(ctx, handler, msg)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to subscribe to %s (queue=%s)", subject, queue)
	}
	if err := c.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, eris.Wrapf(err, "failed to register subscription to %s", subject)
	}
	return coreSubscription{sub: sub}, nil
}

// dispatch runs handler for a core delivery. Core NATS cannot redeliver, so a failure is only logged.
func (c *Client) dispatch(ctx context.Context, handler Handler, msg *nats.Msg) {
	if err := handler(ctx, Message{Subject: msg.Subject, Data: msg.Data, Header: msg.Header}); err != nil {
		c.log.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropped message")
	}
}

// Close gracefully closes the NATS connection and logs the event.
func (c *Client) Close() {
	if c.Conn != nil {
		c.Conn.Close()
		c.log.Info().Msg("NATS connection closed")
	}
}

func (c *Client) handleDisconnect(nc *nats.Conn, err error) {
	log := c.log.With().
		Str("nats_url", nc.ConnectedUrl()).
		Uint64("reconnect_attempts", nc.Reconnects).
		Logger()

	if err != nil {
		log.Error().Err(err).Msg("Disconnected from NATS with error")
	} else {
		log.Warn().Msg("Disconnected from NATS (no error)")
	}
}

func (c *Client) handleReconnect(nc *nats.Conn) {
	c.log.Info().
		Str("nats_url", nc.ConnectedUrl()).
		Uint64("reconnect_attempts", nc.Reconnects).
		Msg("Reconnected to NATS")
}

func (c *Client) handleClosed(nc *nats.Conn) {
	if err := nc.LastError(); err != nil {
		c.log.Warn().Err(err).Msg("NATS connection closed with error")
	}
}

func (c *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	event := c.log.Error().Err(err)
	if sub != nil {
		event = event.Str("subject", sub.Subject)
	}
	event.Msg("NATS subscription error occurred")
}

// -------------------------------------------------------------------------------------------------
// Options
// -------------------------------------------------------------------------------------------------

// ClientOption defines a function that can modify a Client.
type ClientOption func(*Client)

// WithLogger returns a ClientOption that sets the logger.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// WithNATSConfig returns a ClientOption that sets the NATS configuration.
func WithNATSConfig(cfg NATSConfig) ClientOption {
	return func(c *Client) {
		c.natsConfig = cfg
	}
}

// WithURL overrides only the server URL, keeping the rest of the environment configuration.
func WithURL(url string) ClientOption {
	return func(c *Client) {
		c.natsConfig.URL = url
	}
}
