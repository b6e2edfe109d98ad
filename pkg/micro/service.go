package micro

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/argus-labs/beacon/pkg/assert"
	"github.com/argus-labs/beacon/pkg/telemetry"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrEndpointAlreadyExists = eris.New("endpoint already exists")
)

// Service answers request-reply endpoints under a common subject prefix.
type Service struct {
	tel    *telemetry.Telemetry
	client *Client
	prefix string

	mu        sync.Mutex
	endpoints map[string]*nats.Subscription
}

// NewService creates a service whose endpoints live under prefix.
func NewService(client *Client, prefix string, tel *telemetry.Telemetry) (*Service, error) {
	if client == nil {
		return nil, eris.New("client cannot be nil")
	}
	if err := ValidatePrefix(prefix); err != nil {
		return nil, eris.Wrap(err, "invalid service prefix")
	}
	if tel == nil {
		nop := telemetry.NewNop("micro")
		tel = &nop
	}
	return &Service{
		tel:       tel,
		client:    client,
		prefix:    prefix,
		endpoints: make(map[string]*nats.Subscription),
	}, nil
}

// Logger returns a logger for the service with service-specific context.
func (s *Service) Logger() *zerolog.Logger {
	logger := s.tel.GetLogger("service").With().Str("prefix", s.prefix).Logger()
	return &logger
}

// NATS returns the underlying NATS client.
func (s *Service) NATS() *Client {
	return s.client
}

// Prefix is the subject prefix of every endpoint.
func (s *Service) Prefix() string {
	return s.prefix
}

// Endpoint returns the subject an endpoint name is served on.
func (s *Service) Endpoint(name string) string {
	return Subject(s.prefix, name)
}

// AddGroup returns a helper that registers endpoints under a common name prefix.
//
//	group := svc.AddGroup("dev-a")
//	group.AddEndpoint("info", handleInfo) // -> "<prefix>.dev-a.info"
func (s *Service) AddGroup(name string) *ServiceEndpointGroup {
	return &ServiceEndpointGroup{
		service: s,
		group:   name,
	}
}

// AddEndpoint serves handler on "<prefix>.<name>". Every service subscribed to the same endpoint
// answers, so a request gathered with Client.Gather collects one response per service.
func (s *Service) AddEndpoint(name string, handler ReplyHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.endpoints[name]; ok {
		return eris.Wrap(ErrEndpointAlreadyExists, name)
	}

	sub, err := s.client.Subscribe(s.Endpoint(name), func(msg *nats.Msg) {
		defer s.tel.RecoverAndFlush(true)
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(msg.Header))

		ctx, span := s.tel.Tracer.Start(ctx, "handler."+name,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("nats.subject", msg.Subject)))
		defer span.End()

		requestLogger := s.tel.GetLoggerWithTrace(ctx, "service.handler").With().Str("endpoint", name).Logger()
		start := time.Now()

		resp := handler(ctx, &Request{Raw: msg, Endpoint: name})
		if resp == nil {
			resp = NewSuccessResponse(nil)
		}

		duration := time.Since(start)
		span.SetAttributes(
			attribute.Int64("handler.duration_ms", duration.Milliseconds()),
			attribute.String("status.code", resp.Code.String()))
		durationLogger := requestLogger.With().Int("duration_ms", int(duration.Milliseconds())).Logger()

		if resp.Code != CodeOK {
			span.SetStatus(otelcodes.Error, resp.Message)
			durationLogger.Warn().Stringer("code", resp.Code).Str("message", resp.Message).Msg("Request failed")
		} else {
			span.SetStatus(otelcodes.Ok, "")
		}

		replyBz, err := resp.Bytes()
		if err != nil {
			span.RecordError(err)
			durationLogger.Error().Err(err).Msg("Failed to marshal response")
			replyBz, err = NewErrorResponse(err, CodeInternal).Bytes()
			assert.That(err == nil, "failed to marshal error response")
		}

		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(replyBz); err != nil {
			durationLogger.Error().Err(err).Msg("Failed to send response over NATS")
		} else {
			durationLogger.Debug().Msg("Response sent")
		}
	})
	if err != nil {
		return eris.Wrapf(err, "failed to subscribe to endpoint %s", name)
	}
	if err := s.client.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return eris.Wrapf(err, "failed to register endpoint %s", name)
	}

	s.endpoints[name] = sub
	return nil
}

// Close unsubscribes every endpoint registered with the service.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, sub := range s.endpoints {
		if err := sub.Unsubscribe(); err != nil && !eris.Is(err, nats.ErrConnectionClosed) {
			s.Logger().Error().Err(err).Str("endpoint", name).Msg("Failed to unsubscribe endpoint")
			errs = append(errs, err)
		}
		delete(s.endpoints, name)
	}
	return errors.Join(errs...)
}

// -------------------------------------------------------------------------------------------------
// Endpoint groups
// -------------------------------------------------------------------------------------------------

// ServiceEndpointGroup registers endpoints with a common name prefix.
type ServiceEndpointGroup struct {
	service *Service
	group   string
}

func (g *ServiceEndpointGroup) AddEndpoint(name string, handler ReplyHandler) error {
	return g.service.AddEndpoint(Subject(g.group, name), handler)
}
