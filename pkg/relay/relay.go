// Package relay forwards battle messages from the shared send subjects to the addressed device.
// Devices publish on <prefix>.send_request and <prefix>.send_response and listen on
// <prefix>.<device>.request and <prefix>.<device>.response; the relay joins the two.
package relay

import (
	"context"
	"sync"

	"github.com/argus-labs/beacon/pkg/micro"
	"github.com/argus-labs/beacon/pkg/protocol"
	"github.com/argus-labs/beacon/pkg/telemetry"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrUnroutable is logged for messages that do not name a recipient.
var ErrUnroutable = eris.New("message has no recipient")

// Transport publishes and subscribes within a queue group. *micro.Client implements it.
type Transport interface {
	Emit(ctx context.Context, subject string, data []byte, msgID string) error
	ListenQueue(subject, queue string, handler micro.Handler) (micro.Subscription, error)
}

var _ Transport = (*micro.Client)(nil)

// Relay routes requests by DefenderID and responses by AggressorID.
type Relay struct {
	subjects  protocol.Subjects
	queue     string
	transport Transport

	tel telemetry.Telemetry
	log zerolog.Logger

	mu       sync.Mutex
	forwards map[string]int
	drops    int
}

// New creates a relay from the environment merged with opts. Call Run to start it.
func New(opts Options) (*Relay, error) {
	config, err := loadRelayConfig()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load relay config")
	}
	options := newDefaultOptions()
	config.applyToOptions(&options)
	options.apply(opts)
	if err := options.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid relay options")
	}

	subjects, err := protocol.NewSubjects(options.SubjectPrefix)
	if err != nil {
		return nil, eris.Wrap(err, "invalid subject prefix")
	}

	tel := telemetry.NewNop("relay")
	if options.Telemetry != nil {
		tel = *options.Telemetry
	}

	return &Relay{
		subjects:  subjects,
		queue:     options.Queue,
		transport: options.Transport,
		tel:       tel,
		log:       tel.GetLogger("relay"),
		forwards:  make(map[string]int),
	}, nil
}

// Start subscribes to both send subjects. The returned stop function unsubscribes.
func (r *Relay) Start() (stop func(), err error) {
	requests, err := r.transport.ListenQueue(r.subjects.SendRequest(), r.queue, r.routeRequest)
	if err != nil {
		return nil, eris.Wrap(err, "failed to listen for battle requests")
	}
	responses, err := r.transport.ListenQueue(r.subjects.SendResponse(), r.queue, r.routeResponse)
	if err != nil {
		_ = requests.Stop()
		return nil, eris.Wrap(err, "failed to listen for battle responses")
	}

	r.log.Info().
		Str("requests", r.subjects.SendRequest()).
		Str("responses", r.subjects.SendResponse()).
		Str("queue", r.queue).
		Msg("Relay started")

	return func() {
		for _, sub := range []micro.Subscription{requests, responses} {
			if err := sub.Stop(); err != nil {
				r.log.Warn().Err(err).Msg("Failed to stop relay subscription")
			}
		}
		r.log.Info().Msg("Relay stopped")
	}, nil
}

// Run relays until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	defer r.tel.RecoverAndFlush(true)

	stop, err := r.Start()
	if err != nil {
		return err
	}
	defer stop()

	<-ctx.Done()
	return ctx.Err()
}

// Stats returns the number of forwarded messages per destination subject and the number dropped.
func (r *Relay) Stats() (forwards map[string]int, drops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	forwards = make(map[string]int, len(r.forwards))
	for k, v := range r.forwards {
		forwards[k] = v
	}
	return forwards, r.drops
}

func (r *Relay) routeRequest(ctx context.Context, msg micro.Message) error {
	return r.route(ctx, msg, "request", func(data []byte) (string, string, error) {
		req, err := protocol.DecodeRequest(data)
		if err != nil {
			return "", "", err
		}
		if req.DefenderID == "" {
			return "", "", eris.Wrapf(ErrUnroutable, "request from %s has no defender", req.AggressorID)
		}
		return r.subjects.Request(req.DefenderID), req.MessageID, nil
	})
}

func (r *Relay) routeResponse(ctx context.Context, msg micro.Message) error {
	return r.route(ctx, msg, "response", func(data []byte) (string, string, error) {
		resp, err := protocol.DecodeResponse(data)
		if err != nil {
			return "", "", err
		}
		return r.subjects.Response(resp.AggressorID), resp.MessageID, nil
	})
}

// route forwards msg unchanged to the subject chosen by resolve. Unroutable messages are dropped;
// only a failed forward is returned.
func (r *Relay) route(
	ctx context.Context, msg micro.Message, kind string,
	resolve func(data []byte) (subject, messageID string, err error),
) error {
	ctx, span := r.tel.Tracer.Start(ctx, "relay."+kind,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("subject", msg.Subject)))
	defer span.End()
	log := r.tel.GetLoggerWithTrace(ctx, "relay")

	to, messageID, err := resolve(msg.Data)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).Str("kind", kind).Msg("Dropped unroutable message")
		r.count("")
		return nil
	}
	if messageID == "" {
		messageID = msg.ID()
	}
	span.SetAttributes(attribute.String("destination", to))

	if err := r.transport.Emit(ctx, to, msg.Data, messageID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "forward failed")
		log.Error().Err(err).Str("destination", to).Msg("Failed to forward message")
		r.count("")
		return eris.Wrapf(err, "failed to forward to %s", to)
	}
	log.Debug().Str("destination", to).Str("message_id", messageID).Msgf("Forwarded battle %s", kind)
	r.count(to)
	return nil
}

// count records a forward to subject, or a drop when subject is empty.
func (r *Relay) count(subject string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subject == "" {
		r.drops++
		return
	}
	r.forwards[subject]++
}
