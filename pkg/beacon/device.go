// Package beacon runs a battle challenge device: it connects the challenge state machine to the
// message transport and the ledger, and serializes everything that touches them on one goroutine.
package beacon

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/argus-labs/beacon/pkg/challenge"
	"github.com/argus-labs/beacon/pkg/combat"
	"github.com/argus-labs/beacon/pkg/ledger"
	"github.com/argus-labs/beacon/pkg/micro"
	"github.com/argus-labs/beacon/pkg/protocol"
	"github.com/argus-labs/beacon/pkg/telemetry"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrStopped is returned by actions on a device whose Run loop has exited.
var ErrStopped = eris.New("device stopped")

// Transport publishes and subscribes to subjects. *micro.Client implements it.
type Transport interface {
	Emit(ctx context.Context, subject string, data []byte, msgID string) error
	Listen(subject string, handler micro.Handler) (micro.Subscription, error)
	ListenReliable(ctx context.Context, opts micro.StreamOptions, handler micro.Handler) (micro.Subscription, error)
}

var _ Transport = (*micro.Client)(nil)

// command is a unit of work executed on the device loop.
type command func(ctx context.Context)

// Device is one player's handheld: a challenge machine, its ledger and its subscriptions.
type Device struct {
	id        string
	name      string
	subjects  protocol.Subjects
	transport Transport
	ledger    *ledger.Ledger
	machine   *challenge.Machine
	catalog   combat.Catalog
	starting  ledger.Character
	dedup     *protocol.Dedup
	options   DeviceOptions

	tel telemetry.Telemetry
	log zerolog.Logger

	queue    chan command
	started  chan struct{}
	stopped  chan struct{}
	runOnce  sync.Once
	stopOnce sync.Once

	listenersMu sync.RWMutex
	listeners   []challenge.Listener

	// Owned by the loop goroutine.
	responseSub micro.Subscription
	timer       *time.Timer
}

// NewDevice creates a device from the BEACON_* environment merged with opts. Call Run to start it.
func NewDevice(opts DeviceOptions) (*Device, error) {
	config, err := loadDeviceConfig()
	if err != nil {
		return nil, eris.Wrap(err, "failed to load device config")
	}
	options := newDefaultDeviceOptions()
	config.applyToOptions(&options)
	options.apply(opts)
	if options.DeviceID == "" {
		options.DeviceID = uuid.NewString()
	}
	if err := options.validate(); err != nil {
		return nil, eris.Wrap(err, "invalid device options")
	}

	subjects, err := protocol.NewSubjects(options.SubjectPrefix)
	if err != nil {
		return nil, eris.Wrap(err, "invalid subject prefix")
	}

	tel := telemetry.NewNop("beacon")
	if options.Telemetry != nil {
		tel = *options.Telemetry
	}

	store := options.Store
	if store == nil {
		store = ledger.NewMemoryStore()
	}

	name := options.DeviceName
	if name == "" {
		name = options.DeviceID
	}

	d := &Device{
		id:        options.DeviceID,
		name:      name,
		subjects:  subjects,
		transport: options.Transport,
		ledger:    ledger.New(store, options.RecordID, options.ShopID),
		catalog:   *options.Catalog,
		starting:  *options.Character,
		dedup:     protocol.NewDedup(options.DedupWindow),
		options:   options,
		tel:       tel,
		log:       tel.GetLogger("device").With().Str("device_id", options.DeviceID).Logger(),
		queue:     make(chan command, options.QueueSize),
		started:   make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	d.machine, err = challenge.NewMachine(d.id, d.ledger, outbox{d},
		challenge.WithRules(*options.Rules),
		challenge.WithLogger(tel.GetLogger("challenge").With().Str("device_id", d.id).Logger()),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to create challenge machine")
	}
	d.machine.OnEvent(d.notify)

	return d, nil
}

// ID is the device id other devices challenge.
func (d *Device) ID() string {
	return d.id
}

// Name is the display name, the id unless configured.
func (d *Device) Name() string {
	return d.name
}

// Ledger is the device's character and shop ledger.
func (d *Device) Ledger() *ledger.Ledger {
	return d.ledger
}

// OnEvent registers l for every challenge transition. Listeners run on the device loop and must
// not call device actions.
func (d *Device) OnEvent(l challenge.Listener) {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	d.listeners = append(d.listeners, l)
}

func (d *Device) notify(ev challenge.Event) {
	d.listenersMu.RLock()
	defer d.listenersMu.RUnlock()
	for _, l := range d.listeners {
		l(ev)
	}
}

// Started is closed once the device listens for requests.
func (d *Device) Started() <-chan struct{} {
	return d.started
}

// Run seeds missing ledger records, subscribes to inbound requests and processes events until ctx
// is done. A device runs at most once.
func (d *Device) Run(ctx context.Context) error {
	err := eris.New("device already ran")
	d.runOnce.Do(func() {
		err = d.run(ctx)
	})
	return err
}

func (d *Device) run(ctx context.Context) error {
	defer d.markStopped()
	defer d.tel.RecoverAndFlush(true)

	if err := d.seed(ctx); err != nil {
		return err
	}

	requests, err := d.listenRequests(ctx)
	if err != nil {
		return eris.Wrap(err, "failed to listen for battle requests")
	}
	defer func() {
		if err := requests.Stop(); err != nil {
			d.log.Warn().Err(err).Msg("Failed to stop request subscription")
		}
		d.stopResponses()
	}()

	if svc := d.options.Service; svc != nil {
		defer func() {
			if err := svc.Close(); err != nil {
				d.log.Warn().Err(err).Msg("Failed to stop presence endpoints")
			}
		}()
		if err := d.advertise(svc); err != nil {
			return eris.Wrap(err, "failed to advertise device")
		}
	}

	d.log.Info().
		Str("name", d.name).
		Str("subject", d.subjects.Request(d.id)).
		Stringer("delivery", d.options.RequestDelivery).
		Msg("Device started")
	close(d.started)

	for {
		select {
		case cmd := <-d.queue:
			d.execute(ctx, cmd)
		case <-ctx.Done():
			// Refuse new work before the subscriptions are torn down.
			d.markStopped()
			d.log.Info().Msg("Device stopped")
			return ctx.Err()
		}
	}
}

// execute runs cmd and keeps subscriptions in line with the resulting state. A panicking command is
// reported and the loop goes on.
func (d *Device) execute(ctx context.Context, cmd command) {
	defer d.tel.RecoverAndFlush(false)
	cmd(ctx)
	if d.machine.State() != challenge.StateRequesting {
		d.stopResponses()
	}
}

func (d *Device) seed(ctx context.Context) error {
	if written, err := d.ledger.Seed(ctx, d.starting, false); err != nil {
		return eris.Wrap(err, "failed to seed character")
	} else if written {
		d.log.Info().Str("name", d.starting.Name).Msg("Created character")
	}
	if written, err := d.ledger.SeedShop(ctx, d.catalog.Prices(), false); err != nil {
		return eris.Wrap(err, "failed to seed shop")
	} else if written {
		d.log.Info().Int("items", len(d.catalog.Items())).Msg("Stocked shop")
	}
	return nil
}

func (d *Device) listenRequests(ctx context.Context) (micro.Subscription, error) {
	subject := d.subjects.Request(d.id)
	if d.options.RequestDelivery == DeliveryCore {
		return d.transport.Listen(subject, d.handleRequest)
	}
	return d.transport.ListenReliable(ctx, micro.StreamOptions{
		Stream:        strings.ToUpper(micro.DurableName(d.subjects.Prefix)) + "_REQUESTS",
		Subjects:      []string{d.subjects.AllRequests()},
		Durable:       micro.DurableName(d.subjects.Prefix + "_" + d.id),
		FilterSubject: subject,
	}, d.handleRequest)
}

// -------------------------------------------------------------------------------------------------
// Event loop
// -------------------------------------------------------------------------------------------------

func (d *Device) markStopped() {
	d.stopOnce.Do(func() { close(d.stopped) })
}

// enqueue hands cmd to the loop. It blocks while the queue is full. Once the loop has exited it
// fails with ErrStopped even if the queue has room.
func (d *Device) enqueue(ctx context.Context, cmd command) error {
	select {
	case <-d.stopped:
		return ErrStopped
	default:
	}
	select {
	case d.queue <- cmd:
		return nil
	case <-d.stopped:
		return ErrStopped
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "failed to enqueue")
	}
}

// do runs fn on the loop and waits for its result.
func (d *Device) do(ctx context.Context, fn func(ctx context.Context) error) error {
	result := make(chan error, 1)
	err := d.enqueue(ctx, func(loopCtx context.Context) {
		// The caller's values (trace, deadline) apply, the loop's cancellation too.
		runCtx, cancel := mergeCancel(ctx, loopCtx)
		defer cancel()
		result <- fn(runCtx)
	})
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-d.stopped:
		// The loop may have finished the command before stopping.
		select {
		case err := <-result:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "gave up waiting for device")
	}
}

// mergeCancel returns a context with the values of primary that is also cancelled with secondary.
func mergeCancel(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// -------------------------------------------------------------------------------------------------
// Inbound messages
// -------------------------------------------------------------------------------------------------

// handleRequest queues a battle request for the loop. It fails only when the request could not be
// queued, so a reliable delivery is redelivered instead of acknowledged.
func (d *Device) handleRequest(ctx context.Context, msg micro.Message) error {
	ctx, span := d.tel.Tracer.Start(ctx, "beacon.receive_request",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("device_id", d.id), attribute.String("subject", msg.Subject)))
	defer span.End()
	log := d.tel.GetLoggerWithTrace(ctx, "device").With().Str("device_id", d.id).Logger()

	req, err := protocol.DecodeRequest(msg.Data)
	if err != nil {
		span.SetStatus(codes.Error, "malformed request")
		log.Warn().Err(err).Msg("Dropped malformed battle request")
		return nil
	}
	span.SetAttributes(attribute.String("aggressor_id", req.AggressorID))

	// The message context carries the publisher's trace.
	err = d.enqueue(ctx, func(loopCtx context.Context) {
		// Ids are recorded on the loop so a message that never got queued is not remembered.
		if d.dedup.Seen(messageID(req.MessageID, msg)) {
			log.Debug().Str("message_id", req.MessageID).Msg("Dropped redelivered battle request")
			return
		}
		runCtx, cancel := mergeCancel(ctx, loopCtx)
		defer cancel()
		if err := d.machine.ReceiveRequest(runCtx, req); err != nil {
			d.logRejected(log, err, "battle request")
		}
	})
	if err != nil {
		span.SetStatus(codes.Error, "not queued")
		log.Warn().Err(err).Msg("Dropped battle request")
		return eris.Wrap(err, "failed to queue battle request")
	}
	return nil
}

func (d *Device) handleResponse(ctx context.Context, msg micro.Message) error {
	ctx, span := d.tel.Tracer.Start(ctx, "beacon.receive_response",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("device_id", d.id), attribute.String("subject", msg.Subject)))
	defer span.End()
	log := d.tel.GetLoggerWithTrace(ctx, "device").With().Str("device_id", d.id).Logger()

	resp, err := protocol.DecodeResponse(msg.Data)
	if err != nil {
		span.SetStatus(codes.Error, "malformed response")
		log.Warn().Err(err).Msg("Dropped malformed battle response")
		return nil
	}
	span.SetAttributes(attribute.Bool("accepted", resp.Accepted))

	err = d.enqueue(ctx, func(loopCtx context.Context) {
		if d.dedup.Seen(messageID(resp.MessageID, msg)) {
			log.Debug().Str("message_id", resp.MessageID).Msg("Dropped redelivered battle response")
			return
		}
		runCtx, cancel := mergeCancel(ctx, loopCtx)
		defer cancel()
		if err := d.machine.ReceiveResponse(runCtx, resp); err != nil {
			d.logRejected(log, err, "battle response")
		}
	})
	if err != nil {
		span.SetStatus(codes.Error, "not queued")
		log.Warn().Err(err).Msg("Dropped battle response")
		return eris.Wrap(err, "failed to queue battle response")
	}
	return nil
}

func (d *Device) logRejected(log zerolog.Logger, err error, what string) {
	switch {
	case eris.Is(err, challenge.ErrDuplicateDelivery):
		log.Debug().Err(err).Msgf("Ignored duplicate %s", what)
	case eris.Is(err, challenge.ErrProtocolViolation):
		log.Warn().Err(err).Msgf("Rejected %s", what)
	default:
		log.Error().Err(err).Msgf("Failed to handle %s", what)
	}
}

// messageID prefers the payload id and falls back to the Nats-Msg-Id header.
func messageID(payloadID string, msg micro.Message) string {
	if payloadID != "" {
		return payloadID
	}
	return msg.ID()
}

// -------------------------------------------------------------------------------------------------
// Outbound messages
// -------------------------------------------------------------------------------------------------

// outbox publishes machine output. It runs on the loop goroutine.
type outbox struct {
	d *Device
}

func (o outbox) SendRequest(ctx context.Context, req protocol.BattleRequest) error {
	d := o.d

	// Subscribe before publishing so the answer cannot arrive first.
	if d.responseSub == nil {
		sub, err := d.transport.Listen(d.subjects.Response(d.id), d.handleResponse)
		if err != nil {
			return eris.Wrap(err, "failed to listen for battle responses")
		}
		d.responseSub = sub
	}

	data, err := protocol.Encode(req)
	if err != nil {
		return err
	}
	if err := d.transport.Emit(ctx, d.subjects.SendRequest(), data, req.MessageID); err != nil {
		d.stopResponses()
		return err
	}

	if timeout := d.options.RequestTimeout; timeout > 0 {
		// A timer that fires after the request was answered or replaced names a request the machine
		// no longer holds, so it is ignored.
		requestID := req.MessageID
		d.timer = time.AfterFunc(timeout, func() {
			_ = d.enqueue(context.Background(), func(ctx context.Context) {
				d.machine.Expire(ctx, requestID)
			})
		})
	}
	return nil
}

func (o outbox) SendResponse(ctx context.Context, resp protocol.BattleResponse) error {
	data, err := protocol.Encode(resp)
	if err != nil {
		return err
	}
	return o.d.transport.Emit(ctx, o.d.subjects.SendResponse(), data, resp.MessageID)
}

// stopResponses drops the response subscription and the request timer. Loop goroutine only.
func (d *Device) stopResponses() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.responseSub != nil {
		if err := d.responseSub.Stop(); err != nil {
			d.log.Warn().Err(err).Msg("Failed to stop response subscription")
		}
		d.responseSub = nil
	}
}
