package micro

import (
	"context"
	"time"

	"github.com/argus-labs/beacon/pkg/assert"
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Code classifies the outcome of a request.
type Code int

const (
	CodeOK Code = iota
	CodeBadRequest
	CodeUnavailable
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeBadRequest:
		return "bad_request"
	case CodeUnavailable:
		return "unavailable"
	case CodeInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// ErrRequestFailed wraps a non-OK response.
var ErrRequestFailed = eris.New("request failed")

// ReplyHandler defines the signature for all service endpoint handlers.
type ReplyHandler func(ctx context.Context, req *Request) *Response

// Request is an incoming service request.
type Request struct {
	// Raw is the original NATS message.
	Raw *nats.Msg
	// Endpoint is the name the handler was registered under.
	Endpoint string
}

// Decode unmarshals the request payload into v. An empty payload leaves v untouched.
func (r *Request) Decode(v any) error {
	if len(r.Raw.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Raw.Data, v); err != nil {
		return eris.Wrap(err, "failed to decode request payload")
	}
	return nil
}

// Response is the JSON envelope every endpoint replies with.
type Response struct {
	Code    Code            `json:"code"`
	Message string          `json:"message,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Bytes returns the response as a byte slice ready to be sent over NATS.
func (r *Response) Bytes() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode response")
	}
	return data, nil
}

// Decode unmarshals the payload of a successful response into v.
func (r *Response) Decode(v any) error {
	if r.Code != CodeOK {
		return eris.Wrapf(ErrRequestFailed, "%s: %s", r.Code, r.Message)
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return eris.Wrap(err, "failed to decode response payload")
	}
	return nil
}

// NewSuccessResponse creates a successful response with an optional payload.
func NewSuccessResponse(payload any) *Response {
	if payload == nil {
		return &Response{Code: CodeOK}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return NewErrorResponse(eris.Wrap(err, "failed to marshal payload"), CodeInternal)
	}
	return &Response{Code: CodeOK, Payload: data}
}

// NewErrorResponse creates an error response. code must not be CodeOK.
func NewErrorResponse(err error, code Code) *Response {
	assert.That(code != CodeOK, "NewErrorResponse called with CodeOK")

	message := "unknown error"
	if err != nil {
		message = err.Error()
	}
	return &Response{Code: code, Message: message}
}

func decodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, eris.Wrap(err, "failed to decode response")
	}
	return &resp, nil
}

func newRequestMsg(ctx context.Context, subject string, payload any) (*nats.Msg, error) {
	msg := nats.NewMsg(subject)
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, eris.Wrap(err, "failed to encode request payload")
		}
		msg.Data = data
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))
	return msg, nil
}

// Call sends a request to a single responder and waits for its response, bounded by ctx.
func (c *Client) Call(ctx context.Context, subject string, payload any) (*Response, error) {
	msg, err := newRequestMsg(ctx, subject, payload)
	if err != nil {
		return nil, err
	}
	reply, err := c.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, eris.Wrapf(err, "request to %s failed", subject)
	}
	return decodeResponse(reply.Data)
}

// Gather sends a request to every responder on subject and collects the responses that arrive
// within window. Undecodable responses are skipped.
func (c *Client) Gather(ctx context.Context, subject string, payload any, window time.Duration) ([]*Response, error) {
	msg, err := newRequestMsg(ctx, subject, payload)
	if err != nil {
		return nil, err
	}

	inbox := c.NewInbox()
	replies := make(chan *nats.Msg, 64)
	sub, err := c.ChanSubscribe(inbox, replies)
	if err != nil {
		return nil, eris.Wrap(err, "failed to subscribe to reply inbox")
	}
	defer func() { _ = sub.Unsubscribe() }()

	msg.Reply = inbox
	if err := c.PublishMsg(msg); err != nil {
		return nil, eris.Wrapf(err, "failed to publish to %s", subject)
	}

	timer := time.NewTimer(window)
	defer timer.Stop()

	var responses []*Response
	for {
		select {
		case reply := <-replies:
			resp, err := decodeResponse(reply.Data)
			if err != nil {
				c.log.Debug().Err(err).Str("subject", subject).Msg("Skipped undecodable reply")
				continue
			}
			responses = append(responses, resp)
		case <-timer.C:
			return responses, nil
		case <-ctx.Done():
			return responses, ctx.Err()
		}
	}
}
