package micro_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/argus-labs/beacon/pkg/micro"
	"github.com/argus-labs/beacon/pkg/testutils"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, url string) *micro.Client {
	t.Helper()

	c, err := micro.NewClient(
		micro.WithNATSConfig(micro.NATSConfig{Name: "test-client", URL: url}),
		micro.WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestClient_EmitAndListen(t *testing.T) {
	t.Parallel()

	broker := testutils.NewNATS(t)
	client := newTestClient(t, broker.URL())

	received := make(chan micro.Message, 1)
	sub, err := client.Listen("beacon.dev-a.request", func(_ context.Context, msg micro.Message) error {
		received <- msg
		return nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Stop() })
	require.NoError(t, client.Flush())

	require.NoError(t, client.Emit(context.Background(), "beacon.dev-a.request", []byte(`{"AggressorID":"dev-b"}`), "msg-1"))

	select {
	case msg := <-received:
		assert.Equal(t, "beacon.dev-a.request", msg.Subject)
		assert.JSONEq(t, `{"AggressorID":"dev-b"}`, string(msg.Data))
		assert.Equal(t, "msg-1", msg.ID())
	case <-time.After(5 * time.Second):
		t.Fatal("message was not delivered")
	}
}

func TestClient_StopListening(t *testing.T) {
	t.Parallel()

	broker := testutils.NewNATS(t)
	client := newTestClient(t, broker.URL())

	received := make(chan micro.Message, 4)
	sub, err := client.Listen("beacon.dev-a.response", func(_ context.Context, msg micro.Message) error {
		received <- msg
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, sub.Stop())
	require.NoError(t, client.Flush())

	require.NoError(t, client.Emit(context.Background(), "beacon.dev-a.response", []byte(`{}`), ""))
	require.NoError(t, client.Flush())

	select {
	case <-received:
		t.Fatal("stopped subscription must not receive messages")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestClient_ListenReliable(t *testing.T) {
	t.Parallel()

	broker := testutils.NewNATS(t)
	client := newTestClient(t, broker.URL())
	ctx := context.Background()

	opts := micro.StreamOptions{
		Stream:        "TEST_REQUESTS",
		Subjects:      []string{"beacon.*.request"},
		Durable:       "dev-a",
		FilterSubject: "beacon.dev-a.request",
	}

	received := make(chan micro.Message, 8)
	sub, err := client.ListenReliable(ctx, opts, func(_ context.Context, msg micro.Message) error {
		received <- msg
		return nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Stop() })

	// The second publish carries the same Nats-Msg-Id and is dropped by the stream.
	require.NoError(t, client.Emit(ctx, "beacon.dev-a.request", []byte(`{"AggressorID":"dev-b"}`), "req-1"))
	require.NoError(t, client.Emit(ctx, "beacon.dev-a.request", []byte(`{"AggressorID":"dev-b"}`), "req-1"))
	// Other devices' requests are not delivered to this consumer.
	require.NoError(t, client.Emit(ctx, "beacon.dev-c.request", []byte(`{"AggressorID":"dev-b"}`), "req-2"))

	select {
	case msg := <-received:
		assert.Equal(t, "req-1", msg.ID())
	case <-time.After(5 * time.Second):
		t.Fatal("message was not delivered")
	}

	select {
	case msg := <-received:
		t.Fatalf("unexpected delivery of %s", msg.ID())
	case <-time.After(300 * time.Millisecond):
	}
}

func TestClient_ListenReliableRedeliversFailedMessages(t *testing.T) {
	t.Parallel()

	broker := testutils.NewNATS(t)
	client := newTestClient(t, broker.URL())
	ctx := context.Background()

	opts := micro.StreamOptions{
		Stream:        "TEST_RETRIES",
		Subjects:      []string{"beacon.*.request"},
		Durable:       "dev-a",
		FilterSubject: "beacon.dev-a.request",
	}

	var attempts atomic.Int32
	received := make(chan micro.Message, 8)
	sub, err := client.ListenReliable(ctx, opts, func(_ context.Context, msg micro.Message) error {
		if attempts.Add(1) == 1 {
			return eris.New("not ready")
		}
		received <- msg
		return nil
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Stop() })

	require.NoError(t, client.Emit(ctx, "beacon.dev-a.request", []byte(`{"AggressorID":"dev-b"}`), "req-1"))

	select {
	case msg := <-received:
		assert.Equal(t, "req-1", msg.ID())
		assert.Equal(t, int32(2), attempts.Load())
	case <-time.After(5 * time.Second):
		t.Fatal("failed message was not redelivered")
	}

	// Taken once, it stays acknowledged.
	select {
	case msg := <-received:
		t.Fatalf("unexpected delivery of %s", msg.ID())
	case <-time.After(300 * time.Millisecond):
	}
}

func TestClient_KeyValue(t *testing.T) {
	t.Parallel()

	broker := testutils.NewNATS(t)
	client := newTestClient(t, broker.URL())
	ctx := context.Background()

	kv, err := client.KeyValue(ctx, "test_ledger")
	require.NoError(t, err)
	_, err = kv.Put(ctx, "character", []byte("x"))
	require.NoError(t, err)

	// A second call returns the same bucket.
	again, err := client.KeyValue(ctx, "test_ledger")
	require.NoError(t, err)
	entry, err := again.Get(ctx, "character")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), entry.Value())
}

func TestSubjectTokens(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "beacon.dev-a.request", micro.Subject("beacon", "dev-a", "request"))
	require.NoError(t, micro.ValidateToken("dev-a"))
	for _, bad := range []string{"", "a.b", "a*", ">", "a b"} {
		require.ErrorIs(t, micro.ValidateToken(bad), micro.ErrInvalidToken, bad)
	}
	require.NoError(t, micro.ValidatePrefix("games.beacon"))
	require.Error(t, micro.ValidatePrefix("games..beacon"))
	assert.Equal(t, "dev_a_b", micro.DurableName("dev.a b"))
}

func TestNATSConfigValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, micro.NATSConfig{}.Validate())
	require.NoError(t, micro.NATSConfig{URL: "nats://localhost:4222"}.Validate())
}

func TestClient_ListenQueue(t *testing.T) {
	t.Parallel()

	broker := testutils.NewNATS(t)
	client := newTestClient(t, broker.URL())

	received := make(chan string, 8)
	for _, member := range []string{"relay-1", "relay-2"} {
		sub, err := client.ListenQueue("beacon.send_request", "relay", func(_ context.Context, _ micro.Message) error {
			received <- member
			return nil
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = sub.Stop() })
	}
	require.NoError(t, client.Flush())

	require.NoError(t, client.Emit(context.Background(), "beacon.send_request", []byte(`{}`), ""))

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("message was not delivered")
	}
	// Only one member of the group gets the message.
	select {
	case member := <-received:
		t.Fatalf("message delivered twice, second time to %s", member)
	case <-time.After(200 * time.Millisecond):
	}
}
