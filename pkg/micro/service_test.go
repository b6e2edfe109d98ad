package micro_test

import (
	"context"
	"testing"
	"time"

	"github.com/argus-labs/beacon/pkg/micro"
	"github.com/argus-labs/beacon/pkg/testutils"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------------------------------------------------------------------------------------
// Service integration tests
// -------------------------------------------------------------------------------------------------
// Endpoints are exercised through an in-process NATS server. Timeouts and cancellation are left to
// NATS's own tests.
// -------------------------------------------------------------------------------------------------

type greeting struct {
	Name string `json:"name"`
}

func TestService_Handler(t *testing.T) {
	t.Parallel()
	prng := testutils.NewRand(t)

	broker := testutils.NewNATS(t)
	client := newTestClient(t, broker.URL())
	svc, err := micro.NewService(client, "test", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()
		endpoint := testutils.RandString(prng, 8)

		err := svc.AddEndpoint(endpoint, func(_ context.Context, req *micro.Request) *micro.Response {
			var in greeting
			if err := req.Decode(&in); err != nil {
				return micro.NewErrorResponse(err, micro.CodeBadRequest)
			}
			return micro.NewSuccessResponse(greeting{Name: "hello " + in.Name})
		})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		resp, err := client.Call(ctx, svc.Endpoint(endpoint), greeting{Name: "beacon"})
		require.NoError(t, err)
		var out greeting
		require.NoError(t, resp.Decode(&out))
		assert.Equal(t, "hello beacon", out.Name)
	})

	t.Run("handler returns error", func(t *testing.T) {
		t.Parallel()
		endpoint := testutils.RandString(prng, 8)

		err := svc.AddEndpoint(endpoint, func(_ context.Context, _ *micro.Request) *micro.Response {
			return micro.NewErrorResponse(assert.AnError, micro.CodeUnavailable)
		})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		resp, err := client.Call(ctx, svc.Endpoint(endpoint), nil)
		require.NoError(t, err)
		assert.Equal(t, micro.CodeUnavailable, resp.Code)
		err = resp.Decode(&greeting{})
		require.True(t, eris.Is(err, micro.ErrRequestFailed), "got %v", err)
		assert.Contains(t, err.Error(), assert.AnError.Error())
	})

	t.Run("malformed request", func(t *testing.T) {
		t.Parallel()
		endpoint := testutils.RandString(prng, 8)

		err := svc.AddEndpoint(endpoint, func(_ context.Context, req *micro.Request) *micro.Response {
			var in greeting
			if err := req.Decode(&in); err != nil {
				return micro.NewErrorResponse(err, micro.CodeBadRequest)
			}
			return micro.NewSuccessResponse(nil)
		})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		resp, err := client.Call(ctx, svc.Endpoint(endpoint), "not an object")
		require.NoError(t, err)
		assert.Equal(t, micro.CodeBadRequest, resp.Code)
	})

	t.Run("duplicate endpoint", func(t *testing.T) {
		t.Parallel()
		endpoint := testutils.RandString(prng, 8)
		noop := func(context.Context, *micro.Request) *micro.Response { return nil }

		require.NoError(t, svc.AddEndpoint(endpoint, noop))
		err := svc.AddEndpoint(endpoint, noop)
		require.True(t, eris.Is(err, micro.ErrEndpointAlreadyExists), "got %v", err)
	})
}

func TestService_Gather(t *testing.T) {
	t.Parallel()

	broker := testutils.NewNATS(t)
	caller := newTestClient(t, broker.URL())

	for _, name := range []string{"a", "b", "c"} {
		svc, err := micro.NewService(newTestClient(t, broker.URL()), "test", nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = svc.Close() })
		require.NoError(t, svc.AddGroup("all").AddEndpoint("ping", func(context.Context, *micro.Request) *micro.Response {
			return micro.NewSuccessResponse(greeting{Name: name})
		}))
	}

	responses, err := caller.Gather(context.Background(), "test.all.ping", nil, 300*time.Millisecond)
	require.NoError(t, err)

	var names []string
	for _, resp := range responses {
		var g greeting
		require.NoError(t, resp.Decode(&g))
		names = append(names, g.Name)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, names)
}

func TestService_Close(t *testing.T) {
	t.Parallel()

	broker := testutils.NewNATS(t)
	client := newTestClient(t, broker.URL())
	svc, err := micro.NewService(client, "test", nil)
	require.NoError(t, err)

	require.NoError(t, svc.AddEndpoint("ping", func(context.Context, *micro.Request) *micro.Response {
		return nil
	}))
	require.NoError(t, svc.Close())
	require.NoError(t, client.Flush())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err = client.Call(ctx, svc.Endpoint("ping"), nil)
	require.Error(t, err)
}

func TestNewService_Validation(t *testing.T) {
	t.Parallel()

	_, err := micro.NewService(nil, "test", nil)
	require.Error(t, err)
	_, err = micro.NewService(&micro.Client{}, "bad prefix", nil)
	require.Error(t, err)
}
