package testutils

import (
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/require"
)

// NATS is an embedded NATS server with JetStream enabled, scoped to a single test.
type NATS struct {
	Server *server.Server
}

// NewNATS starts a broker on a random local port. It shuts down when the test ends.
func NewNATS(t *testing.T) *NATS {
	t.Helper()

	opts := &server.Options{
		Host:                  "127.0.0.1",
		Port:                  -1, // random free port
		NoLog:                 true,
		NoSigs:                true,
		MaxControlLine:        4096,
		DisableShortFirstPing: true,
		JetStream:             true,
		StoreDir:              t.TempDir(),
	}

	srv := natstest.RunServer(opts)
	require.True(t, srv.JetStreamEnabled(), "embedded NATS server must run JetStream")

	t.Cleanup(srv.Shutdown)
	return &NATS{Server: srv}
}

// URL is the client URL of the embedded server.
func (n *NATS) URL() string {
	return n.Server.ClientURL()
}
