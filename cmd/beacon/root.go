package main

import (
	"context"
	"os"
	"time"

	"github.com/argus-labs/beacon/pkg/combat"
	"github.com/argus-labs/beacon/pkg/ledger"
	"github.com/argus-labs/beacon/pkg/micro"
	"github.com/argus-labs/beacon/pkg/telemetry"
	"github.com/argus-labs/beacon/pkg/telemetry/sentry"
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "beacon",
		Short:         "Peer-to-peer battle challenges over NATS",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newDeviceCmd(),
		newRelayCmd(),
		newSeedCmd(),
		newScanCmd(),
	)
	return root
}

// cliConfig holds settings shared by the commands that talk to devices.
type cliConfig struct {
	SubjectPrefix string `env:"BEACON_SUBJECT_PREFIX" envDefault:"beacon"`
}

// subjectPrefix returns flag when set, otherwise the configured prefix.
func subjectPrefix(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	cfg, err := env.ParseAs[cliConfig]()
	if err != nil {
		return "", eris.Wrap(err, "failed to parse config")
	}
	return cfg.SubjectPrefix, nil
}

// runtime is what every command needs: telemetry, a NATS connection and the ledger backend.
type runtime struct {
	tel    telemetry.Telemetry
	client *micro.Client
	store  ledger.Store
}

// newRuntime connects everything a command needs. Logs go to stderr so stdout stays for output.
func newRuntime(ctx context.Context, service string, withStore bool) (*runtime, error) {
	tel, err := telemetry.New(telemetry.Options{
		ServiceName:   service,
		LogWriter:     os.Stderr,
		SentryOptions: sentry.Options{Tags: map[string]string{"service": service}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "failed to set up telemetry")
	}

	client, err := micro.NewClient(micro.WithLogger(tel.GetLogger("nats")))
	if err != nil {
		return nil, eris.Wrap(err, "failed to connect to NATS")
	}

	rt := &runtime{tel: tel, client: client}
	if !withStore {
		return rt, nil
	}

	cfg, err := ledger.NewStoreConfig()
	if err != nil {
		client.Close()
		return nil, eris.Wrap(err, "failed to load ledger config")
	}
	rt.store, err = ledger.Open(ctx, cfg, client, tel.GetLogger("ledger"))
	if err != nil {
		client.Close()
		return nil, eris.Wrap(err, "failed to open ledger")
	}
	return rt, nil
}

func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.tel.Logger.Warn().Err(err).Msg("Failed to close ledger")
		}
	}
	rt.client.Close()
	if err := rt.tel.Shutdown(ctx); err != nil {
		rt.tel.Logger.Error().Err(err).Msg("Telemetry shutdown error")
	}
}

// loadCatalog reads an item table file, or returns the default table when path is empty.
func loadCatalog(path string) (combat.Catalog, error) {
	if path == "" {
		return combat.DefaultCatalog(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return combat.Catalog{}, eris.Wrapf(err, "failed to open catalog %s", path)
	}
	defer f.Close()
	return combat.LoadCatalog(f)
}
