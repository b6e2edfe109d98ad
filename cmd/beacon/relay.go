package main

import (
	"context"

	"github.com/argus-labs/beacon/pkg/relay"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

func newRelayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Route battle messages from the send subjects to the addressed devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, "beacon-relay", false)
			if err != nil {
				return err
			}
			defer rt.close()
			defer rt.tel.RecoverAndFlush(true)

			r, err := relay.New(relay.Options{Transport: rt.client, Telemetry: &rt.tel})
			if err != nil {
				return eris.Wrap(err, "failed to create relay")
			}
			if err := r.Run(ctx); err != nil && !eris.Is(err, context.Canceled) {
				rt.tel.CaptureException(ctx, err)
				return err
			}

			forwards, drops := r.Stats()
			total := 0
			for _, n := range forwards {
				total += n
			}
			rt.tel.Logger.Info().Int("forwarded", total).Int("dropped", drops).Msg("Relay shut down")
			return nil
		},
	}
}
