package main

import (
	"fmt"
	"time"

	"github.com/argus-labs/beacon/pkg/beacon"
	"github.com/spf13/cobra"
)

func newScanCmd() *cobra.Command {
	var (
		prefix string
		window time.Duration
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List the devices that advertise themselves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			subjects, err := subjectPrefix(prefix)
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, "beacon-scan", false)
			if err != nil {
				return err
			}
			defer rt.close()

			devices, err := beacon.Discover(ctx, rt.client, subjects, window)
			if err != nil {
				return err
			}
			printDevices(func(format string, args ...any) {
				fmt.Fprintf(cmd.OutOrStdout(), format, args...)
			}, "", devices)
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "subject prefix (default: BEACON_SUBJECT_PREFIX or beacon)")
	cmd.Flags().DurationVar(&window, "window", beacon.DefaultDiscoverWindow, "how long to wait for answers")
	return cmd
}
