package main

import (
	"context"
	"time"

	"github.com/argus-labs/beacon/pkg/beacon"
	"github.com/argus-labs/beacon/pkg/micro"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newDeviceCmd() *cobra.Command {
	var (
		id      string
		name    string
		prefix  string
		catalog string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Run a device with an interactive console on stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			items, err := loadCatalog(catalog)
			if err != nil {
				return err
			}
			if prefix, err = subjectPrefix(prefix); err != nil {
				return err
			}

			rt, err := newRuntime(ctx, "beacon-device", true)
			if err != nil {
				return err
			}
			defer rt.close()
			defer rt.tel.RecoverAndFlush(true)

			svc, err := micro.NewService(rt.client, prefix, &rt.tel)
			if err != nil {
				return eris.Wrap(err, "failed to create presence service")
			}
			dev, err := beacon.NewDevice(beacon.DeviceOptions{
				DeviceID:       id,
				DeviceName:     name,
				SubjectPrefix:  prefix,
				RequestTimeout: timeout,
				Transport:      rt.client,
				Store:          rt.store,
				Catalog:        &items,
				Telemetry:      &rt.tel,
				Service:        svc,
			})
			if err != nil {
				return eris.Wrap(err, "failed to create device")
			}
			con := newConsole(dev, cmd.OutOrStdout(), func(ctx context.Context) ([]beacon.Presence, error) {
				return beacon.Discover(ctx, rt.client, prefix, beacon.DefaultDiscoverWindow)
			})

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return dev.Run(ctx)
			})
			g.Go(func() error {
				select {
				case <-dev.Started():
				case <-ctx.Done():
					return nil
				}
				if err := con.run(ctx, cmd.InOrStdin()); err != nil {
					return err
				}
				// Leaving the console stops the device.
				return errQuit
			})

			err = g.Wait()
			if eris.Is(err, errQuit) || eris.Is(err, context.Canceled) {
				return nil
			}
			if err != nil {
				rt.tel.CaptureException(ctx, err)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "device id (default: BEACON_DEVICE_ID or a random id)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&prefix, "prefix", "", "subject prefix (default: BEACON_SUBJECT_PREFIX or beacon)")
	cmd.Flags().StringVar(&catalog, "catalog", "", "JSON item table (default: built-in items)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up on unanswered requests after this long (0 waits)")
	return cmd
}
