package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fullvlad/lava-server/internal/store"
	"github.com/fullvlad/lava-server/pkg/model"
)

func newDevicesCmd() *cobra.Command {
	var deviceType string
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List devices and their state",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			devices, err := listDevices(cmd.Context(), st, deviceType)
			if err != nil {
				return err
			}
			printDevices(os.Stdout, devices, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&deviceType, "type", "", "Only list devices of this type")
	return cmd
}

func listDevices(ctx context.Context, st store.Store, deviceType string) ([]*model.Device, error) {
	var devices []*model.Device
	err := st.InTx(ctx, func(tx store.Tx) error {
		var err error
		devices, err = tx.ListDevices(ctx, store.DeviceFilter{DeviceType: deviceType})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

func printDevices(w io.Writer, devices []*model.Device, now time.Time) {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No devices found.")
		return
	}
	fmt.Fprintf(w, "%-20s  %-12s  %-10s  %-8s  %-38s  %s\n", "HOSTNAME", "TYPE", "STATUS", "HEALTH", "JOB", "HEARTBEAT")
	fmt.Fprintf(w, "%-20s  %-12s  %-10s  %-8s  %-38s  %s\n", "--------", "----", "------", "------", "---", "---------")
	for _, d := range devices {
		seen := "never"
		if d.LastHeartbeat != nil {
			seen = humanize.RelTime(*d.LastHeartbeat, now, "ago", "from now")
		}
		job := d.CurrentJob
		if job == "" {
			job = "-"
		}
		fmt.Fprintf(w, "%-20s  %-12s  %-10s  %-8s  %-38s  %s\n",
			d.Hostname, d.DeviceType, d.Status, d.HealthStatus, job, seen)
	}
}
