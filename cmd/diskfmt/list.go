package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/osbuild/diskfmt/internal/disk"
)

func deviceKind(d disk.Device) string {
	if d.WholeDisk() {
		return "disk"
	}
	return "part"
}

func newListCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the devices that can be formatted",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			devices, err := s.ListDevices(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(devices)
			}

			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No removable devices found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tTYPE\tSIZE\tFS\tLABEL\tMODEL")
			for _, d := range devices {
				path := d.Path
				if path == "" {
					path = d.ObjectPath
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", path, deviceKind(d), disk.HumanSize(d.Size), d.FSType, d.FSLabel, d.VendorModel)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the devices as JSON")
	return cmd
}
