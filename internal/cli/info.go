// ABOUTME: devices, discover and version commands
// ABOUTME: Small informational commands that do not play audio
package cli

import (
	"fmt"
	"time"

	"github.com/Resonate-Protocol/audiopipe/internal/discovery"
	"github.com/Resonate-Protocol/audiopipe/internal/version"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio/output"
	"github.com/spf13/cobra"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List output device ids",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, id := range output.Known() {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func newDiscoverCmd(root *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Browse the local network for monitors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}
			_, closer, err := logger(cmd, cfg, false)
			if err != nil {
				return err
			}
			defer closer.Close()

			found, err := discovery.Browse(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(found) == 0 {
				fmt.Fprintln(out, "no monitors found")
				return nil
			}
			for _, m := range found {
				fmt.Fprintf(out, "%-32s %s\n", m.Name, m.URL())
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "How long to listen for answers")
	return cmd
}
