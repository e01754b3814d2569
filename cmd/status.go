package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/wagoo/bridge/internal/bridge"
)

func newStatusCmd(o *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running host's status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.hostClient(cmd)
			if err != nil {
				return err
			}
			var st bridge.Status
			if _, err := c.getJSON(bridge.PathStatus, &st); err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			writeStatusOutput(cmd.OutOrStdout(), &st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status JSON")
	return cmd
}

func writeStatusOutput(w io.Writer, st *bridge.Status) {
	fmt.Fprintf(w, "Host Status\n")
	fmt.Fprintf(w, "===========\n")
	fmt.Fprintf(w, "Listening:    %s\n", st.Server.ListeningAddress)
	fmt.Fprintf(w, "Version:      %s\n", st.Server.Version)
	if st.Discovery.Running {
		fmt.Fprintf(w, "Discovery:    %s\n", st.Discovery.Addr)
	} else {
		fmt.Fprintf(w, "Discovery:    disabled\n")
	}
	fmt.Fprintf(w, "mDNS:         %v\n", st.Mdns)
	fmt.Fprintf(w, "Environment:  %s\n", st.Environment)
	fmt.Fprintf(w, "Dashboard:    %s\n", st.BaseURL)
	if st.PendingDeepLink != "" {
		fmt.Fprintf(w, "Pending link: %s\n", st.PendingDeepLink)
	}
	fmt.Fprintf(w, "Clients:      %d connected\n", st.Server.ConnectedClients)
	for _, c := range st.Server.Clients {
		fmt.Fprintf(w, "  %s  %-15s  since %s\n", c.ID, c.IP, c.ConnectedSince.Local().Format("15:04:05"))
	}
	fmt.Fprintf(w, "Uptime:       %s\n", formatUptime(st.UptimeSeconds))
}

func formatUptime(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	if d < time.Minute {
		return fmt.Sprintf("%ds", seconds)
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
}
