package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/wagoo/bridge/internal/discovery"
	"github.com/wagoo/bridge/internal/mdns"
)

type discoverOptions struct {
	target  string
	timeout time.Duration
	mdns    bool
	asJSON  bool
}

func newDiscoverCmd(o *globalOptions) *cobra.Command {
	do := &discoverOptions{}
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find pairing hosts the way the mobile app does",
		Long: `Send a discovery probe and print every descriptor that answers.

The probe goes to 127.0.0.1 on the discovery port unless --target names
another address; a broadcast address such as 255.255.255.255:9877 reaches
every host on the segment. With --mdns the _wagoo._tcp service is browsed
instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.snapshot(cmd)
			if err != nil {
				return err
			}
			target := do.target
			if target == "" {
				target = fmt.Sprintf("127.0.0.1:%d", cfg.DiscoveryPort)
			}
			if do.mdns {
				return runMdnsDiscover(cmd.Context(), cmd.OutOrStdout(), do)
			}
			return runProbe(cmd.Context(), cmd.OutOrStdout(), target, do)
		},
	}

	f := cmd.Flags()
	f.StringVar(&do.target, "target", "", "Probe destination host:port")
	f.DurationVar(&do.timeout, "timeout", 2*time.Second, "How long to wait for replies")
	f.BoolVar(&do.mdns, "mdns", false, "Browse mDNS instead of sending a UDP probe")
	f.BoolVar(&do.asJSON, "json", false, "Print one JSON document per host")
	return cmd
}

func runProbe(ctx context.Context, w io.Writer, target string, do *discoverOptions) error {
	found, err := discovery.Probe(ctx, target, do.timeout)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Fprintf(w, "No hosts answered at %s\n", target)
		return nil
	}
	for _, d := range found {
		if do.asJSON {
			if err := json.NewEncoder(w).Encode(d); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(w, "%s  ws://%s:%d/ws  %s %s (%s)\n", d.Hostname, d.IP, d.WSPort, d.Service, d.Version, d.Platform)
	}
	return nil
}

func runMdnsDiscover(ctx context.Context, w io.Writer, do *discoverOptions) error {
	ctx, cancel := context.WithTimeout(ctx, do.timeout)
	defer cancel()

	hosts, err := mdns.Discover(ctx)
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		fmt.Fprintln(w, "No hosts found via mDNS")
		return nil
	}
	for _, h := range hosts {
		if do.asJSON {
			if err := json.NewEncoder(w).Encode(h); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(w, "%s  ws://%s:%d/ws  %s %s\n", h.Name, h.Host, h.Port, h.Service, h.Version)
	}
	return nil
}
