package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/wagoo/bridge/internal/bridge"
	"github.com/wagoo/bridge/internal/discovery"
)

func newPairCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pair",
		Short: "Print a QR code the mobile app can scan to pair",
		Long: `Fetch the discovery descriptor from the running host and print it as
a terminal QR code. The payload is the same JSON a UDP discovery probe
returns, so the app can connect to ws://<ip>:<wsPort>/ws directly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.hostClient(cmd)
			if err != nil {
				return err
			}
			var desc discovery.Descriptor
			if _, err := c.getJSON(bridge.PathDiscovery, &desc); err != nil {
				return err
			}
			return displayQRCode(cmd.OutOrStdout(), desc)
		},
	}
}

// displayQRCode prints desc as a QR code followed by a plain-text fallback.
func displayQRCode(w io.Writer, desc discovery.Descriptor) error {
	payload, err := json.Marshal(desc)
	if err != nil {
		return err
	}

	qr, err := qrcode.New(string(payload), qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		fmt.Fprintf(w, "Falling back to text display.\n\n")
		displayDescriptor(w, desc)
		return nil
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "         SCAN TO PAIR")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
	fmt.Fprint(w, qr.ToSmallString(false))
	fmt.Fprintln(w, "-------------------------------------------")
	fmt.Fprintln(w, "  Plain-text fallback:")
	displayDescriptor(w, desc)
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
	return nil
}

func displayDescriptor(w io.Writer, desc discovery.Descriptor) {
	fmt.Fprintf(w, "  Endpoint:    ws://%s:%d/ws\n", desc.IP, desc.WSPort)
	fmt.Fprintf(w, "  Service:     %s\n", desc.Service)
	fmt.Fprintf(w, "  Hostname:    %s\n", desc.Hostname)
	fmt.Fprintf(w, "  Version:     %s\n", desc.Version)
	fmt.Fprintf(w, "  Platform:    %s\n", desc.Platform)
}
