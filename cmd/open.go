package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wagoo/bridge/internal/bridge"
	"github.com/wagoo/bridge/internal/deeplink"
	apperrors "github.com/wagoo/bridge/internal/errors"
)

func newOpenCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "open <wagoo://...>",
		Short: "Hand a deep link to the running host",
		Long: `Send a deep link to the running host, which routes it exactly as if
the operating system had delivered it: wagoo://app/<path> opens
<base>/<path>, anything that fails sanitization is dropped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return openLink(cmd, o, args[0])
		},
	}
}

func openLink(cmd *cobra.Command, o *globalOptions, link string) error {
	c, err := o.hostClient(cmd)
	if err != nil {
		return err
	}

	var resp bridge.DeepLinkResponse
	addr, err := c.postJSON(bridge.PathDeepLink, bridge.DeepLinkRequest{URL: link}, &resp)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch deeplink.Action(resp.Action) {
	case deeplink.ActionNavigated:
		fmt.Fprintf(out, "Opened %s (host %s)\n", resp.Target, addr)
	case deeplink.ActionDeferred:
		fmt.Fprintf(out, "Queued until the host surface is ready (host %s)\n", addr)
	default:
		fmt.Fprintf(out, "Link %s: %s\n", resp.Action, link)
	}
	if resp.Error != nil {
		return apperrors.New(resp.Error.Code, resp.Error.Message)
	}
	return nil
}
