package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wagoo/bridge/internal/bridge"
	"github.com/wagoo/bridge/internal/config"
	"github.com/wagoo/bridge/internal/deeplink"
	apperrors "github.com/wagoo/bridge/internal/errors"
	"github.com/wagoo/bridge/internal/httpclient"
	"github.com/wagoo/bridge/internal/logging"
	"github.com/wagoo/bridge/internal/notify"
	"github.com/wagoo/bridge/internal/storage"
	"github.com/wagoo/bridge/internal/surface"
)

type startOptions struct {
	noStore bool
}

func newStartCmd(o *globalOptions) *cobra.Command {
	so := &startOptions{}
	cmd := &cobra.Command{
		Use:   "start [wagoo://...]",
		Short: "Run the pairing host until interrupted",
		Long: `Run the pairing host: the WebSocket pairing server, the UDP discovery
responder and, when enabled, the mDNS advertisement.

A deep link given as argument is routed once the surface is ready. If a
host is already running on this machine the link is handed to it instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			link := ""
			if len(args) == 1 {
				link = args[0]
			}
			return runStart(cmd, o, so, link)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&so.noStore, "no-store", false, "Do not record pairing events")
	f.Bool("mdns", false, "Advertise the pairing endpoint over mDNS")
	f.Bool("lan", false, "Accept pairing connections from the local network, not only loopback")
	f.Bool("notifications", true, "Show desktop notifications")
	return cmd
}

func runStart(cmd *cobra.Command, o *globalOptions, so *startOptions, link string) error {
	cfg, err := o.snapshot(cmd)
	if err != nil {
		return err
	}
	cfg = applyStartFlags(cmd, cfg)

	log := o.logger(cmd.ErrOrStderr(), cfg.LogLevel)
	out := cmd.OutOrStdout()

	if addr, ok := runningHost(o, cfg, log); ok {
		if link == "" {
			return apperrors.New(apperrors.CodeServerBindFailed, fmt.Sprintf("a host is already running at %s", addr))
		}
		return handOff(cmd, o, link)
	}

	var store *storage.SQLiteStore
	if !so.noStore && cfg.EventStore != "" {
		store, err = storage.NewSQLiteStore(cfg.EventStore, logging.Component(log, "storage"))
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.EventStore).Msg("pairing event log disabled")
			store = nil
		} else {
			defer store.Close()
		}
	}

	surf := surface.NewHeadless(
		httpclient.New(logging.Component(log, "http"), httpclient.Options{}),
		logging.Component(log, "surface"))
	notifier := notify.NewDesktop(cfg.Notifications, logging.Component(log, "notify"))

	svc := bridge.New(cfg, bridge.Deps{Surface: surf, Notifier: notifier, Store: store}, log)

	if link != "" {
		res := svc.HandleDeepLink(link)
		if res.Action == deeplink.ActionDropped {
			log.Warn().Str("link", link).Msg("argument is not a deep link, ignoring")
		}
	}

	if err := svc.Start(cmd.Context()); err != nil {
		return err
	}
	defer svc.Stop()

	if surf.CurrentURL() == "" {
		go func() {
			if err := surf.Navigate(cfg.BaseURL); err != nil {
				log.Warn().Err(err).Str("url", cfg.BaseURL).Msg("dashboard unreachable")
			}
		}()
	}

	st := svc.Status()
	if st.Server.Running {
		fmt.Fprintf(out, "Pairing server: ws://%s/ws\n", st.Server.ListeningAddress)
	} else {
		fmt.Fprintln(out, "Pairing server: unavailable")
	}
	if st.Discovery.Running {
		fmt.Fprintf(out, "Discovery:      udp %s\n", st.Discovery.Addr)
	} else {
		fmt.Fprintln(out, "Discovery:      unavailable")
	}
	fmt.Fprintf(out, "Dashboard:      %s (%s)\n", cfg.BaseURL, cfg.Environment)

	<-cmd.Context().Done()
	log.Info().Msg("shutting down")
	return nil
}

// applyStartFlags layers the start-only flags the user set over cfg.
func applyStartFlags(cmd *cobra.Command, cfg config.Snapshot) config.Snapshot {
	f := cmd.Flags()
	if f.Changed("mdns") {
		cfg.MdnsEnabled, _ = f.GetBool("mdns")
	}
	if f.Changed("notifications") {
		cfg.Notifications, _ = f.GetBool("notifications")
	}
	if f.Changed("lan") {
		lan, _ := f.GetBool("lan")
		cfg.LocalhostOnly = !lan
		if lan {
			cfg.PairingHost = "0.0.0.0"
		} else {
			cfg.PairingHost = "127.0.0.1"
		}
	}
	return cfg
}

// runningHost reports whether another host already answers /health on one
// of the candidate addresses.
func runningHost(o *globalOptions, cfg config.Snapshot, log zerolog.Logger) (string, bool) {
	c := &hostClient{
		http: httpclient.New(logging.Component(log, "cli"), httpclient.Options{
			RetryMax: -1,
			Timeout:  time.Second,
		}),
		candidates: hostAddrCandidates(o.addr, cfg.PairingPort),
	}
	if len(c.candidates) == 0 {
		return "", false
	}
	addr, err := c.getJSON("/health", nil)
	if err != nil {
		return "", false
	}
	return addr, true
}

func handOff(cmd *cobra.Command, o *globalOptions, link string) error {
	if !strings.Contains(link, "://") {
		return apperrors.New(apperrors.CodeDeepLinkInvalidScheme, fmt.Sprintf("%q is not a deep link", link))
	}
	return openLink(cmd, o, link)
}
