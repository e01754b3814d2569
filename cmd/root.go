package main

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wagoo/bridge/internal/config"
	"github.com/wagoo/bridge/internal/logging"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath    string
	logLevel      string
	jsonLogs      bool
	env           string
	baseURL       string
	scheme        string
	port          int
	discoveryPort int
	eventStore    string
	addr          string

	getenv func(string) string
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	opts := &globalOptions{getenv: getenv}

	root := &cobra.Command{
		Use:   "wagoo-bridge",
		Short: "Wagoo desktop pairing host",
		Long: `wagoo-bridge ` + Version + `

Runs the desktop side of Wagoo mobile pairing: a loopback WebSocket
server for the companion app, a UDP discovery responder, and the
wagoo:// deep-link router.

Configuration is read from ~/.wagoo/bridge.toml, then WAGOO_* environment
variables, then flags.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Configuration file path (default ~/.wagoo/bridge.toml)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&opts.jsonLogs, "json-logs", false, "Write logs as JSON instead of console text")
	pf.StringVar(&opts.env, "env", "", "Environment: development or production")
	pf.StringVar(&opts.baseURL, "base-url", "", "Dashboard base URL (overrides --env)")
	pf.StringVar(&opts.scheme, "scheme", "", "Deep-link URI scheme")
	pf.IntVar(&opts.port, "port", 0, "Pairing WebSocket port")
	pf.IntVar(&opts.discoveryPort, "discovery-port", 0, "UDP discovery port")
	pf.StringVar(&opts.eventStore, "event-store", "", "SQLite path for the pairing event log")
	pf.StringVar(&opts.addr, "addr", "", "Address of a running host (host:port), skips candidate probing")

	root.AddCommand(
		newStartCmd(opts),
		newStatusCmd(opts),
		newPairCmd(opts),
		newDiscoverCmd(opts),
		newOpenCmd(opts),
		newHistoryCmd(opts),
		newVersionCmd(),
	)
	return root
}

// snapshot resolves the configuration layers for cmd: file, then
// environment, then the flags the user actually set.
func (o *globalOptions) snapshot(cmd *cobra.Command) (config.Snapshot, error) {
	file, err := config.Load(o.configPath)
	if err != nil {
		return config.Snapshot{}, err
	}
	env, err := config.FromEnv(o.getenv)
	if err != nil {
		return config.Snapshot{}, err
	}
	return config.Resolve(Version, file, env, o.flagLayer(cmd))
}

func (o *globalOptions) flagLayer(cmd *cobra.Command) *config.Config {
	flags := cmd.Flags()
	layer := &config.Config{
		Environment: o.env,
		BaseURL:     o.baseURL,
		Scheme:      o.scheme,
		EventStore:  o.eventStore,
		LogLevel:    o.logLevel,
	}
	if flags.Changed("port") {
		port := o.port
		layer.PairingPort = &port
	}
	if flags.Changed("discovery-port") {
		port := o.discoveryPort
		layer.DiscoveryPort = &port
	}
	return layer
}

func (o *globalOptions) logger(w io.Writer, level string) zerolog.Logger {
	if o.jsonLogs {
		return logging.NewJSON(w, level)
	}
	return logging.New(w, level)
}
