// Package config resolves the bridge's process-wide configuration.
//
// Values are layered: an optional TOML file (~/.wagoo/bridge.toml by default),
// then WAGOO_* environment variables, then CLI flags. Resolve merges the
// layers once at startup into an immutable Snapshot that every component
// reads from.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	apperrors "github.com/wagoo/bridge/internal/errors"
)

// Config is one configuration layer. Zero values (and nil pointers) mean
// "not set in this layer", so a later layer only overrides what it sets.
// Pointers are used where zero is a meaningful value (port 0, false).
type Config struct {
	// Environment selects the base URL: "development" (default) or "production".
	Environment string `toml:"environment"`

	// DevURL and ProdURL are the dashboard URLs for each environment.
	DevURL  string `toml:"dev_url"`
	ProdURL string `toml:"prod_url"`

	// BaseURL, when set, wins over the environment selection.
	BaseURL string `toml:"base_url"`

	// Scheme is the custom URI scheme for deep links (without "://").
	Scheme string `toml:"scheme"`

	// ServiceName is reported in discovery responses and mDNS TXT records.
	ServiceName string `toml:"service_name"`

	// PairingPort is the WebSocket port. Default: 9876
	PairingPort *int `toml:"pairing_port"`

	// DiscoveryPort is the UDP discovery port. Default: 9877
	DiscoveryPort *int `toml:"discovery_port"`

	MaxConnections      int `toml:"max_connections"`
	RateLimitWindowMs   int `toml:"rate_limit_window_ms"`
	RateLimitMax        int `toml:"rate_limit_max"`
	HeartbeatIntervalMs int `toml:"heartbeat_interval_ms"`
	ConnectionTimeoutMs int `toml:"connection_timeout_ms"`

	// LocalhostOnly binds the pairing server to loopback and rejects
	// non-loopback WebSocket clients. Default: true
	LocalhostOnly *bool `toml:"localhost_only"`

	// DiscoveryAllowLAN lets private/link-local senders use UDP discovery.
	// Loopback senders are always answered. Default: true
	DiscoveryAllowLAN *bool `toml:"discovery_allow_lan"`

	// MdnsEnabled additionally advertises the pairing endpoint over mDNS.
	// Default: false
	MdnsEnabled *bool `toml:"mdns_enabled"`

	// Notifications enables desktop notifications. Default: true
	Notifications *bool `toml:"notifications"`

	// EventStore is the SQLite path for the pairing event log.
	// Default: ~/.wagoo/bridge.db
	EventStore string `toml:"event_store"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	LogLevel string `toml:"log_level"`
}

// Snapshot is the resolved, validated configuration. It is passed by value
// and never mutated after Resolve returns.
type Snapshot struct {
	Environment       string
	BaseURL           string
	Scheme            string
	ServiceName       string
	Version           string
	PairingHost       string
	PairingPort       int
	DiscoveryPort     int
	MaxConnections    int
	RateLimitWindow   time.Duration
	RateLimitMax      int
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	LocalhostOnly     bool
	DiscoveryAllowLAN bool
	MdnsEnabled       bool
	Notifications     bool
	EventStore        string
	LogLevel          string
}

// DefaultDir returns ~/.wagoo, the directory holding the config file and
// the event store.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".wagoo"), nil
}

// DefaultConfigPath returns the default config file location: ~/.wagoo/bridge.toml.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "bridge.toml"), nil
}

// Load reads a TOML config file from the given path.
//
// Behavior:
//   - If path is empty, attempts the default location. A missing default
//     file yields an empty Config without error.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// FromEnv builds a layer from WAGOO_* environment variables.
// getenv is usually os.Getenv; tests pass a map lookup.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Environment: getenv("WAGOO_ENV"),
		DevURL:      getenv("WAGOO_DEV_URL"),
		ProdURL:     getenv("WAGOO_PROD_URL"),
		BaseURL:     getenv("WAGOO_BASE_URL"),
		Scheme:      getenv("WAGOO_SCHEME"),
		ServiceName: getenv("WAGOO_SERVICE_NAME"),
		EventStore:  getenv("WAGOO_EVENT_STORE"),
		LogLevel:    getenv("WAGOO_LOG_LEVEL"),
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"WAGOO_MAX_CONNECTIONS", &cfg.MaxConnections},
		{"WAGOO_RATE_LIMIT_WINDOW_MS", &cfg.RateLimitWindowMs},
		{"WAGOO_RATE_LIMIT_MAX", &cfg.RateLimitMax},
		{"WAGOO_HEARTBEAT_INTERVAL_MS", &cfg.HeartbeatIntervalMs},
		{"WAGOO_CONNECTION_TIMEOUT_MS", &cfg.ConnectionTimeoutMs},
	}
	for _, v := range ints {
		n, ok, err := envInt(getenv, v.name)
		if err != nil {
			return nil, err
		}
		if ok {
			*v.dst = n
		}
	}

	ports := []struct {
		name string
		dst  **int
	}{
		{"WAGOO_WS_PORT", &cfg.PairingPort},
		{"WAGOO_DISCOVERY_PORT", &cfg.DiscoveryPort},
	}
	for _, v := range ports {
		n, ok, err := envInt(getenv, v.name)
		if err != nil {
			return nil, err
		}
		if ok {
			*v.dst = &n
		}
	}

	bools := []struct {
		name string
		dst  **bool
	}{
		{"WAGOO_LOCALHOST_ONLY", &cfg.LocalhostOnly},
		{"WAGOO_DISCOVERY_ALLOW_LAN", &cfg.DiscoveryAllowLAN},
		{"WAGOO_MDNS", &cfg.MdnsEnabled},
		{"WAGOO_NOTIFICATIONS", &cfg.Notifications},
	}
	for _, v := range bools {
		raw := strings.TrimSpace(getenv(v.name))
		if raw == "" {
			continue
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, apperrors.InvalidConfig(v.name, fmt.Sprintf("not a boolean: %q", raw))
		}
		*v.dst = &b
	}

	return cfg, nil
}

func envInt(getenv func(string) string, name string) (int, bool, error) {
	raw := strings.TrimSpace(getenv(name))
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, apperrors.InvalidConfig(name, fmt.Sprintf("not an integer: %q", raw))
	}
	return n, true, nil
}

// merge copies every field set in src over dst.
func merge(dst, src *Config) {
	if src == nil {
		return
	}
	setString := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	setInt := func(d *int, s int) {
		if s != 0 {
			*d = s
		}
	}
	setString(&dst.Environment, src.Environment)
	setString(&dst.DevURL, src.DevURL)
	setString(&dst.ProdURL, src.ProdURL)
	setString(&dst.BaseURL, src.BaseURL)
	setString(&dst.Scheme, src.Scheme)
	setString(&dst.ServiceName, src.ServiceName)
	setString(&dst.EventStore, src.EventStore)
	setString(&dst.LogLevel, src.LogLevel)
	setInt(&dst.MaxConnections, src.MaxConnections)
	setInt(&dst.RateLimitWindowMs, src.RateLimitWindowMs)
	setInt(&dst.RateLimitMax, src.RateLimitMax)
	setInt(&dst.HeartbeatIntervalMs, src.HeartbeatIntervalMs)
	setInt(&dst.ConnectionTimeoutMs, src.ConnectionTimeoutMs)
	if src.PairingPort != nil {
		dst.PairingPort = src.PairingPort
	}
	if src.DiscoveryPort != nil {
		dst.DiscoveryPort = src.DiscoveryPort
	}
	if src.LocalhostOnly != nil {
		dst.LocalhostOnly = src.LocalhostOnly
	}
	if src.DiscoveryAllowLAN != nil {
		dst.DiscoveryAllowLAN = src.DiscoveryAllowLAN
	}
	if src.MdnsEnabled != nil {
		dst.MdnsEnabled = src.MdnsEnabled
	}
	if src.Notifications != nil {
		dst.Notifications = src.Notifications
	}
}

// Resolve merges the layers in order (later wins), fills defaults and
// validates the result. Nil layers are skipped.
func Resolve(version string, layers ...*Config) (Snapshot, error) {
	merged := &Config{}
	for _, layer := range layers {
		merge(merged, layer)
	}

	snap := Snapshot{
		Environment:       strings.ToLower(orString(merged.Environment, EnvDevelopment)),
		Scheme:            strings.ToLower(strings.TrimSuffix(orString(merged.Scheme, DefaultScheme), "://")),
		ServiceName:       orString(merged.ServiceName, DefaultServiceName),
		Version:           orString(version, "dev"),
		PairingPort:       orIntPtr(merged.PairingPort, DefaultPairingPort),
		DiscoveryPort:     orIntPtr(merged.DiscoveryPort, DefaultDiscoveryPort),
		MaxConnections:    orInt(merged.MaxConnections, DefaultMaxConnections),
		RateLimitWindow:   orMillis(merged.RateLimitWindowMs, DefaultRateLimitWindow),
		RateLimitMax:      orInt(merged.RateLimitMax, DefaultRateLimitMax),
		HeartbeatInterval: orMillis(merged.HeartbeatIntervalMs, DefaultHeartbeatInterval),
		ConnectionTimeout: orMillis(merged.ConnectionTimeoutMs, DefaultConnectionTimeout),
		LocalhostOnly:     orBoolPtr(merged.LocalhostOnly, true),
		DiscoveryAllowLAN: orBoolPtr(merged.DiscoveryAllowLAN, true),
		MdnsEnabled:       orBoolPtr(merged.MdnsEnabled, false),
		Notifications:     orBoolPtr(merged.Notifications, true),
		EventStore:        merged.EventStore,
		LogLevel:          orString(merged.LogLevel, DefaultLogLevel),
	}

	switch snap.Environment {
	case EnvDevelopment, "dev":
		snap.Environment = EnvDevelopment
		snap.BaseURL = orString(merged.DevURL, DefaultDevURL)
	case EnvProduction, "prod":
		snap.Environment = EnvProduction
		snap.BaseURL = orString(merged.ProdURL, DefaultProdURL)
	default:
		return Snapshot{}, apperrors.InvalidConfig("environment", fmt.Sprintf("unknown environment %q", merged.Environment))
	}
	if merged.BaseURL != "" {
		snap.BaseURL = merged.BaseURL
	}
	snap.BaseURL = strings.TrimRight(snap.BaseURL, "/")

	if snap.LocalhostOnly {
		snap.PairingHost = "127.0.0.1"
	} else {
		snap.PairingHost = "0.0.0.0"
	}

	if snap.EventStore == "" {
		if dir, err := DefaultDir(); err == nil {
			snap.EventStore = filepath.Join(dir, "bridge.db")
		}
	}

	if err := snap.validate(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (s Snapshot) validate() error {
	if s.PairingPort < 0 || s.PairingPort > 65535 {
		return apperrors.InvalidConfig("pairing_port", "must be between 0 and 65535")
	}
	if s.DiscoveryPort < 0 || s.DiscoveryPort > 65535 {
		return apperrors.InvalidConfig("discovery_port", "must be between 0 and 65535")
	}
	if s.MaxConnections < 1 {
		return apperrors.InvalidConfig("max_connections", "must be at least 1")
	}
	if s.RateLimitMax < 1 {
		return apperrors.InvalidConfig("rate_limit_max", "must be at least 1")
	}
	if s.RateLimitWindow <= 0 {
		return apperrors.InvalidConfig("rate_limit_window_ms", "must be positive")
	}
	if s.HeartbeatInterval <= 0 {
		return apperrors.InvalidConfig("heartbeat_interval_ms", "must be positive")
	}
	if s.ConnectionTimeout <= 0 {
		return apperrors.InvalidConfig("connection_timeout_ms", "must be positive")
	}
	if s.Scheme == "" || strings.ContainsAny(s.Scheme, ":/ ") {
		return apperrors.InvalidConfig("scheme", fmt.Sprintf("invalid scheme %q", s.Scheme))
	}
	if !strings.HasPrefix(s.BaseURL, "http://") && !strings.HasPrefix(s.BaseURL, "https://") {
		return apperrors.InvalidConfig("base_url", fmt.Sprintf("must be an http(s) URL, got %q", s.BaseURL))
	}
	return nil
}

// PairingAddr is the host:port the pairing server binds.
func (s Snapshot) PairingAddr() string {
	return fmt.Sprintf("%s:%d", s.PairingHost, s.PairingPort)
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orIntPtr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func orBoolPtr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func orMillis(ms int, def time.Duration) time.Duration {
	if ms == 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
