// Package mdns advertises the pairing endpoint over DNS-SD so clients
// that cannot send UDP broadcast probes can still find the desktop.
//
// Advertisement is opt-in. It reveals only that a desktop is present and
// which port it pairs on.
package mdns

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
)

// ServiceType is the DNS-SD service type for Wagoo desktops.
const ServiceType = "_wagoo._tcp"

// Domain is the mDNS browsing domain.
const Domain = "local."

// Config holds the advertised metadata.
type Config struct {
	// Port is the pairing server port. Pass the bound port, which may
	// differ from the configured one after a bind fallback.
	Port int

	// Version is the desktop version string.
	Version string

	// ServiceName identifies the product, e.g. "wagoo-desktop".
	ServiceName string

	// Name is the instance name. Defaults to the hostname.
	Name string
}

// Advertiser manages the DNS-SD registration.
type Advertiser struct {
	config Config
	log    zerolog.Logger
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates an advertiser. Nothing is sent until Start.
func NewAdvertiser(cfg Config, log zerolog.Logger) *Advertiser {
	return &Advertiser{config: cfg, log: log}
}

func (a *Advertiser) instanceName() string {
	if a.config.Name != "" {
		return a.config.Name
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "wagoo"
	}
	return hostname
}

// txtRecords builds the TXT strings. Each must stay under 255 bytes.
func (a *Advertiser) txtRecords(name string) []string {
	txt := []string{
		"version=" + a.config.Version,
		"name=" + name,
	}
	if a.config.ServiceName != "" {
		txt = append(txt, "service="+a.config.ServiceName)
	}
	return txt
}

// Start registers the service. Calling it while running is a no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	name := a.instanceName()
	server, err := zeroconf.Register(name, ServiceType, Domain, a.config.Port, a.txtRecords(name), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.server = server
	a.log.Info().Str("instance", name).Int("port", a.config.Port).Msg("mdns advertisement started")
	return nil
}

// Stop unregisters the service. Safe to call more than once or before Start.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		a.log.Info().Msg("mdns advertisement stopped")
	}
}

// IsRunning reports whether the service is registered.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// DiscoveredHost is a desktop found by Discover.
type DiscoveredHost struct {
	Name    string `json:"name"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Version string `json:"version"`
	Service string `json:"service"`
}

// applyTXT fills host fields from "key=value" TXT strings.
func (h *DiscoveredHost) applyTXT(records []string) {
	for _, txt := range records {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "version":
			h.Version = value
		case "name":
			if value != "" {
				h.Name = value
			}
		case "service":
			h.Service = value
		}
	}
}

// Discover browses for desktops until ctx is done. IPv4 addresses are
// preferred when an entry has both.
func Discover(ctx context.Context) ([]DiscoveredHost, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		hosts []DiscoveredHost
		wg    sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			host := DiscoveredHost{Name: entry.Instance, Port: entry.Port}
			if len(entry.AddrIPv4) > 0 {
				host.Host = entry.AddrIPv4[0].String()
			} else if len(entry.AddrIPv6) > 0 {
				host.Host = entry.AddrIPv6[0].String()
			}
			host.applyTXT(entry.Text)
			hosts = append(hosts, host)
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	// zeroconf closes entries once ctx is done.
	<-ctx.Done()
	wg.Wait()

	return hosts, nil
}
