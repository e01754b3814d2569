// Package bridge owns the pairing layer: the connection registry, the
// pairing server, the discovery responder, the optional mDNS advertiser
// and the deep-link router, wired to a navigable surface.
package bridge

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wagoo/bridge/internal/config"
	"github.com/wagoo/bridge/internal/deeplink"
	"github.com/wagoo/bridge/internal/discovery"
	"github.com/wagoo/bridge/internal/logging"
	"github.com/wagoo/bridge/internal/mdns"
	"github.com/wagoo/bridge/internal/registry"
	"github.com/wagoo/bridge/internal/server"
	"github.com/wagoo/bridge/internal/storage"
)

// Surface is the navigable surface: it loads targets and receives events.
type Surface interface {
	deeplink.Navigator
	server.Emitter
}

// Deps are the collaborators a Service drives. Surface is required.
// Notifier and Store are optional.
type Deps struct {
	Surface  Surface
	Notifier server.Notifier
	Store    *storage.SQLiteStore
}

// ConnectionStatus is emitted on server.ChannelConnectionStatus whenever
// the set of paired clients changes.
type ConnectionStatus struct {
	Connected bool             `json:"connected"`
	Count     int              `json:"count"`
	Clients   []registry.Entry `json:"clients"`
}

// Service is the single owner of the pairing layer's state.
type Service struct {
	cfg  config.Snapshot
	deps Deps
	log  zerolog.Logger
	base zerolog.Logger

	registry  *registry.Registry
	server    *server.Server
	responder *discovery.Responder
	router    *deeplink.Router

	startedAt time.Time

	mu         sync.Mutex
	started    bool
	stopped    bool
	advertiser *mdns.Advertiser
}

// New wires a Service from the resolved configuration. Nothing listens
// until Start.
func New(cfg config.Snapshot, deps Deps, log zerolog.Logger) *Service {
	s := &Service{cfg: cfg, deps: deps, log: logging.Component(log, "bridge"), base: log}

	s.registry = registry.New(func(entries []registry.Entry) {
		s.deps.Surface.Emit(server.ChannelConnectionStatus, ConnectionStatus{
			Connected: len(entries) > 0,
			Count:     len(entries),
			Clients:   entries,
		})
	})

	var allowed []string
	if u, err := url.Parse(cfg.BaseURL); err == nil && u.Hostname() != "" {
		allowed = append(allowed, u.Hostname())
	}
	s.router = deeplink.NewRouter(cfg.Scheme,
		deeplink.NewTranslator(cfg.BaseURL),
		deeplink.NewSanitizer(cfg.Scheme, allowed...),
		logging.Component(log, "deeplink"))

	s.server = server.NewServer(server.OptionsFromSnapshot(cfg), s.registry, logging.Component(log, "server"))
	s.server.SetEmitter(deps.Surface)
	if deps.Notifier != nil {
		s.server.SetNotifier(deps.Notifier)
	}
	s.server.SetDeepLinkHandler(func(raw string) { s.HandleDeepLink(raw) })
	if deps.Store != nil {
		s.server.SetEventRecorder(newEventRecorder(deps.Store, logging.Component(log, "storage")))
	}

	s.responder = discovery.NewResponder(discovery.Config{
		Port:        cfg.DiscoveryPort,
		ServiceName: cfg.ServiceName,
		Version:     cfg.Version,
		AllowLAN:    cfg.DiscoveryAllowLAN,
		WSPort:      s.server.Port,
	}, logging.Component(log, "discovery"))

	s.registerControlRoutes()
	return s
}

// Start brings the subsystems up. A subsystem that fails to start is
// logged and left down; the others keep running. The pending deep link,
// if any, is consumed once the surface is attached.
func (s *Service) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	if err := s.server.Start(); err != nil {
		s.log.Error().Err(err).Msg("pairing server unavailable")
	}
	if err := s.responder.Start(); err != nil {
		s.log.Error().Err(err).Msg("discovery responder unavailable")
	}
	if s.cfg.MdnsEnabled && s.server.Running() {
		adv := mdns.NewAdvertiser(mdns.Config{
			Port:        s.server.Port(),
			Version:     s.cfg.Version,
			ServiceName: s.cfg.ServiceName,
		}, logging.Component(s.base, "mdns"))
		if err := adv.Start(); err != nil {
			s.log.Warn().Err(err).Msg("mdns advertisement unavailable")
		} else {
			s.mu.Lock()
			s.advertiser = adv
			s.mu.Unlock()
		}
	}

	res := s.router.SurfaceReady(s.deps.Surface)
	if res.Action != deeplink.ActionNone {
		s.log.Info().Str("action", string(res.Action)).Str("target", res.Target).Msg("pending deep link consumed")
	}
	return nil
}

// Stop tears the subsystems down in reverse order. It is idempotent.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	adv := s.advertiser
	s.advertiser = nil
	s.mu.Unlock()

	s.router.SurfaceGone()
	if adv != nil {
		adv.Stop()
	}
	if err := s.responder.Stop(); err != nil {
		s.log.Debug().Err(err).Msg("discovery stop")
	}
	if err := s.server.Stop(); err != nil {
		s.log.Debug().Err(err).Msg("server stop")
	}
}

// HandleDeepLink routes a raw link from any origin.
func (s *Service) HandleDeepLink(raw string) deeplink.Result {
	return s.router.Handle(raw)
}

// Descriptor is the current discovery descriptor.
func (s *Service) Descriptor() discovery.Descriptor {
	return s.responder.Descriptor()
}

// Server exposes the pairing server, mainly for Broadcast.
func (s *Service) Server() *server.Server { return s.server }

// Registry exposes the connection registry.
func (s *Service) Registry() *registry.Registry { return s.registry }

// DiscoveryStatus describes the responder.
type DiscoveryStatus struct {
	Running bool   `json:"running"`
	Addr    string `json:"addr,omitempty"`
	Port    int    `json:"port"`
}

// Status is the full host status served on /status.
type Status struct {
	Server          server.StatusResponse `json:"server"`
	Discovery       DiscoveryStatus       `json:"discovery"`
	Mdns            bool                  `json:"mdns"`
	PendingDeepLink string                `json:"pendingDeepLink,omitempty"`
	Environment     string                `json:"environment"`
	BaseURL         string                `json:"baseUrl"`
	UptimeSeconds   int64                 `json:"uptimeSeconds"`
}

// Status returns a snapshot of the service state.
func (s *Service) Status() Status {
	st := Status{
		Server:      s.server.Status(),
		Environment: s.cfg.Environment,
		BaseURL:     s.cfg.BaseURL,
	}
	if addr := s.responder.Addr(); addr != nil {
		st.Discovery = DiscoveryStatus{Running: true, Addr: addr.String()}
		if udp, ok := addr.(*net.UDPAddr); ok {
			st.Discovery.Port = udp.Port
		}
	}
	if pending, ok := s.router.Pending(); ok {
		st.PendingDeepLink = pending
	}

	s.mu.Lock()
	st.Mdns = s.advertiser != nil && s.advertiser.IsRunning()
	if !s.startedAt.IsZero() {
		st.UptimeSeconds = int64(time.Since(s.startedAt).Seconds())
	}
	s.mu.Unlock()
	return st
}
