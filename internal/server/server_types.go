package server

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/wagoo/bridge/internal/config"
	"github.com/wagoo/bridge/internal/registry"
)

// sendBufferSize is the per-client outbound queue length. Broadcasts to a
// client whose queue is full are dropped for that client only.
const sendBufferSize = 64

// maxFrameSize bounds inbound frames; larger frames close the connection.
const maxFrameSize = 64 * 1024

// Close codes used by the server.
const (
	CloseServerShutdown  = websocket.CloseGoingAway      // 1001
	ClosePolicyViolation = websocket.ClosePolicyViolation // 1008
)

// Emitter delivers events to the navigable surface.
type Emitter interface {
	Emit(channel string, payload interface{})
}

// Notifier shows a local desktop notification.
type Notifier interface {
	Notify(title, body string) error
}

// DeepLinkHandler receives scanned payloads that use the application scheme.
type DeepLinkHandler func(raw string)

// EventKind classifies a ConnectionEvent.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventRejected     EventKind = "rejected"
	EventRateLimited  EventKind = "rate_limited"
)

// ConnectionEvent is reported to the EventRecorder for the pairing log.
type ConnectionEvent struct {
	ConnectionID string
	RemoteIP     string
	Kind         EventKind
	Reason       string
	At           time.Time
}

// EventRecorder persists connection events. It is called synchronously from
// connection goroutines and must not block for long.
type EventRecorder func(ev ConnectionEvent)

// Options configures a Server.
type Options struct {
	Host              string
	Port              int
	Version           string
	Scheme            string
	MaxConnections    int
	RateLimitWindow   time.Duration
	RateLimitMax      int
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	LocalhostOnly     bool
}

// OptionsFromSnapshot maps the resolved configuration onto server options.
func OptionsFromSnapshot(s config.Snapshot) Options {
	return Options{
		Host:              s.PairingHost,
		Port:              s.PairingPort,
		Version:           s.Version,
		Scheme:            s.Scheme,
		MaxConnections:    s.MaxConnections,
		RateLimitWindow:   s.RateLimitWindow,
		RateLimitMax:      s.RateLimitMax,
		HeartbeatInterval: s.HeartbeatInterval,
		ConnectionTimeout: s.ConnectionTimeout,
		LocalhostOnly:     s.LocalhostOnly,
	}
}

// Server accepts pairing connections and dispatches their messages.
type Server struct {
	opts     Options
	log      zerolog.Logger
	registry *registry.Registry

	// upgrader accepts any Origin: mobile clients send none, and access
	// is gated on the remote address instead.
	upgrader websocket.Upgrader

	// now is the clock used for rate limiting and timestamps.
	now func() time.Time

	// mu protects clients, routes, hooks and stopped.
	mu       sync.RWMutex
	clients  map[string]*Client
	routes   map[string]http.Handler
	stopped  bool
	emitter  Emitter
	notifier Notifier
	onLink   DeepLinkHandler
	recorder EventRecorder

	// wg tracks connection run loops so Stop can wait for them.
	wg sync.WaitGroup

	httpServer *http.Server
	listener   net.Listener
	port       atomic.Int32
}

// ConnState is the liveness state of a Client.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client is one pairing connection. All of its mutable state is owned by
// its run loop goroutine; other goroutines only enqueue on send or signal
// quit.
type Client struct {
	id          string
	ip          string
	connectedAt time.Time
	conn        *websocket.Conn
	server      *Server

	// send carries pre-serialized outbound frames.
	send chan []byte

	// inbound carries frames and the terminal read error from readPump.
	inbound chan connEvent

	// quit is closed to ask the run loop to close with quitCode/quitReason.
	quit       chan struct{}
	quitOnce   sync.Once
	quitCode   int
	quitReason string

	// exited is closed when the run loop has returned.
	exited chan struct{}

	state   atomic.Int32
	counter windowCounter
}

// NewServer creates a Server. reg may be nil, in which case a private
// registry is used. Call Start to begin accepting connections.
func NewServer(opts Options, reg *registry.Registry, log zerolog.Logger) *Server {
	if reg == nil {
		reg = registry.New(nil)
	}
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = config.DefaultMaxConnections
	}
	if opts.RateLimitMax <= 0 {
		opts.RateLimitMax = config.DefaultRateLimitMax
	}
	if opts.RateLimitWindow <= 0 {
		opts.RateLimitWindow = config.DefaultRateLimitWindow
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = config.DefaultHeartbeatInterval
	}
	if opts.ConnectionTimeout <= 0 {
		opts.ConnectionTimeout = config.DefaultConnectionTimeout
	}
	if opts.Scheme == "" {
		opts.Scheme = config.DefaultScheme
	}

	s := &Server{
		opts:     opts,
		log:      log,
		registry: reg,
		now:      time.Now,
		clients:  make(map[string]*Client),
		routes:   make(map[string]http.Handler),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.port.Store(int32(opts.Port))
	return s
}

// ID returns the connection identifier.
func (c *Client) ID() string { return c.id }

// State returns the current liveness state.
func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

func (c *Client) setState(st ConnState) { c.state.Store(int32(st)) }

// Registry returns the registry the server reports to.
func (s *Server) Registry() *registry.Registry { return s.registry }

// ClientCount returns the number of open pairing connections.
func (s *Server) ClientCount() int { return s.registry.Len() }

// Port returns the bound port once started, or the configured port before.
func (s *Server) Port() int { return int(s.port.Load()) }

// Options returns the options the server was created with.
func (s *Server) Options() Options { return s.opts }
