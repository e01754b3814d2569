package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	apperrors "github.com/wagoo/bridge/internal/errors"
	"github.com/wagoo/bridge/internal/netutil"
)

// Response throttle defaults. A probe over the limit gets no reply.
const (
	DefaultResponseRate  = rate.Limit(20)
	DefaultResponseBurst = 40
)

// maxDatagram bounds inbound reads; valid probes are far smaller.
const maxDatagram = 1024

// Config configures a Responder.
type Config struct {
	// BindAddr is the local address to bind. Empty means all interfaces.
	BindAddr string
	Port     int

	ServiceName string
	Version     string

	// AllowLAN accepts probes from private and link-local senders.
	// Loopback senders are always accepted, public ones never.
	AllowLAN bool

	// WSPort reports the pairing server's current port.
	WSPort func() int

	ResponseRate  rate.Limit
	ResponseBurst int
}

// Responder answers discovery probes on a UDP socket.
type Responder struct {
	cfg     Config
	log     zerolog.Logger
	limiter *rate.Limiter

	// Swappable in tests.
	hostname func() (string, error)
	localIP  func() string
	now      func() time.Time

	mu   sync.Mutex
	conn *net.UDPConn
	done chan struct{}
}

// NewResponder creates a Responder. Call Start to bind the socket.
func NewResponder(cfg Config, log zerolog.Logger) *Responder {
	if cfg.ResponseRate <= 0 {
		cfg.ResponseRate = DefaultResponseRate
	}
	if cfg.ResponseBurst <= 0 {
		cfg.ResponseBurst = DefaultResponseBurst
	}
	if cfg.WSPort == nil {
		cfg.WSPort = func() int { return 0 }
	}
	return &Responder{
		cfg:      cfg,
		log:      log,
		limiter:  rate.NewLimiter(cfg.ResponseRate, cfg.ResponseBurst),
		hostname: os.Hostname,
		localIP:  netutil.LocalIPv4,
		now:      time.Now,
	}
}

// Start binds the socket and answers probes in the background. Calling
// Start on a running responder is a no-op.
func (r *Responder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return nil
	}

	host := r.cfg.BindAddr
	if host == "" {
		host = "0.0.0.0"
	}
	addr := net.JoinHostPort(host, strconv.Itoa(r.cfg.Port))
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDiscoveryBindFailed, fmt.Sprintf("invalid discovery address %s", addr), err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDiscoveryBindFailed, fmt.Sprintf("failed to bind discovery socket %s", addr), err)
	}

	r.conn = conn
	r.done = make(chan struct{})
	go r.serve(conn, r.done)

	r.log.Info().Str("addr", conn.LocalAddr().String()).Bool("allowLAN", r.cfg.AllowLAN).Msg("discovery responder listening")
	return nil
}

// Stop closes the socket and waits for the serve loop to exit. It is safe
// to call when never started, and more than once.
func (r *Responder) Stop() error {
	r.mu.Lock()
	conn, done := r.conn, r.done
	r.conn, r.done = nil, nil
	r.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-done
	r.log.Info().Msg("discovery responder stopped")
	return err
}

// Addr returns the bound address, or nil when not running.
func (r *Responder) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Running reports whether the socket is bound.
func (r *Responder) Running() bool {
	return r.Addr() != nil
}

// Descriptor builds the reply for a probe. It is rebuilt on every call so
// the IP, port and timestamp are current.
func (r *Responder) Descriptor() Descriptor {
	hostname, err := r.hostname()
	if err != nil {
		hostname = "unknown"
	}
	return Descriptor{
		Service:   r.cfg.ServiceName,
		IP:        r.localIP(),
		WSPort:    r.cfg.WSPort(),
		Hostname:  hostname,
		Version:   r.cfg.Version,
		Platform:  Platform(),
		Timestamp: r.now().UnixMilli(),
	}
}

func (r *Responder) serve(conn *net.UDPConn, done chan struct{}) {
	defer close(done)
	buf := make([]byte, maxDatagram)
	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.log.Debug().Err(err).Msg("discovery read error")
			continue
		}
		r.handle(conn, buf[:n], remote)
	}
}

func (r *Responder) handle(conn *net.UDPConn, data []byte, remote *net.UDPAddr) {
	if !r.accepts(remote.IP) {
		r.log.Debug().Str("remote", remote.String()).Msg("ignoring probe from disallowed sender")
		return
	}
	if string(data) != ProbeMessage {
		return
	}
	if !r.limiter.Allow() {
		r.log.Debug().Str("remote", remote.String()).Msg("discovery response throttled")
		return
	}

	reply, err := json.Marshal(r.Descriptor())
	if err != nil {
		r.log.Error().Err(err).Msg("failed to marshal discovery descriptor")
		return
	}
	if _, err := conn.WriteToUDP(reply, remote); err != nil {
		r.log.Warn().Err(err).Str("remote", remote.String()).Msg("discovery reply failed")
		return
	}
	r.log.Debug().Str("remote", remote.String()).Msg("answered discovery probe")
}

// accepts applies the sender policy.
func (r *Responder) accepts(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	return r.cfg.AllowLAN && netutil.IsLocalNetwork(ip)
}
