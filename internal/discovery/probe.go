package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	apperrors "github.com/wagoo/bridge/internal/errors"
)

// Probe sends ProbeMessage to target (host:port, a broadcast address works)
// and collects descriptors until timeout or ctx ends. Running out of time
// is the normal end; only cancellation is reported as an error. Replies
// that are not descriptors are ignored, and repeat replies from one sender
// are collapsed.
func Probe(ctx context.Context, target string, timeout time.Duration) ([]Descriptor, error) {
	raddr, err := net.ResolveUDPAddr("udp4", target)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDiscoverySendFailed, "invalid probe target", err)
	}
	lc := probeListenConfig()
	conn, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDiscoveryBindFailed, "failed to open probe socket", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	if _, err := conn.WriteTo([]byte(ProbeMessage), raddr); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDiscoverySendFailed, "failed to send probe", err)
	}

	seen := map[string]bool{}
	var found []Descriptor
	buf := make([]byte, 2048)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				break
			}
			return found, apperrors.Wrap(apperrors.CodeDiscoverySendFailed, "probe read failed", err)
		}
		var d Descriptor
		if json.Unmarshal(buf[:n], &d) != nil || d.Service == "" {
			continue
		}
		if seen[addr.String()] {
			continue
		}
		seen[addr.String()] = true
		found = append(found, d)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return found, ctx.Err()
	}
	return found, nil
}
