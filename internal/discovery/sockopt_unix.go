//go:build unix

package discovery

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// probeListenConfig enables SO_BROADCAST so a probe can target
// 255.255.255.255 or a subnet broadcast address.
func probeListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}
