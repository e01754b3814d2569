// Package netutil resolves the LAN-facing address of this machine and
// classifies remote addresses for the pairing and discovery policies.
package netutil

import (
	"net"
	"strings"
)

// LoopbackIPv4 is returned by LocalIPv4 when no LAN interface exists.
const LoopbackIPv4 = "127.0.0.1"

// interfaceAddrs is swapped in tests.
var interfaceAddrs = func() ([]net.Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []net.Addr
	for _, iface := range ifaces {
		// Skip loopback and down interfaces
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		out = append(out, addrs...)
	}
	return out, nil
}

// LocalIPv4 returns the first non-internal IPv4 address on an up interface,
// or 127.0.0.1 when there is none. It never fails.
func LocalIPv4() string {
	addrs, err := interfaceAddrs()
	if err != nil {
		return LoopbackIPv4
	}
	return firstIPv4(addrs)
}

func firstIPv4(addrs []net.Addr) string {
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		default:
			continue
		}
		ip4 := ip.To4()
		if ip4 == nil || ip4.IsLoopback() {
			continue
		}
		return ip4.String()
	}
	return LoopbackIPv4
}

// IsLoopbackHost reports whether host names the local machine: "localhost"
// (any case), an address in 127.0.0.0/8, ::1, or an IPv4-mapped 127.x address.
// Brackets around IPv6 literals are accepted.
func IsLoopbackHost(host string) bool {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// IsLocalNetwork reports whether ip is loopback, private (RFC 1918 / RFC 4193)
// or link-local. Public addresses are never local.
func IsLocalNetwork(ip net.IP) bool {
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

// RemoteIP extracts the IP from a "host:port" remote address. It returns nil
// when the address cannot be parsed.
func RemoteIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return net.ParseIP(host)
}
