package main

import (
	"fmt"
	"net"
	"strings"
)

// hostAddrCandidates returns the addresses a running host may answer on.
// An explicit address wins. Otherwise the configured port is tried first,
// then port+1, matching the server's bind fallback.
func hostAddrCandidates(explicit string, port int) []string {
	if addr := normalizeAddr(explicit); addr != "" {
		return []string{addr}
	}
	if port == 0 {
		return nil
	}
	return []string{
		fmt.Sprintf("127.0.0.1:%d", port),
		fmt.Sprintf("127.0.0.1:%d", port+1),
	}
}

// normalizeAddr strips a scheme and trailing path so both "host:port" and
// "http://host:port/" are accepted.
func normalizeAddr(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	for _, prefix := range []string{"http://", "https://", "ws://"} {
		addr = strings.TrimPrefix(addr, prefix)
	}
	if i := strings.IndexByte(addr, '/'); i >= 0 {
		addr = addr[:i]
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return ""
	}
	return addr
}
