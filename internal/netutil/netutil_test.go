package netutil

import (
	"errors"
	"net"
	"testing"
)

func withAddrs(t *testing.T, addrs []net.Addr, err error) {
	t.Helper()
	orig := interfaceAddrs
	interfaceAddrs = func() ([]net.Addr, error) { return addrs, err }
	t.Cleanup(func() { interfaceAddrs = orig })
}

func ipNet(s string) *net.IPNet {
	ip, n, _ := net.ParseCIDR(s)
	n.IP = ip
	return n
}

func TestLocalIPv4PicksFirstExternalIPv4(t *testing.T) {
	withAddrs(t, []net.Addr{
		ipNet("fe80::1/64"),
		ipNet("127.0.0.1/8"),
		ipNet("192.168.1.42/24"),
		ipNet("10.0.0.5/8"),
	}, nil)

	if got := LocalIPv4(); got != "192.168.1.42" {
		t.Fatalf("LocalIPv4() = %q, want 192.168.1.42", got)
	}
}

func TestLocalIPv4FallsBackToLoopback(t *testing.T) {
	withAddrs(t, []net.Addr{ipNet("fe80::1/64")}, nil)
	if got := LocalIPv4(); got != LoopbackIPv4 {
		t.Fatalf("LocalIPv4() = %q, want %q", got, LoopbackIPv4)
	}

	withAddrs(t, nil, errors.New("no interfaces"))
	if got := LocalIPv4(); got != LoopbackIPv4 {
		t.Fatalf("LocalIPv4() on error = %q, want %q", got, LoopbackIPv4)
	}
}

func TestIsLoopbackHost(t *testing.T) {
	tests := map[string]bool{
		"localhost":        true,
		"LocalHost":        true,
		"127.0.0.1":        true,
		"127.10.20.30":     true,
		"::1":              true,
		"[::1]":            true,
		"::ffff:127.0.0.1": true,
		"192.168.1.2":      false,
		"evil.example.com": false,
		"localhost.evil":   false,
		"":                 false,
	}
	for host, want := range tests {
		if got := IsLoopbackHost(host); got != want {
			t.Errorf("IsLoopbackHost(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestIsLocalNetwork(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1":   true,
		"192.168.0.9": true,
		"10.1.2.3":    true,
		"172.16.4.4":  true,
		"169.254.1.1": true,
		"fd00::1":     true,
		"8.8.8.8":     false,
		"1.1.1.1":     false,
	}
	for s, want := range tests {
		if got := IsLocalNetwork(net.ParseIP(s)); got != want {
			t.Errorf("IsLocalNetwork(%s) = %v, want %v", s, got, want)
		}
	}
	if IsLocalNetwork(nil) {
		t.Error("nil IP must not be local")
	}
}

func TestRemoteIP(t *testing.T) {
	if ip := RemoteIP("127.0.0.1:5555"); ip == nil || !ip.IsLoopback() {
		t.Fatalf("RemoteIP(127.0.0.1:5555) = %v", ip)
	}
	if ip := RemoteIP("[::1]:80"); ip == nil || !ip.IsLoopback() {
		t.Fatalf("RemoteIP([::1]:80) = %v", ip)
	}
	if ip := RemoteIP("garbage"); ip != nil {
		t.Fatalf("RemoteIP(garbage) = %v, want nil", ip)
	}
}
