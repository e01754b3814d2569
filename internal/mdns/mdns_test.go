package mdns

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTXTRecords(t *testing.T) {
	a := NewAdvertiser(Config{Port: 9876, Version: "1.4.0", ServiceName: "wagoo-desktop"}, zerolog.Nop())
	got := a.txtRecords("studio")
	want := []string{"version=1.4.0", "name=studio", "service=wagoo-desktop"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("txtRecords = %v, want %v", got, want)
	}

	a = NewAdvertiser(Config{Version: "1.4.0"}, zerolog.Nop())
	if got := a.txtRecords("studio"); len(got) != 2 {
		t.Fatalf("expected no service record without a service name, got %v", got)
	}
}

func TestInstanceNameDefaultsToHostname(t *testing.T) {
	a := NewAdvertiser(Config{Name: "desk"}, zerolog.Nop())
	if got := a.instanceName(); got != "desk" {
		t.Fatalf("expected configured name, got %q", got)
	}
	if got := NewAdvertiser(Config{}, zerolog.Nop()).instanceName(); got == "" {
		t.Fatal("expected a fallback instance name")
	}
}

func TestApplyTXT(t *testing.T) {
	h := DiscoveredHost{Name: "instance"}
	h.applyTXT([]string{"version=2.0", "name=", "service=wagoo-desktop", "junk"})
	if h.Version != "2.0" || h.Service != "wagoo-desktop" {
		t.Fatalf("unexpected host %+v", h)
	}
	if h.Name != "instance" {
		t.Fatalf("empty name record should not clobber instance name, got %q", h.Name)
	}
	h.applyTXT([]string{"name=Studio Mac"})
	if h.Name != "Studio Mac" {
		t.Fatalf("expected name from TXT, got %q", h.Name)
	}
}

func TestAdvertiserStopBeforeStart(t *testing.T) {
	a := NewAdvertiser(Config{Port: 9876}, zerolog.Nop())
	if a.IsRunning() {
		t.Fatal("advertiser should not be running before Start()")
	}
	a.Stop()
	a.Stop()
	if a.IsRunning() {
		t.Fatal("advertiser should not be running after Stop()")
	}
}

// TestAdvertiserStartStop needs multicast; skipped in short mode.
func TestAdvertiserStartStop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	a := NewAdvertiser(Config{Port: 9876, Version: "test", ServiceName: "wagoo-desktop", Name: "wagoo-mdns-test"}, zerolog.Nop())
	if err := a.Start(); err != nil {
		t.Skipf("mdns unavailable: %v", err)
	}
	if !a.IsRunning() {
		t.Fatal("advertiser should be running after Start()")
	}
	if err := a.Start(); err != nil {
		t.Fatalf("second Start() failed: %v", err)
	}
	a.Stop()
	if a.IsRunning() {
		t.Fatal("advertiser should not be running after Stop()")
	}
}

func TestDiscoverHonoursContext(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := Discover(ctx); err != nil {
		t.Skipf("mdns unavailable: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("Discover did not return after context deadline")
	}
}
