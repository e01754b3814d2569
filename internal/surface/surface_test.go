package surface

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/wagoo/bridge/internal/errors"
	"github.com/wagoo/bridge/internal/httpclient"
)

func newTestHeadless() *Headless {
	client := httpclient.New(zerolog.Nop(), httpclient.Options{
		RetryMax:     1,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 2 * time.Millisecond,
		Timeout:      time.Second,
	})
	return NewHeadless(client, zerolog.Nop())
}

func TestNavigateReachableTarget(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	h := newTestHeadless()
	target := ts.URL + "/invite/abc?x=1"
	if err := h.Navigate(target); err != nil {
		t.Fatalf("navigate failed: %v", err)
	}
	if h.CurrentURL() != target || h.Offline() {
		t.Fatalf("expected %s online, got %s offline=%v", target, h.CurrentURL(), h.Offline())
	}
}

func TestNavigateUnreachableShowsOffline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	h := newTestHeadless()
	err = h.Navigate(fmt.Sprintf("http://%s/", addr))
	if !apperrors.IsCode(err, apperrors.CodeSurfaceUnreachable) {
		t.Fatalf("expected unreachable code, got %v", err)
	}
	if !h.Offline() || h.CurrentURL() != OfflineScreen {
		t.Fatalf("expected offline screen, got %s offline=%v", h.CurrentURL(), h.Offline())
	}
}

func TestNavigateSkipsCheckForNonHTTP(t *testing.T) {
	h := newTestHeadless()
	if err := h.Navigate("wagoo://dashboard"); err != nil {
		t.Fatalf("navigate failed: %v", err)
	}
	if h.CurrentURL() != "wagoo://dashboard" {
		t.Fatalf("unexpected current %s", h.CurrentURL())
	}

	noCheck := NewHeadless(nil, zerolog.Nop())
	if err := noCheck.Navigate("http://127.0.0.1:1/"); err != nil {
		t.Fatalf("navigate without client failed: %v", err)
	}
}

func TestEmitKeepsRecentEvents(t *testing.T) {
	h := NewHeadless(nil, zerolog.Nop())
	for i := 0; i < maxEvents+5; i++ {
		h.Emit("ws:message", i)
	}
	events := h.Events()
	if len(events) != maxEvents {
		t.Fatalf("expected %d events, got %d", maxEvents, len(events))
	}
	if events[0].Payload != 5 || events[len(events)-1].Payload != maxEvents+4 {
		t.Fatalf("expected payloads 5..%d, got %v..%v", maxEvents+4, events[0].Payload, events[len(events)-1].Payload)
	}
}

func TestFocusCount(t *testing.T) {
	h := NewHeadless(nil, zerolog.Nop())
	h.Focus()
	h.Focus()
	if h.FocusCount() != 2 {
		t.Fatalf("expected 2 focus calls, got %d", h.FocusCount())
	}
}
