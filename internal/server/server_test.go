package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "github.com/wagoo/bridge/internal/errors"
	"github.com/wagoo/bridge/internal/registry"
)

type emitted struct {
	channel string
	payload interface{}
}

type fakeEmitter struct {
	ch chan emitted
}

func newFakeEmitter() *fakeEmitter { return &fakeEmitter{ch: make(chan emitted, 16)} }

func (f *fakeEmitter) Emit(channel string, payload interface{}) {
	f.ch <- emitted{channel: channel, payload: payload}
}

type fakeNotifier struct {
	ch chan [2]string
}

func (f *fakeNotifier) Notify(title, body string) error {
	f.ch <- [2]string{title, body}
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []ConnectionEvent
}

func (l *eventLog) record(ev ConnectionEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

func testOptions() Options {
	return Options{
		Host:              "127.0.0.1",
		Version:           "1.2.3",
		Scheme:            "wagoo",
		MaxConnections:    10,
		RateLimitWindow:   time.Minute,
		RateLimitMax:      100,
		HeartbeatInterval: 30 * time.Second,
		ConnectionTimeout: 2 * time.Second,
		LocalhostOnly:     true,
	}
}

func newTestServer(opts Options) (*Server, *httptest.Server) {
	s := NewServer(opts, registry.New(nil), zerolog.Nop())
	ts := httptest.NewServer(s.createMux())
	return s, ts
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

// dialOpen dials and consumes the welcome message.
func dialOpen(t *testing.T, ts *httptest.Server) (*websocket.Conn, Message) {
	t.Helper()
	conn := dial(t, ts)
	msg := readMessage(t, conn)
	if msg.Type != MessageTypeConnected {
		t.Fatalf("expected connected, got %s", msg.Type)
	}
	return conn, msg
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return msg
}

func sendJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

// readCloseCode reads until the connection closes and returns the close code.
func readCloseCode(t *testing.T, conn *websocket.Conn) (int, string) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("expected close error, got %v", err)
		}
		return ce.Code, ce.Text
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWelcomeMessage(t *testing.T) {
	s, ts := newTestServer(testOptions())
	defer ts.Close()
	defer s.Stop()

	conn, msg := dialOpen(t, ts)
	defer conn.Close()

	if msg.ClientID == "" {
		t.Fatal("expected clientId in welcome")
	}
	if msg.Version != "1.2.3" {
		t.Fatalf("expected version 1.2.3, got %q", msg.Version)
	}
	if msg.Timestamp == 0 {
		t.Fatal("expected timestamp in welcome")
	}
	if s.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", s.ClientCount())
	}
	snap := s.Registry().Snapshot()
	if len(snap) != 1 || snap[0].ID != msg.ClientID || snap[0].IP != "127.0.0.1" {
		t.Fatalf("unexpected registry snapshot: %+v", snap)
	}
}

func TestPingPong(t *testing.T) {
	s, ts := newTestServer(testOptions())
	defer ts.Close()
	defer s.Stop()

	conn, _ := dialOpen(t, ts)
	defer conn.Close()

	sendJSON(t, conn, map[string]string{"type": "ping"})
	msg := readMessage(t, conn)
	if msg.Type != MessageTypePong {
		t.Fatalf("expected pong, got %s", msg.Type)
	}
	if msg.Timestamp == 0 {
		t.Fatal("expected pong timestamp")
	}
}

func TestQRScannedFlow(t *testing.T) {
	s, ts := newTestServer(testOptions())
	defer ts.Close()
	defer s.Stop()

	em := newFakeEmitter()
	nt := &fakeNotifier{ch: make(chan [2]string, 4)}
	links := make(chan string, 4)
	s.SetEmitter(em)
	s.SetNotifier(nt)
	s.SetDeepLinkHandler(func(raw string) { links <- raw })

	conn, welcome := dialOpen(t, ts)
	defer conn.Close()

	sendJSON(t, conn, map[string]interface{}{
		"type": "qr_scanned",
		"data": map[string]string{"content": "wagoo://invite/abc"},
	})

	reply := readMessage(t, conn)
	if reply.Type != MessageTypeQRReceived || !reply.Success {
		t.Fatalf("expected successful qr_received, got %+v", reply)
	}

	select {
	case ev := <-em.ch:
		if ev.channel != ChannelQRScanned {
			t.Fatalf("expected %s, got %s", ChannelQRScanned, ev.channel)
		}
		payload, ok := ev.payload.(QRScannedEvent)
		if !ok {
			t.Fatalf("unexpected payload type %T", ev.payload)
		}
		if payload.Content != "wagoo://invite/abc" || payload.ClientID != welcome.ClientID {
			t.Fatalf("unexpected payload: %+v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected qr:scanned emit")
	}

	select {
	case <-nt.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("expected notification")
	}

	select {
	case raw := <-links:
		if raw != "wagoo://invite/abc" {
			t.Fatalf("unexpected deep link %q", raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected deep link hand-off")
	}
}

func TestQRScannedNonSchemeContentIsNotRouted(t *testing.T) {
	s, ts := newTestServer(testOptions())
	defer ts.Close()
	defer s.Stop()

	links := make(chan string, 1)
	s.SetDeepLinkHandler(func(raw string) { links <- raw })

	conn, _ := dialOpen(t, ts)
	defer conn.Close()

	sendJSON(t, conn, map[string]interface{}{
		"type": "qr_scanned",
		"data": map[string]string{"content": "https://example.com"},
	})
	if msg := readMessage(t, conn); msg.Type != MessageTypeQRReceived {
		t.Fatalf("expected qr_received, got %s", msg.Type)
	}

	select {
	case raw := <-links:
		t.Fatalf("unexpected deep link %q", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestQRScannedWithoutContentIsDiscarded(t *testing.T) {
	s, ts := newTestServer(testOptions())
	defer ts.Close()
	defer s.Stop()

	conn, _ := dialOpen(t, ts)
	defer conn.Close()

	sendJSON(t, conn, map[string]interface{}{"type": "qr_scanned", "data": map[string]int{"content": 7}})
	sendJSON(t, conn, map[string]string{"type": "ping"})

	if msg := readMessage(t, conn); msg.Type != MessageTypePong {
		t.Fatalf("expected pong after discarded qr_scanned, got %s", msg.Type)
	}
}

func TestNotificationRequiresTitleAndBody(t *testing.T) {
	s, ts := newTestServer(testOptions())
	defer ts.Close()
	defer s.Stop()

	nt := &fakeNotifier{ch: make(chan [2]string, 4)}
	s.SetNotifier(nt)

	conn, _ := dialOpen(t, ts)
	defer conn.Close()

	sendJSON(t, conn, map[string]interface{}{
		"type": "notification",
		"data": map[string]string{"title": "only title"},
	})
	sendJSON(t, conn, map[string]interface{}{
		"type": "notification",
		"data": map[string]string{"title": "Build", "body": "done"},
	})

	select {
	case got := <-nt.ch:
		if got != [2]string{"Build", "done"} {
			t.Fatalf("unexpected notification %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected notification")
	}
	select {
	case got := <-nt.ch:
		t.Fatalf("unexpected extra notification %v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnknownTypeIsPassedThrough(t *testing.T) {
	s, ts := newTestServer(testOptions())
	defer ts.Close()
	defer s.Stop()

	em := newFakeEmitter()
	s.SetEmitter(em)

	conn, _ := dialOpen(t, ts)
	defer conn.Close()

	raw := `{"type":"cursor_move","data":{"x":1}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case ev := <-em.ch:
		if ev.channel != ChannelMessage {
			t.Fatalf("expected %s, got %s", ChannelMessage, ev.channel)
		}
		got, ok := ev.payload.(json.RawMessage)
		if !ok || string(got) != raw {
			t.Fatalf("expected verbatim passthrough, got %#v", ev.payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected passthrough emit")
	}

	// Passthrough has no reply; the next frame read is the pong.
	sendJSON(t, conn, map[string]string{"type": "ping"})
	if msg := readMessage(t, conn); msg.Type != MessageTypePong {
		t.Fatalf("expected pong, got %s", msg.Type)
	}
}

func TestInvalidMessagesAreDiscarded(t *testing.T) {
	s, ts := newTestServer(testOptions())
	defer ts.Close()
	defer s.Stop()

	em := newFakeEmitter()
	s.SetEmitter(em)

	conn, _ := dialOpen(t, ts)
	defer conn.Close()

	frames := []string{
		"not json",
		`{"data":{}}`,
		`{"type":""}`,
		`{"type":"` + strings.Repeat("a", MaxTypeLength+1) + `"}`,
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	sendJSON(t, conn, map[string]string{"type": "ping"})

	if msg := readMessage(t, conn); msg.Type != MessageTypePong {
		t.Fatalf("expected pong, got %s", msg.Type)
	}
	select {
	case ev := <-em.ch:
		t.Fatalf("unexpected emit for invalid frame: %+v", ev)
	default:
	}
}

func TestTypeAtMaxLengthIsAccepted(t *testing.T) {
	s, ts := newTestServer(testOptions())
	defer ts.Close()
	defer s.Stop()

	em := newFakeEmitter()
	s.SetEmitter(em)

	conn, _ := dialOpen(t, ts)
	defer conn.Close()

	// Multi-byte runes: 50 characters, more than 50 bytes.
	sendJSON(t, conn, map[string]string{"type": strings.Repeat("é", MaxTypeLength)})

	select {
	case ev := <-em.ch:
		if ev.channel != ChannelMessage {
			t.Fatalf("expected passthrough, got %s", ev.channel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected passthrough emit")
	}
}

func TestRateLimitClosesWithPolicyViolation(t *testing.T) {
	opts := testOptions()
	opts.RateLimitMax = 3
	s, ts := newTestServer(opts)
	defer ts.Close()
	defer s.Stop()

	events := &eventLog{}
	s.SetEventRecorder(events.record)

	conn, _ := dialOpen(t, ts)
	defer conn.Close()

	for i := 0; i < 4; i++ {
		sendJSON(t, conn, map[string]string{"type": "ping"})
	}
	for i := 0; i < 3; i++ {
		if msg := readMessage(t, conn); msg.Type != MessageTypePong {
			t.Fatalf("expected pong %d, got %s", i, msg.Type)
		}
	}

	code, _ := readCloseCode(t, conn)
	if code != websocket.ClosePolicyViolation {
		t.Fatalf("expected close 1008, got %d", code)
	}
	waitFor(t, "registry removal", func() bool { return s.ClientCount() == 0 })

	kinds := events.kinds()
	found := false
	for _, k := range kinds {
		if k == EventRateLimited {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected rate_limited event, got %v", kinds)
	}
}

func TestAdmissionRejectsBeyondCapacity(t *testing.T) {
	opts := testOptions()
	opts.MaxConnections = 2
	s, ts := newTestServer(opts)
	defer ts.Close()
	defer s.Stop()

	first, _ := dialOpen(t, ts)
	defer first.Close()
	second, _ := dialOpen(t, ts)
	defer second.Close()

	third := dial(t, ts)
	defer third.Close()
	code, reason := readCloseCode(t, third)
	if code != websocket.ClosePolicyViolation || reason != "server full" {
		t.Fatalf("expected 1008 server full, got %d %q", code, reason)
	}

	if n := len(s.Registry().Snapshot()); n != 2 {
		t.Fatalf("expected 2 registered clients, got %d", n)
	}

	// Freeing a slot admits the next client.
	first.Close()
	waitFor(t, "slot release", func() bool { return s.ClientCount() == 1 })
	fourth, _ := dialOpen(t, ts)
	defer fourth.Close()
}

func TestBroadcastReachesOpenClients(t *testing.T) {
	s, ts := newTestServer(testOptions())
	defer ts.Close()
	defer s.Stop()

	var conns []*websocket.Conn
	for i := 0; i < 4; i++ {
		c, _ := dialOpen(t, ts)
		defer c.Close()
		conns = append(conns, c)
	}

	conns[3].Close()
	waitFor(t, "closed client removal", func() bool { return s.ClientCount() == 3 })

	n, err := s.Broadcast(map[string]string{"type": "announce"})
	if err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 recipients, got %d", n)
	}
	for i := 0; i < 3; i++ {
		if msg := readMessage(t, conns[i]); msg.Type != "announce" {
			t.Fatalf("client %d: expected announce, got %s", i, msg.Type)
		}
	}
}

func TestBroadcastRejectsUnserializablePayload(t *testing.T) {
	s := NewServer(testOptions(), nil, zerolog.Nop())
	_, err := s.Broadcast(map[string]interface{}{"bad": make(chan int)})
	if !apperrors.IsCode(err, apperrors.CodeServerInvalidMessage) {
		t.Fatalf("expected invalid message code, got %v", err)
	}
}

func TestStopClosesClientsWithGoingAway(t *testing.T) {
	s, ts := newTestServer(testOptions())
	defer ts.Close()

	conn, _ := dialOpen(t, ts)
	defer conn.Close()

	if err := s.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	code, reason := readCloseCode(t, conn)
	if code != websocket.CloseGoingAway || reason != "server shutdown" {
		t.Fatalf("expected 1001 server shutdown, got %d %q", code, reason)
	}
	if s.ClientCount() != 0 {
		t.Fatalf("expected empty registry after stop, got %d", s.ClientCount())
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
	if n, _ := s.Broadcast(map[string]string{"type": "x"}); n != 0 {
		t.Fatalf("broadcast after stop reached %d clients", n)
	}
}

func TestConnectionEventsRecorded(t *testing.T) {
	s, ts := newTestServer(testOptions())
	defer ts.Close()
	defer s.Stop()

	events := &eventLog{}
	s.SetEventRecorder(events.record)

	conn, _ := dialOpen(t, ts)
	conn.Close()
	waitFor(t, "disconnect event", func() bool { return len(events.kinds()) == 2 })

	kinds := events.kinds()
	if kinds[0] != EventConnected || kinds[1] != EventDisconnected {
		t.Fatalf("unexpected events %v", kinds)
	}
}

func TestNonLoopbackPairingRejected(t *testing.T) {
	s := NewServer(testOptions(), nil, zerolog.Nop())
	events := &eventLog{}
	s.SetEventRecorder(events.record)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "192.168.1.20:50000"
	rec := httptest.NewRecorder()
	s.handleWebSocket(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if kinds := events.kinds(); len(kinds) != 1 || kinds[0] != EventRejected {
		t.Fatalf("expected one rejected event, got %v", kinds)
	}
}

func TestControlRoutesAreLoopbackOnly(t *testing.T) {
	s := NewServer(testOptions(), nil, zerolog.Nop())
	s.Handle("/status", NewStatusHandler(func() interface{} { return s.Status() }))
	mux := s.createMux()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.RemoteAddr = "10.0.0.8:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for remote caller, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for loopback caller, got %d", rec.Code)
	}
	var status StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if status.Version != "1.2.3" || status.Connected {
		t.Fatalf("unexpected status %+v", status)
	}

	req = httptest.NewRequest(http.MethodPost, "/status", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestIsLoopbackRequest(t *testing.T) {
	tests := []struct {
		remote string
		want   bool
	}{
		{"127.0.0.1:5000", true},
		{"127.8.9.1:5000", true},
		{"[::1]:5000", true},
		{"192.168.0.4:5000", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		if got := isLoopbackRequest(req); got != tt.want {
			t.Errorf("isLoopbackRequest(%q) = %v, want %v", tt.remote, got, tt.want)
		}
	}
}

func TestStartFallsBackToNextPort(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer occupied.Close()
	port := occupied.Addr().(*net.TCPAddr).Port

	opts := testOptions()
	opts.Port = port
	s := NewServer(opts, nil, zerolog.Nop())
	if err := s.Start(); err != nil {
		t.Skipf("fallback port %d unavailable: %v", port+1, err)
	}
	defer s.Stop()

	if s.Port() != port+1 {
		t.Fatalf("expected fallback port %d, got %d", port+1, s.Port())
	}
	if !s.Running() {
		t.Fatal("expected server to be running")
	}

	resp, err := http.Get("http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port())) + "/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", resp.StatusCode)
	}
}

func TestStartFailsWhenBothPortsTaken(t *testing.T) {
	first, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer first.Close()
	port := first.Addr().(*net.TCPAddr).Port
	second, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port+1)))
	if err != nil {
		t.Skipf("port %d unavailable: %v", port+1, err)
	}
	defer second.Close()

	opts := testOptions()
	opts.Port = port
	s := NewServer(opts, nil, zerolog.Nop())
	err = s.Start()
	if err == nil {
		s.Stop()
		t.Fatal("expected bind failure")
	}
	if !apperrors.IsCode(err, apperrors.CodeServerBindFailed) {
		t.Fatalf("expected bind_failed code, got %v", err)
	}
}

func TestStopBeforeStart(t *testing.T) {
	s := NewServer(testOptions(), nil, zerolog.Nop())
	if err := s.Stop(); err != nil {
		t.Fatalf("stop before start failed: %v", err)
	}
}

func heartbeatOptions() Options {
	opts := testOptions()
	opts.HeartbeatInterval = 50 * time.Millisecond
	opts.ConnectionTimeout = 50 * time.Millisecond
	return opts
}

func waitForClientCount(t *testing.T, s *Server, want int, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for s.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", want, s.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSilentPeerIsEvicted(t *testing.T) {
	s, ts := newTestServer(heartbeatOptions())
	defer ts.Close()
	defer s.Stop()

	// After the welcome the client stops reading, so pings go unanswered.
	conn, _ := dialOpen(t, ts)
	defer conn.Close()
	waitForClientCount(t, s, 1, time.Second)

	waitForClientCount(t, s, 0, 2*time.Second)
	if n := s.Registry().Len(); n != 0 {
		t.Fatalf("expected registry to be empty, has %d", n)
	}
}

func TestRespondingPeerStaysConnected(t *testing.T) {
	s, ts := newTestServer(heartbeatOptions())
	defer ts.Close()
	defer s.Stop()

	conn, _ := dialOpen(t, ts)
	defer conn.Close()
	conn.SetReadDeadline(time.Time{})
	go func() {
		// Reading lets the default ping handler answer with pongs.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	waitForClientCount(t, s, 1, time.Second)
	time.Sleep(400 * time.Millisecond)
	if n := s.ClientCount(); n != 1 {
		t.Fatalf("expected peer answering pings to stay, have %d clients", n)
	}
}
