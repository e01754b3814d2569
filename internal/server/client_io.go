package server

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/wagoo/bridge/internal/errors"
)

// connEvent is a frame or the terminal read error forwarded by readPump.
type connEvent struct {
	data []byte
	err  error
}

// readDeadline is how long a connection may stay silent. Pings go out
// every heartbeat, so two missed pongs plus the timeout evicts the peer.
func (s *Server) readDeadline() time.Duration {
	return 2*s.opts.HeartbeatInterval + s.opts.ConnectionTimeout
}

// readPump forwards frames to the run loop. It is the only reader of conn.
func (c *Client) readPump() {
	deadline := c.server.readDeadline()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.push(connEvent{err: err})
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		if !c.push(connEvent{data: data}) {
			return
		}
	}
}

func (c *Client) push(ev connEvent) bool {
	select {
	case c.inbound <- ev:
		return true
	case <-c.exited:
		return false
	}
}

// closeWith asks the run loop to close the connection with code and reason.
// Safe to call from any goroutine, any number of times.
func (c *Client) closeWith(code int, reason string) {
	c.quitOnce.Do(func() {
		c.quitCode = code
		c.quitReason = reason
		close(c.quit)
	})
}

// run is the connection's event loop. It owns the heartbeat ticker, the
// rate counter and every write to conn.
func (c *Client) run() {
	s := c.server
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer c.finish(ticker)

	for {
		select {
		case ev := <-c.inbound:
			if ev.err != nil {
				if websocket.IsUnexpectedCloseError(ev.err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
					websocket.CloseNoStatusReceived) {
					s.log.Debug().Err(ev.err).Str("id", c.id).Msg("read error")
				}
				return
			}
			if !c.handleFrame(ev.data) {
				return
			}

		case data := <-c.send:
			if err := c.write(data); err != nil {
				s.log.Debug().Err(apperrors.Wrap(apperrors.CodeServerSendFailed, "write failed", err)).Str("id", c.id).Msg("closing connection")
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(s.opts.ConnectionTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.log.Debug().Err(err).Str("id", c.id).Msg("heartbeat failed")
				return
			}

		case <-c.quit:
			c.setState(StateClosing)
			closeConn(c.conn, c.quitCode, c.quitReason, s.opts.ConnectionTimeout)
			return
		}
	}
}

// finish tears the connection down once the run loop returns.
func (c *Client) finish(ticker *time.Ticker) {
	s := c.server
	ticker.Stop()
	c.conn.Close()
	c.setState(StateClosed)
	close(c.exited)

	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	s.registry.Remove(c.id)

	s.log.Info().Str("id", c.id).Int("clients", s.registry.Len()).Msg("client disconnected")
	s.record(ConnectionEvent{ConnectionID: c.id, RemoteIP: c.ip, Kind: EventDisconnected})
	s.wg.Done()
}

func (c *Client) write(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.server.opts.ConnectionTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// reply writes msg directly. Only the run loop may call it.
func (c *Client) reply(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.server.log.Error().Err(err).Msg("failed to marshal reply")
		return
	}
	if err := c.write(data); err != nil {
		c.server.log.Debug().Err(err).Str("id", c.id).Msg("reply failed")
	}
}

// handleFrame applies the rate limit and dispatches one inbound frame.
// It returns false when the connection must close.
func (c *Client) handleFrame(data []byte) bool {
	s := c.server
	if !c.counter.allow(s.now()) {
		s.log.Warn().Str("code", apperrors.CodeServerRateLimited).Str("id", c.id).Str("remote", c.ip).Msg("rate limit exceeded")
		s.record(ConnectionEvent{ConnectionID: c.id, RemoteIP: c.ip, Kind: EventRateLimited, Reason: "rate limit exceeded"})
		c.setState(StateClosing)
		closeConn(c.conn, ClosePolicyViolation, "rate limit exceeded", s.opts.ConnectionTimeout)
		return false
	}

	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Debug().Err(apperrors.InvalidMessage(err.Error())).Str("id", c.id).Msg("discarding malformed message")
		return true
	}
	if !validType(msg.Type) {
		s.log.Debug().Err(apperrors.InvalidMessage("type must be 1 to 50 characters")).Str("id", c.id).Msg("discarding message")
		return true
	}

	switch MessageType(msg.Type) {
	case MessageTypePing:
		c.reply(NewPongMessage(s.now()))
	case MessageTypeQRScanned:
		c.handleQRScanned(msg.Data)
	case MessageTypeNotification:
		c.handleNotification(msg.Data)
	default:
		s.emit(ChannelMessage, json.RawMessage(data))
	}
	return true
}

func (c *Client) handleQRScanned(raw json.RawMessage) {
	s := c.server
	var data QRScannedData
	if len(raw) == 0 || json.Unmarshal(raw, &data) != nil || data.Content == "" {
		s.log.Debug().Str("id", c.id).Msg("discarding qr_scanned without content")
		return
	}

	now := s.now()
	s.log.Info().Str("id", c.id).Msg("qr code scanned")
	s.notify("QR Code Scanned", "Received data from mobile device")
	s.emit(ChannelQRScanned, QRScannedEvent{
		Content:   data.Content,
		ClientID:  c.id,
		Timestamp: now.UnixMilli(),
	})
	c.reply(NewQRReceivedMessage(now))

	if hasSchemePrefix(data.Content, s.opts.Scheme) {
		s.mu.RLock()
		onLink := s.onLink
		s.mu.RUnlock()
		if onLink != nil {
			go onLink(data.Content)
		}
	}
}

func (c *Client) handleNotification(raw json.RawMessage) {
	var data NotificationData
	if len(raw) == 0 || json.Unmarshal(raw, &data) != nil {
		return
	}
	if data.Title == "" || data.Body == "" {
		return
	}
	c.server.notify(data.Title, data.Body)
}

func hasSchemePrefix(s, scheme string) bool {
	prefix := scheme + "://"
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
