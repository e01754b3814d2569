// Package server provides the pairing WebSocket server mobile clients
// connect to, plus the loopback-only HTTP control endpoints the desktop
// side uses to query status and push messages.
package server

import (
	"encoding/json"
	"time"
	"unicode/utf8"
)

// MessageType identifies the kind of message in the envelope's "type" field.
type MessageType string

const (
	// MessageTypeConnected is the welcome sent by the server on open.
	MessageTypeConnected MessageType = "connected"

	// MessageTypePing is sent by clients as an application-level liveness check.
	MessageTypePing MessageType = "ping"

	// MessageTypePong answers MessageTypePing.
	MessageTypePong MessageType = "pong"

	// MessageTypeQRScanned carries a scanned QR payload in data.content.
	MessageTypeQRScanned MessageType = "qr_scanned"

	// MessageTypeQRReceived acknowledges MessageTypeQRScanned.
	MessageTypeQRReceived MessageType = "qr_received"

	// MessageTypeNotification asks the desktop to show data.title / data.body.
	MessageTypeNotification MessageType = "notification"
)

// Surface channels the server emits on.
const (
	ChannelMessage          = "ws:message"
	ChannelQRScanned        = "qr:scanned"
	ChannelConnectionStatus = "connection:status"
)

// MaxTypeLength is the longest accepted "type" value, in characters.
const MaxTypeLength = 50

// InboundMessage is the client->server envelope.
type InboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// validType reports whether t is a non-empty type of at most MaxTypeLength characters.
func validType(t string) bool {
	n := utf8.RuneCountInString(t)
	return n > 0 && n <= MaxTypeLength
}

// QRScannedData is the data of a qr_scanned message.
type QRScannedData struct {
	Content string `json:"content"`
}

// NotificationData is the data of a notification message.
type NotificationData struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Message is the server->client envelope. Fields not used by a type are omitted.
type Message struct {
	Type      MessageType `json:"type"`
	ClientID  string      `json:"clientId,omitempty"`
	Version   string      `json:"version,omitempty"`
	Success   bool        `json:"success,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// QRScannedEvent is emitted on ChannelQRScanned.
type QRScannedEvent struct {
	Content   string `json:"content"`
	ClientID  string `json:"clientId"`
	Timestamp int64  `json:"timestamp"`
}

// NewConnectedMessage creates the welcome message for a new client.
func NewConnectedMessage(clientID, version string, now time.Time) Message {
	return Message{
		Type:      MessageTypeConnected,
		ClientID:  clientID,
		Version:   version,
		Timestamp: now.UnixMilli(),
	}
}

// NewPongMessage creates the reply to a ping.
func NewPongMessage(now time.Time) Message {
	return Message{Type: MessageTypePong, Timestamp: now.UnixMilli()}
}

// NewQRReceivedMessage creates the acknowledgement for a qr_scanned message.
func NewQRReceivedMessage(now time.Time) Message {
	return Message{Type: MessageTypeQRReceived, Success: true, Timestamp: now.UnixMilli()}
}
