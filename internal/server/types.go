package server

import (
	"encoding/json"
	"strings"
)

// EventType names a push-channel event.
type EventType string

const (
	EventHistory EventType = "history"
	EventMessage EventType = "message"
	EventError   EventType = "error"
	EventSend    EventType = "send"
)

// Error payloads sent to a single client. None of them close the connection.
const (
	errAuthFailed   = "auth failed"
	errMissingText  = "missing text"
	errInvalidEvent = "invalid event"
	errSendFailed   = "send failed"
	errHistory      = "history unavailable"
)

// Event is the JSON envelope of every frame on the push channel.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// inboundEvent defers decoding of the payload until the type is known.
type inboundEvent struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SendPayload is the payload of a client "send" event.
type SendPayload struct {
	Token string `json:"token"`
	Text  string `json:"text"`
	Img   string `json:"img,omitempty"`
}

// outbound is one encoded frame queued for a client. messageID is set for
// "message" events so the write pump can drop those already covered by the
// history snapshot.
type outbound struct {
	payload   []byte
	messageID int64
}

func encodeEvent(t EventType, payload any) ([]byte, error) {
	return json.Marshal(Event{Type: t, Payload: payload})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
