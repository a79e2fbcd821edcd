package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/chatline/internal/common"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	historyTimeout = 10 * time.Second
	postTimeout    = 10 * time.Second
)

// Client is one live push-channel connection. Anonymous viewers are
// allowed; identity is carried per "send" event by its token.
type Client struct {
	conn *websocket.Conn
	send chan outbound
	hub  *Hub
	addr string
}

// NewClient wraps an upgraded connection. The client does nothing until it
// is registered with the hub.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	if conn != nil && hub.maxMessageSize > 0 {
		conn.SetReadLimit(hub.maxMessageSize)
	}

	return &Client{
		conn: conn,
		send: make(chan outbound, sendBufferSize),
		hub:  hub,
		addr: addr,
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Debug().Err(err).Str("addr", c.addr).Msg("Error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Debug().Err(err).Str("addr", c.addr).Msg("Error setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs the read error at a level matching how expected it is.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Warn().Str("addr", c.addr).Int64("limit", c.hub.maxMessageSize).Msg("Message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		log.Debug().Err(err).Str("addr", c.addr).Msg("Client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		log.Debug().Err(err).Str("addr", c.addr).Msg("Client connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		log.Warn().Err(err).Str("addr", c.addr).Msg("Unexpected WebSocket close")
	default:
		log.Warn().Err(err).Str("addr", c.addr).Msg("WebSocket read error")
	}
}

// sendError queues an error event for this client only.
func (c *Client) sendError(text string) {
	payload, err := encodeEvent(EventError, text)
	if err != nil {
		return
	}
	if !c.hub.trySend(c, outbound{payload: payload}) {
		log.Debug().Str("addr", c.addr).Str("error", text).Msg("Dropped error event")
	}
}

// processMessage handles one inbound frame. Only "send" is accepted; the
// resulting message reaches this client through the normal broadcast.
func (c *Client) processMessage(raw []byte) {
	var in inboundEvent
	if err := json.Unmarshal(raw, &in); err != nil || in.Type != EventSend {
		log.Debug().Str("addr", c.addr).Msg("Invalid event")
		c.sendError(errInvalidEvent)
		return
	}

	var payload SendPayload
	if err := json.Unmarshal(in.Payload, &payload); err != nil {
		c.sendError(errInvalidEvent)
		return
	}

	claims, err := c.hub.tokens.Validate(payload.Token)
	if err != nil {
		log.Debug().Err(err).Str("addr", c.addr).Msg("Send rejected")
		c.sendError(errAuthFailed)
		return
	}

	ctx, cancel := context.WithTimeout(c.hub.ctx, postTimeout)
	defer cancel()

	if _, err := c.hub.chat.PostMessage(ctx, claims.UserID, payload.Text, payload.Img); err != nil {
		if errors.Is(err, common.ErrBadRequest) {
			c.sendError(errMissingText)
			return
		}
		log.Error().Err(err).Int64("user_id", claims.UserID).Msg("Failed to post message")
		c.sendError(errSendFailed)
	}
}

func (c *Client) leave() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.ctx.Done():
	}
}

func (c *Client) readPump() {
	defer func() {
		c.leave()
		c.closeConnection()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.processMessage(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	watermark, ok := c.writeHistory()
	if !ok {
		return
	}

	for c.processWriteEvent(ticker, watermark) {
	}
}

// writeHistory writes the snapshot as the first frame and returns the
// highest message id it contains.
func (c *Client) writeHistory() (int64, bool) {
	ctx, cancel := context.WithTimeout(c.hub.ctx, historyTimeout)
	defer cancel()

	msgs, err := c.hub.chat.Messages(ctx)
	if err != nil {
		log.Error().Err(err).Str("addr", c.addr).Msg("Failed to load history")
		payload, _ := encodeEvent(EventError, errHistory)
		return 0, c.writeFrame(payload)
	}

	var watermark int64
	for _, m := range msgs {
		if m.ID > watermark {
			watermark = m.ID
		}
	}

	payload, err := encodeEvent(EventHistory, msgs)
	if err != nil {
		log.Error().Err(err).Str("addr", c.addr).Msg("Failed to encode history")
		return 0, false
	}
	return watermark, c.writeFrame(payload)
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker, watermark int64) bool {
	select {
	case msg, ok := <-c.send:
		if !ok {
			c.writeCloseMessage()
			return false
		}
		if msg.messageID != 0 && msg.messageID <= watermark {
			return true
		}
		return c.writeFrame(msg.payload)
	case <-ticker.C:
		return c.handlePing()
	case <-c.hub.ctx.Done():
		return false
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		log.Debug().Err(err).Str("addr", c.addr).Msg("Error closing connection")
	}
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		log.Debug().Err(err).Str("addr", c.addr).Msg("Error writing close message")
	}
}

// writeFrame writes one event as one text frame.
func (c *Client) writeFrame(payload []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Debug().Err(err).Str("addr", c.addr).Msg("Error setting write deadline")
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !isExpectedCloseError(err) {
			log.Debug().Err(err).Str("addr", c.addr).Msg("Error writing message")
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Debug().Err(err).Str("addr", c.addr).Msg("Error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		log.Debug().Err(err).Str("addr", c.addr).Msg("Error writing ping")
		return false
	}
	return true
}
