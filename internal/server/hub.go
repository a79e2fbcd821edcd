package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/chatline/internal/auth"
	"github.com/Tyrowin/chatline/internal/chat"
)

const sendBufferSize = 256

// ChatService is the slice of chat.Service the push channel needs.
type ChatService interface {
	Messages(ctx context.Context) ([]chat.Message, error)
	PostMessage(ctx context.Context, authorID int64, text string, img string) (*chat.Message, error)
}

// TokenValidator checks the token carried by inbound "send" events.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Hub owns the set of live connections. The set is mutated only by Run;
// other goroutines reach it through the register, unregister and broadcast
// channels.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	chat           ChatService
	tokens         TokenValidator
	maxMessageSize int64
}

// NewHub creates a Hub. Run must be started before clients connect.
func NewHub(chatSvc ChatService, tokens TokenValidator, maxMessageSize int64) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:        make(map[*Client]bool),
		broadcast:      make(chan outbound),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		chat:           chatSvc,
		tokens:         tokens,
		maxMessageSize: maxMessageSize,
	}
}

// Publish implements chat.Publisher. The event is encoded once and fanned
// out by Run. After shutdown it is dropped.
func (h *Hub) Publish(msg *chat.Message) {
	payload, err := encodeEvent(EventMessage, msg)
	if err != nil {
		log.Error().Err(err).Int64("message_id", msg.ID).Msg("Failed to encode message event")
		return
	}

	select {
	case h.broadcast <- outbound{payload: payload, messageID: msg.ID}:
	case <-h.ctx.Done():
	}
}

// Register hands a client to the hub, which starts its pumps. It returns
// false if the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Run starts the hub's main event loop, handling client registration, unregistration,
// and message broadcasting. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Warn().Msg("Received nil client registration; skipping")
				continue
			}
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.handleBroadcast(msg)
		}
	}
}

// addClient makes the client live before its pumps start, so any broadcast
// from this point on is either queued for it or already in the history
// snapshot its write pump loads.
func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mutex.Unlock()
	log.Info().Str("addr", client.addr).Int("clients", clientCount).Msg("Client registered")

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// removeClient is idempotent. The send channel is closed exactly once,
// under the write lock, so concurrent sends never hit a closed channel.
func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	clientCount := len(h.clients)
	h.mutex.Unlock()
	log.Info().Str("addr", client.addr).Int("clients", clientCount).Msg("Client unregistered")
}

// trySend enqueues without blocking. It reports false when the client is
// gone or its buffer is full.
func (h *Hub) trySend(client *Client, msg outbound) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client]; !exists {
		return false
	}

	select {
	case client.send <- msg:
		return true
	default:
		return false
	}
}

// handleBroadcast sends to every live client, the sender included.
func (h *Hub) handleBroadcast(msg outbound) {
	clients := h.getClientSnapshot()
	log.Debug().Int64("message_id", msg.messageID).Int("clients", len(clients)).Msg("Broadcasting message")

	var failed []*Client
	for _, client := range clients {
		if !h.trySend(client, msg) {
			failed = append(failed, client)
		}
	}
	h.evict(failed)
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// evict drops clients whose buffers are full. Closing the send channel
// makes the write pump send a close frame and tear the connection down.
func (h *Hub) evict(clients []*Client) {
	for _, client := range clients {
		h.mutex.RLock()
		_, exists := h.clients[client]
		h.mutex.RUnlock()
		if exists {
			log.Warn().Str("addr", client.addr).Msg("Client removed due to full send buffer")
			h.removeClient(client)
		}
	}
}

// shutdownClients closes every live connection; the pumps then exit.
func (h *Hub) shutdownClients() {
	clients := h.getClientSnapshot()

	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Error().Err(err).Str("addr", client.addr).Msg("Error closing client connection")
		}
	}

	log.Info().Int("clients", len(clients)).Msg("Closed client connections")
}

// Shutdown stops the hub and waits for all pumps to finish or the timeout
// to pass.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Info().Msg("Initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		log.Warn().Msg("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
