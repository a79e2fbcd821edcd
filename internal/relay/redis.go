// Package relay fans appended messages out across gateway processes that
// share one database, using Redis pub/sub.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/chatline/internal/chat"
	"github.com/Tyrowin/chatline/internal/config"
)

const (
	publishTimeout = 5 * time.Second
	// outboxSize bounds the messages waiting to be sent to Redis.
	outboxSize = 1024
)

// envelope is the wire format on the Redis channel. Origin lets a process
// skip its own messages, which it has already delivered locally.
type envelope struct {
	Origin  string        `json:"origin"`
	Message *chat.Message `json:"message"`
}

// redisPublisher is the part of the Redis client the outbox drain uses.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Relay implements chat.Publisher. Published messages go to the local
// publisher immediately and to every other process through Redis once Run
// has drained them from the outbox.
type Relay struct {
	client  *redis.Client
	remote  redisPublisher
	channel string
	origin  string
	local   chat.Publisher
	outbox  chan []byte
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg config.RedisConfig, local chat.Publisher) (*Relay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Relay{
		client:  client,
		remote:  client,
		channel: cfg.Channel,
		origin:  uuid.NewString(),
		local:   local,
		outbox:  make(chan []byte, outboxSize),
	}, nil
}

// Publish delivers msg locally and queues it for the other processes. It
// never waits on Redis. A full outbox drops the message for remote viewers
// only; it is already durable and reaches them on their next snapshot.
func (r *Relay) Publish(msg *chat.Message) {
	r.local.Publish(msg)

	data, err := encode(r.origin, msg)
	if err != nil {
		log.Error().Err(err).Int64("message_id", msg.ID).Msg("Failed to encode relayed message")
		return
	}

	select {
	case r.outbox <- data:
	default:
		log.Warn().Int64("message_id", msg.ID).Str("channel", r.channel).Msg("Relay outbox full, message not relayed")
	}
}

// Run sends queued messages to Redis and hands messages from other processes
// to the local publisher until ctx is cancelled or the subscription fails.
func (r *Relay) Run(ctx context.Context) error {
	drainCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.drain(drainCtx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	log.Info().Str("channel", r.channel).Str("origin", r.origin).Msg("Relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(m.Payload)
		}
	}
}

// drain publishes the outbox in order until ctx is cancelled. Failures are
// logged and the message is not retried.
func (r *Relay) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-r.outbox:
			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := r.remote.Publish(pubCtx, r.channel, data).Err()
			cancel()
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("channel", r.channel).Msg("Failed to relay message")
			}
		}
	}
}

func (r *Relay) handle(payload string) {
	env, err := decode(payload)
	if err != nil {
		log.Warn().Err(err).Msg("Dropping malformed relay payload")
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.local.Publish(env.Message)
}

// Close releases the Redis connection.
func (r *Relay) Close() error {
	return r.client.Close()
}

func encode(origin string, msg *chat.Message) ([]byte, error) {
	return json.Marshal(envelope{Origin: origin, Message: msg})
}

func decode(payload string) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, err
	}
	if env.Message == nil {
		return nil, errors.New("relay payload without message")
	}
	return &env, nil
}
