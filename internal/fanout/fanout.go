// Package fanout implements cross-instance event delivery (C17): when a
// user's connections are spread across more than one server process, a
// Notify on one instance must still reach the others. Grounded on the
// teacher's internal/gateway/publisher.go (a thin Publish-to-Valkey-channel
// wrapper) generalized from one fixed event channel to a per-user channel,
// since this protocol's Notify is already addressed to a single UserID
// rather than broadcast to a guild/channel audience.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/qls-chat/qls-server/internal/identity"
)

func channelFor(u identity.UserID) string {
	return "qls.user." + strconv.FormatInt(int64(u), 10)
}

// envelope is the JSON structure published to a user's fan-out channel.
type envelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

// Publisher publishes locally-originated Notify payloads to every other
// instance subscribed to the same user's channel.
type Publisher struct {
	rdb    *redis.Client
	origin string
	log    zerolog.Logger
}

// NewPublisher builds a Publisher. origin identifies this process (so a
// Subscriber on the same instance can ignore its own publishes).
func NewPublisher(rdb *redis.Client, origin string, logger zerolog.Logger) *Publisher {
	return &Publisher{rdb: rdb, origin: origin, log: logger.With().Str("component", "fanout").Logger()}
}

// Publish sends payload to every instance subscribed to u's channel.
func (p *Publisher) Publish(ctx context.Context, u identity.UserID, payload []byte) error {
	env, err := json.Marshal(envelope{Origin: p.origin, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal fanout envelope: %w", err)
	}
	if err := p.rdb.Publish(ctx, channelFor(u), env).Err(); err != nil {
		return fmt.Errorf("publish fanout event: %w", err)
	}
	return nil
}

// Subscriber watches one user's channel and invokes a callback for every
// payload published by a different instance.
type Subscriber struct {
	rdb    *redis.Client
	origin string
	log    zerolog.Logger
}

// NewSubscriber builds a Subscriber sharing origin with a Publisher so it
// can filter out this instance's own publishes.
func NewSubscriber(rdb *redis.Client, origin string, logger zerolog.Logger) *Subscriber {
	return &Subscriber{rdb: rdb, origin: origin, log: logger.With().Str("component", "fanout").Logger()}
}

// Watch subscribes to u's channel and calls deliver for every payload from
// a remote origin, until ctx is cancelled.
func (s *Subscriber) Watch(ctx context.Context, u identity.UserID, deliver func([]byte)) error {
	sub := s.rdb.Subscribe(ctx, channelFor(u))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				s.log.Warn().Err(err).Msg("discarding malformed fanout envelope")
				continue
			}
			if env.Origin == s.origin {
				continue
			}
			deliver(env.Payload)
		}
	}
}
